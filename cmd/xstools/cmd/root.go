package cmd

import (
	"context"
	goflag "flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/xstools/internal/config"
)

var (
	// Global flags
	verbose    bool
	configPath string
	boardName  string
	usbIndex   int
	simulate   bool
	traceUSB   bool
	logDir     string

	cfg     config.Config
	logging *config.Logging
)

var rootCmd = &cobra.Command{
	Use:   "xstools",
	Short: "Configure and exchange data with XESS FPGA boards",
	Long: `Tools for XESS XuLA and XuLA2 boards attached over USB: load bitstreams
into the FPGA, up/download the serial configuration flash and the SDRAM,
run the board diagnostic, reprogram the microcontroller firmware and talk to
host-I/O modules inside the FPGA.

Examples:
  xstools boards                                   # List attached boards
  xstools fpga design.bit                          # Configure the FPGA
  xstools flash write design.bit                   # Store a bitstream in flash
  xstools flash read dump.hex --range 0x0:0x10000  # Upload part of the flash
  xstools selftest --sim -b xula2-lx25             # Diagnostic on a simulated board`,
	Version:           "0.9.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	teardown()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	pf.StringVarP(&configPath, "config", "c", "xstools.yaml", "configuration file")
	pf.StringVarP(&boardName, "board", "b", "", "board model (xula-50, xula-200, xula2-lx9, xula2-lx25); detected when empty")
	pf.IntVarP(&usbIndex, "usb", "u", -1, "index of the board when several are attached")
	pf.BoolVar(&simulate, "sim", false, "use a simulated board instead of USB hardware")
	pf.BoolVar(&traceUSB, "trace", false, "write every USB transfer to the trace log")
	pf.StringVar(&logDir, "log-dir", "", "directory for log files")

	// glog reads its flags from the standard flag set.
	goflag.CommandLine.Parse(nil)
}

// setup loads the configuration and routes glog and the standard logger.
func setup(cmd *cobra.Command, args []string) error {
	teardown()

	var err error
	if cfg, err = config.Load(configPath); err != nil {
		return err
	}
	if boardName != "" {
		cfg.Board = boardName
	}
	if usbIndex >= 0 {
		cfg.USB.Index = usbIndex
	}
	if logDir != "" {
		cfg.Logs.Directory = logDir
	}

	if cfg.Logs.Directory != "" {
		if err := os.MkdirAll(cfg.Logs.Directory, 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		goflag.Set("log_dir", cfg.Logs.Directory)
	} else {
		goflag.Set("logtostderr", "true")
	}
	if verbose {
		goflag.Set("v", "2")
		goflag.Set("alsologtostderr", "true")
	} else {
		goflag.Set("v", "0")
	}

	logging, err = config.SetupLogging(cfg, "xstools", traceUSB)
	return err
}

func teardown() {
	glog.Flush()
	if logging != nil {
		logging.Close()
		logging = nil
	}
}
