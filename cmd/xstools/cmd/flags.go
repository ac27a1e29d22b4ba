package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/xstools/pkg/board"
	"github.com/OpenTraceLab/xstools/pkg/xserr"
	"github.com/OpenTraceLab/xstools/pkg/xsusb"
)

var (
	jtagFlag  string
	flashFlag string
)

var flagsCmd = &cobra.Command{
	Use:   "flags",
	Short: "Show or change the microcontroller's configuration flags",
	Long: `Show or change the flags kept in the microcontroller's EEPROM: whether the
auxiliary JTAG port is enabled and whether the serial configuration flash is
connected to the FPGA (XuLA-50 and XuLA-200 only).

Examples:
  xstools flags
  xstools flags --jtag off
  xstools flags --flash on`,
	Args: cobra.NoArgs,
	RunE: runFlags,
}

func init() {
	rootCmd.AddCommand(flagsCmd)
	flagsCmd.Flags().StringVar(&jtagFlag, "jtag", "", "turn the auxiliary JTAG port on or off")
	flagsCmd.Flags().StringVar(&flashFlag, "flash", "", "connect the serial flash to the FPGA (on or off)")
}

func parseOnOff(name, v string) (bool, error) {
	switch v {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, xserr.Callerf("--%s must be on or off, not %q", name, v)
}

func runFlags(cmd *cobra.Command, args []string) error {
	return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
		port := b.Port()
		if jtagFlag != "" {
			on, err := parseOnOff("jtag", jtagFlag)
			if err != nil {
				return err
			}
			if err := xsusb.SetJTAGCable(ctx, port, on); err != nil {
				return err
			}
		}
		if flashFlag != "" {
			on, err := parseOnOff("flash", flashFlag)
			if err != nil {
				return err
			}
			if !b.Model.GatedFlash {
				return xserr.Callerf("the serial flash on %s is always connected", b.Model.Name)
			}
			var v byte
			if on {
				v = xsusb.EnableFlash
			}
			if err := xsusb.SetCfgFlashFlag(ctx, port, v); err != nil {
				return err
			}
		}

		jtag, err := xsusb.ReadEEData(ctx, port, xsusb.JTAGDisableFlagAddr)
		if err != nil {
			return err
		}
		fmt.Printf("Auxiliary JTAG port: %s\n", onOff(jtag != xsusb.DisableJTAG))
		if b.Model.GatedFlash {
			fl, err := xsusb.CfgFlashFlag(ctx, port)
			if err != nil {
				return err
			}
			fmt.Printf("Serial flash:        %s\n", onOff(fl == xsusb.EnableFlash))
		}
		return nil
	})
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
