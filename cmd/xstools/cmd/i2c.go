package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/OpenTraceLab/xstools/pkg/board"
	"github.com/OpenTraceLab/xstools/pkg/hostio"
	"github.com/OpenTraceLab/xstools/pkg/xserr"
)

var (
	i2cModule uint8
	i2cAddr   uint16
	i2cWrite  string
	i2cRead   int
	i2cSpeed  int
)

var i2cCmd = &cobra.Command{
	Use:   "i2c",
	Short: "Run one transaction on an I2C master in the FPGA",
	Long: `Write bytes to an I2C slave and optionally read bytes back, through the
I2C master host-I/O module of the running bitstream.

Examples:
  xstools i2c --addr 0x58 --write "10 aa bb"
  xstools i2c --addr 0x58 --write 10 --read 2`,
	Args: cobra.NoArgs,
	RunE: runI2C,
}

func init() {
	rootCmd.AddCommand(i2cCmd)
	i2cCmd.Flags().Uint8VarP(&i2cModule, "module", "m", hostio.DefaultModule, "host-I/O module id of the I2C master")
	i2cCmd.Flags().Uint16VarP(&i2cAddr, "addr", "a", 0, "7-bit slave address")
	i2cCmd.Flags().StringVarP(&i2cWrite, "write", "w", "", "hex bytes to write")
	i2cCmd.Flags().IntVarP(&i2cRead, "read", "r", 0, "bytes to read")
	i2cCmd.Flags().IntVar(&i2cSpeed, "speed", 100_000, "SCL frequency in Hz")
	i2cCmd.MarkFlagRequired("addr")
}

func runI2C(cmd *cobra.Command, args []string) error {
	w, err := hex.DecodeString(strings.Join(strings.Fields(i2cWrite), ""))
	if err != nil {
		return xserr.Callerf("--write: %v", err)
	}
	if i2cRead < 0 {
		return xserr.Callerf("--read %d is negative", i2cRead)
	}
	return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
		bus, err := hostio.NewI2C(ctx, b.Channel(), i2cModule, physic.Frequency(cfg.I2C.CoreClockHz)*physic.Hertz)
		if err != nil {
			return err
		}
		bus.MaxPolls = cfg.Polling.MaxAttempts
		if err := bus.SetSpeed(physic.Frequency(i2cSpeed) * physic.Hertz); err != nil {
			return err
		}

		dev := &i2c.Dev{Bus: bus, Addr: i2cAddr}
		r := make([]byte, i2cRead)
		if err := dev.Tx(w, r); err != nil {
			return err
		}
		fmt.Printf("Wrote %d bytes to 0x%02x\n", len(w), i2cAddr)
		if len(r) > 0 {
			fmt.Printf("Read: % x\n", r)
		}
		return nil
	})
}
