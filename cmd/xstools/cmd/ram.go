package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/xstools/pkg/board"
	"github.com/OpenTraceLab/xstools/pkg/flash"
)

var ramRange string

var ramCmd = &cobra.Command{
	Use:   "ram",
	Short: "Up/download the SDRAM",
	Long: `Access the SDRAM through the RAM-interface helper bitstream. Addresses are
byte addresses and must be even; data is stored as big-endian 16-bit words.

Examples:
  xstools ram write samples.hex
  xstools ram read dump.hex --range 0x0:0x400`,
}

var ramReadCmd = &cobra.Command{
	Use:   "read FILE.hex",
	Short: "Upload a range of the SDRAM into a hex file",
	Args:  cobra.ExactArgs(1),
	RunE:  runRAMRead,
}

var ramWriteCmd = &cobra.Command{
	Use:   "write FILE.hex",
	Short: "Download a hex file into the SDRAM",
	Args:  cobra.ExactArgs(1),
	RunE:  runRAMWrite,
}

func init() {
	rootCmd.AddCommand(ramCmd)
	ramCmd.AddCommand(ramReadCmd, ramWriteCmd)
	ramCmd.PersistentFlags().StringVarP(&ramRange, "range", "r", "",
		"address range BOTTOM:TOP (top exclusive); whole device or image when empty")
}

func runRAMRead(cmd *cobra.Command, args []string) error {
	rng, err := parseRange(ramRange)
	if err != nil {
		return err
	}
	return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
		img, err := b.ReadRAM(ctx, rng)
		if err != nil {
			return err
		}
		if err := img.SaveImage(args[0]); err != nil {
			return err
		}
		fmt.Printf("Success: Data in address range %s of RAM on %s uploaded to %s!\n", rng, b.Model.Name, args[0])
		return nil
	})
}

func runRAMWrite(cmd *cobra.Command, args []string) error {
	rng, err := parseRange(ramRange)
	if err != nil {
		return err
	}
	img, err := flash.LoadImage(args[0])
	if err != nil {
		return err
	}
	return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
		if err := b.WriteRAM(ctx, img, rng); err != nil {
			return err
		}
		fmt.Printf("Success: Data in %s downloaded to RAM on %s!\n", args[0], b.Model.Name)
		return nil
	})
}
