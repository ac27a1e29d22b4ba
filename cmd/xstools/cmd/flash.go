package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/xstools/pkg/board"
	"github.com/OpenTraceLab/xstools/pkg/flash"
)

var flashRange string

var flashCmd = &cobra.Command{
	Use:   "flash",
	Short: "Up/download the serial configuration flash",
	Long: `Access the serial configuration flash through the flash-interface helper
bitstream. Files are Intel hex; a .bit file is converted to a flash image
before it is written.

Examples:
  xstools flash write design.bit
  xstools flash read dump.hex --range 0x0:0x10000
  xstools flash verify design.hex
  xstools flash erase`,
}

var flashReadCmd = &cobra.Command{
	Use:   "read FILE.hex",
	Short: "Upload a range of the flash into a hex file",
	Args:  cobra.ExactArgs(1),
	RunE:  runFlashRead,
}

var flashWriteCmd = &cobra.Command{
	Use:   "write FILE",
	Short: "Erase the flash and download a hex or bitstream file",
	Args:  cobra.ExactArgs(1),
	RunE:  runFlashWrite,
}

var flashVerifyCmd = &cobra.Command{
	Use:   "verify FILE",
	Short: "Compare the flash with a hex or bitstream file",
	Args:  cobra.ExactArgs(1),
	RunE:  runFlashVerify,
}

var flashEraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Erase the whole flash",
	Args:  cobra.NoArgs,
	RunE:  runFlashErase,
}

func init() {
	rootCmd.AddCommand(flashCmd)
	flashCmd.AddCommand(flashReadCmd, flashWriteCmd, flashVerifyCmd, flashEraseCmd)
	flashCmd.PersistentFlags().StringVarP(&flashRange, "range", "r", "",
		"address range BOTTOM:TOP (top exclusive); whole device or image when empty")
}

func runFlashRead(cmd *cobra.Command, args []string) error {
	rng, err := parseRange(flashRange)
	if err != nil {
		return err
	}
	return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
		img, err := b.ReadFlash(ctx, rng)
		if err != nil {
			return err
		}
		if err := img.SaveImage(args[0]); err != nil {
			return err
		}
		fmt.Printf("Success: Data in address range %s of serial flash on %s uploaded to %s!\n", rng, b.Model.Name, args[0])
		return nil
	})
}

func runFlashWrite(cmd *cobra.Command, args []string) error {
	rng, err := parseRange(flashRange)
	if err != nil {
		return err
	}
	img, err := flash.LoadFile(args[0])
	if err != nil {
		return err
	}
	return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
		if err := b.WriteFlash(ctx, img, rng); err != nil {
			return err
		}
		fmt.Printf("Success: Data in %s downloaded to serial flash on %s!\n", args[0], b.Model.Name)
		return nil
	})
}

func runFlashVerify(cmd *cobra.Command, args []string) error {
	rng, err := parseRange(flashRange)
	if err != nil {
		return err
	}
	img, err := flash.LoadFile(args[0])
	if err != nil {
		return err
	}
	return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
		if err := b.VerifyFlash(ctx, img, rng); err != nil {
			return err
		}
		fmt.Printf("Success: Serial flash on %s matches %s!\n", b.Model.Name, args[0])
		return nil
	})
}

func runFlashErase(cmd *cobra.Command, args []string) error {
	return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
		if err := b.EraseFlash(ctx); err != nil {
			return err
		}
		fmt.Printf("Success: Serial flash on %s erased!\n", b.Model.Name)
		return nil
	})
}
