package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/xstools/pkg/board"
	"github.com/OpenTraceLab/xstools/pkg/flash"
)

var firmwareCmd = &cobra.Command{
	Use:   "firmware",
	Short: "Program or verify the microcontroller firmware",
	Long: `Reboot the board's microcontroller into its firmware loader, program or
verify its flash from an Intel hex file and reboot it into the user firmware.
Without a FILE the firmware named in the configuration is used.`,
}

var firmwareProgramCmd = &cobra.Command{
	Use:   "program [FILE.hex]",
	Short: "Program the microcontroller firmware",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFirmwareProgram,
}

var firmwareVerifyCmd = &cobra.Command{
	Use:   "verify [FILE.hex]",
	Short: "Compare the microcontroller firmware with a hex file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFirmwareVerify,
}

var reflashCmd = &cobra.Command{
	Use:   "reflash [FILE.hex]",
	Short: "Program the microcontroller firmware and verify it",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReflash,
}

func init() {
	rootCmd.AddCommand(firmwareCmd, reflashCmd)
	firmwareCmd.AddCommand(firmwareProgramCmd, firmwareVerifyCmd)
}

func firmwareImage(b *board.Board, args []string) (*flash.Image, string, error) {
	if len(args) == 1 {
		img, err := flash.LoadImage(args[0])
		return img, args[0], err
	}
	img, err := b.FirmwareImage()
	return img, b.Helpers.Firmware, err
}

func runFirmwareProgram(cmd *cobra.Command, args []string) error {
	return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
		img, name, err := firmwareImage(b, args)
		if err != nil {
			return err
		}
		fmt.Printf("Programming microcontroller firmware with %s.\n", name)
		if err := b.UpdateFirmware(ctx, img); err != nil {
			return err
		}
		fmt.Println("Programming completed!")
		return nil
	})
}

func runFirmwareVerify(cmd *cobra.Command, args []string) error {
	return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
		img, name, err := firmwareImage(b, args)
		if err != nil {
			return err
		}
		fmt.Printf("Verifying microcontroller firmware against %s.\n", name)
		if err := b.VerifyFirmware(ctx, img); err != nil {
			return err
		}
		fmt.Println("Verification passed!")
		return nil
	})
}

func runReflash(cmd *cobra.Command, args []string) error {
	return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
		img, name, err := firmwareImage(b, args)
		if err != nil {
			return err
		}
		fmt.Printf("Programming microcontroller firmware with %s.\n", name)
		if err := b.UpdateFirmware(ctx, img); err != nil {
			return err
		}
		if err := b.VerifyFirmware(ctx, img); err != nil {
			return err
		}
		fmt.Println("Programming completed and verified!")
		return nil
	})
}
