package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/xstools/pkg/bitstream"
	"github.com/OpenTraceLab/xstools/pkg/flash"
	"github.com/OpenTraceLab/xstools/pkg/fpga"
)

var bitCmd = &cobra.Command{
	Use:   "bit",
	Short: "Inspect and convert bitstream files",
	Long: `Work on .bit files without a board attached.

Examples:
  xstools bit info design.bit
  xstools bit hex design.bit design.hex    # flash image for "flash write"`,
}

var bitInfoCmd = &cobra.Command{
	Use:   "info FILE.bit",
	Short: "Show the header fields of a bitstream",
	Args:  cobra.ExactArgs(1),
	RunE:  runBitInfo,
}

var bitHexCmd = &cobra.Command{
	Use:   "hex FILE.bit FILE.hex",
	Short: "Convert a bitstream into a flash image",
	Args:  cobra.ExactArgs(2),
	RunE:  runBitHex,
}

func init() {
	rootCmd.AddCommand(bitCmd)
	bitCmd.AddCommand(bitInfoCmd, bitHexCmd)
}

func runBitInfo(cmd *cobra.Command, args []string) error {
	b, err := bitstream.ParseFile(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Design:      %s\n", b.DesignName)
	fmt.Printf("Device:      %s\n", b.DeviceType)
	fmt.Printf("Compiled:    %s %s\n", b.CompileDate, b.CompileTime)
	fmt.Printf("Data:        %d bytes (%d bits)\n", len(b.Data), len(b.Data)*8)
	if p, ok := fpga.LookupPart(b.DeviceType); ok {
		fmt.Printf("Part:        %s (%s)\n", p.Name, p.Family.Name)
	} else {
		fmt.Printf("Part:        unknown\n")
	}
	return nil
}

func runBitHex(cmd *cobra.Command, args []string) error {
	b, err := bitstream.ParseFile(args[0])
	if err != nil {
		return err
	}
	img := flash.ImageFromMemory(b.ToIntelHex())
	if err := img.SaveImage(args[1]); err != nil {
		return err
	}
	lo, hi, _ := img.Extent()
	fmt.Printf("Success: %s converted to %s ([0x%06x, 0x%06x))\n", args[0], args[1], lo, hi)
	return nil
}
