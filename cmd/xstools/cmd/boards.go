package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/xstools/pkg/board"
	"github.com/OpenTraceLab/xstools/pkg/xsusb"
)

var boardsCmd = &cobra.Command{
	Use:   "boards",
	Short: "List supported board models and attached boards",
	Args:  cobra.NoArgs,
	RunE:  runBoards,
}

func init() {
	rootCmd.AddCommand(boardsCmd)
}

func runBoards(cmd *cobra.Command, args []string) error {
	fmt.Println("Supported models:")
	for _, m := range board.Models {
		fmt.Printf("  %-11s %-9s IDCODE 0x%08x  SDRAM %d MB\n", m.Name, m.Part.Name, m.Part.IDCODE, m.RAM.Size>>20)
	}

	fmt.Println("\nAttached boards:")
	if simulate {
		name := cfg.Board
		if name == "" {
			name = defaultSimModel
		}
		fmt.Printf("  #0 simulated %s\n", name)
		return nil
	}
	devs, err := xsusb.ListDevices(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list USB devices: %w", err)
	}
	if len(devs) == 0 {
		fmt.Println("  none")
	}
	for _, d := range devs {
		fmt.Printf("  %s (%s)\n", d.Label(), d.Speed)
	}
	return nil
}
