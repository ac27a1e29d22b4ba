package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/xstools/pkg/board"
	"github.com/OpenTraceLab/xstools/pkg/idcode/deviceinfo"
	"github.com/OpenTraceLab/xstools/pkg/xsusb"
)

var showADC bool

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the board's identification and FPGA",
	Long: `Read the information block stored in the board's microcontroller and the
IDCODE of the FPGA.

Examples:
  xstools info
  xstools info --adc          # also sample the two analog inputs`,
	Args: cobra.NoArgs,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().BoolVar(&showADC, "adc", false, "sample the analog inputs")
}

func runInfo(cmd *cobra.Command, args []string) error {
	return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
		info, err := b.Info(ctx)
		if err != nil {
			return err
		}
		id, err := b.FPGA().ReadIDCODE(ctx)
		if err != nil {
			return err
		}
		dev := deviceinfo.Lookup(id)

		fmt.Printf("Board:       %s\n", b.Model.Name)
		fmt.Printf("Product ID:  %s\n", info.ID)
		fmt.Printf("Firmware:    %s\n", info.Version)
		fmt.Printf("Description: %s\n", info.Description)
		fmt.Printf("FPGA:        %s %s (%s %s)\n", dev.Manufacturer.Abbreviation, dev.Name, dev.Family, dev.Package)
		fmt.Printf("IDCODE:      0x%08x\n", id)

		if showADC {
			for ch := 0; ch < 2; ch++ {
				v, err := xsusb.ReadADC(ctx, b.Port(), ch)
				if err != nil {
					return err
				}
				fmt.Printf("AIO%d:        %.3f V\n", ch, v)
			}
		}
		return nil
	})
}
