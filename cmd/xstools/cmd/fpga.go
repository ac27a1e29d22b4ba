package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/xstools/pkg/board"
	"github.com/OpenTraceLab/xstools/pkg/idcode"
	"github.com/OpenTraceLab/xstools/pkg/idcode/deviceinfo"
	"github.com/OpenTraceLab/xstools/pkg/xserr"
)

var fpgaCmd = &cobra.Command{
	Use:   "fpga FILE.bit",
	Short: "Configure the FPGA with a bitstream",
	Long: `Clear the FPGA with a PROG# pulse, check that the bitstream was built for
the board's part, download it over JTAG and check the DONE bit.

Examples:
  xstools fpga blinker.bit
  xstools fpga -b xula2-lx9 blinker.bit`,
	Args: cobra.ExactArgs(1),
	RunE: runFPGA,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Read the FPGA configuration status register",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var idcodeCmd = &cobra.Command{
	Use:   "idcode",
	Short: "Read and decode the FPGA IDCODE and USERCODE",
	Args:  cobra.NoArgs,
	RunE:  runIDCode,
}

func init() {
	rootCmd.AddCommand(fpgaCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(idcodeCmd)
}

func runFPGA(cmd *cobra.Command, args []string) error {
	return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
		if err := b.ConfigureFile(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Success: Bitstream in %s downloaded to FPGA on %s!\n", args[0], b.Model.Name)
		return nil
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
		st, err := b.FPGA().ReadStatus(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Status: 0x%x\n", st.Raw.Unsigned())
		for _, name := range st.Fields() {
			v, _ := st.Field(name)
			fmt.Printf("  %-12s %d\n", name, v)
		}
		fmt.Printf("DONE:   %v\n", st.Done)
		return nil
	})
}

func runIDCode(cmd *cobra.Command, args []string) error {
	return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
		raw, err := b.FPGA().ReadIDCODE(ctx)
		if err != nil {
			return err
		}
		id := idcode.ParseIDCode(raw)
		if !id.HasIDCode {
			return xserr.Protocolf("idcode: read 0x%08x with bit 0 clear, the TAP did not select its IDCODE register", raw)
		}
		user, err := b.FPGA().ReadUserCode(ctx)
		if err != nil {
			return err
		}
		dev := deviceinfo.Lookup(raw)

		fmt.Printf("IDCODE:       %s\n", id)
		fmt.Printf("  Version:      %d\n", id.Version)
		fmt.Printf("  Part number:  0x%04x\n", id.PartNumber)
		fmt.Printf("  Manufacturer: %s (0x%03x)\n", dev.Manufacturer.Name, id.ManufacturerCode)
		fmt.Printf("  Device:       %s\n", dev.Name)
		if deviceinfo.Known(raw) {
			fmt.Printf("  Family:       %s\n", dev.Family)
			fmt.Printf("  IR length:    %d bits\n", dev.IRLength)
		}
		fmt.Printf("USERCODE:     0x%08x\n", user)
		return nil
	})
}
