package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/xstools/pkg/board"
)

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Run the board diagnostic",
	Long: `Load the diagnostic bitstream into the FPGA, let it exercise the SDRAM and
report the verdict. The diagnostic bitstream comes from the configuration
file (bitstreams.selfTest or bitstreams.directory).`,
	Args: cobra.NoArgs,
	RunE: runSelfTest,
}

func init() {
	rootCmd.AddCommand(selftestCmd)
}

func runSelfTest(cmd *cobra.Command, args []string) error {
	return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
		err := b.SelfTest(ctx, func(phase string) { fmt.Println(phase) })
		if err != nil {
			return fmt.Errorf("%s failed diagnostic test: %w", b.Model.Name, err)
		}
		fmt.Printf("Success: %s passed diagnostic test!\n", b.Model.Name)
		return nil
	})
}
