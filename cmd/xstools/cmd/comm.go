package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/xstools/pkg/board"
	"github.com/OpenTraceLab/xstools/pkg/hostio"
)

var (
	commModule  uint8
	commReceive int
	commReset   bool
	commBreak   bool
)

var commCmd = &cobra.Command{
	Use:   "comm [TEXT]",
	Short: "Exchange bytes with a comm channel in the FPGA",
	Long: `Send TEXT through the FIFO-backed comm channel of the running bitstream and
print what comes back. By default as many bytes are received as were sent;
--receive -1 drains whatever is waiting.

Examples:
  xstools comm "hello"
  xstools comm --receive -1
  xstools comm --module 250 --break`,
	Args: cobra.MaximumNArgs(1),
	RunE: runComm,
}

func init() {
	rootCmd.AddCommand(commCmd)
	commCmd.Flags().Uint8VarP(&commModule, "module", "m", hostio.DefaultCommModule, "host-I/O module id of the channel")
	commCmd.Flags().IntVarP(&commReceive, "receive", "n", 0, "bytes to receive (0: as many as sent, -1: drain)")
	commCmd.Flags().BoolVar(&commReset, "reset", false, "empty both FIFOs first")
	commCmd.Flags().BoolVar(&commBreak, "break", false, "send a break first")
}

func runComm(cmd *cobra.Command, args []string) error {
	return withBoard(cmd, func(ctx context.Context, b *board.Board) error {
		c, err := hostio.NewComm(ctx, b.Channel(), commModule)
		if err != nil {
			return err
		}
		c.MaxPolls = cfg.Polling.MaxAttempts
		if commReset {
			if err := c.Reset(ctx); err != nil {
				return err
			}
		}
		if commBreak {
			if err := c.SendBreak(ctx); err != nil {
				return err
			}
		}

		n := commReceive
		if len(args) == 1 {
			data := []byte(args[0])
			words := make([]uint64, len(data))
			for i, v := range data {
				words[i] = uint64(v)
			}
			if err := c.Send(ctx, words, true); err != nil {
				return err
			}
			fmt.Printf("Sent %d bytes\n", len(words))
			if n == 0 {
				n = len(words)
			}
		}
		if n == 0 {
			return nil
		}

		words, err := c.Receive(ctx, n, true)
		if err != nil {
			return err
		}
		got := make([]byte, len(words))
		for i, w := range words {
			got[i] = byte(w)
		}
		fmt.Printf("Received %d bytes: %q\n", len(got), got)
		return nil
	})
}
