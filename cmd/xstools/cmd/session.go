package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/xstools/pkg/board"
	"github.com/OpenTraceLab/xstools/pkg/flash"
	"github.com/OpenTraceLab/xstools/pkg/xserr"
	"github.com/OpenTraceLab/xstools/pkg/xsusb"
)

// defaultSimModel is simulated when no board is named.
const defaultSimModel = "XuLA-200"

// onSim, when set, sees every simulated board before it is used.
var onSim func(*board.Sim)

// openPort connects to the configured board, simulated or over USB.
func openPort() (xsusb.Port, error) {
	if simulate {
		name := cfg.Board
		if name == "" {
			name = defaultSimModel
		}
		m, ok := board.LookupModel(name)
		if !ok {
			return nil, xserr.Callerf("unknown board %q", name)
		}
		sim := board.NewSim(m)
		if onSim != nil {
			onSim(sim)
		}
		return sim, nil
	}
	t, err := xsusb.Open(cfg.USB.Index, cfg.TransportOptions())
	if err != nil {
		return nil, err
	}
	if logging != nil && logging.Trace != nil {
		t.Trace = logging.Trace
	}
	return t, nil
}

// withBoard opens the board, runs fn on it and closes the connection.
func withBoard(cmd *cobra.Command, fn func(ctx context.Context, b *board.Board) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	port, err := openPort()
	if err != nil {
		return err
	}
	defer port.Close()

	b, err := board.Open(ctx, port, cfg.Board)
	if err != nil {
		return err
	}
	b.Helpers = cfg.Helpers(b.Model)
	b.MaxPolls = cfg.Polling.MaxAttempts
	glog.V(1).Infof("Using %s", b.Model.Name)
	if verbose {
		fmt.Printf("Board: %s\n", b.Model.Name)
	}
	return fn(ctx, b)
}

// parseRange parses "BOTTOM:TOP" with either bound optional. An empty
// string is the whole device.
func parseRange(s string) (flash.Range, error) {
	if s == "" {
		return flash.All, nil
	}
	lo, hi, ok := strings.Cut(s, ":")
	if !ok {
		return flash.Range{}, xserr.Callerf("range %q is not BOTTOM:TOP", s)
	}
	var r flash.Range
	var err error
	if r.Bottom, err = parseAddr(lo); err != nil {
		return flash.Range{}, err
	}
	if r.Top, err = parseAddr(hi); err != nil {
		return flash.Range{}, err
	}
	return r, nil
}

func parseAddr(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, xserr.Callerf("invalid address %q", s)
	}
	return uint32(v), nil
}
