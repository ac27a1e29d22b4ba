// Package board drives complete XESS boards: the USB microcontroller, the
// FPGA behind it and the memories the FPGA reaches through helper
// bitstreams.
package board

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/OpenTraceLab/xstools/pkg/bitstream"
	"github.com/OpenTraceLab/xstools/pkg/fpga"
	"github.com/OpenTraceLab/xstools/pkg/hostio"
	"github.com/OpenTraceLab/xstools/pkg/jtag"
	"github.com/OpenTraceLab/xstools/pkg/ram"
	"github.com/OpenTraceLab/xstools/pkg/xserr"
	"github.com/OpenTraceLab/xstools/pkg/xsusb"
)

// Host-I/O modules in the helper bitstreams.
const (
	SelfTestModule = 0x01
	FlashModule    = 0x02
	RAMModule      = 0x03
)

// progClearDelay is how long the FPGA needs after a PROG# pulse.
const progClearDelay = 30 * time.Millisecond

// Model is one board variant.
type Model struct {
	Name string
	Part fpga.Part
	RAM  ram.Model
	// Dir holds the model's helper bitstreams, relative to a helper root.
	Dir string
	// FirmwareDir holds the microcontroller firmware, relative to the root.
	FirmwareDir string
	// GatedFlash boards connect the configuration flash to the FPGA only
	// while the microcontroller's flash-enable flag is set.
	GatedFlash bool
}

func mustPart(name string) fpga.Part {
	p, ok := fpga.LookupPart(name)
	if !ok {
		panic("board: unknown FPGA part " + name)
	}
	return p
}

// Models lists the supported boards in detection order.
var Models = []Model{
	{Name: "XuLA-50", Part: mustPart("XC3S50A"), RAM: ram.SDRAM8MB, Dir: "xula/50/usb", FirmwareDir: "xula/Firmware", GatedFlash: true},
	{Name: "XuLA-200", Part: mustPart("XC3S200A"), RAM: ram.SDRAM8MB, Dir: "xula/200/usb", FirmwareDir: "xula/Firmware", GatedFlash: true},
	{Name: "XuLA2-LX25", Part: mustPart("XC6SLX25"), RAM: ram.SDRAM32MB, Dir: "xula2/lx25/usb", FirmwareDir: "xula2/Firmware"},
	{Name: "XuLA2-LX9", Part: mustPart("XC6SLX9"), RAM: ram.SDRAM32MB, Dir: "xula2/lx9/usb", FirmwareDir: "xula2/Firmware"},
}

// LookupModel finds a model by name, ignoring case.
func LookupModel(name string) (Model, bool) {
	for _, m := range Models {
		if strings.EqualFold(m.Name, name) {
			return m, true
		}
	}
	return Model{}, false
}

// Helpers names the files a board loads for its memory and test operations.
// Empty entries are errors when the operation needs them.
type Helpers struct {
	SelfTest       string
	FlashInterface string
	RAMInterface   string
	Firmware       string
}

// DefaultHelpers returns the standard helper file names for m under root.
func DefaultHelpers(m Model, root string) Helpers {
	if root == "" {
		return Helpers{}
	}
	dir := filepath.Join(root, filepath.FromSlash(m.Dir))
	return Helpers{
		SelfTest:       filepath.Join(dir, "test_board_jtag.bit"),
		FlashInterface: filepath.Join(dir, "fintf_jtag.bit"),
		RAMInterface:   filepath.Join(dir, "ramintfc_jtag.bit"),
		Firmware:       filepath.Join(root, filepath.FromSlash(m.FirmwareDir), "XuLA_jtag.hex"),
	}
}

// Board is one attached board.
type Board struct {
	Model   Model
	Helpers Helpers
	// MaxPolls bounds the self-test and flash busy loops.
	MaxPolls int

	port xsusb.Port
	jtag *jtag.Session
	fpga *fpga.Configurator
}

// New returns a board of model m behind port.
func New(m Model, port xsusb.Port) *Board {
	return newBoard(m, port, jtag.New(port))
}

func newBoard(m Model, port xsusb.Port, s *jtag.Session) *Board {
	return &Board{Model: m, port: port, jtag: s, fpga: fpga.New(s, m.Part)}
}

// Open returns the board behind port. An empty name detects the model from
// the FPGA's IDCODE.
func Open(ctx context.Context, port xsusb.Port, name string) (*Board, error) {
	if name != "" {
		m, ok := LookupModel(name)
		if !ok {
			return nil, xserr.Callerf("board: unknown board %q", name)
		}
		return New(m, port), nil
	}
	s := jtag.New(port)
	part, id, err := fpga.Detect(ctx, s)
	if err != nil {
		return nil, err
	}
	for _, m := range Models {
		if m.Part.Name == part.Name {
			glog.V(1).Infof("Detected %s (IDCODE 0x%08x)", m.Name, id)
			return newBoard(m, port, s), nil
		}
	}
	return nil, xserr.Configurationf("board: no board carries a %s", part.Name)
}

// Port returns the USB connection.
func (b *Board) Port() xsusb.Port { return b.port }

// Session returns the JTAG session.
func (b *Board) Session() *jtag.Session { return b.jtag }

// FPGA returns the FPGA configurator.
func (b *Board) FPGA() *fpga.Configurator { return b.fpga }

// Channel returns a host-I/O channel through the FPGA's USER1 instruction.
func (b *Board) Channel() *hostio.Channel {
	f := b.Model.Part.Family
	return hostio.NewChannel(b.jtag, f.Instruction(f.Instr.USER1))
}

// IsConnected reports whether the board's FPGA answers.
func (b *Board) IsConnected(ctx context.Context) (bool, error) {
	return b.fpga.IsConnected(ctx)
}

// Reset power-cycles the microcontroller.
func (b *Board) Reset(ctx context.Context) error {
	return b.port.Reset(ctx)
}

// Info is the identification block stored in the microcontroller.
type Info struct {
	ID          string
	Version     string
	Description string
}

// Info reads the board information, resetting the board and trying once
// more if the first read fails.
func (b *Board) Info(ctx context.Context) (Info, error) {
	raw, err := xsusb.ReadInfo(ctx, b.port)
	if err != nil {
		if xserr.IsCancellation(err) {
			return Info{}, err
		}
		glog.Warningf("Reading board information failed (%v), resetting board", err)
		if err := b.port.Reset(ctx); err != nil {
			return Info{}, err
		}
		if raw, err = xsusb.ReadInfo(ctx, b.port); err != nil {
			return Info{}, fmt.Errorf("board: unable to get board information: %w", err)
		}
	}
	return ParseInfo(raw)
}

// ParseInfo decodes an INFO response.
func ParseInfo(raw []byte) (Info, error) {
	if len(raw) != xsusb.InfoLen {
		return Info{}, xserr.Protocolf("board: information block is %d bytes, want %d", len(raw), xsusb.InfoLen)
	}
	var sum byte
	for _, c := range raw {
		sum += c
	}
	if sum != 0 {
		return Info{}, xserr.Protocolf("board: information block is corrupted (checksum 0x%02x)", sum)
	}
	desc := raw[5 : len(raw)-1]
	if i := strings.IndexByte(string(desc), 0); i >= 0 {
		desc = desc[:i]
	}
	return Info{
		ID:          fmt.Sprintf("%02x%02x", raw[1], raw[2]),
		Version:     fmt.Sprintf("%d.%d", raw[3], raw[4]),
		Description: string(desc),
	}, nil
}

// Configure clears the FPGA with a PROG# pulse and loads bs.
func (b *Board) Configure(ctx context.Context, bs *bitstream.Bitstream) error {
	glog.V(1).Infof("Downloading bitstream %s to %s", bs.DesignName, b.Model.Name)
	for _, level := range []bool{true, false, true} {
		if err := xsusb.SetProg(ctx, b.port, level); err != nil {
			return err
		}
	}
	select {
	case <-time.After(progClearDelay):
	case <-ctx.Done():
		return fmt.Errorf("board: %v: %w", ctx.Err(), xserr.ErrCancelled)
	}
	return b.fpga.Configure(ctx, bs)
}

// ConfigureFile loads the bitstream file at path.
func (b *Board) ConfigureFile(ctx context.Context, path string) error {
	bs, err := bitstream.ParseFile(path)
	if err != nil {
		return err
	}
	return b.Configure(ctx, bs)
}

func (b *Board) loadHelper(ctx context.Context, what, path string) error {
	if path == "" {
		return xserr.Configurationf("board: no %s bitstream configured for %s", what, b.Model.Name)
	}
	return b.ConfigureFile(ctx, path)
}

func (b *Board) maxPolls() int {
	if b.MaxPolls <= 0 {
		return hostio.DefaultMaxPolls
	}
	return b.MaxPolls
}
