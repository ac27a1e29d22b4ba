package hostio

import (
	"context"
	"errors"
	"testing"

	"github.com/OpenTraceLab/xstools/pkg/jtag"
	"github.com/OpenTraceLab/xstools/pkg/tap"
	"github.com/OpenTraceLab/xstools/pkg/xserr"
	"github.com/OpenTraceLab/xstools/pkg/xsusb"
)

const (
	testIRWidth = 6
	opIDCODE    = 0x09
	opUSER1     = 0x02
)

func newTestChannel(t *testing.T) (*Channel, *SimRegister, *xsusb.SimBoard) {
	t.Helper()
	sim := xsusb.NewSimBoard(testIRWidth, opIDCODE)
	reg := NewSimRegister()
	sim.Registers[opUSER1] = reg
	return NewChannel(jtag.New(sim), User1(testIRWidth)), reg, sim
}

func TestChannelParksInShiftDR(t *testing.T) {
	ctx := context.Background()
	ch, reg, sim := newTestChannel(t)
	reg.Modules[7] = NewSimMemory(4, 8)

	if _, err := NewMemIO(ctx, ch, 7); err != nil {
		t.Fatalf("NewMemIO returned error: %v", err)
	}
	if got := sim.IR(); got != opUSER1 {
		t.Fatalf("IR() = 0x%x, want 0x%x", got, opUSER1)
	}
	if sim.State() != tap.StateShiftDR || ch.Session().State() != tap.StateShiftDR {
		t.Fatalf("board=%s session=%s, want %s", sim.State(), ch.Session().State(), tap.StateShiftDR)
	}

	// A second packet must not reload the instruction.
	loads := len(sim.IRHistory)
	if _, err := NewMemIO(ctx, ch, 7); err != nil {
		t.Fatalf("NewMemIO returned error: %v", err)
	}
	if len(sim.IRHistory) != loads {
		t.Fatalf("IR loaded %d more times, want 0", len(sim.IRHistory)-loads)
	}
	if reg.Count[7] != 2 {
		t.Fatalf("module 7 got %d packets, want 2", reg.Count[7])
	}
}

func TestChannelRejectsNegativeResult(t *testing.T) {
	ch, _, _ := newTestChannel(t)
	_, err := ch.SendReceive(context.Background(), 1, opcode(OpNOP), -1)
	if !errors.Is(err, xserr.ErrCaller) {
		t.Fatalf("SendReceive(-1) error = %v, want ErrCaller", err)
	}
}

func TestMemIO(t *testing.T) {
	ctx := context.Background()
	ch, reg, _ := newTestChannel(t)
	mem := NewSimMemory(8, 16)
	reg.Modules[7] = mem

	m, err := NewMemIO(ctx, ch, 7)
	if err != nil {
		t.Fatalf("NewMemIO returned error: %v", err)
	}
	if m.AddrWidth != 8 || m.DataWidth != 16 {
		t.Fatalf("widths = %d/%d, want 8/16", m.AddrWidth, m.DataWidth)
	}

	words := []uint64{0x0001, 0x0002, 0xbeef}
	if err := m.Write(ctx, 0x10, words); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if mem.Mem[0x12] != 0xbeef {
		t.Fatalf("Mem[0x12] = 0x%x, want 0xbeef", mem.Mem[0x12])
	}

	got, err := m.Read(ctx, 0x10, len(words))
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	for i := range words {
		if got[i] != words[i] {
			t.Fatalf("Read(0x10, 3)[%d] = 0x%x, want 0x%x", i, got[i], words[i])
		}
	}

	if got, err := m.Read(ctx, 0, 0); err != nil || got != nil {
		t.Fatalf("Read(0, 0) = %v, %v, want nil, nil", got, err)
	}
	if err := m.Write(ctx, 0, nil); !errors.Is(err, xserr.ErrCaller) {
		t.Fatalf("Write(nil) error = %v, want ErrCaller", err)
	}
	if err := m.Write(ctx, 0x100, []uint64{1}); !errors.Is(err, xserr.ErrCaller) {
		t.Fatalf("Write(0x100) error = %v, want ErrCaller", err)
	}
	if err := m.Write(ctx, 0, []uint64{0x10000}); !errors.Is(err, xserr.ErrCaller) {
		t.Fatalf("Write(0x10000) error = %v, want ErrCaller", err)
	}
}

func TestMemIOMissingModule(t *testing.T) {
	ch, _, _ := newTestChannel(t)
	if _, err := NewMemIO(context.Background(), ch, 9); !errors.Is(err, xserr.ErrProtocol) {
		t.Fatalf("NewMemIO(absent) error = %v, want ErrProtocol", err)
	}
}

func TestDutIO(t *testing.T) {
	ctx := context.Background()
	ch, reg, _ := newTestChannel(t)
	reg.Modules[3] = &SimDut{
		InputWidth:  8,
		OutputWidth: 5,
		Eval:        func(in uint64) uint64 { return in&0xf + in>>4 },
	}

	d, err := NewDutIO(ctx, ch, 3, []int{5}, []int{4, 4})
	if err != nil {
		t.Fatalf("NewDutIO returned error: %v", err)
	}
	tests := []struct{ a, b, want uint64 }{
		{0, 0, 0},
		{3, 5, 8},
		{15, 15, 30},
	}
	for _, tt := range tests {
		out, err := d.Execute(ctx, tt.a, tt.b)
		if err != nil {
			t.Fatalf("Execute(%d, %d) returned error: %v", tt.a, tt.b, err)
		}
		if len(out) != 1 || out[0].Unsigned() != tt.want {
			t.Fatalf("Execute(%d, %d) = %v, want %d", tt.a, tt.b, out, tt.want)
		}
	}

	if err := d.Write(ctx, 1); !errors.Is(err, xserr.ErrCaller) {
		t.Fatalf("Write with one value error = %v, want ErrCaller", err)
	}
	if err := d.Write(ctx, 16, 0); !errors.Is(err, xserr.ErrCaller) {
		t.Fatalf("Write(16, 0) error = %v, want ErrCaller", err)
	}
}

func TestDutIOFieldMismatch(t *testing.T) {
	ctx := context.Background()
	ch, reg, _ := newTestChannel(t)
	reg.Modules[3] = &SimDut{InputWidth: 8, OutputWidth: 5}

	tests := []struct {
		name    string
		outputs []int
		inputs  []int
	}{
		{"short inputs", nil, []int{4, 3}},
		{"long outputs", []int{3, 3}, nil},
		{"zero width", []int{5, 0}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewDutIO(ctx, ch, 3, tt.outputs, tt.inputs); !errors.Is(err, xserr.ErrCaller) {
				t.Fatalf("NewDutIO error = %v, want ErrCaller", err)
			}
		})
	}

	d, err := NewDutIO(ctx, ch, 3, nil, nil)
	if err != nil {
		t.Fatalf("NewDutIO(nil, nil) returned error: %v", err)
	}
	if d.InputWidth != 8 || d.OutputWidth != 5 {
		t.Fatalf("widths = %d/%d, want 8/5", d.InputWidth, d.OutputWidth)
	}
}
