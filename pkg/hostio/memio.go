package hostio

import (
	"context"

	"github.com/golang/glog"

	"github.com/OpenTraceLab/xstools/pkg/bitvec"
	"github.com/OpenTraceLab/xstools/pkg/xserr"
)

// Opcodes of the two-bit command space shared by memory and DUT modules.
const (
	OpNOP   = 0b00
	OpSize  = 0b01
	OpWrite = 0b10
	OpRead  = 0b11

	opcodeBits = 2

	// sizeFieldBits is the width of each field in a SIZE reply.
	sizeFieldBits = 8
	// sizeSkip is the number of stale bits ahead of a SIZE or DUT read reply.
	sizeSkip = 1
)

func opcode(op uint64) bitvec.Vector { return bitvec.Uint(op, opcodeBits) }

// querySize sends SIZE and returns the two width fields of the reply.
func querySize(ctx context.Context, m Module) (int, int, error) {
	r, err := m.SendReceive(ctx, opcode(OpSize), sizeSkip+2*sizeFieldBits)
	if err != nil {
		return 0, 0, err
	}
	r.PopFront(sizeSkip)
	a := int(r.PopFront(sizeFieldBits).Unsigned())
	b := int(r.PopFront(sizeFieldBits).Unsigned())
	return a, b, nil
}

// MemIO reads and writes a register file or memory behind a host-I/O module.
type MemIO struct {
	mod       Module
	AddrWidth int
	DataWidth int
}

// NewMemIO queries the module's address and data widths.
func NewMemIO(ctx context.Context, ch *Channel, id uint8) (*MemIO, error) {
	mod := ch.Module(id)
	aw, dw, err := querySize(ctx, mod)
	if err != nil {
		return nil, err
	}
	if aw == 0 || dw == 0 || aw > 64 || dw > 64 {
		return nil, xserr.Protocolf("hostio: module %d reports address width %d, data width %d", id, aw, dw)
	}
	glog.V(1).Infof("hostio: module %d is memory with %d address bits, %d data bits", id, aw, dw)
	return &MemIO{mod: mod, AddrWidth: aw, DataWidth: dw}, nil
}

// Module returns the module handle.
func (m *MemIO) Module() Module { return m.mod }

// Read returns n words starting at addr. The module needs one word time to
// fetch the first word, so one extra word is clocked and discarded.
func (m *MemIO) Read(ctx context.Context, addr uint64, n int) ([]uint64, error) {
	if n <= 0 {
		return nil, nil
	}
	a, err := bitvec.FromUnsigned(addr, m.AddrWidth)
	if err != nil {
		return nil, err
	}
	r, err := m.mod.SendReceive(ctx, bitvec.Concat(opcode(OpRead), a), m.DataWidth*(n+1))
	if err != nil {
		return nil, err
	}
	r.PopFront(m.DataWidth)
	words := make([]uint64, n)
	for i := range words {
		words[i] = r.PopFront(m.DataWidth).Unsigned()
	}
	return words, nil
}

// Write stores words starting at addr.
func (m *MemIO) Write(ctx context.Context, addr uint64, words []uint64) error {
	if len(words) == 0 {
		return xserr.Callerf("hostio: empty write to module %d", m.mod.id)
	}
	a, err := bitvec.FromUnsigned(addr, m.AddrWidth)
	if err != nil {
		return err
	}
	parts := make([]bitvec.Vector, 0, len(words)+2)
	parts = append(parts, opcode(OpWrite), a)
	for _, w := range words {
		d, err := bitvec.FromUnsigned(w, m.DataWidth)
		if err != nil {
			return err
		}
		parts = append(parts, d)
	}
	_, err = m.mod.SendReceive(ctx, bitvec.Concat(parts...), 0)
	return err
}
