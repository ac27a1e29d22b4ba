// Package hostio tunnels module-addressed packets through the FPGA's JTAG
// USER instruction.
//
// Once initialized, the TAP stays parked in Shift-DR and every packet is
// shifted in as module id (8 bits), total length (32 bits), payload, while
// the result bits are shifted out right behind it. Many on-chip modules share
// the link this way without IR round trips between packets.
package hostio

import (
	"context"

	"github.com/golang/glog"

	"github.com/OpenTraceLab/xstools/pkg/bitvec"
	"github.com/OpenTraceLab/xstools/pkg/jtag"
	"github.com/OpenTraceLab/xstools/pkg/tap"
	"github.com/OpenTraceLab/xstools/pkg/xserr"
)

const (
	// DefaultModule is the module id most interface bitstreams answer to.
	DefaultModule = 255

	moduleIDBits = 8
	lengthBits   = 32
)

// User1 returns the USER1 instruction for an IR of the given width.
func User1(irWidth int) bitvec.Vector {
	return bitvec.Uint(0b000010, irWidth)
}

// Channel is the host side of the tunnel. It shares the JTAG session with
// other users (the FPGA configurator, for one) and re-parks the TAP in
// Shift-DR whenever it finds it elsewhere.
type Channel struct {
	jtag *jtag.Session
	user bitvec.Vector
}

// NewChannel returns a channel that selects the tunnel with instruction user.
func NewChannel(s *jtag.Session, user bitvec.Vector) *Channel {
	return &Channel{jtag: s, user: user}
}

// Session returns the underlying JTAG session.
func (c *Channel) Session() *jtag.Session { return c.jtag }

// Initialize loads the USER instruction and parks the TAP in Shift-DR.
func (c *Channel) Initialize(ctx context.Context) error {
	glog.V(1).Infof("hostio: selecting USER instruction %s", c.user)
	s := c.jtag
	if err := s.ResetTAP(ctx); err != nil {
		return err
	}
	if err := s.GoTo(tap.StateShiftIR); err != nil {
		return err
	}
	if err := s.ShiftTDI(ctx, c.user, true); err != nil {
		return err
	}
	if err := s.GoTo(tap.StateUpdateIR); err != nil {
		return err
	}
	if err := s.GoTo(tap.StateShiftDR); err != nil {
		return err
	}
	return s.Flush(ctx)
}

// Reset re-runs initialization.
func (c *Channel) Reset(ctx context.Context) error {
	return c.Initialize(ctx)
}

// SendReceive shifts a packet for module id and returns resultBits bits
// shifted out after it.
func (c *Channel) SendReceive(ctx context.Context, id uint8, payload bitvec.Vector, resultBits int) (bitvec.Vector, error) {
	if resultBits < 0 {
		return bitvec.Vector{}, xserr.Callerf("hostio: negative result length %d", resultBits)
	}
	total := uint64(payload.Len()) + uint64(resultBits)
	if total >= 1<<lengthBits {
		return bitvec.Vector{}, xserr.Callerf("hostio: packet of %d bits is too long", total)
	}
	if c.jtag.State() != tap.StateShiftDR {
		if err := c.Initialize(ctx); err != nil {
			return bitvec.Vector{}, err
		}
	}

	frame := bitvec.Concat(bitvec.Uint(uint64(id), moduleIDBits), bitvec.Uint(total, lengthBits), payload)
	glog.V(2).Infof("hostio: module %d: send %d bits, receive %d bits", id, payload.Len(), resultBits)
	if err := c.jtag.ShiftTDI(ctx, frame, false); err != nil {
		return bitvec.Vector{}, err
	}
	if err := c.jtag.Flush(ctx); err != nil {
		return bitvec.Vector{}, err
	}
	return c.jtag.ShiftTDO(ctx, resultBits, false)
}

// Module binds a channel to one module id.
type Module struct {
	ch *Channel
	id uint8
}

// Module returns a handle for module id.
func (c *Channel) Module(id uint8) Module {
	return Module{ch: c, id: id}
}

// ID returns the module id.
func (m Module) ID() uint8 { return m.id }

// SendReceive forwards to the channel with the module's id.
func (m Module) SendReceive(ctx context.Context, payload bitvec.Vector, resultBits int) (bitvec.Vector, error) {
	return m.ch.SendReceive(ctx, m.id, payload, resultBits)
}
