// Package jtag drives the board's single TAP controller over the XSUSB
// JTAG_CMD protocol.
//
// TMS and TDI bits are queued locally and sent in batches by Flush. The TAP
// state is tracked optimistically: it changes as soon as a TMS bit is queued.
package jtag

import (
	"context"
	"fmt"

	"github.com/golang/glog"

	"github.com/OpenTraceLab/xstools/pkg/bitvec"
	"github.com/OpenTraceLab/xstools/pkg/tap"
	"github.com/OpenTraceLab/xstools/pkg/xserr"
	"github.com/OpenTraceLab/xstools/pkg/xsusb"
)

// Session is one JTAG conversation with a board. It is not safe for
// concurrent use.
type Session struct {
	port xsusb.Port
	fsm  *tap.StateMachine
	tms  bitvec.Vector
	tdi  bitvec.Vector
}

// New returns a session whose TAP state is unknown until the first reset.
func New(port xsusb.Port) *Session {
	return &Session{port: port, fsm: tap.NewUnknownStateMachine()}
}

// Port returns the USB port the session talks through.
func (s *Session) Port() xsusb.Port { return s.port }

// State returns the tracked TAP state.
func (s *Session) State() tap.State { return s.fsm.State() }

// ShiftTMS queues one TMS bit and advances the tracked state.
func (s *Session) ShiftTMS(tms bool) {
	s.tms.AppendBit(tms)
	s.fsm.Clock(tms)
}

// GoThru queues the TMS bits that walk the controller through states, each
// of which must be one clock away from the previous one.
func (s *Session) GoThru(states ...tap.State) error {
	for _, next := range states {
		tms, err := s.fsm.Step(next)
		if err != nil {
			return xserr.Callerf("jtag: %v", err)
		}
		s.tms.AppendBit(tms)
	}
	return nil
}

// GoTo queues the shortest TMS sequence from the tracked state to target.
func (s *Session) GoTo(target tap.State) error {
	path, err := s.fsm.GoTo(target)
	if err != nil {
		return xserr.Callerf("jtag: %v", err)
	}
	for _, tms := range path.TMS {
		s.tms.AppendBit(tms)
	}
	return nil
}

// ShiftTDI queues bits for Shift-IR or Shift-DR. With exit set, the last bit
// is sent with TMS=1 and everything is flushed, leaving the controller in
// Exit1.
func (s *Session) ShiftTDI(ctx context.Context, bits bitvec.Vector, exit bool) error {
	if s.tms.Len() > 0 {
		if err := s.Flush(ctx); err != nil {
			return err
		}
	}
	if !s.fsm.State().IsShift() {
		return xserr.Callerf("jtag: shifting TDI in %s", s.fsm.State())
	}
	s.tdi.Append(bits)
	if exit {
		s.ShiftTMS(true)
		return s.Flush(ctx)
	}
	return nil
}

// ShiftTDO reads n bits from TDO while holding TDI low. With exit set, the
// last bit is fetched by a separate one-bit command that raises TMS, since a
// single JTAG_CMD cannot change TMS on its final clock only.
func (s *Session) ShiftTDO(ctx context.Context, n int, exit bool) (bitvec.Vector, error) {
	if n == 0 {
		return bitvec.Vector{}, nil
	}
	if err := s.Flush(ctx); err != nil {
		return bitvec.Vector{}, err
	}
	if !s.fsm.State().IsShift() {
		return bitvec.Vector{}, xserr.Callerf("jtag: shifting TDO in %s", s.fsm.State())
	}

	if !exit {
		return s.readTDO(ctx, n, xsusb.FlagGetTDO)
	}

	bits, err := s.ShiftTDO(ctx, n-1, false)
	if err != nil {
		return bitvec.Vector{}, err
	}
	s.fsm.Clock(true)
	last, err := s.readTDO(ctx, 1, xsusb.FlagGetTDO|xsusb.FlagTMSVal)
	if err != nil {
		return bitvec.Vector{}, err
	}
	bits.Append(last)
	return bits, nil
}

func (s *Session) readTDO(ctx context.Context, n int, flags byte) (bitvec.Vector, error) {
	if err := s.port.Write(ctx, xsusb.EncodeJTAG(uint32(n), flags, nil)); err != nil {
		return bitvec.Vector{}, err
	}
	resp, err := s.port.Read(ctx, (n+7)/8)
	if err != nil {
		return bitvec.Vector{}, err
	}
	return bitvec.FromWireBytes(resp, n)
}

// Flush sends the queued TMS and TDI bits.
//
// Equal-length buffers go out interleaved in one command. A single trailing
// TMS bit against several TDI bits is split into a TDI-only command followed
// by a one-clock command carrying both. Any other mismatch is a bug in the
// caller and panics.
func (s *Session) Flush(ctx context.Context) error {
	ntms, ntdi := s.tms.Len(), s.tdi.Len()
	var cmd []byte
	switch {
	case ntms == 0 && ntdi == 0:
		return nil
	case ntdi == 0:
		cmd = xsusb.EncodeJTAG(uint32(ntms), xsusb.FlagPutTMS, s.tms.WireBytes())
	case ntms == 0:
		cmd = xsusb.EncodeJTAG(uint32(ntdi), xsusb.FlagPutTDI, s.tdi.WireBytes())
	case ntms == ntdi:
		tms, tdi := s.tms.WireBytes(), s.tdi.WireBytes()
		payload := make([]byte, 2*len(tms))
		for i := range tms {
			payload[2*i] = tms[i]
			payload[2*i+1] = tdi[i]
		}
		cmd = xsusb.EncodeJTAG(uint32(ntdi), xsusb.FlagPutTMS|xsusb.FlagPutTDI, payload)
	case ntms == 1:
		lastTMS := s.tms.PopLast()
		lastTDI := s.tdi.PopLast()
		if err := s.Flush(ctx); err != nil {
			return err
		}
		s.tms.AppendBit(lastTMS)
		s.tdi.AppendBit(lastTDI)
		return s.Flush(ctx)
	default:
		panic(fmt.Sprintf("jtag: cannot flush %d TMS bits with %d TDI bits", ntms, ntdi))
	}

	glog.V(3).Infof("jtag: flush %d TMS, %d TDI bits; now in %s", ntms, ntdi, s.fsm.State())
	s.tms, s.tdi = bitvec.Vector{}, bitvec.Vector{}
	return s.port.Write(ctx, cmd)
}

// LoadIRThenDR is the workhorse of every higher layer. Starting from
// Run-Test/Idle (resetting first when the state is anything else), it
// optionally loads instruction into IR, then either shifts data into DR or
// reads returnBits out of DR, and finally parks in Run-Test/Idle. An empty
// vector means "absent". Passing both data and returnBits is a caller error.
func (s *Session) LoadIRThenDR(ctx context.Context, instruction, data bitvec.Vector, returnBits int) (bitvec.Vector, error) {
	if data.Len() > 0 && returnBits > 0 {
		return bitvec.Vector{}, xserr.Callerf("jtag: cannot send %d and receive %d DR bits in one scan", data.Len(), returnBits)
	}
	if s.fsm.State() != tap.StateRunTestIdle {
		if err := s.ResetTAP(ctx); err != nil {
			return bitvec.Vector{}, err
		}
		if err := s.GoTo(tap.StateRunTestIdle); err != nil {
			return bitvec.Vector{}, err
		}
	}

	if instruction.Len() > 0 {
		if err := s.GoTo(tap.StateShiftIR); err != nil {
			return bitvec.Vector{}, err
		}
		if err := s.ShiftTDI(ctx, instruction, true); err != nil {
			return bitvec.Vector{}, err
		}
		if err := s.GoTo(tap.StateUpdateIR); err != nil {
			return bitvec.Vector{}, err
		}
	}

	var bits bitvec.Vector
	switch {
	case data.Len() > 0:
		if err := s.GoTo(tap.StateShiftDR); err != nil {
			return bitvec.Vector{}, err
		}
		if err := s.ShiftTDI(ctx, data, true); err != nil {
			return bitvec.Vector{}, err
		}
		if err := s.GoTo(tap.StateUpdateDR); err != nil {
			return bitvec.Vector{}, err
		}
	case returnBits > 0:
		if err := s.GoTo(tap.StateShiftDR); err != nil {
			return bitvec.Vector{}, err
		}
		var err error
		if bits, err = s.ShiftTDO(ctx, returnBits, true); err != nil {
			return bitvec.Vector{}, err
		}
		if err := s.GoTo(tap.StateUpdateDR); err != nil {
			return bitvec.Vector{}, err
		}
	}

	if err := s.GoTo(tap.StateRunTestIdle); err != nil {
		return bitvec.Vector{}, err
	}
	return bits, s.Flush(ctx)
}

// ResetTAP clocks five TMS=1 bits, which reaches Test-Logic-Reset from any
// state, including one the session has lost track of.
func (s *Session) ResetTAP(ctx context.Context) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	for _, b := range s.fsm.Reset().TMS {
		s.tms.AppendBit(b)
	}
	return s.Flush(ctx)
}

// RunTest pulses TCK n times with TMS low.
func (s *Session) RunTest(ctx context.Context, n uint32) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	if err := s.port.Write(ctx, xsusb.EncodeRunTest(n)); err != nil {
		return err
	}
	resp, err := s.port.Read(ctx, xsusb.RunTestReplyLen)
	if err != nil {
		return err
	}
	return xsusb.DecodeRunTest(resp)
}
