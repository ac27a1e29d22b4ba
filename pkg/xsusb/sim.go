package xsusb

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/OpenTraceLab/xstools/pkg/bitvec"
	"github.com/OpenTraceLab/xstools/pkg/tap"
	"github.com/OpenTraceLab/xstools/pkg/xserr"
)

// SimEraseBlock is the erase granularity of the simulated microcontroller
// flash.
const SimEraseBlock = 64

// SimRegister is a data register reachable from Shift-DR while its
// instruction is latched.
type SimRegister interface {
	Capture()
	Shift(tdi bool) (tdo bool)
	Update()
}

// SimBoard is an in-memory board useful for unit tests. It decodes the
// firmware command stream, runs the TAP controller clock by clock, and
// routes DR shifts to the register selected by the latched instruction.
// Instructions without a register behave as BYPASS.
type SimBoard struct {
	IRWidth   int
	ResetIR   uint64 // instruction loaded in Test-Logic-Reset
	IRCapture uint64 // pattern captured into IR in Capture-IR
	Registers map[uint64]SimRegister

	Info   []byte
	ADC    [2]uint16
	Flash  map[uint32]byte
	EEData map[uint32]byte

	// Lost makes every transfer fail as if the board was unplugged.
	Lost bool
	// OnCommand observes every complete command before it executes.
	OnCommand func(cmd []byte)
	// OnUpdateIR observes every instruction latched in Update-IR.
	OnUpdateIR func(ir uint64)

	Writes        [][]byte
	Prog          []bool
	IRHistory     []uint64
	Resets        int
	RunTestClocks int
	Counts        map[byte]int

	tap     *tap.StateMachine
	ir      uint64
	irShift uint64
	bypass  bypassRegister
	pending []byte
	out     []byte
	closed  bool
}

// NewSimBoard returns a board whose TAP sits in Test-Logic-Reset with resetIR
// latched.
func NewSimBoard(irWidth int, resetIR uint64) *SimBoard {
	return &SimBoard{
		IRWidth:   irWidth,
		ResetIR:   resetIR,
		IRCapture: 0b01,
		Registers: make(map[uint64]SimRegister),
		Info:      SimInfo("0123", 1, 0, "XuLA-200"),
		Flash:     make(map[uint32]byte),
		EEData:    make(map[uint32]byte),
		Counts:    make(map[byte]int),
		tap:       tap.NewStateMachine(),
		ir:        resetIR,
	}
}

// SimInfo builds a valid INFO block: product id, version and a description,
// with the checksum byte chosen so all 32 bytes sum to zero.
func SimInfo(id string, major, minor byte, desc string) []byte {
	info := make([]byte, InfoLen)
	info[0] = CmdInfo
	var pid [2]byte
	fmt.Sscanf(id, "%02x%02x", &pid[0], &pid[1])
	info[1], info[2] = pid[0], pid[1]
	info[3], info[4] = major, minor
	copy(info[5:InfoLen-2], desc)
	var sum byte
	for _, b := range info[:InfoLen-1] {
		sum += b
	}
	info[InfoLen-1] = -sum
	return info
}

// State reports the simulated TAP controller state.
func (s *SimBoard) State() tap.State { return s.tap.State() }

// IR returns the latched instruction.
func (s *SimBoard) IR() uint64 { return s.ir }

func (s *SimBoard) Write(ctx context.Context, p []byte) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.Writes = append(s.Writes, append([]byte(nil), p...))
	s.pending = append(s.pending, p...)
	for len(s.pending) > 0 {
		n, err := commandLen(s.pending)
		if err != nil {
			s.pending = nil
			return err
		}
		if n == 0 {
			break
		}
		cmd := s.pending[:n]
		if s.OnCommand != nil {
			s.OnCommand(cmd)
		}
		s.Counts[cmd[0]]++
		s.execute(cmd)
		s.pending = s.pending[n:]
	}
	return nil
}

func (s *SimBoard) Read(ctx context.Context, n int) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if len(s.out) < n {
		have := len(s.out)
		s.out = nil
		return nil, xserr.Communicationf("xsusb: read %d of %d bytes", have, n)
	}
	resp := append([]byte(nil), s.out[:n]...)
	s.out = s.out[n:]
	return resp, nil
}

// Reset sends RESET; the simulated board re-enumerates instantly.
func (s *SimBoard) Reset(ctx context.Context) error {
	return s.Write(ctx, []byte{CmdReset})
}

func (s *SimBoard) Close() error {
	s.closed = true
	return nil
}

func (s *SimBoard) check(ctx context.Context) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if s.Lost {
		return fmt.Errorf("xsusb: simulated board unplugged: %w", xserr.ErrTerminated)
	}
	if s.closed {
		return xserr.Communicationf("xsusb: transport closed")
	}
	return nil
}

// commandLen returns the length of the command at the head of b, or 0 when
// more bytes are needed.
func commandLen(b []byte) (int, error) {
	switch b[0] {
	case CmdJTAG:
		if len(b) < 6 {
			return 0, nil
		}
		nbits, flags, _ := DecodeJTAGHeader(b)
		n := 6 + JTAGPayloadLen(nbits, flags)
		if len(b) < n {
			return 0, nil
		}
		return n, nil
	case CmdInfo, CmdReset, CmdAIO0ADC, CmdAIO1ADC:
		return 1, nil
	case CmdProg:
		return fit(b, 2), nil
	case CmdRunTest:
		return fit(b, RunTestReplyLen), nil
	case CmdReadFlash, CmdEraseFlash, CmdReadEEData:
		return fit(b, 5), nil
	case CmdWriteFlash, CmdWriteEEData:
		if len(b) < 2 {
			return 0, nil
		}
		return fit(b, 5+int(b[1])), nil
	}
	return 0, xserr.Communicationf("xsusb: simulated board got unknown command 0x%02x", b[0])
}

func fit(b []byte, n int) int {
	if len(b) < n {
		return 0
	}
	return n
}

func (s *SimBoard) execute(cmd []byte) {
	switch cmd[0] {
	case CmdJTAG:
		s.jtag(cmd)
	case CmdRunTest:
		n := binary.LittleEndian.Uint32(cmd[1:5])
		for i := uint32(0); i < n; i++ {
			s.clock(false, false)
		}
		s.RunTestClocks += int(n)
		s.out = append(s.out, cmd...)
	case CmdInfo:
		s.out = append(s.out, s.Info...)
	case CmdProg:
		s.Prog = append(s.Prog, cmd[1] != 0)
	case CmdAIO0ADC, CmdAIO1ADC:
		v := s.ADC[cmd[0]-CmdAIO0ADC]
		s.out = append(s.out, cmd[0], byte(v>>8), byte(v))
	case CmdReset:
		s.Resets++
	case CmdReadFlash:
		n, addr := int(cmd[1]), flashAddr(cmd)
		s.out = append(s.out, cmd[:5]...)
		for i := 0; i < n; i++ {
			s.out = append(s.out, s.flashByte(addr+uint32(i)))
		}
	case CmdWriteFlash:
		addr := flashAddr(cmd)
		for i, b := range cmd[5:] {
			s.Flash[addr+uint32(i)] = b
		}
		s.out = append(s.out, cmd[0])
	case CmdEraseFlash:
		base := flashAddr(cmd) &^ (SimEraseBlock - 1)
		for blk := 0; blk < int(cmd[1]); blk++ {
			for i := uint32(0); i < SimEraseBlock; i++ {
				delete(s.Flash, base+uint32(blk)*SimEraseBlock+i)
			}
		}
		s.out = append(s.out, cmd[0])
	case CmdReadEEData:
		s.out = append(s.out, cmd[:5]...)
		s.out = append(s.out, s.EEData[flashAddr(cmd)])
	case CmdWriteEEData:
		s.EEData[flashAddr(cmd)] = cmd[5]
		s.out = append(s.out, cmd[0])
	}
}

func (s *SimBoard) flashByte(addr uint32) byte {
	if b, ok := s.Flash[addr]; ok {
		return b
	}
	return 0xff
}

func flashAddr(cmd []byte) uint32 {
	return uint32(cmd[2]) | uint32(cmd[3])<<8 | uint32(cmd[4])<<16
}

func (s *SimBoard) jtag(cmd []byte) {
	nbits, flags, _ := DecodeJTAGHeader(cmd)
	payload := cmd[6:]
	both := flags&FlagPutTMS != 0 && flags&FlagPutTDI != 0

	bitAt := func(offset, i int) bool {
		idx := i / 8
		if both {
			idx = 2*idx + offset
		}
		return payload[idx]&(1<<(uint(i)%8)) != 0
	}

	tdo := make([]byte, JTAGReplyLen(nbits, flags))
	for i := 0; i < int(nbits); i++ {
		tms := flags&FlagTMSVal != 0
		if flags&FlagPutTMS != 0 {
			tms = bitAt(0, i)
		}
		tdi := flags&FlagTDIVal != 0
		if flags&FlagPutTDI != 0 {
			off := 0
			if both {
				off = 1
			}
			tdi = bitAt(off, i)
		}
		if s.clock(tms, tdi) && len(tdo) > 0 {
			tdo[i/8] |= 1 << (uint(i) % 8)
		}
	}
	s.out = append(s.out, tdo...)
}

// clock applies one TCK cycle and returns TDO.
func (s *SimBoard) clock(tms, tdi bool) bool {
	var tdo bool
	switch s.tap.State() {
	case tap.StateShiftIR:
		tdo = s.irShift&1 != 0
		s.irShift >>= 1
		if tdi {
			s.irShift |= 1 << uint(s.IRWidth-1)
		}
	case tap.StateShiftDR:
		tdo = s.dr().Shift(tdi)
	}

	switch s.tap.Clock(tms) {
	case tap.StateTestLogicReset:
		s.ir = s.ResetIR
	case tap.StateCaptureIR:
		s.irShift = s.IRCapture
	case tap.StateUpdateIR:
		s.ir = s.irShift & (1<<uint(s.IRWidth) - 1)
		s.IRHistory = append(s.IRHistory, s.ir)
		if s.OnUpdateIR != nil {
			s.OnUpdateIR(s.ir)
		}
	case tap.StateCaptureDR:
		s.dr().Capture()
	case tap.StateUpdateDR:
		s.dr().Update()
	}
	return tdo
}

func (s *SimBoard) dr() SimRegister {
	if r, ok := s.Registers[s.ir]; ok {
		return r
	}
	return &s.bypass
}

type bypassRegister struct{ bit bool }

func (b *bypassRegister) Capture() { b.bit = false }
func (b *bypassRegister) Update()  {}
func (b *bypassRegister) Shift(tdi bool) bool {
	out := b.bit
	b.bit = tdi
	return out
}

// FuncRegister is a data register whose captured value and update action
// are supplied by the test. Shifting past the captured value returns zeros.
type FuncRegister struct {
	OnCapture func() bitvec.Vector
	OnUpdate  func(shifted bitvec.Vector)

	out bitvec.Vector
	pos int
	in  bitvec.Vector
}

func (r *FuncRegister) Capture() {
	r.out, r.pos, r.in = bitvec.Vector{}, 0, bitvec.Vector{}
	if r.OnCapture != nil {
		r.out = r.OnCapture()
	}
}

func (r *FuncRegister) Shift(tdi bool) bool {
	tdo := r.pos < r.out.Len() && r.out.Bit(r.pos)
	r.pos++
	r.in.AppendBit(tdi)
	return tdo
}

func (r *FuncRegister) Update() {
	if r.OnUpdate != nil {
		r.OnUpdate(r.in)
	}
}

// ConstRegister returns a register that always captures v.
func ConstRegister(v bitvec.Vector) *FuncRegister {
	return &FuncRegister{OnCapture: func() bitvec.Vector { return v }}
}
