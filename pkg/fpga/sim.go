package fpga

import (
	"github.com/OpenTraceLab/xstools/pkg/bitvec"
	"github.com/OpenTraceLab/xstools/pkg/xsusb"
)

// SimFPGA models the configuration logic of one part on a simulated board.
// Data shifted through CFG_IN is taken as a bitstream unless it is the
// family's status request.
type SimFPGA struct {
	Part     Part
	IDCODE   uint32
	USERCODE uint32
	// RejectBits leaves DONE low after a download.
	RejectBits bool

	Configured bool
	Loaded     bitvec.Vector
	JPrograms  int
}

// NewSimBoard returns a simulated board whose TAP belongs to part.
func NewSimBoard(part Part) (*xsusb.SimBoard, *SimFPGA) {
	f := part.Family
	board := xsusb.NewSimBoard(f.IRWidth, f.Instr.IDCODE)
	sim := &SimFPGA{Part: part, IDCODE: part.IDCODE, USERCODE: 0xffffffff}
	sim.Attach(board)
	return board, sim
}

// Attach installs the FPGA's registers on board.
func (s *SimFPGA) Attach(board *xsusb.SimBoard) {
	f := s.Part.Family
	board.Registers[f.Instr.IDCODE] = &xsusb.FuncRegister{
		OnCapture: func() bitvec.Vector { return bitvec.Uint(uint64(s.IDCODE), idcodeBits) },
	}
	board.Registers[f.Instr.USERCODE] = &xsusb.FuncRegister{
		OnCapture: func() bitvec.Vector { return bitvec.Uint(uint64(s.USERCODE), idcodeBits) },
	}
	board.Registers[f.Instr.CFGIn] = &xsusb.FuncRegister{
		OnUpdate: func(in bitvec.Vector) {
			if in.Len() == 0 || in.Equal(f.StatusCommand) {
				return
			}
			s.Loaded = in.Clone()
			s.Configured = !s.RejectBits
		},
	}
	board.Registers[f.Instr.CFGOut] = &xsusb.FuncRegister{
		OnCapture: func() bitvec.Vector {
			st := bitvec.New(f.StatusBits)
			st.Set(f.DoneBit, s.Configured)
			return st
		},
	}
	board.OnUpdateIR = func(ir uint64) {
		if f.HasJPROGRAM() && ir == f.Instr.JPROGRAM {
			s.JPrograms++
			s.Configured = false
		}
	}
}
