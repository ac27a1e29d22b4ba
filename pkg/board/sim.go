package board

import (
	"math/bits"

	"github.com/OpenTraceLab/xstools/pkg/flash"
	"github.com/OpenTraceLab/xstools/pkg/fpga"
	"github.com/OpenTraceLab/xstools/pkg/hostio"
	"github.com/OpenTraceLab/xstools/pkg/xsusb"
)

// SimI2CAddress is the slave address on the simulated I2C master.
const SimI2CAddress = 0x58

// Sim is a simulated board. Every helper module answers on the USER1 tunnel
// whatever bitstream was loaded: the self-test DUT, the configuration flash
// behind its SPI master, the SDRAM, a loopback comm channel and an I2C
// master with one slave.
type Sim struct {
	*xsusb.SimBoard
	FPGA  *fpga.SimFPGA
	Flash *flash.SimW25X
	RAM   *hostio.SimMemory
	Dut   *hostio.SimDut
	Comm  *hostio.SimComm
	I2C   *hostio.SimI2C

	// FailSelfTest makes the diagnostic report a failure once it reaches
	// the read phase.
	FailSelfTest bool
	// Signature is what the diagnostic DUT reports.
	Signature uint32

	dutReads int
}

// NewSim returns a simulated board of model m.
func NewSim(m Model) *Sim {
	board, f := fpga.NewSimBoard(m.Part)
	s := &Sim{
		SimBoard:  board,
		FPGA:      f,
		Flash:     flash.NewSimW25X(0x3014),
		RAM:       hostio.NewSimMemory(bits.Len32(m.RAM.Size/2)-1, 16),
		Comm:      hostio.NewSimComm(64),
		I2C:       hostio.NewSimI2C(SimI2CAddress),
		Signature: SelfTestSignature,
	}
	s.Info = xsusb.SimInfo("0123", 1, 2, m.Name)
	s.Dut = &hostio.SimDut{InputWidth: 1, OutputWidth: 35, Eval: s.selfTest, OnWrite: s.dutReset}
	s.Comm.OnPoll = func(c *hostio.SimComm) {
		c.Up = append(c.Up, c.Down...)
		c.Free += len(c.Down)
		c.Down = nil
	}

	reg := hostio.NewSimRegister()
	reg.Modules[SelfTestModule] = s.Dut
	reg.Modules[FlashModule] = hostio.NewSimSPI(s.Flash.Xfer)
	reg.Modules[RAMModule] = s.RAM
	reg.Modules[hostio.DefaultCommModule] = s.Comm
	reg.Modules[hostio.DefaultModule] = s.I2C
	board.Registers[m.Part.Family.Instr.USER1] = reg
	return s
}

func (s *Sim) dutReset(in uint64) {
	if in&1 != 0 {
		s.dutReads = 0
	}
}

// selfTest advances the diagnostic one step every two reads after reset.
func (s *Sim) selfTest(in uint64) uint64 {
	if in&1 == 0 {
		s.dutReads++
	}
	progress := uint64(min(s.dutReads/2, TestDone))
	var failed uint64
	if s.FailSelfTest && progress >= TestRead {
		failed = 1
	}
	return progress | failed<<2 | uint64(s.Signature)<<3
}
