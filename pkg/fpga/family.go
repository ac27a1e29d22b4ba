// Package fpga configures Xilinx FPGAs through their JTAG port.
//
// The configuration sequence is the same for every supported family; the
// differences (instruction opcodes, status readback framing, start-up clock
// counts) live in a Family record.
package fpga

import (
	"encoding/binary"
	"time"

	"github.com/OpenTraceLab/xstools/pkg/bitvec"
)

// Instructions holds a family's JTAG opcodes. A zero JPROGRAM means the
// family has no such instruction.
type Instructions struct {
	IDCODE   uint64
	USERCODE uint64
	USER1    uint64
	USER2    uint64
	CFGIn    uint64
	CFGOut   uint64
	JPROGRAM uint64
	JSTART   uint64
	BYPASS   uint64
}

// StatusField names a run of bits in the status register readback. Lo
// indexes the readback in receive order.
type StatusField struct {
	Name  string
	Lo    int
	Width int
}

// Family describes how to configure and query one FPGA family.
type Family struct {
	Name    string
	IRWidth int
	Instr   Instructions

	// StatusCommand is shifted into CFG_IN to request the status register,
	// whose StatusBits bits are then read through CFG_OUT.
	StatusCommand bitvec.Vector
	StatusBits    int
	StatusFields  []StatusField
	DoneBit       int
	// ResetBeforeStatus resets the TAP before the status command is sent.
	ResetBeforeStatus bool

	// ClearDelay is the wait after JPROGRAM for configuration memory to clear.
	ClearDelay time.Duration
	// StartupClocks are pulsed after the first JSTART.
	StartupClocks uint32
	// FinalJSTARTBits is the length of the zero data phase of a second
	// JSTART; zero skips it.
	FinalJSTARTBits int
	// EndInReset leaves the TAP in Test-Logic-Reset after configuration
	// instead of Run-Test/Idle.
	EndInReset bool
}

// Instruction returns opcode as an IR-width vector.
func (f *Family) Instruction(opcode uint64) bitvec.Vector {
	return bitvec.Uint(opcode, f.IRWidth)
}

// HasJPROGRAM reports whether the family can clear its configuration over
// JTAG.
func (f *Family) HasJPROGRAM() bool { return f.Instr.JPROGRAM != 0 }

// configWords packs 16-bit configuration words the way the configuration
// logic expects them, most significant bit first.
func configWords(words ...uint16) bitvec.Vector {
	b := make([]byte, 2*len(words))
	for i, w := range words {
		binary.BigEndian.PutUint16(b[2*i:], w)
	}
	return bitvec.FromMSBFirst(b)
}

const (
	syncHi  = 0xaa99
	syncLo  = 0x5566
	nop     = 0x2000
	readSTA = 0x2901 // type 1 read, status register
	dummy   = 0xffff
)

var spartan3Instr = Instructions{
	IDCODE:   0b001001,
	USERCODE: 0b001000,
	USER1:    0b000010,
	USER2:    0b000011,
	CFGIn:    0b000101,
	CFGOut:   0b000100,
	JPROGRAM: 0b001011,
	JSTART:   0b001100,
	BYPASS:   0b111111,
}

var spartan3Status = []StatusField{
	{"CRC_ERROR", 0, 1},
	{"ID_ERROR", 1, 1},
	{"DCM_LOCK", 2, 1},
	{"GTS_CFG_B", 3, 1},
	{"GWE", 4, 1},
	{"GHIGH_B", 5, 1},
	{"VSEL", 6, 3},
	{"MODE", 9, 3},
	{"INIT", 12, 1},
	{"DONE", 13, 1},
	{"SEU_ERR", 14, 1},
	{"SYNC_TIMEOUT", 15, 1},
}

// Supported families.
var (
	Spartan2 = &Family{
		Name:    "Spartan-2",
		IRWidth: 5,
		Instr: Instructions{
			IDCODE:   0b01001,
			USERCODE: 0b01000,
			USER1:    0b00010,
			USER2:    0b00011,
			CFGIn:    0b00101,
			CFGOut:   0b00100,
			JSTART:   0b01100,
			BYPASS:   0b11111,
		},
		StatusCommand: configWords(0x2800, 0xe001, 0x0000, 0x0000),
		StatusBits:    32,
		StatusFields: []StatusField{
			{"CRC_ERROR", 0, 1},
			{"DCM_LOCK", 1, 4},
			{"IN_ERROR", 5, 1},
			{"GTS_CFG", 6, 1},
			{"GWE_B", 7, 1},
			{"GSR_B", 8, 1},
			{"GHIGH_B", 9, 1},
			{"MODE", 10, 3},
			{"INIT", 13, 1},
			{"DONE", 14, 1},
		},
		DoneBit:           14,
		ResetBeforeStatus: true,
		StartupClocks:     12,
		FinalJSTARTBits:   22,
	}

	Spartan3 = &Family{
		Name:            "Spartan-3",
		IRWidth:         6,
		Instr:           spartan3Instr,
		StatusCommand:   configWords(syncHi, nop, readSTA, nop, nop),
		StatusBits:      32,
		StatusFields:    spartan3Status,
		DoneBit:         13,
		ClearDelay:      time.Millisecond,
		StartupClocks:   12,
		FinalJSTARTBits: 22,
		EndInReset:      true,
	}

	Spartan3A = &Family{
		Name:            "Spartan-3A",
		IRWidth:         6,
		Instr:           spartan3Instr,
		StatusCommand:   configWords(syncHi, nop, readSTA, nop, nop),
		StatusBits:      32,
		StatusFields:    spartan3Status,
		DoneBit:         13,
		ClearDelay:      time.Millisecond,
		StartupClocks:   12,
		FinalJSTARTBits: 22,
		EndInReset:      true,
	}

	Spartan6 = &Family{
		Name:          "Spartan-6",
		IRWidth:       6,
		Instr:         spartan3Instr,
		StatusCommand: configWords(dummy, dummy, syncHi, syncLo, nop, readSTA, nop, nop, nop, nop),
		StatusBits:    16,
		StatusFields: []StatusField{
			{"CRC_ERROR", 0, 1},
			{"ID_ERROR", 1, 1},
			{"DCM_LOCK", 2, 1},
			{"GTS_CFG_B", 3, 1},
			{"GWE", 4, 1},
			{"GHIGH_B", 5, 1},
			{"DEC_ERROR", 6, 1},
			{"PART_SECURED", 7, 1},
			{"HSWAPEN", 8, 1},
			{"MODE", 9, 3},
			{"INIT", 12, 1},
			{"DONE", 13, 1},
			{"IN_PWRDN", 14, 1},
			{"SWWD_Strikeout", 15, 1},
		},
		DoneBit:           13,
		ResetBeforeStatus: true,
		ClearDelay:        time.Millisecond,
		StartupClocks:     30,
		EndInReset:        true,
	}
)
