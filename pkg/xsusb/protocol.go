package xsusb

import (
	"encoding/binary"

	"github.com/OpenTraceLab/xstools/pkg/xserr"
)

// Firmware command opcodes. The opcode is the first byte of every OUT transfer.
const (
	CmdReadVersion      = 0x00
	CmdReadFlash        = 0x01
	CmdWriteFlash       = 0x02
	CmdEraseFlash       = 0x03
	CmdReadEEData       = 0x04
	CmdWriteEEData      = 0x05
	CmdReadConfig       = 0x06
	CmdWriteConfig      = 0x07
	CmdIDBoard          = 0x31
	CmdUpdateLED        = 0x32
	CmdInfo             = 0x40
	CmdSenseInverters   = 0x41
	CmdTMSTDI           = 0x42
	CmdTMSTDITDO        = 0x43
	CmdTDITDO           = 0x44
	CmdTDO              = 0x45
	CmdTDI              = 0x46
	CmdRunTest          = 0x47
	CmdNullTDI          = 0x48
	CmdProg             = 0x49
	CmdSingleTestVector = 0x4a
	CmdGetTestVector    = 0x4b
	CmdSetOscFreq       = 0x4c
	CmdEnableReturn     = 0x4d
	CmdDisableReturn    = 0x4e
	CmdJTAG             = 0x4f
	CmdFlashOnOff       = 0x50
	CmdAIO0ADC          = 0x60
	CmdAIO1ADC          = 0x61
	CmdReset            = 0xff
)

// JTAG_CMD flag bits
const (
	FlagGetTDO = 0x01 // capture TDO and return it
	FlagPutTMS = 0x02 // TMS bits follow in the payload
	FlagTMSVal = 0x04 // static TMS level when FlagPutTMS is clear
	FlagPutTDI = 0x08 // TDI bits follow in the payload
	FlagTDIVal = 0x10 // static TDI level when FlagPutTDI is clear
)

// EEDATA flag locations and the values the firmware looks for.
const (
	BootSelectFlagAddr  = 0xff
	BootIntoReflashMode = 0x3a
	BootIntoUserMode    = 0xc5
	JTAGDisableFlagAddr = 0xfd
	DisableJTAG         = 0x69
	FlashEnableFlagAddr = 0xfe
	EnableFlash         = 0xac
)

const (
	// InfoLen is the size of the INFO response.
	InfoLen = 32
	// RunTestReplyLen is the size of the RUNTEST echo.
	RunTestReplyLen = 5
	// flashReplyHeader is the echoed command prefix in a READ_FLASH reply.
	flashReplyHeader = 5
)

// EncodeJTAG builds a JTAG_CMD transfer: opcode, bit count (LE), flags, then
// the packed bit payload.
func EncodeJTAG(nbits uint32, flags byte, payload []byte) []byte {
	cmd := make([]byte, 6, 6+len(payload))
	cmd[0] = CmdJTAG
	binary.LittleEndian.PutUint32(cmd[1:5], nbits)
	cmd[5] = flags
	return append(cmd, payload...)
}

// DecodeJTAGHeader splits a JTAG_CMD header into its bit count and flags.
func DecodeJTAGHeader(cmd []byte) (uint32, byte, error) {
	if len(cmd) < 6 || cmd[0] != CmdJTAG {
		return 0, 0, xserr.Protocolf("xsusb: malformed JTAG_CMD header % x", cmd)
	}
	return binary.LittleEndian.Uint32(cmd[1:5]), cmd[5], nil
}

// JTAGPayloadLen returns how many payload bytes follow a JTAG_CMD header.
// When both TMS and TDI are present the bytes interleave, TMS first.
func JTAGPayloadLen(nbits uint32, flags byte) int {
	n := int((nbits + 7) / 8)
	total := 0
	if flags&FlagPutTMS != 0 {
		total += n
	}
	if flags&FlagPutTDI != 0 {
		total += n
	}
	return total
}

// JTAGReplyLen returns the TDO byte count the firmware returns for a command.
func JTAGReplyLen(nbits uint32, flags byte) int {
	if flags&FlagGetTDO == 0 {
		return 0
	}
	return int((nbits + 7) / 8)
}

// EncodeRunTest builds a RUNTEST command that pulses TCK n times.
func EncodeRunTest(n uint32) []byte {
	cmd := make([]byte, RunTestReplyLen)
	cmd[0] = CmdRunTest
	binary.LittleEndian.PutUint32(cmd[1:], n)
	return cmd
}

// DecodeRunTest checks the RUNTEST echo.
func DecodeRunTest(resp []byte) error {
	if len(resp) != RunTestReplyLen || resp[0] != CmdRunTest {
		return xserr.Communicationf("xsusb: RUNTEST not echoed, got % x", resp)
	}
	return nil
}

// EncodeProg sets the FPGA PROG# pin to level.
func EncodeProg(level byte) []byte {
	return []byte{CmdProg, level}
}

// DecodeADC converts a 3-byte ADC reply to volts.
func DecodeADC(resp []byte) (float64, error) {
	if len(resp) != 3 {
		return 0, xserr.Communicationf("xsusb: ADC reply has %d bytes, want 3", len(resp))
	}
	raw := int(resp[1])*256 + int(resp[2])
	return float64(raw) / 1023.0 * 2.048, nil
}

// EncodeFlash builds a PIC flash or EEDATA command. Addresses are three bytes,
// least significant first.
func EncodeFlash(op byte, n int, addr uint32, data []byte) []byte {
	cmd := []byte{op, byte(n), byte(addr), byte(addr >> 8), byte(addr >> 16)}
	return append(cmd, data...)
}

// FlashReplyLen is the size of the reply to a READ_FLASH or READ_EEDATA
// command asking for n bytes: the echoed command followed by the data.
func FlashReplyLen(n int) int { return n + flashReplyHeader }

// DecodeFlashRead returns the data bytes of a READ_FLASH or READ_EEDATA reply.
func DecodeFlashRead(op byte, resp []byte, n int) ([]byte, error) {
	if len(resp) != FlashReplyLen(n) || resp[0] != op {
		return nil, xserr.Communicationf("xsusb: bad reply to command 0x%02x (%d bytes)", op, len(resp))
	}
	return resp[flashReplyHeader:], nil
}

// CheckEcho verifies a one-byte command echo.
func CheckEcho(op byte, resp []byte) error {
	if len(resp) < 1 || resp[0] != op {
		return xserr.Communicationf("xsusb: command 0x%02x not echoed, got % x", op, resp)
	}
	return nil
}
