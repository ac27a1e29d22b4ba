package xsusb

import (
	"context"

	"github.com/golang/glog"

	"github.com/OpenTraceLab/xstools/pkg/xserr"
)

// ReadInfo returns the 32-byte information block stored in the board's
// microcontroller.
func ReadInfo(ctx context.Context, p Port) ([]byte, error) {
	if err := p.Write(ctx, []byte{CmdInfo}); err != nil {
		return nil, err
	}
	return p.Read(ctx, InfoLen)
}

// SetProg drives the FPGA PROG# pin.
func SetProg(ctx context.Context, p Port, level bool) error {
	var b byte
	if level {
		b = 1
	}
	return p.Write(ctx, EncodeProg(b))
}

// ReadADC samples one of the two analog inputs and returns volts.
func ReadADC(ctx context.Context, p Port, channel int) (float64, error) {
	var op byte
	switch channel {
	case 0:
		op = CmdAIO0ADC
	case 1:
		op = CmdAIO1ADC
	default:
		return 0, xserr.Callerf("xsusb: no ADC channel %d", channel)
	}
	if err := p.Write(ctx, []byte{op}); err != nil {
		return 0, err
	}
	resp, err := p.Read(ctx, 3)
	if err != nil {
		return 0, err
	}
	return DecodeADC(resp)
}

// ReadEEData returns one byte of the microcontroller's EEPROM.
func ReadEEData(ctx context.Context, p Port, addr uint32) (byte, error) {
	if err := p.Write(ctx, EncodeFlash(CmdReadEEData, 1, addr, nil)); err != nil {
		return 0, err
	}
	resp, err := p.Read(ctx, FlashReplyLen(1))
	if err != nil {
		return 0, err
	}
	data, err := DecodeFlashRead(CmdReadEEData, resp, 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

// WriteEEData stores one byte in the microcontroller's EEPROM.
func WriteEEData(ctx context.Context, p Port, addr uint32, v byte) error {
	if err := p.Write(ctx, EncodeFlash(CmdWriteEEData, 1, addr, []byte{v})); err != nil {
		return err
	}
	resp, err := p.Read(ctx, 1)
	if err != nil {
		return err
	}
	return CheckEcho(CmdWriteEEData, resp)
}

// EnterReflashMode makes the microcontroller boot into its firmware loader.
func EnterReflashMode(ctx context.Context, p Port) error {
	glog.V(1).Infof("Entering reflash mode")
	if err := WriteEEData(ctx, p, BootSelectFlagAddr, BootIntoReflashMode); err != nil {
		return err
	}
	return p.Reset(ctx)
}

// EnterUserMode makes the microcontroller boot into the user firmware.
func EnterUserMode(ctx context.Context, p Port) error {
	glog.V(1).Infof("Entering user mode")
	if err := WriteEEData(ctx, p, BootSelectFlagAddr, BootIntoUserMode); err != nil {
		return err
	}
	return p.Reset(ctx)
}

// CfgFlashFlag reads the flag that connects the serial configuration flash to
// the FPGA.
func CfgFlashFlag(ctx context.Context, p Port) (byte, error) {
	return ReadEEData(ctx, p, FlashEnableFlagAddr)
}

// SetCfgFlashFlag writes the configuration-flash flag. EnableFlash connects
// the flash; any other value disconnects it.
func SetCfgFlashFlag(ctx context.Context, p Port, v byte) error {
	return WriteEEData(ctx, p, FlashEnableFlagAddr, v)
}

// SetJTAGCable enables or disables the auxiliary JTAG cable interface.
func SetJTAGCable(ctx context.Context, p Port, enabled bool) error {
	var v byte = DisableJTAG
	if enabled {
		v = 0
	}
	return WriteEEData(ctx, p, JTAGDisableFlagAddr, v)
}
