package flash

import (
	"context"
	"fmt"

	"github.com/OpenTraceLab/xstools/pkg/xserr"
	"github.com/OpenTraceLab/xstools/pkg/xsusb"
)

// PIC18F14K50 program memory as seen by the board's reflash firmware. The
// loader itself lives below PICStart and cannot be touched.
const (
	PICStart      = 0x0800
	PICEnd        = 0x4000
	picEraseBlock = 64
	picWriteBlock = 16
	picReadBlock  = 16
)

// PIC18F14K50 is the microcontroller on XuLA boards, programmed through the
// USB firmware's flash commands. The board must be in reflash mode.
type PIC18F14K50 struct {
	port xsusb.Port
}

var _ Device = (*PIC18F14K50)(nil)

// NewPIC18F14K50 returns the microcontroller behind p.
func NewPIC18F14K50(p xsusb.Port) *PIC18F14K50 {
	return &PIC18F14K50{port: p}
}

// Name implements Device.
func (m *PIC18F14K50) Name() string { return "PIC18F14K50" }

// Geometry implements Device.
func (m *PIC18F14K50) Geometry() Geometry {
	return Geometry{
		Start:      PICStart,
		End:        PICEnd,
		EraseBlock: picEraseBlock,
		WriteBlock: picWriteBlock,
		ReadBlock:  picReadBlock,
	}
}

// EraseBlock erases the 64-byte block at addr.
func (m *PIC18F14K50) EraseBlock(ctx context.Context, addr uint32) error {
	return m.echoed(ctx, xsusb.EncodeFlash(xsusb.CmdEraseFlash, 1, addr, nil))
}

// WriteBlock writes up to 16 bytes at addr.
func (m *PIC18F14K50) WriteBlock(ctx context.Context, addr uint32, data []byte) error {
	if len(data) > picWriteBlock {
		return xserr.Callerf("flash: %d bytes exceed the %d-byte write block", len(data), picWriteBlock)
	}
	return m.echoed(ctx, xsusb.EncodeFlash(xsusb.CmdWriteFlash, len(data), addr, data))
}

// ReadBlock reads n bytes at addr.
func (m *PIC18F14K50) ReadBlock(ctx context.Context, addr uint32, n int) ([]byte, error) {
	if err := m.port.Write(ctx, xsusb.EncodeFlash(xsusb.CmdReadFlash, n, addr, nil)); err != nil {
		return nil, err
	}
	resp, err := m.port.Read(ctx, xsusb.FlashReplyLen(n))
	if err != nil {
		return nil, err
	}
	return xsusb.DecodeFlashRead(xsusb.CmdReadFlash, resp, n)
}

func (m *PIC18F14K50) echoed(ctx context.Context, cmd []byte) error {
	if err := m.port.Write(ctx, cmd); err != nil {
		return err
	}
	resp, err := m.port.Read(ctx, 1)
	if err != nil {
		return err
	}
	if err := xsusb.CheckEcho(cmd[0], resp); err != nil {
		return fmt.Errorf("flash: %w", err)
	}
	return nil
}
