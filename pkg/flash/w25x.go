package flash

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"
	"periph.io/x/conn/v3/spi"

	"github.com/OpenTraceLab/xstools/pkg/xserr"
)

// Winbond serial flash commands.
const (
	w25WriteEnable = 0x06
	w25ReadStatus  = 0x05
	w25PageProgram = 0x02
	w25ChipErase   = 0xc7
	w25FastRead    = 0x0b
	w25JEDECID     = 0x9f

	w25Busy    = 0x01
	w25Page    = 256
	winbondMfg = 0xef
)

// DefaultMaxPolls bounds every busy-wait on a device status bit.
const DefaultMaxPolls = 100000

// w25Sizes maps JEDEC device ids to capacities in bits.
var w25Sizes = map[uint16]uint32{
	0x3011: 1 << 20,
	0x3012: 1 << 21,
	0x3013: 1 << 22,
	0x3014: 1 << 23,
	0x4014: 1 << 23,
}

// W25X is a Winbond W25X/W25Q serial flash on an SPI bus. The chip is erased
// as a whole, so its erase block covers the full device.
type W25X struct {
	conn  spi.Conn
	jedec uint16
	size  uint32 // bytes

	// MaxPolls bounds the status reads after an erase or program.
	MaxPolls int
}

var _ Device = (*W25X)(nil)

// NewW25X identifies the flash on c.
func NewW25X(ctx context.Context, c spi.Conn) (*W25X, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	id := make([]byte, 3)
	if err := c.Tx([]byte{w25JEDECID}, id); err != nil {
		return nil, fmt.Errorf("flash: read JEDEC id: %w", err)
	}
	if id[0] != winbondMfg {
		return nil, xserr.Configurationf("flash: unknown serial flash manufacturer 0x%02x", id[0])
	}
	jedec := uint16(id[1])<<8 | uint16(id[2])
	bits, ok := w25Sizes[jedec]
	if !ok {
		return nil, xserr.Configurationf("flash: unknown Winbond device 0x%04x", jedec)
	}
	glog.V(1).Infof("Found W25X device 0x%04x, %d bytes", jedec, bits/8)
	return &W25X{conn: c, jedec: jedec, size: bits / 8, MaxPolls: DefaultMaxPolls}, nil
}

// Name implements Device.
func (f *W25X) Name() string { return fmt.Sprintf("W25X(0x%04x)", f.jedec) }

// JEDEC returns the device id read at open.
func (f *W25X) JEDEC() uint16 { return f.jedec }

// Geometry implements Device.
func (f *W25X) Geometry() Geometry {
	return Geometry{Start: 0, End: f.size, EraseBlock: f.size, WriteBlock: w25Page, ReadBlock: w25Page}
}

// EraseBlock erases the whole chip.
func (f *W25X) EraseBlock(ctx context.Context, addr uint32) error {
	if err := alive(ctx); err != nil {
		return err
	}
	if err := f.conn.Tx([]byte{w25WriteEnable}, nil); err != nil {
		return err
	}
	if err := f.conn.Tx([]byte{w25ChipErase}, nil); err != nil {
		return err
	}
	return f.waitIdle(ctx)
}

// WriteBlock programs one page. data must not cross a page boundary.
func (f *W25X) WriteBlock(ctx context.Context, addr uint32, data []byte) error {
	if err := alive(ctx); err != nil {
		return err
	}
	if int(addr%w25Page)+len(data) > w25Page {
		return xserr.Callerf("flash: %d bytes at 0x%06x cross a page", len(data), addr)
	}
	if err := f.conn.Tx([]byte{w25WriteEnable}, nil); err != nil {
		return err
	}
	cmd := append(command(w25PageProgram, addr), data...)
	if err := f.conn.Tx(cmd, nil); err != nil {
		return err
	}
	return f.waitIdle(ctx)
}

// ReadBlock reads n bytes with FAST_READ.
func (f *W25X) ReadBlock(ctx context.Context, addr uint32, n int) ([]byte, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	r := make([]byte, n)
	if err := f.conn.Tx(append(command(w25FastRead, addr), 0), r); err != nil {
		return nil, err
	}
	return r, nil
}

// waitIdle polls the status register, chip select held, until BUSY clears.
func (f *W25X) waitIdle(ctx context.Context) error {
	if err := f.conn.TxPackets([]spi.Packet{{W: []byte{w25ReadStatus}, KeepCS: true}}); err != nil {
		return err
	}
	st := make([]byte, 1)
	for i := 0; i < f.maxPolls(); i++ {
		if err := alive(ctx); err != nil {
			return errors.Join(err, f.release())
		}
		if err := f.conn.TxPackets([]spi.Packet{{R: st, KeepCS: true}}); err != nil {
			return err
		}
		if st[0]&w25Busy == 0 {
			return f.release()
		}
	}
	err := xserr.Timeoutf("flash: %s still busy after %d status reads", f.Name(), f.maxPolls())
	return errors.Join(err, f.release())
}

// release ends a chip select period left open by KeepCS.
func (f *W25X) release() error {
	return f.conn.TxPackets([]spi.Packet{{}})
}

func (f *W25X) maxPolls() int {
	if f.MaxPolls <= 0 {
		return DefaultMaxPolls
	}
	return f.MaxPolls
}

// command returns op followed by a 24-bit address, most significant byte
// first.
func command(op byte, addr uint32) []byte {
	return []byte{op, byte(addr >> 16), byte(addr >> 8), byte(addr)}
}

func alive(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("flash: %v: %w", err, xserr.ErrCancelled)
	}
	return nil
}
