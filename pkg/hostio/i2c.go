package hostio

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/OpenTraceLab/xstools/pkg/xserr"
)

// I2C master core registers. TXR/RXR and CR/SR share addresses; the
// direction of the access selects the register.
const (
	i2cPrescaleLo = 0
	i2cPrescaleHi = 1
	i2cControl    = 2
	i2cData       = 3
	i2cCommand    = 4

	ctrEnable = 1 << 7

	crStart = 1 << 7
	crStop  = 1 << 6
	crRead  = 1 << 5
	crWrite = 1 << 4
	crNACK  = 1 << 3

	srRxNACK   = 1 << 7
	srArbLost  = 1 << 5
	srTransfer = 1 << 1

	i2cReadOp  = 1
	i2cWriteOp = 0
)

// I2C drives an I2C master core in the FPGA. It implements periph's
// i2c.Bus; bus calls use the context given to NewI2C.
type I2C struct {
	ctx context.Context
	mem *MemIO
	clk physic.Frequency
	// MaxPolls bounds each wait for a byte transfer to finish.
	MaxPolls int
}

var _ i2c.Bus = (*I2C)(nil)

// NewI2C opens the I2C master on module id and enables it. clk is the
// frequency of the core's clock, needed to program the SCL prescaler.
func NewI2C(ctx context.Context, ch *Channel, id uint8, clk physic.Frequency) (*I2C, error) {
	mem, err := NewMemIO(ctx, ch, id)
	if err != nil {
		return nil, err
	}
	b := &I2C{ctx: ctx, mem: mem, clk: clk, MaxPolls: DefaultMaxPolls}
	if err := b.write(ctx, i2cControl, ctrEnable); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *I2C) String() string { return fmt.Sprintf("hostio-i2c(%d)", b.mem.Module().ID()) }

// SetSpeed programs the prescaler for an SCL frequency of f.
func (b *I2C) SetSpeed(f physic.Frequency) error {
	if f <= 0 || b.clk < 5*f {
		return xserr.Callerf("i2c: cannot reach %s from a %s clock", f, b.clk)
	}
	pre := int64(b.clk/(5*f)) - 1
	if pre > 0xffff {
		return xserr.Callerf("i2c: %s is too slow for a %s clock", f, b.clk)
	}
	glog.V(1).Infof("i2c: prescale 0x%04x for %s", pre, f)
	if err := b.write(b.ctx, i2cPrescaleLo, uint64(pre&0xff)); err != nil {
		return err
	}
	return b.write(b.ctx, i2cPrescaleHi, uint64(pre>>8))
}

// Tx addresses the device at addr, writes w, then reads len(r) bytes after a
// repeated start. With nothing to read the write ends with a stop.
func (b *I2C) Tx(addr uint16, w, r []byte) error {
	ctx := b.ctx
	if addr > 0x7f {
		return xserr.Callerf("i2c: address 0x%x needs 10-bit addressing", addr)
	}
	if len(w) == 0 && len(r) == 0 {
		if err := b.write(ctx, i2cData, uint64(addr)<<1|i2cWriteOp); err != nil {
			return err
		}
		return b.write(ctx, i2cCommand, crStart|crWrite|crStop)
	}
	if len(w) > 0 {
		if err := b.address(ctx, addr, i2cWriteOp); err != nil {
			return err
		}
		for i, c := range w {
			if err := b.sendByte(ctx, addr, c, len(r) == 0 && i == len(w)-1); err != nil {
				return err
			}
		}
	}
	if len(r) == 0 {
		return nil
	}
	if err := b.address(ctx, addr, i2cReadOp); err != nil {
		return err
	}
	for i := range r {
		last := i == len(r)-1
		c, err := b.receiveByte(ctx, last)
		if err != nil {
			return err
		}
		r[i] = c
	}
	return nil
}

func (b *I2C) address(ctx context.Context, addr uint16, op uint64) error {
	if err := b.write(ctx, i2cData, uint64(addr)<<1&0xfe|op); err != nil {
		return err
	}
	if err := b.write(ctx, i2cCommand, crStart|crWrite); err != nil {
		return err
	}
	return b.checkAck(ctx, addr, false)
}

func (b *I2C) sendByte(ctx context.Context, addr uint16, c byte, stop bool) error {
	if err := b.write(ctx, i2cData, uint64(c)); err != nil {
		return err
	}
	cmd := uint64(crWrite)
	if stop {
		cmd |= crStop
	}
	if err := b.write(ctx, i2cCommand, cmd); err != nil {
		return err
	}
	return b.checkAck(ctx, addr, stop)
}

// receiveByte ACKs every byte but the last, which is NACKed and followed by
// a stop.
func (b *I2C) receiveByte(ctx context.Context, last bool) (byte, error) {
	cmd := uint64(crRead)
	if last {
		cmd |= crNACK | crStop
	}
	if err := b.write(ctx, i2cCommand, cmd); err != nil {
		return 0, err
	}
	if _, err := b.waitIdle(ctx); err != nil {
		return 0, err
	}
	v, err := b.mem.Read(ctx, i2cData, 1)
	if err != nil {
		return 0, err
	}
	return byte(v[0]), nil
}

// checkAck waits for the byte to go out. A NACK releases the bus with a
// stop unless the command already carried one.
func (b *I2C) checkAck(ctx context.Context, addr uint16, stopped bool) error {
	sr, err := b.waitIdle(ctx)
	if err != nil {
		return err
	}
	if sr&srArbLost != 0 {
		return xserr.Communicationf("i2c: arbitration lost talking to 0x%02x", addr)
	}
	if sr&srRxNACK != 0 {
		err := xserr.Communicationf("i2c: 0x%02x: NACK", addr)
		if stopped {
			return err
		}
		return errors.Join(err, b.write(ctx, i2cCommand, crStop))
	}
	return nil
}

func (b *I2C) waitIdle(ctx context.Context) (uint64, error) {
	limit := b.MaxPolls
	if limit <= 0 {
		limit = DefaultMaxPolls
	}
	for i := 0; i < limit; i++ {
		sr, err := b.mem.Read(ctx, i2cCommand, 1)
		if err != nil {
			return 0, err
		}
		if sr[0]&srTransfer == 0 {
			return sr[0], nil
		}
	}
	return 0, xserr.Timeoutf("i2c: transfer still in progress after %d polls", limit)
}

func (b *I2C) write(ctx context.Context, reg, v uint64) error {
	return b.mem.Write(ctx, reg, []uint64{v})
}
