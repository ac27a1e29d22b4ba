package hostio

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/spi"
)

// DefaultSPIModule is the module id of the SPI master in the flash
// programming bitstreams.
const DefaultSPIModule = 0xf0

// SPI master registers.
const (
	spiReset  = 0 // write: deassert chip select and clear the master
	spiSingle = 1 // one byte, chip select released after it
	spiMulti  = 2 // bytes with chip select held
)

// SPI drives an SPI master in the FPGA through a memory module with 8-bit
// data. It implements periph's spi.Conn so device drivers written against
// periph work unchanged; those calls use the context given to NewSPI.
//
// The master is half duplex: a transaction writes first, then reads.
type SPI struct {
	ctx context.Context
	mem *MemIO
}

var _ spi.Conn = (*SPI)(nil)

// NewSPI opens the SPI master on module id.
func NewSPI(ctx context.Context, ch *Channel, id uint8) (*SPI, error) {
	mem, err := NewMemIO(ctx, ch, id)
	if err != nil {
		return nil, err
	}
	return &SPI{ctx: ctx, mem: mem}, nil
}

func (s *SPI) String() string { return fmt.Sprintf("hostio-spi(%d)", s.mem.Module().ID()) }

// Duplex implements conn.Conn.
func (s *SPI) Duplex() conn.Duplex { return conn.Half }

// Reset releases chip select.
func (s *SPI) Reset(ctx context.Context) error {
	return s.mem.Write(ctx, spiReset, []uint64{0})
}

// Send shifts data out with chip select held. With stop set, chip select is
// released after the last byte; an empty send with stop only releases it.
func (s *SPI) Send(ctx context.Context, data []byte, stop bool) error {
	if !stop {
		if len(data) == 0 {
			return nil
		}
		return s.mem.Write(ctx, spiMulti, words(data))
	}
	if len(data) == 0 {
		return s.Reset(ctx)
	}
	if err := s.Send(ctx, data[:len(data)-1], false); err != nil {
		return err
	}
	return s.mem.Write(ctx, spiSingle, []uint64{uint64(data[len(data)-1])})
}

// Receive shifts in n bytes. With stop set, chip select is released after
// the last byte.
func (s *SPI) Receive(ctx context.Context, n int, stop bool) ([]byte, error) {
	if !stop {
		w, err := s.mem.Read(ctx, spiMulti, n)
		return octets(w), err
	}
	if n == 0 {
		return nil, s.Reset(ctx)
	}
	head, err := s.Receive(ctx, n-1, false)
	if err != nil {
		return nil, err
	}
	last, err := s.mem.Read(ctx, spiSingle, 1)
	if err != nil {
		return nil, err
	}
	return append(head, octets(last)...), nil
}

// Tx writes w, then fills r, as one chip select period.
func (s *SPI) Tx(w, r []byte) error {
	return s.tx(w, r, true)
}

// TxPackets runs the packets in order. Chip select stays asserted after a
// packet with KeepCS set.
func (s *SPI) TxPackets(p []spi.Packet) error {
	for _, pkt := range p {
		if err := s.tx(pkt.W, pkt.R, !pkt.KeepCS); err != nil {
			return err
		}
	}
	return nil
}

func (s *SPI) tx(w, r []byte, stop bool) error {
	if len(r) == 0 {
		return s.Send(s.ctx, w, stop)
	}
	if err := s.Send(s.ctx, w, false); err != nil {
		return err
	}
	got, err := s.Receive(s.ctx, len(r), stop)
	if err != nil {
		return err
	}
	copy(r, got)
	return nil
}

func words(b []byte) []uint64 {
	w := make([]uint64, len(b))
	for i, c := range b {
		w[i] = uint64(c)
	}
	return w
}

func octets(w []uint64) []byte {
	b := make([]byte, len(w))
	for i, c := range w {
		b[i] = byte(c)
	}
	return b
}
