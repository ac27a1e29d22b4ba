package flash

import (
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/spi"
)

// SimW25X models a Winbond serial flash one byte at a time. Xfer plugs into
// hostio.SimSPI; the chip can also be used directly as an spi.Conn.
type SimW25X struct {
	JEDEC uint16
	Size  uint32 // bytes
	Mem   map[uint32]byte
	// BusyPolls is how many status reads report BUSY after an erase or
	// program. Stuck keeps BUSY set forever.
	BusyPolls int
	Stuck     bool

	Erases   int
	Programs int

	wel   bool
	busy  int
	frame []byte
}

var _ spi.Conn = (*SimW25X)(nil)

// NewSimW25X returns an erased chip with the given JEDEC device id.
func NewSimW25X(jedec uint16) *SimW25X {
	return &SimW25X{JEDEC: jedec, Size: w25Sizes[jedec] / 8, Mem: make(map[uint32]byte), BusyPolls: 2}
}

// Byte returns the content of addr.
func (f *SimW25X) Byte(addr uint32) byte {
	if b, ok := f.Mem[addr]; ok {
		return b
	}
	return 0xff
}

func (f *SimW25X) status() byte {
	var st byte
	if f.wel {
		st |= 0x02
	}
	if f.Stuck || f.busy > 0 {
		if f.busy > 0 {
			f.busy--
		}
		st |= w25Busy
	}
	return st
}

func frameAddr(b []byte) uint32 {
	return uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// Xfer clocks one byte while selected, or ends the frame when not.
func (f *SimW25X) Xfer(selected bool, mosi byte) byte {
	if !selected {
		f.end()
		return 0
	}
	f.frame = append(f.frame, mosi)
	i := len(f.frame) - 1
	switch f.frame[0] {
	case w25JEDECID:
		id := [3]byte{winbondMfg, byte(f.JEDEC >> 8), byte(f.JEDEC)}
		if i >= 1 && i <= 3 {
			return id[i-1]
		}
	case w25ReadStatus:
		if i >= 1 {
			return f.status()
		}
	case w25FastRead:
		if i >= 5 {
			return f.Byte((frameAddr(f.frame) + uint32(i-5)) % f.Size)
		}
	case w25PageProgram:
		if i >= 4 && f.wel {
			a := frameAddr(f.frame)
			a = a&^(w25Page-1) | (a+uint32(i-4))&(w25Page-1)
			f.Mem[a] = f.Byte(a) & mosi
		}
	}
	return 0xff
}

func (f *SimW25X) end() {
	if len(f.frame) == 0 {
		return
	}
	switch f.frame[0] {
	case w25WriteEnable:
		f.wel = true
	case w25ChipErase:
		if f.wel {
			f.Mem = make(map[uint32]byte)
			f.Erases++
			f.busy = f.BusyPolls
			f.wel = false
		}
	case w25PageProgram:
		if f.wel {
			f.Programs++
			f.busy = f.BusyPolls
			f.wel = false
		}
	}
	f.frame = nil
}

func (f *SimW25X) String() string { return fmt.Sprintf("sim-w25x(0x%04x)", f.JEDEC) }

// Duplex implements conn.Conn.
func (f *SimW25X) Duplex() conn.Duplex { return conn.Half }

// Tx implements conn.Conn as one chip select period.
func (f *SimW25X) Tx(w, r []byte) error {
	return f.TxPackets([]spi.Packet{{W: w, R: r}})
}

// TxPackets implements spi.Conn.
func (f *SimW25X) TxPackets(p []spi.Packet) error {
	for _, pkt := range p {
		for _, b := range pkt.W {
			f.Xfer(true, b)
		}
		for i := range pkt.R {
			pkt.R[i] = f.Xfer(true, 0)
		}
		if !pkt.KeepCS {
			f.Xfer(false, 0)
		}
	}
	return nil
}
