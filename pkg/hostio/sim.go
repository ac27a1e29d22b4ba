package hostio

import (
	"github.com/OpenTraceLab/xstools/pkg/bitvec"
)

// SimModule is the FPGA side of one host-I/O module, clocked one bit at a
// time. Begin announces a packet of total clocks; Clock receives TDI for each
// and returns TDO.
type SimModule interface {
	Begin(total int)
	Clock(tdi bool) (tdo bool)
}

// SimRegister decodes the tunnel framing while the USER instruction is
// latched and hands packet bodies to the addressed module. It satisfies the
// simulated board's data-register interface.
type SimRegister struct {
	Modules map[uint8]SimModule

	hdr   bitvec.Vector
	left  int
	cur   SimModule
	Count map[uint8]int
}

// NewSimRegister returns a register with no modules attached.
func NewSimRegister() *SimRegister {
	return &SimRegister{Modules: make(map[uint8]SimModule), Count: make(map[uint8]int)}
}

// Capture drops any partial packet; Capture-DR starts a new stream.
func (r *SimRegister) Capture() {
	r.hdr, r.left, r.cur = bitvec.Vector{}, 0, nil
}

func (r *SimRegister) Update() {}

func (r *SimRegister) Shift(tdi bool) bool {
	if r.left > 0 {
		r.left--
		if r.cur == nil {
			return false
		}
		return r.cur.Clock(tdi)
	}
	r.hdr.AppendBit(tdi)
	if r.hdr.Len() < moduleIDBits+lengthBits {
		return false
	}
	id := uint8(r.hdr.Slice(0, moduleIDBits).Unsigned())
	r.left = int(r.hdr.Slice(moduleIDBits, moduleIDBits+lengthBits).Unsigned())
	r.hdr = bitvec.Vector{}
	r.cur = r.Modules[id]
	r.Count[id]++
	if r.cur != nil {
		r.cur.Begin(r.left)
	}
	return false
}

// SimMemory models a memory module. Reads and writes go to Mem unless the
// hooks are set; k is the index of the word within the burst.
type SimMemory struct {
	AddrWidth int
	DataWidth int
	Mem       map[uint64]uint64
	OnRead    func(addr uint64, k int) uint64
	OnWrite   func(addr uint64, k int, v uint64)

	total int
	in    bitvec.Vector
	out   bitvec.Vector
	start int
}

// NewSimMemory returns an empty memory module.
func NewSimMemory(addrWidth, dataWidth int) *SimMemory {
	return &SimMemory{AddrWidth: addrWidth, DataWidth: dataWidth, Mem: make(map[uint64]uint64)}
}

func (m *SimMemory) Begin(total int) {
	m.total, m.in, m.out, m.start = total, bitvec.Vector{}, bitvec.Vector{}, 0
}

func (m *SimMemory) Clock(tdi bool) bool {
	k := m.in.Len()
	m.in.AppendBit(tdi)
	tdo := k >= m.start && k-m.start < m.out.Len() && m.out.Bit(k-m.start)

	n := m.in.Len()
	switch {
	case n == opcodeBits:
		if m.in.Unsigned() == OpSize {
			m.respond(n, bitvec.Concat(bitvec.New(sizeSkip), bitvec.Uint(uint64(m.AddrWidth), sizeFieldBits), bitvec.Uint(uint64(m.DataWidth), sizeFieldBits)))
		}
	case n == opcodeBits+m.AddrWidth:
		if m.op() == OpRead {
			addr := m.addr()
			cnt := (m.total-n)/m.DataWidth - 1
			parts := []bitvec.Vector{bitvec.New(m.DataWidth)}
			for i := 0; i < cnt; i++ {
				parts = append(parts, bitvec.Uint(m.read(addr, i), m.DataWidth))
			}
			m.respond(n, bitvec.Concat(parts...))
		}
	case n > opcodeBits+m.AddrWidth && m.op() == OpWrite && (n-opcodeBits-m.AddrWidth)%m.DataWidth == 0:
		i := (n-opcodeBits-m.AddrWidth)/m.DataWidth - 1
		v := m.in.Slice(n-m.DataWidth, n).Unsigned()
		m.write(m.addr(), i, v)
	}
	return tdo
}

func (m *SimMemory) respond(at int, v bitvec.Vector) { m.start, m.out = at, v }

func (m *SimMemory) op() uint64   { return m.in.Slice(0, opcodeBits).Unsigned() }
func (m *SimMemory) addr() uint64 { return m.in.Slice(opcodeBits, opcodeBits+m.AddrWidth).Unsigned() }

func (m *SimMemory) read(addr uint64, k int) uint64 {
	if m.OnRead != nil {
		return m.OnRead(addr, k) & mask(m.DataWidth)
	}
	return m.Mem[addr+uint64(k)]
}

func (m *SimMemory) write(addr uint64, k int, v uint64) {
	if m.OnWrite != nil {
		m.OnWrite(addr, k, v)
		return
	}
	m.Mem[addr+uint64(k)] = v
}

func mask(w int) uint64 {
	if w >= 64 {
		return ^uint64(0)
	}
	return 1<<uint(w) - 1
}

// SimDut models a DUT module whose outputs are a function of its inputs.
type SimDut struct {
	InputWidth  int
	OutputWidth int
	Eval        func(in uint64) uint64
	// OnWrite observes every new input value.
	OnWrite func(in uint64)

	Input uint64

	in    bitvec.Vector
	out   bitvec.Vector
	start int
}

func (d *SimDut) Begin(total int) { d.in, d.out, d.start = bitvec.Vector{}, bitvec.Vector{}, 0 }

func (d *SimDut) Clock(tdi bool) bool {
	k := d.in.Len()
	d.in.AppendBit(tdi)
	tdo := k >= d.start && k-d.start < d.out.Len() && d.out.Bit(k-d.start)

	n := d.in.Len()
	if n == opcodeBits {
		switch d.in.Unsigned() {
		case OpSize:
			d.start = n
			d.out = bitvec.Concat(bitvec.New(sizeSkip), bitvec.Uint(uint64(d.InputWidth), sizeFieldBits), bitvec.Uint(uint64(d.OutputWidth), sizeFieldBits))
		case OpRead:
			var v uint64
			if d.Eval != nil {
				v = d.Eval(d.Input) & mask(d.OutputWidth)
			}
			d.start = n
			d.out = bitvec.Concat(bitvec.New(sizeSkip), bitvec.Uint(v, d.OutputWidth))
		}
	}
	if n == opcodeBits+d.InputWidth && d.in.Slice(0, opcodeBits).Unsigned() == OpWrite {
		d.Input = d.in.Slice(opcodeBits, n).Unsigned()
		if d.OnWrite != nil {
			d.OnWrite(d.Input)
		}
	}
	return tdo
}

// SimComm models the comm channel register file on top of a SimMemory. Down
// holds what the host sent; Up is what the host will receive.
type SimComm struct {
	*SimMemory
	Down   []uint64
	Up     []uint64
	Free   int
	Breaks int
	Resets int
	// OnPoll runs before every FIFO level read, letting tests move data.
	OnPoll func(c *SimComm)
}

// NewSimComm returns a comm channel with free words of download room.
func NewSimComm(free int) *SimComm {
	c := &SimComm{SimMemory: NewSimMemory(3, 8), Free: free}
	c.OnRead = c.read
	c.OnWrite = c.write
	return c
}

func (c *SimComm) read(addr uint64, k int) uint64 {
	var level int
	switch addr {
	case commFIFO:
		if len(c.Up) == 0 {
			return 0
		}
		v := c.Up[0]
		c.Up = c.Up[1:]
		return v
	case commDnFree:
		if k == 0 && c.OnPoll != nil {
			c.OnPoll(c)
		}
		level = c.Free
	case commUpUsed:
		if k == 0 && c.OnPoll != nil {
			c.OnPoll(c)
		}
		level = len(c.Up)
	}
	return uint64(level>>(8*uint(k))) & 0xff
}

func (c *SimComm) write(addr uint64, k int, v uint64) {
	switch addr {
	case commFIFO:
		c.Down = append(c.Down, v)
		c.Free--
	case commControl:
		c.Down, c.Up = nil, nil
		c.Resets++
	case commBreak:
		c.Breaks++
	}
}

// SimSPI models an SPI master with one slave device behind it. Bytes
// written while chip select is asserted are handed to Device, which returns
// the byte shifted back on the same clock.
type SimSPI struct {
	*SimMemory
	Device func(selected bool, mosi byte) byte
	// Selects counts chip select assertions.
	Selects int

	selected bool
}

// NewSimSPI returns an SPI master whose slave is device.
func NewSimSPI(device func(selected bool, mosi byte) byte) *SimSPI {
	s := &SimSPI{SimMemory: NewSimMemory(2, 8), Device: device}
	s.OnRead = s.read
	s.OnWrite = s.write
	return s
}

func (s *SimSPI) xfer(mosi byte, release bool) byte {
	if !s.selected {
		s.selected = true
		s.Selects++
	}
	miso := s.Device(true, mosi)
	if release {
		s.deselect()
	}
	return miso
}

func (s *SimSPI) deselect() {
	if s.selected {
		s.selected = false
		s.Device(false, 0)
	}
}

func (s *SimSPI) read(addr uint64, k int) uint64 {
	switch addr {
	case spiSingle:
		return uint64(s.xfer(0, true))
	case spiMulti:
		return uint64(s.xfer(0, false))
	}
	return 0
}

func (s *SimSPI) write(addr uint64, k int, v uint64) {
	switch addr {
	case spiReset:
		s.deselect()
	case spiSingle:
		s.xfer(byte(v), true)
	case spiMulti:
		s.xfer(byte(v), false)
	}
}

// SimI2C models the I2C master core with one slave at Addr. The slave stores
// bytes written after a register pointer and returns them on reads.
type SimI2C struct {
	*SimMemory
	Addr     uint16
	Regs     [256]byte
	Prescale uint16
	Enabled  bool
	Stops    int

	txr     byte
	rxr     byte
	sr      byte
	ptr     byte
	havePtr bool
	reading bool
	matched bool
}

// NewSimI2C returns a core with a slave at addr.
func NewSimI2C(addr uint16) *SimI2C {
	s := &SimI2C{SimMemory: NewSimMemory(3, 8), Addr: addr}
	s.OnRead = s.read
	s.OnWrite = s.write
	return s
}

func (s *SimI2C) read(addr uint64, k int) uint64 {
	switch addr {
	case i2cData:
		return uint64(s.rxr)
	case i2cCommand:
		return uint64(s.sr)
	}
	return 0
}

func (s *SimI2C) write(addr uint64, k int, v uint64) {
	switch addr {
	case i2cPrescaleLo:
		s.Prescale = s.Prescale&0xff00 | uint16(v)
	case i2cPrescaleHi:
		s.Prescale = s.Prescale&0x00ff | uint16(v)<<8
	case i2cControl:
		s.Enabled = v&ctrEnable != 0
	case i2cData:
		s.txr = byte(v)
	case i2cCommand:
		s.command(byte(v))
	}
}

func (s *SimI2C) command(cr byte) {
	s.sr = 0
	switch {
	case cr&crStart != 0 && cr&crWrite != 0:
		s.matched = uint16(s.txr>>1) == s.Addr
		s.reading = s.txr&1 == i2cReadOp
		if !s.reading {
			s.havePtr = false
		}
		if !s.matched {
			s.sr |= srRxNACK
		}
	case cr&crWrite != 0:
		if !s.matched {
			s.sr |= srRxNACK
			break
		}
		if !s.havePtr {
			s.ptr, s.havePtr = s.txr, true
		} else {
			s.Regs[s.ptr] = s.txr
			s.ptr++
		}
	case cr&crRead != 0:
		s.rxr = s.Regs[s.ptr]
		s.ptr++
	}
	if cr&crStop != 0 {
		s.Stops++
		s.matched = false
	}
}
