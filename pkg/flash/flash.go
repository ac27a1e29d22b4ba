// Package flash programs block-structured non-volatile memories: the serial
// configuration flash behind the FPGA and the microcontroller's own program
// memory.
//
// A Device knows how to erase, write and read single blocks. A Programmer
// walks a Range block by block on top of it, rounding the range outward to
// block boundaries, and compares what it reads back against an Image.
package flash

import (
	"bytes"
	"context"
	"fmt"

	"github.com/golang/glog"

	"github.com/OpenTraceLab/xstools/pkg/xserr"
)

// Geometry describes the address space of a device. End is exclusive.
type Geometry struct {
	Start      uint32
	End        uint32
	EraseBlock uint32
	WriteBlock uint32
	ReadBlock  uint32
}

// Device is a memory that is erased, written and read a block at a time.
// Erase and write return once the device is no longer busy.
type Device interface {
	Name() string
	Geometry() Geometry
	EraseBlock(ctx context.Context, addr uint32) error
	WriteBlock(ctx context.Context, addr uint32, data []byte) error
	ReadBlock(ctx context.Context, addr uint32, n int) ([]byte, error)
}

// Range selects part of a device. Bottom is inclusive and Top exclusive. A
// Bottom below the device start selects the start; a zero Top, or one past
// the end, selects the end.
type Range struct {
	Bottom uint32
	Top    uint32
}

// All selects the whole device.
var All = Range{}

func (r Range) String() string {
	if r.Top == 0 {
		return fmt.Sprintf("[0x%06x, end)", r.Bottom)
	}
	return fmt.Sprintf("[0x%06x, 0x%06x)", r.Bottom, r.Top)
}

// Bounds clips r to g and rounds it outward to multiples of blk.
func (g Geometry) Bounds(r Range, blk uint32) (uint32, uint32, error) {
	if blk == 0 {
		return 0, 0, xserr.Callerf("flash: zero block size")
	}
	lo := g.Start
	if r.Bottom > g.Start {
		lo = r.Bottom / blk * blk
	}
	hi := g.End
	if r.Top != 0 && r.Top < g.End {
		hi = (r.Top + blk - 1) / blk * blk
	}
	if lo > hi {
		return 0, 0, xserr.Callerf("flash: range %s is inverted", r)
	}
	return lo, hi, nil
}

// Programmer runs block operations over a range of a Device.
type Programmer struct {
	dev Device
	// Progress, when set, is called after every block with the address just
	// finished and the end of the range.
	Progress func(addr, end uint32)
}

// NewProgrammer returns a programmer for dev.
func NewProgrammer(dev Device) *Programmer {
	return &Programmer{dev: dev}
}

// Device returns the memory being programmed.
func (p *Programmer) Device() Device { return p.dev }

func (p *Programmer) progress(addr, end uint32) {
	if p.Progress != nil {
		p.Progress(addr, end)
	}
}

// Erase erases every erase block touched by r.
func (p *Programmer) Erase(ctx context.Context, r Range) error {
	g := p.dev.Geometry()
	lo, hi, err := g.Bounds(r, g.EraseBlock)
	if err != nil {
		return err
	}
	glog.V(1).Infof("Erasing %s [0x%06x, 0x%06x)", p.dev.Name(), lo, hi)
	for addr := lo; addr < hi; addr += g.EraseBlock {
		if err := p.dev.EraseBlock(ctx, addr); err != nil {
			return fmt.Errorf("flash: erase 0x%06x: %w", addr, err)
		}
		p.progress(addr+g.EraseBlock, hi)
	}
	return nil
}

// Write programs the bytes of img that fall inside r. The device must already
// be erased there. With r set to All the range is taken from the image.
// Blocks holding nothing but 0xff are skipped.
func (p *Programmer) Write(ctx context.Context, img *Image, r Range) error {
	g := p.dev.Geometry()
	if r == All {
		lo, hi, ok := img.Extent()
		if !ok {
			return nil
		}
		r = Range{Bottom: lo, Top: hi}
		r.Bottom = r.Bottom / g.WriteBlock * g.WriteBlock
	} else if r.Bottom > g.Start && r.Bottom%g.WriteBlock != 0 {
		return xserr.Callerf("flash: write start 0x%06x is not a multiple of %d", r.Bottom, g.WriteBlock)
	}
	lo, hi, err := g.Bounds(r, g.WriteBlock)
	if err != nil {
		return err
	}
	glog.V(1).Infof("Writing %s [0x%06x, 0x%06x)", p.dev.Name(), lo, hi)
	for addr := lo; addr < hi; addr += g.WriteBlock {
		n := min(g.WriteBlock, hi-addr)
		data := img.Bytes(addr, n)
		if blank(data) {
			continue
		}
		if err := p.dev.WriteBlock(ctx, addr, data); err != nil {
			return fmt.Errorf("flash: write 0x%06x: %w", addr, err)
		}
		p.progress(addr+n, hi)
	}
	return nil
}

// Read returns the contents of r.
func (p *Programmer) Read(ctx context.Context, r Range) (*Image, error) {
	g := p.dev.Geometry()
	lo, hi, err := g.Bounds(r, g.ReadBlock)
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("Reading %s [0x%06x, 0x%06x)", p.dev.Name(), lo, hi)
	img := NewImage()
	for addr := lo; addr < hi; addr += g.ReadBlock {
		n := min(g.ReadBlock, hi-addr)
		data, err := p.dev.ReadBlock(ctx, addr, int(n))
		if err != nil {
			return nil, fmt.Errorf("flash: read 0x%06x: %w", addr, err)
		}
		img.Set(addr, data)
		p.progress(addr+n, hi)
	}
	return img, nil
}

// Verify reads r back and compares it with the bytes img holds there.
// Addresses the image leaves unset are not checked. A difference is reported
// as a *xserr.MismatchError.
func (p *Programmer) Verify(ctx context.Context, img *Image, r Range) error {
	if r == All {
		lo, hi, ok := img.Extent()
		if !ok {
			return nil
		}
		r = Range{Bottom: lo, Top: hi}
	}
	got, err := p.Read(ctx, r)
	if err != nil {
		return err
	}
	g := p.dev.Geometry()
	lo, hi, _ := g.Bounds(r, g.ReadBlock)
	var mm *xserr.MismatchError
	img.Each(func(addr uint32, want byte) {
		if addr < lo || addr >= hi {
			return
		}
		have, _ := got.Get(addr)
		if have == want {
			return
		}
		if mm == nil {
			mm = &xserr.MismatchError{Device: p.dev.Name(), Address: addr, Expected: want, Actual: have}
		}
		mm.Count++
	})
	if mm != nil {
		return mm
	}
	glog.V(1).Infof("%s verified [0x%06x, 0x%06x)", p.dev.Name(), lo, hi)
	return nil
}

// Program erases r, writes img into it and verifies the result.
func (p *Programmer) Program(ctx context.Context, img *Image, r Range) error {
	er := r
	if er == All {
		if lo, hi, ok := img.Extent(); ok {
			er = Range{Bottom: lo, Top: hi}
		}
	}
	if err := p.Erase(ctx, er); err != nil {
		return err
	}
	if err := p.Write(ctx, img, r); err != nil {
		return err
	}
	return p.Verify(ctx, img, r)
}

func blank(b []byte) bool {
	return len(bytes.Trim(b, "\xff")) == 0
}
