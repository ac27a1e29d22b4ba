// Package ram uploads and downloads the SDRAM on XuLA boards through the RAM
// interface bitstream's memory module.
package ram

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/golang/glog"

	"github.com/OpenTraceLab/xstools/pkg/flash"
	"github.com/OpenTraceLab/xstools/pkg/hostio"
	"github.com/OpenTraceLab/xstools/pkg/xserr"
)

const (
	wordSize = 2
	// blockBytes is the most data moved in one host-I/O packet.
	blockBytes = 256
)

// Model is one SDRAM size. Addresses are in bytes; the memory itself holds
// big-endian 16-bit words.
type Model struct {
	Name string
	Size uint32
}

var (
	SDRAM8MB  = Model{Name: "8MB SDRAM", Size: 1 << 23}
	SDRAM32MB = Model{Name: "32MB SDRAM", Size: 1 << 25}
)

// SDRAM is an SDRAM behind a host-I/O memory module with 16-bit data.
type SDRAM struct {
	model Model
	mem   *hostio.MemIO
}

// New wraps the memory module mem.
func New(model Model, mem *hostio.MemIO) (*SDRAM, error) {
	if mem.DataWidth != 8*wordSize {
		return nil, xserr.Protocolf("ram: module %d has %d-bit data, want %d", mem.Module().ID(), mem.DataWidth, 8*wordSize)
	}
	return &SDRAM{model: model, mem: mem}, nil
}

// Open opens the memory module id on ch.
func Open(ctx context.Context, model Model, ch *hostio.Channel, id uint8) (*SDRAM, error) {
	mem, err := hostio.NewMemIO(ctx, ch, id)
	if err != nil {
		return nil, err
	}
	return New(model, mem)
}

// Model returns the memory size.
func (r *SDRAM) Model() Model { return r.model }

// bounds clips rng to the device and checks it covers whole words.
func (r *SDRAM) bounds(rng flash.Range) (uint32, uint32, error) {
	lo, hi := rng.Bottom, rng.Top
	if hi == 0 || hi > r.model.Size {
		hi = r.model.Size
	}
	if lo > hi {
		return 0, 0, xserr.Callerf("ram: range %s is inverted", rng)
	}
	if lo%wordSize != 0 {
		return 0, 0, xserr.Callerf("ram: bottom address 0x%06x is not a multiple of the %d-byte word", lo, wordSize)
	}
	if (hi-lo)%wordSize != 0 {
		return 0, 0, xserr.Callerf("ram: %d bytes is not a whole number of %d-byte words", hi-lo, wordSize)
	}
	return lo, hi, nil
}

// Write stores the bytes of img inside rng, or the image's whole extent when
// rng is flash.All. Unset bytes inside the range are written as 0xff.
func (r *SDRAM) Write(ctx context.Context, img *flash.Image, rng flash.Range) error {
	if rng == flash.All {
		lo, hi, ok := img.Extent()
		if !ok {
			return xserr.Callerf("ram: no data to write")
		}
		rng = flash.Range{Bottom: lo, Top: hi}
	}
	lo, hi, err := r.bounds(rng)
	if err != nil {
		return err
	}
	glog.V(1).Infof("Writing %s [0x%06x, 0x%06x)", r.model.Name, lo, hi)
	for addr := lo; addr < hi; addr += blockBytes {
		b := img.Bytes(addr, min(blockBytes, hi-addr))
		words := make([]uint64, len(b)/wordSize)
		for i := range words {
			words[i] = uint64(binary.BigEndian.Uint16(b[wordSize*i:]))
		}
		if err := r.mem.Write(ctx, uint64(addr/wordSize), words); err != nil {
			return fmt.Errorf("ram: write 0x%06x: %w", addr, err)
		}
	}
	return nil
}

// Read returns the contents of rng.
func (r *SDRAM) Read(ctx context.Context, rng flash.Range) (*flash.Image, error) {
	lo, hi, err := r.bounds(rng)
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("Reading %s [0x%06x, 0x%06x)", r.model.Name, lo, hi)
	img := flash.NewImage()
	for addr := lo; addr < hi; addr += blockBytes {
		n := min(blockBytes, hi-addr)
		words, err := r.mem.Read(ctx, uint64(addr/wordSize), int(n/wordSize))
		if err != nil {
			return nil, fmt.Errorf("ram: read 0x%06x: %w", addr, err)
		}
		b := make([]byte, 0, n)
		for _, w := range words {
			b = binary.BigEndian.AppendUint16(b, uint16(w))
		}
		img.Set(addr, b)
	}
	return img, nil
}

// Erase fills rng with 0xff.
func (r *SDRAM) Erase(ctx context.Context, rng flash.Range) error {
	lo, hi, err := r.bounds(rng)
	if err != nil {
		return err
	}
	return r.Write(ctx, flash.NewImage(), flash.Range{Bottom: lo, Top: hi})
}
