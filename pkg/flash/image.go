package flash

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/marcinbor85/gohex"

	"github.com/OpenTraceLab/xstools/pkg/bitstream"
)

// Image is a sparse byte map, the contents of an Intel-hex file.
type Image struct {
	mem *gohex.Memory
}

// NewImage returns an empty image.
func NewImage() *Image {
	return &Image{mem: gohex.NewMemory()}
}

// ImageFromMemory wraps an already parsed gohex memory.
func ImageFromMemory(m *gohex.Memory) *Image {
	return &Image{mem: m}
}

// ParseImage reads Intel-hex records from r.
func ParseImage(r io.Reader) (*Image, error) {
	img := NewImage()
	if err := img.mem.ParseIntelHex(r); err != nil {
		return nil, fmt.Errorf("flash: parse hex: %w", err)
	}
	return img, nil
}

// LoadImage reads an Intel-hex file.
func LoadImage(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := ParseImage(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// LoadFile reads an Intel-hex file, or a .bit file converted to the image
// that configures the FPGA from flash.
func LoadFile(path string) (*Image, error) {
	if strings.EqualFold(filepath.Ext(path), ".bit") {
		b, err := bitstream.ParseFile(path)
		if err != nil {
			return nil, err
		}
		return ImageFromMemory(b.ToIntelHex()), nil
	}
	return LoadImage(path)
}

// WriteHex writes the image as Intel-hex records of 16 bytes.
func (img *Image) WriteHex(w io.Writer) error {
	return img.mem.DumpIntelHex(w, 16)
}

// SaveImage writes the image to an Intel-hex file.
func (img *Image) SaveImage(path string) error {
	var buf bytes.Buffer
	if err := img.WriteHex(&buf); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// Memory returns the underlying gohex memory.
func (img *Image) Memory() *gohex.Memory { return img.mem }

// Set stores data starting at addr.
func (img *Image) Set(addr uint32, data []byte) {
	img.mem.SetBinary(addr, data)
}

// Get returns the byte at addr and whether the image holds one.
func (img *Image) Get(addr uint32) (byte, bool) {
	for _, s := range img.mem.GetDataSegments() {
		if addr >= s.Address && addr-s.Address < uint32(len(s.Data)) {
			return s.Data[addr-s.Address], true
		}
	}
	return 0, false
}

// Bytes returns n bytes from addr with unset locations read as 0xff, the
// erased state of flash.
func (img *Image) Bytes(addr, n uint32) []byte {
	return img.mem.ToBinary(addr, n, 0xff)
}

// Extent returns the lowest address held and one past the highest.
func (img *Image) Extent() (lo, hi uint32, ok bool) {
	segs := img.mem.GetDataSegments()
	for i, s := range segs {
		end := s.Address + uint32(len(s.Data))
		if i == 0 || s.Address < lo {
			lo = s.Address
		}
		if end > hi {
			hi = end
		}
	}
	return lo, hi, len(segs) > 0
}

// Len returns the number of bytes held.
func (img *Image) Len() int {
	n := 0
	for _, s := range img.mem.GetDataSegments() {
		n += len(s.Data)
	}
	return n
}

// Each calls fn for every byte held, in address order.
func (img *Image) Each(fn func(addr uint32, b byte)) {
	segs := append([]gohex.DataSegment(nil), img.mem.GetDataSegments()...)
	sort.Slice(segs, func(i, j int) bool { return segs[i].Address < segs[j].Address })
	for _, s := range segs {
		for i, b := range s.Data {
			fn(s.Address+uint32(i), b)
		}
	}
}
