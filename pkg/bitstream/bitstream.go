// Package bitstream reads and writes Xilinx .bit configuration files.
//
// A .bit file is a short header block, a 16-bit format marker, and a run of
// tagged fields. Fields 'a' to 'd' carry NUL-terminated strings; field 'e'
// carries a 32-bit byte count followed by the raw configuration data, which
// ends the file.
package bitstream

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/golang/glog"
	"github.com/marcinbor85/gohex"

	"github.com/OpenTraceLab/xstools/pkg/bitvec"
	"github.com/OpenTraceLab/xstools/pkg/xserr"
)

// Field codes.
const (
	FieldDesignName  = 'a'
	FieldDeviceType  = 'b'
	FieldCompileDate = 'c'
	FieldCompileTime = 'd'
	FieldData        = 'e'
)

const (
	formatMarker = 1
	// flashPreamble is the run of 0xff bytes ahead of the configuration data
	// in a flash image.
	flashPreamble = 16
)

// DefaultHeader is the header block written by the Xilinx tools.
var DefaultHeader = []byte{0x0f, 0xf0, 0x0f, 0xf0, 0x0f, 0xf0, 0x0f, 0xf0, 0x00}

// Bitstream is a parsed .bit file.
type Bitstream struct {
	DesignName  string
	DeviceType  string
	CompileDate string
	CompileTime string

	// Header is the opaque block at the start of the file.
	Header []byte
	// Data holds the configuration bytes exactly as stored in the file.
	Data []byte
}

// ParseFile reads a .bit file from disk.
func ParseFile(path string) (*Bitstream, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b, err := ParseBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

// Parse reads a .bit file from r.
func Parse(r io.Reader) (*Bitstream, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return ParseBytes(raw)
}

// ParseBytes decodes an in-memory .bit file. Unknown field codes and
// truncated fields are errors.
func ParseBytes(raw []byte) (*Bitstream, error) {
	p := parser{raw: raw}
	b := &Bitstream{}

	n, err := p.u16("header length")
	if err != nil {
		return nil, err
	}
	if b.Header, err = p.take("header", int(n)); err != nil {
		return nil, err
	}
	marker, err := p.u16("format marker")
	if err != nil {
		return nil, err
	}
	if marker != formatMarker {
		return nil, &xserr.FieldError{Field: "format marker", Offset: int64(p.off - 2), Reason: fmt.Sprintf("got %d, want %d", marker, formatMarker)}
	}

	for p.off < len(raw) {
		at := p.off
		code := raw[p.off]
		p.off++
		switch code {
		case FieldDesignName, FieldDeviceType, FieldCompileDate, FieldCompileTime:
			s, err := p.str(fmt.Sprintf("'%c'", code))
			if err != nil {
				return nil, err
			}
			switch code {
			case FieldDesignName:
				b.DesignName = s
			case FieldDeviceType:
				b.DeviceType = s
			case FieldCompileDate:
				b.CompileDate = s
			case FieldCompileTime:
				b.CompileTime = s
			}
		case FieldData:
			n, err := p.u32("data length")
			if err != nil {
				return nil, err
			}
			if b.Data, err = p.take("data", int(n)); err != nil {
				return nil, err
			}
		default:
			return nil, &xserr.FieldError{Field: fmt.Sprintf("0x%02x", code), Offset: int64(at), Reason: "unknown field code"}
		}
	}
	if b.Data == nil {
		return nil, xserr.Protocolf("bitstream: no configuration data")
	}

	glog.V(1).Infof("bitstream: design %q for %s compiled %s %s, %d bits",
		b.DesignName, b.DeviceType, b.CompileDate, b.CompileTime, len(b.Data)*8)
	return b, nil
}

type parser struct {
	raw []byte
	off int
}

func (p *parser) take(field string, n int) ([]byte, error) {
	if n < 0 || len(p.raw)-p.off < n {
		return nil, &xserr.FieldError{Field: field, Offset: int64(p.off), Reason: fmt.Sprintf("needs %d bytes, %d left", n, len(p.raw)-p.off)}
	}
	out := p.raw[p.off : p.off+n]
	p.off += n
	return out, nil
}

func (p *parser) u16(field string) (uint16, error) {
	b, err := p.take(field, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (p *parser) u32(field string) (uint32, error) {
	b, err := p.take(field, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (p *parser) str(field string) (string, error) {
	n, err := p.u16(field)
	if err != nil {
		return "", err
	}
	b, err := p.take(field, int(n))
	if err != nil {
		return "", err
	}
	return string(bytes.TrimRight(b, "\x00")), nil
}

// Bits returns the configuration data in shift order: bit 0 is the first bit
// clocked into the device, the most significant bit of the first data byte.
func (b *Bitstream) Bits() bitvec.Vector {
	return bitvec.FromMSBFirst(b.Data)
}

// Encode writes b in .bit format. A nil Header is written as DefaultHeader.
func (b *Bitstream) Encode(w io.Writer) error {
	var buf bytes.Buffer
	hdr := b.Header
	if hdr == nil {
		hdr = DefaultHeader
	}
	if len(hdr) > 0xffff {
		return xserr.Callerf("bitstream: header of %d bytes", len(hdr))
	}
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(hdr)))
	buf.Write(hdr)
	_ = binary.Write(&buf, binary.BigEndian, uint16(formatMarker))

	for _, f := range []struct {
		code byte
		s    string
	}{
		{FieldDesignName, b.DesignName},
		{FieldDeviceType, b.DeviceType},
		{FieldCompileDate, b.CompileDate},
		{FieldCompileTime, b.CompileTime},
	} {
		if len(f.s)+1 > 0xffff {
			return xserr.Callerf("bitstream: field '%c' too long", f.code)
		}
		buf.WriteByte(f.code)
		_ = binary.Write(&buf, binary.BigEndian, uint16(len(f.s)+1))
		buf.WriteString(f.s)
		buf.WriteByte(0)
	}

	buf.WriteByte(FieldData)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(b.Data)))
	buf.Write(b.Data)

	_, err := w.Write(buf.Bytes())
	return err
}

// WriteFile writes b to a .bit file.
func (b *Bitstream) WriteFile(path string) error {
	var buf bytes.Buffer
	if err := b.Encode(&buf); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// ToIntelHex returns the flash image that configures the FPGA at power-up:
// a 0xff preamble followed by the configuration bytes, starting at address 0.
func (b *Bitstream) ToIntelHex() *gohex.Memory {
	img := make([]byte, flashPreamble+len(b.Data))
	for i := 0; i < flashPreamble; i++ {
		img[i] = 0xff
	}
	copy(img[flashPreamble:], b.Data)

	mem := gohex.NewMemory()
	mem.SetBinary(0, img)
	return mem
}

func (b *Bitstream) String() string {
	return fmt.Sprintf("%s (%s, %s %s, %d bytes)", b.DesignName, b.DeviceType, b.CompileDate, b.CompileTime, len(b.Data))
}
