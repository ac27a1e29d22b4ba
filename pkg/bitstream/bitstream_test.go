package bitstream

import (
	"bytes"
	"errors"
	"testing"

	"github.com/OpenTraceLab/xstools/pkg/xserr"
)

func fixture() *Bitstream {
	return &Bitstream{
		DesignName:  "test_board_jtag.ncd;UserID=0xFFFFFFFF",
		DeviceType:  "3s200avq100",
		CompileDate: "2012/05/14",
		CompileTime: "10:21:33",
		Data:        []byte{0xff, 0xff, 0xaa, 0x99, 0x55, 0x66, 0x30, 0x01},
	}
}

func encode(t *testing.T, b *Bitstream) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := b.Encode(&buf); err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	return buf.Bytes()
}

func TestParseRoundTrip(t *testing.T) {
	want := fixture()
	got, err := ParseBytes(encode(t, want))
	if err != nil {
		t.Fatalf("ParseBytes returned error: %v", err)
	}
	if got.DesignName != want.DesignName || got.DeviceType != want.DeviceType ||
		got.CompileDate != want.CompileDate || got.CompileTime != want.CompileTime {
		t.Fatalf("ParseBytes fields = %+v, want %+v", got, want)
	}
	if !bytes.Equal(got.Data, want.Data) {
		t.Fatalf("ParseBytes data = % x, want % x", got.Data, want.Data)
	}
	if !bytes.Equal(got.Header, DefaultHeader) {
		t.Fatalf("ParseBytes header = % x, want % x", got.Header, DefaultHeader)
	}
}

func TestParseLayout(t *testing.T) {
	raw := encode(t, fixture())
	// Length-prefixed header, then the 16-bit marker, then field 'a'.
	want := []byte{0x00, 0x09, 0x0f, 0xf0, 0x0f, 0xf0, 0x0f, 0xf0, 0x0f, 0xf0, 0x00, 0x00, 0x01, 'a'}
	if !bytes.HasPrefix(raw, want) {
		t.Fatalf("Encode prefix = % x, want % x", raw[:len(want)], want)
	}
}

func TestBitsOrder(t *testing.T) {
	b := &Bitstream{Data: []byte{0x80, 0x01}}
	bits := b.Bits()
	if bits.Len() != 16 {
		t.Fatalf("Bits().Len() = %d, want 16", bits.Len())
	}
	if got, want := bits.String(), "1000000000000001"; got != want {
		t.Fatalf("Bits() = %s, want %s", got, want)
	}
}

func TestParseErrors(t *testing.T) {
	good := encode(t, fixture())

	unknown := append([]byte(nil), good...)
	unknown[13] = 'z'

	badMarker := append([]byte(nil), good...)
	badMarker[12] = 2

	tests := []struct {
		name string
		raw  []byte
	}{
		{"unknown field", unknown},
		{"bad marker", badMarker},
		{"truncated data", good[:len(good)-3]},
		{"truncated header", good[:5]},
		{"no data field", good[:13]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBytes(tt.raw)
			if !errors.Is(err, xserr.ErrProtocol) {
				t.Fatalf("ParseBytes error = %v, want ErrProtocol", err)
			}
		})
	}

	_, err := ParseBytes(unknown)
	var fe *xserr.FieldError
	if !errors.As(err, &fe) || fe.Offset != 13 {
		t.Fatalf("ParseBytes(unknown) error = %v, want FieldError at offset 13", err)
	}
}

func TestToIntelHex(t *testing.T) {
	b := fixture()
	mem := b.ToIntelHex()
	segs := mem.GetDataSegments()
	if len(segs) != 1 || segs[0].Address != 0 {
		t.Fatalf("ToIntelHex segments = %v, want one at 0", segs)
	}
	img := segs[0].Data
	if len(img) != flashPreamble+len(b.Data) {
		t.Fatalf("image length = %d, want %d", len(img), flashPreamble+len(b.Data))
	}
	for i := 0; i < flashPreamble; i++ {
		if img[i] != 0xff {
			t.Fatalf("image[%d] = 0x%02x, want 0xff", i, img[i])
		}
	}
	if !bytes.Equal(img[flashPreamble:], b.Data) {
		t.Fatalf("image data = % x, want % x", img[flashPreamble:], b.Data)
	}
}
