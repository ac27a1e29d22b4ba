package bitvec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/OpenTraceLab/xstools/pkg/xserr"
)

func TestFromUnsignedRoundTrip(t *testing.T) {
	cases := []struct {
		value uint64
		width int
		want  string
	}{
		{0, 0, ""},
		{1, 1, "1"},
		{0b01001, 5, "10010"},
		{0x09, 6, "100100"},
		{0xA5, 8, "10100101"},
		{0x1234, 16, "0010110001001000"},
		{^uint64(0), 64, "1111111111111111111111111111111111111111111111111111111111111111"},
	}

	for _, tc := range cases {
		v, err := FromUnsigned(tc.value, tc.width)
		if err != nil {
			t.Fatalf("FromUnsigned(0x%x, %d) returned error: %v", tc.value, tc.width, err)
		}
		if got := v.String(); got != tc.want {
			t.Fatalf("FromUnsigned(0x%x, %d) = %s, want %s", tc.value, tc.width, got, tc.want)
		}
		if got := v.Unsigned(); got != tc.value {
			t.Fatalf("Unsigned() = 0x%x, want 0x%x", got, tc.value)
		}
	}
}

func TestFromUnsignedOverflow(t *testing.T) {
	if _, err := FromUnsigned(16, 4); !errors.Is(err, xserr.ErrCaller) {
		t.Fatalf("FromUnsigned(16, 4) error = %v, want ErrCaller", err)
	}
	if _, err := FromUnsigned(1, 65); !errors.Is(err, xserr.ErrCaller) {
		t.Fatalf("FromUnsigned(1, 65) error = %v, want ErrCaller", err)
	}
}

func TestSigned(t *testing.T) {
	cases := []struct {
		bits string
		want int64
	}{
		{"", 0},
		{"1", -1},
		{"0", 0},
		{"1110", 7},
		{"0001", -8},
		{"1111", -1},
		{"01", -2},
	}
	for _, tc := range cases {
		v, err := FromString(tc.bits)
		if err != nil {
			t.Fatalf("FromString(%q) returned error: %v", tc.bits, err)
		}
		if got := v.Signed(); got != tc.want {
			t.Fatalf("Signed(%q) = %d, want %d", tc.bits, got, tc.want)
		}
	}
}

func TestConcatOrder(t *testing.T) {
	a := Uint(0b101, 3)
	b := Uint(0b11, 2)
	c := Concat(a, b)
	if got, want := c.String(), "10111"; got != want {
		t.Fatalf("Concat = %s, want %s", got, want)
	}
	if got, want := c.Unsigned(), uint64(0b11101); got != want {
		t.Fatalf("Concat unsigned = 0b%b, want 0b%b", got, want)
	}

	// Byte-aligned fast path.
	d := Concat(Uint(0xAB, 8), Uint(0x3, 2))
	if got, want := d.Unsigned(), uint64(0x3AB); got != want {
		t.Fatalf("aligned Concat = 0x%x, want 0x%x", got, want)
	}
}

func TestWireBytesLayout(t *testing.T) {
	v := Uint(0x2C1, 10) // bits 0..9 = 1000001101
	got := v.WireBytes()
	want := []byte{0xC1, 0x02}
	if !bytes.Equal(got, want) {
		t.Fatalf("WireBytes = % x, want % x", got, want)
	}
}

func TestWireBytesRoundTrip(t *testing.T) {
	buffers := [][]byte{
		{},
		{0x00},
		{0xff},
		{0x5a, 0xa5},
		{0x01, 0x80, 0x7f, 0xfe, 0x33},
	}
	for _, buf := range buffers {
		for length := 0; length <= len(buf)*8; length++ {
			v, err := FromWireBytes(buf, length)
			if err != nil {
				t.Fatalf("FromWireBytes(% x, %d) returned error: %v", buf, length, err)
			}
			if v.Len() != length {
				t.Fatalf("Len() = %d, want %d", v.Len(), length)
			}
			again, err := FromWireBytes(v.WireBytes(), length)
			if err != nil {
				t.Fatalf("FromWireBytes round trip returned error: %v", err)
			}
			if !again.Equal(v) {
				t.Fatalf("round trip of % x/%d = %s, want %s", buf, length, again, v)
			}
		}
	}
}

func TestFromWireBytesTooLong(t *testing.T) {
	if _, err := FromWireBytes([]byte{0}, 9); !errors.Is(err, xserr.ErrCaller) {
		t.Fatalf("FromWireBytes error = %v, want ErrCaller", err)
	}
}

func TestSliceAndPop(t *testing.T) {
	v, _ := FromString("1100_1010_111")
	if got, want := v.Slice(2, 9).String(), "0010101"; got != want {
		t.Fatalf("Slice(2,9) = %s, want %s", got, want)
	}

	head := v.PopFront(4)
	if got, want := head.String(), "1100"; got != want {
		t.Fatalf("PopFront = %s, want %s", got, want)
	}
	if got, want := v.String(), "1010111"; got != want {
		t.Fatalf("after PopFront = %s, want %s", got, want)
	}

	if last := v.PopLast(); !last {
		t.Fatalf("PopLast = false, want true")
	}
	if got, want := v.String(), "101011"; got != want {
		t.Fatalf("after PopLast = %s, want %s", got, want)
	}
}

func TestPopLastClearsTail(t *testing.T) {
	v := Ones(9)
	v.PopLast()
	if !v.Equal(Ones(8)) {
		t.Fatalf("PopLast left %s, want %s", v, Ones(8))
	}
	v.AppendBit(false)
	if got, want := v.Unsigned(), uint64(0xff); got != want {
		t.Fatalf("after AppendBit = 0x%x, want 0x%x", got, want)
	}
}

func TestReverse(t *testing.T) {
	v, _ := FromString("1101000")
	if got, want := v.Reverse().String(), "0001011"; got != want {
		t.Fatalf("Reverse = %s, want %s", got, want)
	}
}

func TestFromMSBFirst(t *testing.T) {
	v := FromMSBFirst([]byte{0xAA, 0x99})
	if got, want := v.String(), "1010101010011001"; got != want {
		t.Fatalf("FromMSBFirst = %s, want %s", got, want)
	}
}

func TestCount(t *testing.T) {
	if got := Ones(13).Count(); got != 13 {
		t.Fatalf("Ones(13).Count() = %d, want 13", got)
	}
	if got := New(13).Count(); got != 0 {
		t.Fatalf("New(13).Count() = %d, want 0", got)
	}
}
