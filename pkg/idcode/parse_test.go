package idcode

import "testing"

func TestParseIDCode(t *testing.T) {
	tests := []struct {
		raw  uint32
		want IDCode
	}{
		{0x02218093, IDCode{Raw: 0x02218093, Version: 0, PartNumber: 0x2218, ManufacturerCode: 0x049, HasIDCode: true}},
		{0x34004093, IDCode{Raw: 0x34004093, Version: 3, PartNumber: 0x4004, ManufacturerCode: 0x049, HasIDCode: true}},
		{0x4ba00477, IDCode{Raw: 0x4ba00477, Version: 4, PartNumber: 0xba00, ManufacturerCode: 0x23b, HasIDCode: true}},
		{0x00000000, IDCode{}},
	}
	for _, tt := range tests {
		if got := ParseIDCode(tt.raw); got != tt.want {
			t.Fatalf("ParseIDCode(0x%08x) = %+v, want %+v", tt.raw, got, tt.want)
		}
	}
}

func TestSamePart(t *testing.T) {
	tests := []struct {
		a, b uint32
		want bool
	}{
		{0x02218093, 0x02218093, true},
		{0x02218093, 0x52218093, true},
		{0x02218093, 0x02210093, false},
		{0x04001093, 0x04001092, false},
	}
	for _, tt := range tests {
		if got := SamePart(tt.a, tt.b); got != tt.want {
			t.Fatalf("SamePart(0x%08x, 0x%08x) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestLookupManufacturer(t *testing.T) {
	if m, ok := LookupManufacturer(0x049); !ok || m.Abbreviation != "Xilinx" {
		t.Fatalf("LookupManufacturer(0x049) = %+v, %v, want Xilinx", m, ok)
	}
	m, ok := LookupManufacturer(0x7ff)
	if ok || m.Name != "Unknown (0x7FF)" {
		t.Fatalf("LookupManufacturer(0x7ff) = %+v, %v, want unknown", m, ok)
	}
	if s := ParseIDCode(0x02218093).String(); s != "0x02218093" {
		t.Fatalf("String() = %q, want 0x02218093", s)
	}
}

func TestPart(t *testing.T) {
	if got := ParseIDCode(0x34004093).Part(); got != 0x04004093 {
		t.Fatalf("Part() = 0x%08x, want 0x04004093", got)
	}
}
