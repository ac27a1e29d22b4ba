package deviceinfo

import (
	"testing"

	"github.com/OpenTraceLab/xstools/pkg/fpga"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		raw        uint32
		name       string
		deviceType string
		ir         int
	}{
		{0x02218093, "XC3S200A", "3s200avq100", 6},
		{0x12210093, "XC3S50A", "3s50avq100", 6},
		{0x04004093, "XC6SLX25", "6slx25ftg256", 6},
		{0x0061c093, "XC2S200", "2s200fg256", 5},
	}
	for _, tt := range tests {
		info := Lookup(tt.raw)
		if info.Name != tt.name || info.DeviceType != tt.deviceType || info.IRLength != tt.ir || !info.IsFPGA {
			t.Fatalf("Lookup(0x%08x) = %+v, want %s %s IR %d", tt.raw, info, tt.name, tt.deviceType, tt.ir)
		}
		if info.Manufacturer.Abbreviation != "Xilinx" || info.IDCode.Raw != tt.raw {
			t.Fatalf("Lookup(0x%08x) manufacturer %q raw 0x%08x", tt.raw, info.Manufacturer.Abbreviation, info.IDCode.Raw)
		}
		if !Known(tt.raw) {
			t.Fatalf("Known(0x%08x) = false, want true", tt.raw)
		}
	}

	unknown := Lookup(0x0ba00477)
	if unknown.Name != "Unknown device" || unknown.Manufacturer.Name != "ARM" {
		t.Fatalf("Lookup(0x0ba00477) = %+v, want unknown ARM device", unknown)
	}
	if Known(0x0ba00477) {
		t.Fatal("Known(0x0ba00477) = true, want false")
	}
}

func TestLookupCoversConfigurableParts(t *testing.T) {
	for _, p := range fpga.Parts {
		info := Lookup(p.IDCODE)
		if info.Name != p.Name || info.DeviceType != p.DeviceType || info.IRLength != p.Family.IRWidth || info.Family != p.Family.Name {
			t.Fatalf("Lookup(0x%08x) = %+v, want %s", p.IDCODE, info, p.Name)
		}
	}
}
