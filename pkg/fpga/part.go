package fpga

import (
	"strings"

	"github.com/OpenTraceLab/xstools/pkg/idcode"
)

// Part is one FPGA device.
type Part struct {
	Name string
	// DeviceType is the part string found in bitstreams built for it.
	DeviceType string
	IDCODE     uint32
	Family     *Family
	Package    string
	// Description is a short human-readable summary.
	Description string
}

// Parts lists every supported device.
var Parts = []Part{
	{"XC2S50", "2s50tq144", 0x00610093, Spartan2, "TQ144", "50K-gate FPGA"},
	{"XC2S100", "2s100tq144", 0x00614093, Spartan2, "TQ144", "100K-gate FPGA"},
	{"XC2S200", "2s200fg256", 0x0061c093, Spartan2, "FG256", "200K-gate FPGA"},
	{"XC3S1000", "3s1000ft256", 0x01428093, Spartan3, "FT256", "1M-gate FPGA"},
	{"XC3S50A", "3s50avq100", 0x02210093, Spartan3A, "VQ100", "50K-gate FPGA (XuLA-50)"},
	{"XC3S200A", "3s200avq100", 0x02218093, Spartan3A, "VQ100", "200K-gate FPGA (XuLA-200)"},
	{"XC6SLX9", "6slx9ftg256", 0x04001093, Spartan6, "FTG256", "9K-cell FPGA (XuLA2-LX9)"},
	{"XC6SLX25", "6slx25ftg256", 0x04004093, Spartan6, "FTG256", "25K-cell FPGA (XuLA2-LX25)"},
}

// LookupPart finds a part by name ("XC3S200A") or bitstream device type
// ("3s200avq100"), ignoring case.
func LookupPart(name string) (Part, bool) {
	for _, p := range Parts {
		if strings.EqualFold(p.Name, name) || strings.EqualFold(p.DeviceType, name) {
			return p, true
		}
	}
	return Part{}, false
}

// PartByIDCODE finds the part whose IDCODE matches id in everything but the
// version field.
func PartByIDCODE(id uint32) (Part, bool) {
	for _, p := range Parts {
		if idcode.SamePart(p.IDCODE, id) {
			return p, true
		}
	}
	return Part{}, false
}

func (p Part) String() string { return p.Name }
