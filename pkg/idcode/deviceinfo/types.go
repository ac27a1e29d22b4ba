package deviceinfo

import "github.com/OpenTraceLab/xstools/pkg/idcode"

// DeviceInfo describes a part that can sit on a supported board.
type DeviceInfo struct {
	IDCode       idcode.IDCode
	Manufacturer idcode.Manufacturer

	Name        string // "XC3S200A"
	Family      string // "Spartan-3A"
	Description string
	Package     string // "VQ100", if known

	// DeviceType is the part string Xilinx tools write into bitstream headers.
	DeviceType string

	IsFPGA   bool
	IRLength int
}
