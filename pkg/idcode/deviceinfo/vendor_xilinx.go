package deviceinfo

import (
	"github.com/OpenTraceLab/xstools/pkg/fpga"
	"github.com/OpenTraceLab/xstools/pkg/idcode"
)

// Xilinx FPGAs found on XESS boards, taken from the configurator's part list.
func init() {
	for _, p := range fpga.Parts {
		id := idcode.ParseIDCode(p.IDCODE)
		register(key{ManufacturerCode: id.ManufacturerCode, PartNumber: id.PartNumber}, DeviceInfo{
			Name:        p.Name,
			Family:      p.Family.Name,
			Description: p.Description,
			Package:     p.Package,
			DeviceType:  p.DeviceType,
			IsFPGA:      true,
			IRLength:    p.Family.IRWidth,
		})
	}
}
