package idcode

import "fmt"

// VersionMask clears the version field. Parts are matched on the remaining
// bits so a new silicon revision still identifies as the same device.
const VersionMask uint32 = 0x0FFFFFFF

// ParseIDCode splits a raw IDCODE into its fields.
func ParseIDCode(raw uint32) IDCode {
	return IDCode{
		Raw:              raw,
		Version:          uint8((raw >> 28) & 0xF),
		PartNumber:       uint16((raw >> 12) & 0xFFFF),
		ManufacturerCode: uint16((raw >> 1) & 0x7FF),
		HasIDCode:        (raw & 0x1) == 0x1,
	}
}

// SamePart reports whether two IDCODEs name the same part, ignoring the
// version field.
func SamePart(a, b uint32) bool {
	return ParseIDCode(a).Part() == ParseIDCode(b).Part()
}

// String formats the IDCODE the way the CLI prints it.
func (id IDCode) String() string {
	return fmt.Sprintf("0x%08x", id.Raw)
}
