package idcode

// IDCode is a 32-bit IEEE 1149.1 identification register split into its
// fields.
type IDCode struct {
	Raw              uint32
	Version          uint8  // bits 31:28, silicon revision
	PartNumber       uint16 // bits 27:12
	ManufacturerCode uint16 // bits 11:1, JEP106 continuation bank and id
	HasIDCode        bool   // bit 0; a zero bit means the TAP selected BYPASS
}

// Part returns the raw IDCODE with the version field cleared.
func (id IDCode) Part() uint32 { return id.Raw & VersionMask }

// Manufacturer is one JEP106 entry.
type Manufacturer struct {
	Code         uint16
	Name         string
	Abbreviation string
	Country      string
}
