package xsusb

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/gousb"
)

// DeviceInfo describes an attached board as seen during enumeration.
type DeviceInfo struct {
	Index    int
	Identity Identity
	Speed    string
}

// Label returns a user-friendly description for the device.
func (d DeviceInfo) Label() string {
	return fmt.Sprintf("XESS board #%d (%04X:%04X, %s)", d.Index, VendorID, ProductID, d.Identity)
}

// ListDevices enumerates attached boards without opening them. The order is
// stable (bus, then address) so an index names the same board across calls.
func ListDevices(ctx context.Context) ([]DeviceInfo, error) {
	usb := gousb.NewContext()
	defer usb.Close()

	var results []DeviceInfo
	_, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if isBoard(desc) {
			results = append(results, DeviceInfo{
				Identity: Identity{Bus: desc.Bus, Address: desc.Address},
				Speed:    desc.Speed.String(),
			})
		}
		return false
	})
	if err != nil && err != gousb.ErrorAccess {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool { return less(results[i].Identity, results[j].Identity) })
	for i := range results {
		results[i].Index = i
	}
	return results, ctx.Err()
}

func listIdentities(usb *gousb.Context) ([]Identity, error) {
	var ids []Identity
	_, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if isBoard(desc) {
			ids = append(ids, Identity{Bus: desc.Bus, Address: desc.Address})
		}
		return false
	})
	if err != nil && err != gousb.ErrorAccess {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return less(ids[i], ids[j]) })
	return ids, nil
}

func isBoard(desc *gousb.DeviceDesc) bool {
	return uint16(desc.Vendor) == VendorID && uint16(desc.Product) == ProductID
}

func less(a, b Identity) bool {
	if a.Bus != b.Bus {
		return a.Bus < b.Bus
	}
	return a.Address < b.Address
}
