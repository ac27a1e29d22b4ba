package xsusb

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/OpenTraceLab/xstools/pkg/xserr"
)

const (
	// VendorID and ProductID identify XESS boards on the bus.
	VendorID  = 0x04d8
	ProductID = 0xff8c

	DefaultEndpoint           = 1
	DefaultBitrate            = 1_000_000
	DefaultMinTimeout         = 500 * time.Millisecond
	DefaultReenumerateTimeout = 10 * time.Second

	enumeratePoll = 50 * time.Millisecond
)

// Port is a connection to one board. Reads and writes are exact: a transfer
// that moves fewer bytes than asked is a communication error. A cancelled
// context is reported as ErrCancelled and a vanished device as ErrTerminated.
type Port interface {
	Write(ctx context.Context, p []byte) error
	Read(ctx context.Context, n int) ([]byte, error)
	// Reset power-cycles the board's microcontroller and returns after it has
	// re-enumerated.
	Reset(ctx context.Context) error
	Close() error
}

// Identity names a board by its position on the bus. It survives as long as
// the device is plugged in and changes when it re-enumerates elsewhere.
type Identity struct {
	Bus     int
	Address int
}

func (id Identity) String() string {
	return fmt.Sprintf("bus %03d address %03d", id.Bus, id.Address)
}

// Options tunes a transport. The zero value selects the defaults.
type Options struct {
	Endpoint           int
	BitrateHz          int
	MinTimeout         time.Duration
	ReenumerateTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Endpoint == 0 {
		o.Endpoint = DefaultEndpoint
	}
	if o.BitrateHz <= 0 {
		o.BitrateHz = DefaultBitrate
	}
	if o.MinTimeout <= 0 {
		o.MinTimeout = DefaultMinTimeout
	}
	if o.ReenumerateTimeout <= 0 {
		o.ReenumerateTimeout = DefaultReenumerateTimeout
	}
	return o
}

// TransferTimeout scales the timeout of an n-byte transfer to the nominal
// bitrate, never going below min.
func TransferTimeout(n, bitrateHz int, min time.Duration) time.Duration {
	ms := math.Ceil(float64(n) * 8 / float64(bitrateHz) * 1000)
	if d := time.Duration(ms) * time.Millisecond; d > min {
		return d
	}
	return min
}

// Lister returns the identities of the boards currently attached.
type Lister func(ctx context.Context) ([]Identity, error)

// WaitReenumerate polls list until self has disappeared and then come back,
// either at the same position or as an identity that was not attached before
// the device left. It returns the identity the board now has.
func WaitReenumerate(ctx context.Context, list Lister, self Identity, timeout time.Duration) (Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(enumeratePoll)
	defer ticker.Stop()

	// before holds the boards attached on the last poll that still saw self.
	var before []Identity
	gone := false
	for {
		ids, err := list(ctx)
		if err != nil {
			return Identity{}, err
		}
		present := contains(ids, self)
		if !gone {
			if present {
				before = ids
			} else {
				gone = true
			}
		} else if present {
			return self, nil
		}
		if gone {
			for _, id := range ids {
				if !contains(before, id) {
					return id, nil
				}
			}
		}

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return Identity{}, xserr.Timeoutf("xsusb: board at %s did not re-enumerate", self)
			}
			return Identity{}, fmt.Errorf("xsusb: waiting for %s: %w", self, xserr.ErrCancelled)
		case <-ticker.C:
		}
	}
}

func contains(ids []Identity, id Identity) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("xsusb: %v: %w", err, xserr.ErrCancelled)
	}
	return nil
}
