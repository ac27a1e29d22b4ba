package hostio

import (
	"context"

	"github.com/golang/glog"

	"github.com/OpenTraceLab/xstools/pkg/xserr"
)

// DefaultCommModule is the module id of the comm channel in the stock
// interface bitstreams.
const DefaultCommModule = 253

// Comm channel register addresses.
const (
	commFIFO    = 0 // data in both directions
	commControl = 1 // write: reset the channel
	commDnFree  = 2 // free words in the download FIFO
	commUpUsed  = 3 // words waiting in the upload FIFO
	commBreak   = 4 // write: send a break
	levelWords  = 4 // FIFO levels are read as four bytes, least significant first
)

// DefaultMaxPolls bounds how many times in a row a FIFO level may be found
// empty before a blocking transfer gives up.
const DefaultMaxPolls = 100000

// Comm is a FIFO-backed byte stream to logic in the FPGA. Transfers poll the
// FIFO levels; nothing is interrupt driven.
type Comm struct {
	mem *MemIO
	// MaxPolls bounds each wait for FIFO space or data.
	MaxPolls int
}

// NewComm opens the comm channel on module id.
func NewComm(ctx context.Context, ch *Channel, id uint8) (*Comm, error) {
	mem, err := NewMemIO(ctx, ch, id)
	if err != nil {
		return nil, err
	}
	return &Comm{mem: mem, MaxPolls: DefaultMaxPolls}, nil
}

// Reset empties both FIFOs.
func (c *Comm) Reset(ctx context.Context) error {
	return c.mem.Write(ctx, commControl, []uint64{0})
}

// SendBreak signals a break to the logic in the FPGA.
func (c *Comm) SendBreak(ctx context.Context) error {
	return c.mem.Write(ctx, commBreak, []uint64{0})
}

// SendSpace returns the free room in the download FIFO, in words.
func (c *Comm) SendSpace(ctx context.Context) (int, error) {
	return c.level(ctx, commDnFree)
}

// ReceiveLength returns the number of words waiting in the upload FIFO.
func (c *Comm) ReceiveLength(ctx context.Context) (int, error) {
	return c.level(ctx, commUpUsed)
}

func (c *Comm) level(ctx context.Context, addr uint64) (int, error) {
	words, err := c.mem.Read(ctx, addr, levelWords)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := len(words) - 1; i >= 0; i-- {
		n = n*256 + int(words[i])
	}
	return n, nil
}

// Send writes all of words, waiting for FIFO room as needed. Without wait it
// fails when the whole buffer does not fit right now.
func (c *Comm) Send(ctx context.Context, words []uint64, wait bool) error {
	if len(words) == 0 {
		return nil
	}
	space, err := c.SendSpace(ctx)
	if err != nil {
		return err
	}
	if space < len(words) && !wait {
		return xserr.Timeoutf("hostio: comm has room for %d of %d words", space, len(words))
	}

	sent, idle := 0, 0
	for sent < len(words) {
		if space > 0 {
			n := min(space, len(words)-sent)
			if err := c.mem.Write(ctx, commFIFO, words[sent:sent+n]); err != nil {
				return err
			}
			sent += n
			idle = 0
			glog.V(2).Infof("hostio: comm sent %d/%d words", sent, len(words))
		} else if idle++; idle > c.maxPolls() {
			return xserr.Timeoutf("hostio: comm FIFO stayed full after %d polls (%d/%d words sent)", idle-1, sent, len(words))
		}
		if sent < len(words) {
			if space, err = c.SendSpace(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Receive reads n words, waiting for them as needed. A negative n drains
// whatever is waiting. Without wait it fails when fewer than n words are
// available right now.
func (c *Comm) Receive(ctx context.Context, n int, wait bool) ([]uint64, error) {
	avail, err := c.ReceiveLength(ctx)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return c.mem.Read(ctx, commFIFO, avail)
	}
	if avail < n && !wait {
		return nil, xserr.Timeoutf("hostio: comm has %d of %d words", avail, n)
	}

	buf := make([]uint64, 0, n)
	idle := 0
	for len(buf) < n {
		if avail > 0 {
			words, err := c.mem.Read(ctx, commFIFO, min(avail, n-len(buf)))
			if err != nil {
				return nil, err
			}
			buf = append(buf, words...)
			idle = 0
		} else if idle++; idle > c.maxPolls() {
			return nil, xserr.Timeoutf("hostio: comm FIFO stayed empty after %d polls (%d/%d words received)", idle-1, len(buf), n)
		}
		if len(buf) < n {
			if avail, err = c.ReceiveLength(ctx); err != nil {
				return nil, err
			}
		}
	}
	return buf, nil
}

func (c *Comm) maxPolls() int {
	if c.MaxPolls <= 0 {
		return DefaultMaxPolls
	}
	return c.MaxPolls
}
