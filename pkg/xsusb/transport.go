package xsusb

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang/glog"
	"github.com/google/gousb"

	"github.com/OpenTraceLab/xstools/pkg/xserr"
)

// Transport is a Port over a libusb bulk endpoint pair.
type Transport struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface

	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint

	id   Identity
	opts Options

	// Trace, when set, receives one line per transfer.
	Trace io.Writer
}

// Open connects to the index'th attached board, counting in bus order.
func Open(index int, opts Options) (*Transport, error) {
	opts = opts.withDefaults()
	ctx := gousb.NewContext()

	ids, err := listIdentities(ctx)
	if err != nil {
		ctx.Close()
		return nil, err
	}
	if index < 0 || index >= len(ids) {
		ctx.Close()
		return nil, xserr.Communicationf("xsusb: no board at index %d (%d attached)", index, len(ids))
	}

	t := &Transport{ctx: ctx, id: ids[index], opts: opts}
	if err := t.claim(); err != nil {
		ctx.Close()
		return nil, err
	}
	glog.V(1).Infof("Opened XESS board at %s", t.id)
	return t, nil
}

// claim opens the device at t.id and its bulk endpoints.
func (t *Transport) claim() error {
	devs, err := t.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return isBoard(desc) && desc.Bus == t.id.Bus && desc.Address == t.id.Address
	})
	if err != nil && len(devs) == 0 {
		return xserr.Communicationf("xsusb: open %s: %v", t.id, err)
	}
	if len(devs) == 0 {
		return xserr.Communicationf("xsusb: board at %s not found", t.id)
	}
	for _, extra := range devs[1:] {
		extra.Close()
	}
	t.dev = devs[0]

	// Not supported on every platform.
	_ = t.dev.SetAutoDetach(true)

	t.cfg, err = t.dev.Config(1)
	if err != nil {
		t.release()
		return xserr.Communicationf("xsusb: get config: %v", err)
	}
	t.intf, err = t.cfg.Interface(0, 0)
	if err != nil {
		t.release()
		return xserr.Communicationf("xsusb: claim interface: %v", err)
	}
	t.epOut, err = t.intf.OutEndpoint(t.opts.Endpoint)
	if err != nil {
		t.release()
		return xserr.Communicationf("xsusb: open OUT endpoint %d: %v", t.opts.Endpoint, err)
	}
	t.epIn, err = t.intf.InEndpoint(t.opts.Endpoint)
	if err != nil {
		t.release()
		return xserr.Communicationf("xsusb: open IN endpoint %d: %v", t.opts.Endpoint, err)
	}
	return nil
}

// Identity reports where the board currently sits on the bus.
func (t *Transport) Identity() Identity { return t.id }

func (t *Transport) Write(ctx context.Context, p []byte) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if t.epOut == nil {
		return xserr.Communicationf("xsusb: transport closed")
	}
	tctx, cancel := context.WithTimeout(ctx, TransferTimeout(len(p), t.opts.BitrateHz, t.opts.MinTimeout))
	defer cancel()

	n, err := t.epOut.WriteContext(tctx, p)
	glog.V(2).Infof("[usb-bulk OUT]: wrote %d bytes. data[:32]:\n%s", n, hex.Dump(head(p)))
	t.trace("OUT", p[:n])
	if err != nil {
		return t.transferError("write", ctx, err)
	}
	if n != len(p) {
		return xserr.Communicationf("xsusb: wrote %d of %d bytes", n, len(p))
	}
	return nil
}

func (t *Transport) Read(ctx context.Context, n int) ([]byte, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if t.epIn == nil {
		return nil, xserr.Communicationf("xsusb: transport closed")
	}
	tctx, cancel := context.WithTimeout(ctx, TransferTimeout(n, t.opts.BitrateHz, t.opts.MinTimeout))
	defer cancel()

	buf := make([]byte, n)
	got, err := t.epIn.ReadContext(tctx, buf)
	glog.V(2).Infof("[usb-bulk IN]: read %d bytes. data:[:32]\n%s", got, hex.Dump(head(buf[:got])))
	t.trace("IN", buf[:got])
	if err != nil {
		return nil, t.transferError("read", ctx, err)
	}
	if got != n {
		return nil, xserr.Communicationf("xsusb: read %d of %d bytes", got, n)
	}
	return buf, nil
}

// Reset sends the RESET command and waits for the board to re-enumerate, then
// reopens it at its new position.
func (t *Transport) Reset(ctx context.Context) error {
	glog.V(1).Infof("Resetting XESS board at %s", t.id)
	if err := t.Write(ctx, []byte{CmdReset}); err != nil {
		return err
	}
	t.release()

	list := func(ctx context.Context) ([]Identity, error) { return listIdentities(t.ctx) }
	id, err := WaitReenumerate(ctx, list, t.id, t.opts.ReenumerateTimeout)
	if err != nil {
		return err
	}
	t.id = id
	glog.V(1).Infof("XESS board re-enumerated at %s", t.id)
	return t.claim()
}

// Close releases the USB resources.
func (t *Transport) Close() error {
	t.release()
	if t.ctx != nil {
		t.ctx.Close()
		t.ctx = nil
	}
	return nil
}

func (t *Transport) release() {
	if t.intf != nil {
		t.intf.Close()
		t.intf = nil
	}
	if t.cfg != nil {
		t.cfg.Close()
		t.cfg = nil
	}
	if t.dev != nil {
		t.dev.Close()
		t.dev = nil
	}
	t.epIn, t.epOut = nil, nil
}

func (t *Transport) transferError(op string, ctx context.Context, err error) error {
	switch {
	case errors.Is(err, gousb.ErrorNoDevice), errors.Is(err, gousb.TransferNoDevice):
		return fmt.Errorf("xsusb: %s: %v: %w", op, err, xserr.ErrTerminated)
	case ctx.Err() != nil:
		return fmt.Errorf("xsusb: %s: %v: %w", op, ctx.Err(), xserr.ErrCancelled)
	}
	return xserr.Communicationf("xsusb: %s: %v", op, err)
}

func (t *Transport) trace(dir string, p []byte) {
	if t.Trace == nil {
		return
	}
	fmt.Fprintf(t.Trace, "%s %s %-3s %4d %x\n", time.Now().Format(time.RFC3339Nano), t.id, dir, len(p), p)
}

func head(p []byte) []byte {
	if len(p) > 32 {
		return p[:32]
	}
	return p
}
