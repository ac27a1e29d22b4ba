package flash

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"periph.io/x/conn/v3/spi"

	"github.com/OpenTraceLab/xstools/pkg/xserr"
	"github.com/OpenTraceLab/xstools/pkg/xsusb"
)

const testHex = `:100800000102030405060708090A0B0C0D0E0F1060
:04081000DEADBEEFAC
:00000001FF
`

func TestBounds(t *testing.T) {
	g := NewPIC18F14K50(nil).Geometry()
	tests := []struct {
		r      Range
		blk    uint32
		lo, hi uint32
		ok     bool
	}{
		{Range{0x0810, 0x0820}, 0x40, 0x0800, 0x0840, true},
		{All, 0x40, 0x0800, 0x4000, true},
		{Range{0x0000, 0x0900}, 0x40, 0x0800, 0x0900, true},
		{Range{0x3ff0, 0x5000}, 0x40, 0x3fc0, 0x4000, true},
		{Range{0x0812, 0x0813}, 0x10, 0x0810, 0x0820, true},
		{Range{0x2000, 0x1000}, 0x40, 0, 0, false},
	}
	for _, tt := range tests {
		lo, hi, err := g.Bounds(tt.r, tt.blk)
		if (err == nil) != tt.ok {
			t.Fatalf("Bounds(%s, %d) error = %v, want ok=%v", tt.r, tt.blk, err, tt.ok)
		}
		if !tt.ok {
			if !errors.Is(err, xserr.ErrCaller) {
				t.Fatalf("Bounds(%s, %d) error = %v, want ErrCaller", tt.r, tt.blk, err)
			}
			continue
		}
		if lo != tt.lo || hi != tt.hi {
			t.Fatalf("Bounds(%s, %d) = 0x%04x, 0x%04x, want 0x%04x, 0x%04x", tt.r, tt.blk, lo, hi, tt.lo, tt.hi)
		}
	}
}

func TestImage(t *testing.T) {
	img, err := ParseImage(strings.NewReader(testHex))
	if err != nil {
		t.Fatalf("ParseImage returned error: %v", err)
	}
	if lo, hi, ok := img.Extent(); !ok || lo != 0x0800 || hi != 0x0814 {
		t.Fatalf("Extent() = 0x%04x, 0x%04x, %v, want 0x0800, 0x0814, true", lo, hi, ok)
	}
	if img.Len() != 20 {
		t.Fatalf("Len() = %d, want 20", img.Len())
	}
	if b, ok := img.Get(0x0811); !ok || b != 0xad {
		t.Fatalf("Get(0x0811) = 0x%02x, %v, want 0xad, true", b, ok)
	}
	if _, ok := img.Get(0x0814); ok {
		t.Fatal("Get(0x0814) found a byte past the data")
	}
	if got, want := img.Bytes(0x0812, 4), []byte{0xbe, 0xef, 0xff, 0xff}; !bytes.Equal(got, want) {
		t.Fatalf("Bytes(0x0812, 4) = % x, want % x", got, want)
	}

	var buf bytes.Buffer
	if err := img.WriteHex(&buf); err != nil {
		t.Fatalf("WriteHex returned error: %v", err)
	}
	again, err := ParseImage(&buf)
	if err != nil {
		t.Fatalf("ParseImage(WriteHex()) returned error: %v", err)
	}
	if !bytes.Equal(again.Bytes(0x0800, 0x20), img.Bytes(0x0800, 0x20)) {
		t.Fatalf("hex round trip changed the data")
	}

	if _, err := ParseImage(strings.NewReader(":10080000zz\n")); err == nil {
		t.Fatal("ParseImage(garbage) returned no error")
	}
}

func newTestPIC(t *testing.T) (*Programmer, *xsusb.SimBoard) {
	t.Helper()
	board := xsusb.NewSimBoard(6, 0x09)
	return NewProgrammer(NewPIC18F14K50(board)), board
}

func TestPICEraseRoundsOutward(t *testing.T) {
	p, board := newTestPIC(t)
	for a := uint32(0x0800); a < 0x0900; a++ {
		board.Flash[a] = 0x5a
	}
	if err := p.Erase(context.Background(), Range{0x0810, 0x0820}); err != nil {
		t.Fatalf("Erase returned error: %v", err)
	}
	if n := board.Counts[xsusb.CmdEraseFlash]; n != 1 {
		t.Fatalf("%d erase commands, want 1", n)
	}
	for a := uint32(0x0800); a < 0x0900; a++ {
		_, kept := board.Flash[a]
		if want := a >= 0x0840; kept != want {
			t.Fatalf("byte 0x%04x kept = %v, want %v", a, kept, want)
		}
	}
}

func TestPICWriteUnaligned(t *testing.T) {
	p, board := newTestPIC(t)
	img := NewImage()
	img.Set(0x0808, []byte{1, 2, 3})
	err := p.Write(context.Background(), img, Range{0x0808, 0x0820})
	if !errors.Is(err, xserr.ErrCaller) {
		t.Fatalf("Write(unaligned) error = %v, want ErrCaller", err)
	}
	if len(board.Writes) != 0 {
		t.Fatalf("%d USB writes, want 0", len(board.Writes))
	}
}

func TestPICProgram(t *testing.T) {
	ctx := context.Background()
	p, board := newTestPIC(t)
	img := NewImage()
	for a := uint32(0x0800); a < 0x0830; a++ {
		img.Set(a, []byte{byte(a)})
	}
	img.Set(0x0830, bytes.Repeat([]byte{0xff}, 16))
	img.Set(0x0842, []byte{0x42})

	var last uint32
	p.Progress = func(addr, end uint32) { last = addr }
	if err := p.Program(ctx, img, All); err != nil {
		t.Fatalf("Program returned error: %v", err)
	}
	// 0x0800-0x082f and 0x0840-0x084f; the 0xff block is skipped.
	if n := board.Counts[xsusb.CmdWriteFlash]; n != 4 {
		t.Fatalf("%d write commands, want 4", n)
	}
	if board.Flash[0x0817] != 0x17 || board.Flash[0x0842] != 0x42 {
		t.Fatalf("flash[0x0817]=0x%02x flash[0x0842]=0x%02x, want 0x17 0x42", board.Flash[0x0817], board.Flash[0x0842])
	}
	if last == 0 {
		t.Fatal("Progress never called")
	}

	got, err := p.Read(ctx, Range{0x0800, 0x0820})
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if !bytes.Equal(got.Bytes(0x0800, 0x20), img.Bytes(0x0800, 0x20)) {
		t.Fatalf("Read() = % x, want % x", got.Bytes(0x0800, 0x20), img.Bytes(0x0800, 0x20))
	}
}

func TestPICVerifyMismatch(t *testing.T) {
	ctx := context.Background()
	p, board := newTestPIC(t)
	img, err := ParseImage(strings.NewReader(testHex))
	if err != nil {
		t.Fatalf("ParseImage returned error: %v", err)
	}
	if err := p.Write(ctx, img, All); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	board.Flash[0x0805] = 0x00
	board.Flash[0x0812] = 0x00

	err = p.Verify(ctx, img, All)
	var mm *xserr.MismatchError
	if !errors.As(err, &mm) || !errors.Is(err, xserr.ErrProtocol) {
		t.Fatalf("Verify error = %v, want *MismatchError", err)
	}
	if mm.Address != 0x0805 || mm.Expected != 0x06 || mm.Actual != 0x00 || mm.Count != 2 {
		t.Fatalf("Verify() = %+v, want address 0x0805 expected 0x06 actual 0x00 count 2", *mm)
	}

	// Bytes outside the checked range do not count.
	err = p.Verify(ctx, img, Range{0x0800, 0x0810})
	if !errors.As(err, &mm) || mm.Count != 1 {
		t.Fatalf("Verify(0x0800, 0x0810) error = %v, want one mismatch", err)
	}
}

func TestPICEchoMismatch(t *testing.T) {
	p, board := newTestPIC(t)
	board.OnCommand = func(cmd []byte) {
		if cmd[0] == xsusb.CmdEraseFlash {
			cmd[0] = xsusb.CmdInfo
		}
	}
	err := p.Erase(context.Background(), Range{0x0800, 0x0840})
	if !errors.Is(err, xserr.ErrCommunication) {
		t.Fatalf("Erase error = %v, want ErrCommunication", err)
	}
}

func newTestW25X(t *testing.T, jedec uint16) (*W25X, *SimW25X) {
	t.Helper()
	sim := NewSimW25X(jedec)
	f, err := NewW25X(context.Background(), sim)
	if err != nil {
		t.Fatalf("NewW25X returned error: %v", err)
	}
	return f, sim
}

func TestW25XGeometry(t *testing.T) {
	tests := []struct {
		jedec uint16
		size  uint32
	}{
		{0x3011, 1 << 17},
		{0x3012, 1 << 18},
		{0x3013, 1 << 19},
		{0x3014, 1 << 20},
		{0x4014, 1 << 20},
	}
	for _, tt := range tests {
		f, _ := newTestW25X(t, tt.jedec)
		g := f.Geometry()
		if g.End != tt.size || g.EraseBlock != tt.size || g.WriteBlock != 256 {
			t.Fatalf("W25X(0x%04x).Geometry() = %+v, want end and erase block %d", tt.jedec, g, tt.size)
		}
	}

	if _, err := NewW25X(context.Background(), NewSimW25X(0x9999)); !errors.Is(err, xserr.ErrConfiguration) {
		t.Fatalf("NewW25X(0x9999) error = %v, want ErrConfiguration", err)
	}
}

func TestW25XProgram(t *testing.T) {
	ctx := context.Background()
	f, sim := newTestW25X(t, 0x3014)
	sim.Mem[0x5000] = 0x00

	img := NewImage()
	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i * 7)
	}
	img.Set(0x100, data)

	p := NewProgrammer(f)
	if err := p.Program(ctx, img, All); err != nil {
		t.Fatalf("Program returned error: %v", err)
	}
	if sim.Erases != 1 || sim.Programs != 2 {
		t.Fatalf("erases=%d programs=%d, want 1 2", sim.Erases, sim.Programs)
	}
	if sim.Byte(0x5000) != 0xff {
		t.Fatal("chip erase left old data behind")
	}
	for i, want := range data {
		if got := sim.Byte(0x100 + uint32(i)); got != want {
			t.Fatalf("flash[0x%04x] = 0x%02x, want 0x%02x", 0x100+i, got, want)
		}
	}
}

func TestW25XStuckBusy(t *testing.T) {
	f, sim := newTestW25X(t, 0x3013)
	sim.Stuck = true
	f.MaxPolls = 5
	err := f.EraseBlock(context.Background(), 0)
	if !errors.Is(err, xserr.ErrTimeout) {
		t.Fatalf("EraseBlock error = %v, want ErrTimeout", err)
	}
}

// releaseFails rejects the empty packet that ends a held chip select.
type releaseFails struct {
	*SimW25X
}

func (c releaseFails) TxPackets(p []spi.Packet) error {
	if len(p) == 1 && p[0].W == nil && p[0].R == nil && !p[0].KeepCS {
		return xserr.Communicationf("spi: chip select stuck")
	}
	return c.SimW25X.TxPackets(p)
}

func TestW25XStuckBusyReleasesCS(t *testing.T) {
	f, sim := newTestW25X(t, 0x3013)
	sim.Stuck = true
	f.MaxPolls = 3
	if err := f.EraseBlock(context.Background(), 0); !errors.Is(err, xserr.ErrTimeout) {
		t.Fatalf("EraseBlock error = %v, want ErrTimeout", err)
	}
	if len(sim.frame) != 0 {
		t.Fatalf("chip select still held after timeout, frame % x", sim.frame)
	}

	f.conn = releaseFails{sim}
	err := f.EraseBlock(context.Background(), 0)
	if !errors.Is(err, xserr.ErrTimeout) || !errors.Is(err, xserr.ErrCommunication) {
		t.Fatalf("EraseBlock error = %v, want ErrTimeout joined with ErrCommunication", err)
	}
}

func TestW25XCancelled(t *testing.T) {
	f, _ := newTestW25X(t, 0x3013)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewProgrammer(f).Read(ctx, Range{0, 0x400})
	if !errors.Is(err, xserr.ErrCancelled) {
		t.Fatalf("Read error = %v, want ErrCancelled", err)
	}
}

func TestW25XPageCrossing(t *testing.T) {
	f, _ := newTestW25X(t, 0x3013)
	err := f.WriteBlock(context.Background(), 0xf0, make([]byte, 32))
	if !errors.Is(err, xserr.ErrCaller) {
		t.Fatalf("WriteBlock(0xf0, 32 bytes) error = %v, want ErrCaller", err)
	}
}
