package fpga

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/OpenTraceLab/xstools/pkg/bitstream"
	"github.com/OpenTraceLab/xstools/pkg/bitvec"
	"github.com/OpenTraceLab/xstools/pkg/idcode"
	"github.com/OpenTraceLab/xstools/pkg/jtag"
	"github.com/OpenTraceLab/xstools/pkg/tap"
	"github.com/OpenTraceLab/xstools/pkg/xserr"
)

const idcodeBits = 32

// Phase tracks how far the last configuration attempt got.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseIdcodeVerified
	PhaseProgrammed
	PhaseStatusChecked
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseIdcodeVerified:
		return "IDCODE verified"
	case PhaseProgrammed:
		return "programmed"
	case PhaseStatusChecked:
		return "status checked"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Configurator loads bitstreams into one FPGA.
type Configurator struct {
	jtag  *jtag.Session
	part  Part
	phase Phase
}

// New returns a configurator for part on session s.
func New(s *jtag.Session, part Part) *Configurator {
	return &Configurator{jtag: s, part: part}
}

// Part returns the target device.
func (c *Configurator) Part() Part { return c.part }

// Phase returns the furthest step reached by the last Configure call.
func (c *Configurator) Phase() Phase { return c.phase }

func (c *Configurator) instr(opcode uint64) bitvec.Vector {
	return c.part.Family.Instruction(opcode)
}

// ReadIDCODE loads the IDCODE instruction and returns the register value.
func (c *Configurator) ReadIDCODE(ctx context.Context) (uint32, error) {
	bits, err := c.jtag.LoadIRThenDR(ctx, c.instr(c.part.Family.Instr.IDCODE), bitvec.Vector{}, idcodeBits)
	if err != nil {
		return 0, err
	}
	return uint32(bits.Unsigned()), nil
}

// ReadUserCode returns the USERCODE programmed by the loaded bitstream.
func (c *Configurator) ReadUserCode(ctx context.Context) (uint32, error) {
	bits, err := c.jtag.LoadIRThenDR(ctx, c.instr(c.part.Family.Instr.USERCODE), bitvec.Vector{}, idcodeBits)
	if err != nil {
		return 0, err
	}
	return uint32(bits.Unsigned()), nil
}

// IsConnected reports whether the FPGA answers with the part's IDCODE.
func (c *Configurator) IsConnected(ctx context.Context) (bool, error) {
	id, err := c.ReadIDCODE(ctx)
	if err != nil {
		return false, err
	}
	return idcode.SamePart(id, c.part.IDCODE), nil
}

// Configure checks that b targets this part and that the part is present,
// then loads b and requires DONE afterwards. A failure leaves the FPGA in
// whatever state the sequence reached.
func (c *Configurator) Configure(ctx context.Context, b *bitstream.Bitstream) error {
	c.phase = PhaseIdle
	if !strings.EqualFold(b.DeviceType, c.part.DeviceType) {
		return xserr.Configurationf("fpga: bitstream is for %s, target is %s (%s)", b.DeviceType, c.part.DeviceType, c.part.Name)
	}
	id, err := c.ReadIDCODE(ctx)
	if err != nil {
		return err
	}
	if !idcode.SamePart(id, c.part.IDCODE) {
		return xserr.Configurationf("fpga: IDCODE 0x%08x does not match %s (0x%08x)", id, c.part.Name, c.part.IDCODE)
	}
	c.phase = PhaseIdcodeVerified

	if err := c.Download(ctx, b.Bits()); err != nil {
		return err
	}
	c.phase = PhaseProgrammed

	st, err := c.ReadStatus(ctx)
	if err != nil {
		return err
	}
	if !st.Done {
		return xserr.Configurationf("fpga: %s failed to configure (DONE=0, status %s)", c.part.Name, st)
	}
	c.phase = PhaseStatusChecked
	glog.V(1).Infof("fpga: %s configured", c.part.Name)
	return nil
}

// Download runs the family's configuration sequence with bits as the
// configuration data. It does not check the outcome.
func (c *Configurator) Download(ctx context.Context, bits bitvec.Vector) error {
	f := c.part.Family
	s := c.jtag
	none := bitvec.Vector{}
	glog.V(1).Infof("fpga: downloading %d bits to %s", bits.Len(), c.part.Name)

	if err := s.ResetTAP(ctx); err != nil {
		return err
	}
	if err := s.GoThru(tap.StateRunTestIdle); err != nil {
		return err
	}
	if f.HasJPROGRAM() {
		if _, err := s.LoadIRThenDR(ctx, c.instr(f.Instr.JPROGRAM), none, 0); err != nil {
			return err
		}
		// CFG_IN right behind JPROGRAM keeps the device on the JTAG clock.
		if _, err := s.LoadIRThenDR(ctx, c.instr(f.Instr.CFGIn), none, 0); err != nil {
			return err
		}
		if err := sleep(ctx, f.ClearDelay); err != nil {
			return err
		}
	}
	if _, err := s.LoadIRThenDR(ctx, c.instr(f.Instr.CFGIn), bits, 0); err != nil {
		return err
	}
	if _, err := s.LoadIRThenDR(ctx, c.instr(f.Instr.JSTART), none, 0); err != nil {
		return err
	}
	if err := s.RunTest(ctx, f.StartupClocks); err != nil {
		return err
	}
	if f.FinalJSTARTBits > 0 {
		if _, err := s.LoadIRThenDR(ctx, c.instr(f.Instr.JSTART), bitvec.New(f.FinalJSTARTBits), 0); err != nil {
			return err
		}
	}
	if f.EndInReset {
		return s.ResetTAP(ctx)
	}
	if err := s.GoThru(tap.StateRunTestIdle); err != nil {
		return err
	}
	return s.Flush(ctx)
}

// Status is a decoded status register readback.
type Status struct {
	Raw    bitvec.Vector
	Done   bool
	fields []StatusField
}

// Field returns the named field, or false when the family has no such field.
func (st Status) Field(name string) (uint64, bool) {
	for _, f := range st.fields {
		if f.Name == name {
			return st.Raw.Slice(f.Lo, f.Lo+f.Width).Unsigned(), true
		}
	}
	return 0, false
}

// Fields returns the field names in bit order.
func (st Status) Fields() []string {
	names := make([]string, len(st.fields))
	for i, f := range st.fields {
		names[i] = f.Name
	}
	return names
}

func (st Status) String() string {
	var sb strings.Builder
	for i := len(st.fields) - 1; i >= 0; i-- {
		f := st.fields[i]
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		v, _ := st.Field(f.Name)
		fmt.Fprintf(&sb, "%s=%d", f.Name, v)
	}
	return sb.String()
}

// ReadStatus requests the status register through CFG_IN and reads it back
// through CFG_OUT.
func (c *Configurator) ReadStatus(ctx context.Context) (Status, error) {
	f := c.part.Family
	s := c.jtag
	if f.ResetBeforeStatus {
		if err := s.ResetTAP(ctx); err != nil {
			return Status{}, err
		}
		if err := s.GoThru(tap.StateRunTestIdle); err != nil {
			return Status{}, err
		}
	}
	if _, err := s.LoadIRThenDR(ctx, c.instr(f.Instr.CFGIn), f.StatusCommand, 0); err != nil {
		return Status{}, err
	}
	raw, err := s.LoadIRThenDR(ctx, c.instr(f.Instr.CFGOut), bitvec.Vector{}, f.StatusBits)
	if err != nil {
		return Status{}, err
	}
	st := Status{Raw: raw, Done: raw.Bit(f.DoneBit), fields: f.StatusFields}
	glog.V(2).Infof("fpga: status %s", st)
	return st, nil
}

// Detect resets the TAP, reads the IDCODE that every supported part selects
// in Test-Logic-Reset, and looks it up.
func Detect(ctx context.Context, s *jtag.Session) (Part, uint32, error) {
	if err := s.ResetTAP(ctx); err != nil {
		return Part{}, 0, err
	}
	bits, err := s.LoadIRThenDR(ctx, bitvec.Vector{}, bitvec.Vector{}, idcodeBits)
	if err != nil {
		return Part{}, 0, err
	}
	id := uint32(bits.Unsigned())
	p, ok := PartByIDCODE(id)
	if !ok {
		return Part{}, id, xserr.Configurationf("fpga: unknown IDCODE 0x%08x", id)
	}
	return p, id, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("fpga: %v: %w", ctx.Err(), xserr.ErrCancelled)
	}
}
