package hostio

import (
	"context"

	"github.com/golang/glog"

	"github.com/OpenTraceLab/xstools/pkg/bitvec"
	"github.com/OpenTraceLab/xstools/pkg/xserr"
)

// DutIO forces the inputs and samples the outputs of a device under test
// wired to a host-I/O module. Inputs and outputs are split into fields.
type DutIO struct {
	mod          Module
	InputWidth   int
	OutputWidth  int
	inputFields  []int
	outputFields []int
}

// NewDutIO queries the module's total input and output widths. Nil field
// lists mean one field spanning all bits; otherwise the widths must add up
// to the totals the module reports.
func NewDutIO(ctx context.Context, ch *Channel, id uint8, outputFields, inputFields []int) (*DutIO, error) {
	mod := ch.Module(id)
	in, out, err := querySize(ctx, mod)
	if err != nil {
		return nil, err
	}
	if in == 0 || out == 0 {
		return nil, xserr.Protocolf("hostio: module %d reports %d inputs, %d outputs", id, in, out)
	}
	glog.V(1).Infof("hostio: module %d is a DUT with %d inputs, %d outputs", id, in, out)

	d := &DutIO{mod: mod, InputWidth: in, OutputWidth: out}
	if d.inputFields, err = fields("input", inputFields, in); err != nil {
		return nil, err
	}
	if d.outputFields, err = fields("output", outputFields, out); err != nil {
		return nil, err
	}
	return d, nil
}

func fields(kind string, widths []int, total int) ([]int, error) {
	if widths == nil {
		return []int{total}, nil
	}
	sum := 0
	for _, w := range widths {
		if w <= 0 {
			return nil, xserr.Callerf("hostio: %s field width %d", kind, w)
		}
		sum += w
	}
	if sum != total {
		return nil, xserr.Callerf("hostio: %s fields add up to %d bits, DUT has %d", kind, sum, total)
	}
	return append([]int(nil), widths...), nil
}

// Read samples the DUT outputs, one vector per output field.
func (d *DutIO) Read(ctx context.Context) ([]bitvec.Vector, error) {
	r, err := d.mod.SendReceive(ctx, opcode(OpRead), d.OutputWidth+sizeSkip)
	if err != nil {
		return nil, err
	}
	r.PopFront(sizeSkip)
	out := make([]bitvec.Vector, len(d.outputFields))
	for i, w := range d.outputFields {
		out[i] = r.PopFront(w)
	}
	return out, nil
}

// Write forces the DUT inputs, one value per input field.
func (d *DutIO) Write(ctx context.Context, inputs ...uint64) error {
	if len(inputs) != len(d.inputFields) {
		return xserr.Callerf("hostio: %d input values for %d fields", len(inputs), len(d.inputFields))
	}
	parts := []bitvec.Vector{opcode(OpWrite)}
	for i, v := range inputs {
		f, err := bitvec.FromUnsigned(v, d.inputFields[i])
		if err != nil {
			return err
		}
		parts = append(parts, f)
	}
	_, err := d.mod.SendReceive(ctx, bitvec.Concat(parts...), 0)
	return err
}

// Execute writes the inputs and returns the resulting outputs.
func (d *DutIO) Execute(ctx context.Context, inputs ...uint64) ([]bitvec.Vector, error) {
	if err := d.Write(ctx, inputs...); err != nil {
		return nil, err
	}
	return d.Read(ctx)
}
