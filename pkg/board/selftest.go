package board

import (
	"context"

	"github.com/golang/glog"

	"github.com/OpenTraceLab/xstools/pkg/hostio"
	"github.com/OpenTraceLab/xstools/pkg/xserr"
)

// SelfTestSignature identifies the diagnostic bitstream on its DUT outputs.
const SelfTestSignature = 0xA50000A5 | 1<<8

// Diagnostic progress values.
const (
	TestStart = iota
	TestWrite
	TestRead
	TestDone
)

// selfTestOutputs are the DUT output fields: progress, failed, signature.
var selfTestOutputs = []int{2, 1, 32}

// SelfTest loads the diagnostic bitstream, which exercises the SDRAM, and
// waits for its verdict. Phase, when set, is told about each stage.
func (b *Board) SelfTest(ctx context.Context, phase func(string)) error {
	report := func(msg string) {
		glog.V(1).Info(msg)
		if phase != nil {
			phase(msg)
		}
	}

	report("Downloading diagnostic bitstream")
	if err := b.loadHelper(ctx, "self-test", b.Helpers.SelfTest); err != nil {
		return err
	}
	dut, err := hostio.NewDutIO(ctx, b.Channel(), SelfTestModule, selfTestOutputs, []int{1})
	if err != nil {
		return err
	}
	if err := dut.Write(ctx, 1); err != nil {
		return err
	}
	if err := dut.Write(ctx, 0); err != nil {
		return err
	}

	report("Writing SDRAM")
	prev := uint64(TestStart)
	for i := 0; i < b.maxPolls(); i++ {
		out, err := dut.Read(ctx)
		if err != nil {
			return err
		}
		progress, failed, sig := out[0].Unsigned(), out[1].Unsigned(), out[2].Unsigned()
		if sig != SelfTestSignature {
			return xserr.Configurationf("board: %s FPGA is not running the diagnostic bitstream (signature 0x%08x)", b.Model.Name, sig)
		}
		if progress != prev {
			if progress == TestRead {
				report("Reading SDRAM")
			}
			if failed == 1 {
				report("Test done")
				return xserr.Configurationf("board: %s failed its diagnostic test", b.Model.Name)
			}
			if progress == TestDone {
				report("Test done")
				return nil
			}
		}
		prev = progress
	}
	return xserr.Timeoutf("board: %s diagnostic test did not finish after %d reads", b.Model.Name, b.maxPolls())
}
