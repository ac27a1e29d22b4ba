package xserr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKinds(t *testing.T) {
	tests := []struct {
		err  error
		kind error
		msg  string
	}{
		{Configurationf("fpga: DONE=%d", 0), ErrConfiguration, "fpga: DONE=0: configuration error"},
		{Communicationf("short read"), ErrCommunication, "short read: communication error"},
		{Protocolf("checksum 0x%02x", 0x12), ErrProtocol, "checksum 0x12: protocol error"},
		{Callerf("bottom 0x%x", 3), ErrCaller, "bottom 0x3: invalid argument"},
		{Timeoutf("busy"), ErrTimeout, "busy: polling timed out"},
		{&MismatchError{Device: "W25X", Address: 0x10, Expected: 1, Actual: 2, Count: 3}, ErrProtocol,
			"W25X: 3 verification error(s), first at 0x000010: expected 0x01, got 0x02"},
		{&FieldError{Field: "design name", Offset: 13, Reason: "truncated"}, ErrProtocol,
			"field design name at offset 13: truncated"},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.kind) {
			t.Fatalf("errors.Is(%v, %v) = false, want true", tt.err, tt.kind)
		}
		if got := tt.err.Error(); got != tt.msg {
			t.Fatalf("Error() = %q, want %q", got, tt.msg)
		}
	}
}

func TestIsCancellation(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{fmt.Errorf("xsusb: write: %w", ErrCancelled), true},
		{fmt.Errorf("xsusb: read: %w", ErrTerminated), true},
		{errors.Join(Protocolf("mismatch"), fmt.Errorf("reset: %w", ErrTerminated)), true},
		{Communicationf("short read"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsCancellation(tt.err); got != tt.want {
			t.Fatalf("IsCancellation(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
