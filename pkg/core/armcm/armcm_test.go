package armcm

import (
	"testing"

	"github.com/vertexdbg/probeforge/pkg/core"
)

func TestDecodeHaltReasonMapsSingleBits(t *testing.T) {
	tests := []struct {
		name string
		dfsr uint32
		want core.HaltReason
	}{
		{"no bits set", 0, core.HaltReasonUnknown},
		{"halted bit", 1 << bitDFSRHalted, core.HaltReasonRequest},
		{"bkpt bit", 1 << bitDFSRBkpt, core.HaltReasonBreakpoint},
		{"dwttrap bit", 1 << bitDFSRDwtTrap, core.HaltReasonWatchpoint},
		{"vcatch bit", 1 << bitDFSRVCatch, core.HaltReasonException},
		{"external bit", 1 << bitDFSRExternal, core.HaltReasonExternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeHaltReason(tt.dfsr); got != tt.want {
				t.Errorf("decodeHaltReason(0x%X) = %v, want %v", tt.dfsr, got, tt.want)
			}
		})
	}
}

func TestDecodeHaltReasonMultipleBitsIsMultiple(t *testing.T) {
	dfsr := uint32(1<<bitDFSRBkpt | 1<<bitDFSRHalted)
	if got := decodeHaltReason(dfsr); got != core.HaltReasonMultiple {
		t.Errorf("decodeHaltReason(0x%X) = %v, want Multiple", dfsr, got)
	}
}

func TestBreakpointComparatorAddressDecodesHalfwordSelection(t *testing.T) {
	tests := []struct {
		name string
		raw  uint32
		want uint32
	}{
		{"lower halfword", bitsFor(0b01, 0x100), 0x400},
		{"upper halfword", bitsFor(0b10, 0x100), 0x402},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := breakpointComparatorAddress(tt.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("breakpointComparatorAddress(0x%08X) = 0x%X, want 0x%X", tt.raw, got, tt.want)
			}
		})
	}
}

func TestBreakpointComparatorAddressRejectsBothHalfwords(t *testing.T) {
	if _, err := breakpointComparatorAddress(bitsFor(0b11, 0x100)); err == nil {
		t.Error("expected an error for an unsupported BP_MATCH value of 0b11")
	}
}

func bitsFor(match uint32, comp uint32) uint32 {
	return (match << 30) | ((comp & 0x07FF_FFFF) << 2)
}

func TestSetHardwareBreakpointRejectsDataAddress(t *testing.T) {
	d := New(nil, core.CoreTypeArmv6m, nil)
	if err := d.SetHardwareBreakpoint(0, 0x2000_0100); err == nil {
		t.Error("expected an error for a breakpoint address in data memory (>= 0x2000_0000)")
	}
}
