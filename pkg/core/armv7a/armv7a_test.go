package armv7a

import (
	"testing"

	"github.com/vertexdbg/probeforge/pkg/core"
)

func TestBuildMOVEncodesDestinationAndSource(t *testing.T) {
	// MOV r0, pc -- ARM encoding 0xE1A0000F with rd=0, rm=15; rather than a
	// literal comparison, verify the fields round-trip.
	instr := buildMOV(3, 7)
	if (instr>>12)&0xF != 3 {
		t.Errorf("buildMOV rd field = %d, want 3", (instr>>12)&0xF)
	}
	if instr&0xF != 7 {
		t.Errorf("buildMOV rm field = %d, want 7", instr&0xF)
	}
}

func TestBuildMCRAndMRCEncodeCoprocessorFields(t *testing.T) {
	instr := buildMCR(14, 0, 5, 0, 5, 0)
	if (instr>>8)&0xF != 14 {
		t.Errorf("buildMCR coproc field = %d, want 14", (instr>>8)&0xF)
	}
	if (instr>>12)&0xF != 5 {
		t.Errorf("buildMCR reg field = %d, want 5", (instr>>12)&0xF)
	}

	instrR := buildMRC(14, 0, 9, 0, 5, 0)
	if (instrR>>12)&0xF != 9 {
		t.Errorf("buildMRC reg field = %d, want 9", (instrR>>12)&0xF)
	}
	if instrR == instr {
		t.Error("buildMCR and buildMRC must not produce identical encodings")
	}
}

func TestBuildBXEncodesRegister(t *testing.T) {
	instr := buildBX(0)
	if instr&0xF != 0 {
		t.Errorf("buildBX reg field = %d, want 0", instr&0xF)
	}
}

func TestBuildMRSEncodesDestination(t *testing.T) {
	instr := buildMRS(2)
	if (instr>>12)&0xF != 2 {
		t.Errorf("buildMRS rd field = %d, want 2", (instr>>12)&0xF)
	}
}

func TestDecodeMOEMapsHaltReasons(t *testing.T) {
	tests := []struct {
		name string
		moe  uint32
		want core.HaltReason
	}{
		{"debug request", 0b0000, core.HaltReasonRequest},
		{"breakpoint debug event", 0b0001, core.HaltReasonBreakpoint},
		{"async watchpoint", 0b0010, core.HaltReasonWatchpoint},
		{"bkpt instruction", 0b0011, core.HaltReasonBreakpoint},
		{"external halt", 0b0100, core.HaltReasonExternal},
		{"vector catch", 0b0101, core.HaltReasonException},
		{"os unlock vector catch", 0b1000, core.HaltReasonException},
		{"sync watchpoint", 0b1010, core.HaltReasonBreakpoint},
		{"reserved", 0b1111, core.HaltReasonUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dscr := uint32(1) | (tt.moe << 2) // HALTED=1, MOE at bits [5:2]
			if got := decodeMOE(dscr); got != tt.want {
				t.Errorf("decodeMOE(0x%X) = %v, want %v", dscr, got, tt.want)
			}
		})
	}
}

func TestDecodeMOEWhenNotHaltedIsUnknown(t *testing.T) {
	if got := decodeMOE(0); got != core.HaltReasonUnknown {
		t.Errorf("decodeMOE(0) = %v, want Unknown", got)
	}
}
