package wire

import "testing"

func TestOnesOfProducesAllTrue(t *testing.T) {
	bits := onesOf(5)
	if len(bits) != 5 {
		t.Fatalf("len = %d, want 5", len(bits))
	}
	if !allOnes(bits) {
		t.Error("onesOf(5) should be all true")
	}
}

func TestAllOnesDetectsAnyFalse(t *testing.T) {
	if !allOnes([]bool{true, true, true}) {
		t.Error("allOnes on all-true input should be true")
	}
	if allOnes([]bool{true, false, true}) {
		t.Error("allOnes should be false when any bit is false")
	}
	if !allOnes(nil) {
		t.Error("allOnes of an empty slice should vacuously be true")
	}
}

func TestShiftTMSSetsOnlyTheLastBit(t *testing.T) {
	tms := shiftTMS(4, true)
	if len(tms) != 4 {
		t.Fatalf("len = %d, want 4", len(tms))
	}
	for i := 0; i < 3; i++ {
		if tms[i] {
			t.Errorf("tms[%d] = true, want false before the exit clock", i)
		}
	}
	if !tms[3] {
		t.Error("tms[3] = false, want true (Exit1 clock)")
	}
}

func TestIsFlushedRecognizesLongOnesRun(t *testing.T) {
	run := onesOf(flushRunLength)
	if !isFlushed(run) {
		t.Error("a full flushRunLength run of ones should be reported as flushed")
	}

	withGap := onesOf(flushRunLength)
	withGap[3] = false
	if isFlushed(withGap) {
		t.Error("a run broken by a 0 bit should not be reported as flushed")
	}
}

// fakeChainJTAG returns a fixed tdo pattern regardless of tms/tdi, letting
// scanIDCodes/scanTotalIRLength's decoding be exercised against a scripted
// single-TAP response without needing a cycle-accurate shift simulation.
type fakeChainJTAG struct {
	tdo []bool
}

func (f *fakeChainJTAG) JTAGIO(tms, tdi []bool) ([]bool, error) {
	out := make([]bool, len(tms))
	copy(out, f.tdo)
	for i := len(f.tdo); i < len(out); i++ {
		out[i] = true
	}
	return out, nil
}

func (f *fakeChainJTAG) WriteRegister(ir uint32, data []byte, bitLength uint32) ([]byte, error) {
	return nil, nil
}

func TestScanIDCodesDecodesSingleTAPWithIDCode(t *testing.T) {
	idcode := uint32(0x4BA00477)
	// three TDO bits clocked while entering Shift-DR, which scanIDCodes drops
	tdo := make([]bool, 3, 3+32+flushRunLength)
	for b := 0; b < 32; b++ {
		tdo = append(tdo, (idcode>>uint(b))&1 == 1)
	}
	tdo = append(tdo, onesOf(flushRunLength)...)

	taps, err := scanIDCodes(&fakeChainJTAG{tdo: tdo})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(taps) != 1 {
		t.Fatalf("len(taps) = %d, want 1", len(taps))
	}
	if !taps[0].HasIDCode {
		t.Error("HasIDCode = false, want true")
	}
	if taps[0].IDCode != idcode {
		t.Errorf("IDCode = 0x%X, want 0x%X", taps[0].IDCode, idcode)
	}
}

func TestScanIDCodesDecodesBypassTAP(t *testing.T) {
	// three Shift-DR entry bits, then the BYPASS register's captured 0
	tdo := append([]bool{false, false, false, false}, onesOf(flushRunLength)...)

	taps, err := scanIDCodes(&fakeChainJTAG{tdo: tdo})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(taps) != 1 {
		t.Fatalf("len(taps) = %d, want 1", len(taps))
	}
	if taps[0].HasIDCode {
		t.Error("HasIDCode = true, want false for a BYPASS-only TAP")
	}
}
