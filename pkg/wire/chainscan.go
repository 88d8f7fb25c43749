package wire

// TAPInfo describes one TAP controller discovered on the JTAG chain.
type TAPInfo struct {
	// IDCode is the 32-bit device identifier latched by Capture-DR, or 0
	// if this TAP has no IDCODE register (it reports BYPASS instead, per
	// IEEE 1149.1's mandated "IDCODE bit0 == 1" rule).
	IDCode uint32
	// HasIDCode is false when the TAP captured a bare 0 in Capture-DR,
	// meaning its current instruction is BYPASS (a 1-bit shift register)
	// rather than IDCODE.
	HasIDCode bool
}

// chainScanMaxBits bounds the blind-interrogation shifts below: long enough
// to flush any realistic JTAG chain (spec.md's target systems are
// single-drop per §9; this headroom only guards against a mis-wired or
// unexpectedly long chain, not genuine multi-drop support).
const chainScanMaxBits = 256

// flushRunLength is how many consecutive 1 bits in the tail of a decoded
// bitstream we treat as "no more devices" rather than "a device whose
// register happens to read all ones".
const flushRunLength = 16

// ScanChain walks the JTAG chain via Capture-DR/BYPASS to discover which
// TAPs are present and reports the chain's total instruction-register
// width (spec.md §4.1's supplemented feature: the engine needs this before
// it can shift a 4-bit IR for a single-TAP ADI target, or a wider one for
// an unexpected chain). It does not change the TAP's current instruction;
// callers must move every TAP back to IDCODE or BYPASS before addressing
// the ADI DP/AP instructions via performJTAGTransfer.
func (e *Engine) ScanChain() ([]TAPInfo, int, error) {
	return ScanChain(e.jtag)
}

// ScanChain is the free-function form, for callers holding a jtagAccess
// directly (e.g. tests).
func ScanChain(t jtagAccess) ([]TAPInfo, int, error) {
	idcodes, err := scanIDCodes(t)
	if err != nil {
		return nil, 0, err
	}
	irLen, err := scanTotalIRLength(t)
	if err != nil {
		return nil, 0, err
	}
	return idcodes, irLen, nil
}

// scanIDCodes enters Shift-DR with every TAP's current instruction left
// untouched, then shifts in a long run of 1 bits while reading back what
// Capture-DR latched. Per IEEE 1149.1, a TAP in IDCODE mode captures a
// 32-bit value whose bit 0 is always 1; a TAP in BYPASS captures a single
// 0 bit. Decoding front-to-back recovers one TAPInfo per device until the
// tail degenerates into the flush pattern we shifted in.
func scanIDCodes(t jtagAccess) ([]TAPInfo, error) {
	tms, tdi := jtagEnterShiftDR()
	tdi = append(tdi, onesOf(chainScanMaxBits)...)
	tms = append(tms, shiftTMS(chainScanMaxBits, true)...)

	tdo, err := t.JTAGIO(tms, tdi)
	if err != nil {
		return nil, err
	}
	// drop the leading Select-DR/Capture-DR TMS bits' TDO, keep the
	// Shift-DR portion.
	bits := tdo[len(tdo)-chainScanMaxBits:]

	var taps []TAPInfo
	i := 0
	for i < len(bits) {
		if isFlushed(bits[i:]) {
			break
		}
		if bits[i] {
			if i+32 > len(bits) {
				break
			}
			var id uint32
			for b := 0; b < 32; b++ {
				if bits[i+b] {
					id |= 1 << uint(b)
				}
			}
			taps = append(taps, TAPInfo{IDCode: id, HasIDCode: true})
			i += 32
		} else {
			taps = append(taps, TAPInfo{HasIDCode: false})
			i++
		}
	}
	return taps, nil
}

// scanTotalIRLength uses blind interrogation: flush the IR chain with 1s,
// then shift in a single 0 marker followed by more 1s, and find how far
// the marker travels before it reappears at TDO. That distance is the
// combined instruction-register width of every TAP in the chain.
func scanTotalIRLength(t jtagAccess) (int, error) {
	tmsEnter, tdiEnter := jtagEnterShiftIR()

	const flushLen = chainScanMaxBits / 2
	const tailLen = chainScanMaxBits / 2
	shiftTDI := append(onesOf(flushLen), false)
	shiftTDI = append(shiftTDI, onesOf(tailLen)...)
	shiftTMSBits := shiftTMS(len(shiftTDI), true)

	tms := append(tmsEnter, shiftTMSBits...)
	tdi := append(tdiEnter, shiftTDI...)

	tdo, err := t.JTAGIO(tms, tdi)
	if err != nil {
		return 0, err
	}

	// The first flushLen shifted-out bits are whatever residue was
	// latched by Capture-IR; once flushLen cycles of 1s have gone by
	// (assuming flushLen covers the true chain width), the marker 0 is
	// the only non-1 bit left in flight. Its position past the flush
	// window is the chain's total IR length.
	shiftOut := tdo[len(tdo)-len(shiftTDI):]
	for i := flushLen; i < len(shiftOut); i++ {
		if !shiftOut[i] {
			return i - flushLen, nil
		}
	}
	return 0, nil
}

// jtagEnterShiftDR builds the TMS sequence Run-Test/Idle -> Select-DR-Scan
// -> Capture-DR -> Shift-DR, the prefix every DR shift in jtagDRShift also
// uses (duplicated here rather than shared, since chain scan shifts an
// unbounded run rather than a fixed-width register).
func jtagEnterShiftDR() (tms, tdi []bool) {
	return []bool{true, false, false}, []bool{false, false, false}
}

// jtagEnterShiftIR builds the TMS sequence Run-Test/Idle -> Select-DR-Scan
// -> Select-IR-Scan -> Capture-IR -> Shift-IR.
func jtagEnterShiftIR() (tms, tdi []bool) {
	return []bool{true, true, false, false}, []bool{false, false, false, false}
}

func onesOf(n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = true
	}
	return out
}

// shiftTMS returns n TMS bits for a plain Shift-* run: low until the very
// last clock, which exits to Exit1-* (the caller doesn't need the chain
// scan to return to Run-Test/Idle, since it leaves every TAP's instruction
// register undisturbed for the caller to restore).
func shiftTMS(n int, _ bool) []bool {
	out := make([]bool, n)
	if n > 0 {
		out[n-1] = true
	}
	return out
}

func isFlushed(bits []bool) bool {
	if len(bits) < flushRunLength {
		return allOnes(bits)
	}
	return allOnes(bits[:flushRunLength])
}

func allOnes(bits []bool) bool {
	for _, b := range bits {
		if !b {
			return false
		}
	}
	return true
}
