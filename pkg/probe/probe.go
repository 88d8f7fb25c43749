// Package probe defines the L0 transport boundary (spec.md §6): the
// bit-level interface every physical debug probe backend implements, and
// a couple of reference backends. The engine never speaks to hardware
// except through this interface — USB transport to physical probes is
// deliberately out of scope per spec.md §1, so the backends here are thin
// reference implementations, grounded on the teacher's pkg/connection
// (which plays the identical "transport below the protocol" role for the
// Foenix debug port).
package probe

import "time"

// Protocol names which wire protocol a probe is currently driving.
type Protocol int

const (
	ProtocolSWD Protocol = iota
	ProtocolJTAG
)

func (p Protocol) String() string {
	if p == ProtocolJTAG {
		return "JTAG"
	}
	return "SWD"
}

// PinState reports the live level of the probe's control/status lines.
// swj_pins returns this. AllOnes from a probe that cannot sample pins
// would be indistinguishable from all pins high (spec.md §9's open
// question), so probeforge makes the "cannot sample" meaning explicit:
// backends that can't read pins MUST report ErrPinsUnsupported instead of
// synthesizing AllOnes, so callers can tell "don't know" from "all high".
type PinState uint32

const AllOnes PinState = 0xFFFFFFFF

// Pin identifies one of the SWJ-DP control pins addressable via
// swj_pins, per the ADI SWJ-DP pin convention.
type Pin uint32

const (
	PinSWCLKTCK Pin = 1 << 0
	PinSWDIOTMS Pin = 1 << 1
	PinTDI      Pin = 1 << 2
	PinTDO      Pin = 1 << 3
	PinnTRST    Pin = 1 << 5
	PinnRESET   Pin = 1 << 7
)

// Transport is the interface every physical debug probe backend
// implements (spec.md §6). All methods are blocking; there is no
// mid-operation cancellation (spec.md §5).
type Transport interface {
	// JTAGIO shifts tmsBits/tdiBits out and returns the bits shifted
	// back in on TDO, one bool per clock.
	JTAGIO(tmsBits, tdiBits []bool) ([]bool, error)

	// SWDIO drives/samples the single SWDIO line bit by bit. dirBits[i]
	// true means the host drives bit i; false means the host releases
	// the line and samples it. ioBits supplies the driven value for
	// driven bits and is ignored for sampled bits; the returned slice
	// holds the sampled value for every bit (driven bits echo back what
	// was driven).
	SWDIO(dirBits, ioBits []bool) ([]bool, error)

	// SetSpeed requests a new SWJ clock rate in kHz and returns the
	// rate the probe actually applied.
	SetSpeed(khz int) (int, error)

	// SWJSequence drives an arbitrary bit sequence on SWDIO/TMS, used
	// for protocol-switch sequences (e.g. the 16-bit 0xE79E JTAG-to-SWD
	// sequence) and line reset.
	SWJSequence(bits []bool) error

	// SWJPins drives the given pin values (masked by select) and
	// returns the sampled pin state. Returns ErrPinsUnsupported if the
	// backend cannot sample pin state at all.
	SWJPins(out, selectMask Pin, waitUs time.Duration) (PinState, error)

	// ActiveProtocol reports which wire protocol is currently selected.
	ActiveProtocol() Protocol

	// TargetResetAssert/Deassert drive the probe's nRESET line, per the
	// Open Question in spec.md §9: probeforge resolves it by exposing
	// both as distinct, explicit operations (assert pulls the target
	// into reset and holds it; deassert releases it) rather than a
	// single "pulse" call, since a caller needing a pulse can trivially
	// compose Assert+sleep+Deassert but the reverse decomposition is not
	// possible once collapsed into one call.
	TargetResetAssert() error
	TargetResetDeassert() error
}

// ErrPinsUnsupported is returned by SWJPins when a backend has no way to
// sample pin state (as opposed to a backend reporting AllOnes because all
// the selected pins are genuinely high).
var ErrPinsUnsupported = errPinsUnsupported{}

type errPinsUnsupported struct{}

func (errPinsUnsupported) Error() string { return "probe backend does not support pin sampling" }
