package probe

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// SerialBitbang drives SWD by toggling a USB-serial adapter's modem
// control lines directly: RTS clocks SWCLK, DTR drives the output half
// of SWDIO, and CTS senses SWDIO's line state, the two wired together
// through a pull resistor on the adapter board — the common way
// inexpensive homebrew "SWD over UART" adapters fake a single
// bidirectional pin out of two independent UART control lines. Grounded
// on pkg/connection/serial.go's go.bug.st/serial open/configure shape.
//
// This backend only drives SWD: a two-control-line adapter has no third
// line to spare for TCK/TMS plus TDI/TDO, so JTAGIO reports
// ErrJTAGUnsupported rather than attempting it.
type SerialBitbang struct {
	port      serial.Port
	halfClock time.Duration
}

// ErrJTAGUnsupported is returned by backends whose wiring has no spare
// control lines for a four-signal JTAG interface.
var ErrJTAGUnsupported = errJTAGUnsupported{}

type errJTAGUnsupported struct{}

func (errJTAGUnsupported) Error() string { return "probe backend does not support JTAG" }

// OpenSerialBitbang opens portName and returns a ready SWD bit-bang
// backend clocked at the given half-period (SetSpeed can retune it
// later).
func OpenSerialBitbang(portName string, halfClock time.Duration) (*SerialBitbang, error) {
	mode := &serial.Mode{BaudRate: 115200}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("probe: opening serial bit-bang port %s: %w", portName, err)
	}
	if halfClock <= 0 {
		halfClock = 10 * time.Microsecond
	}
	return &SerialBitbang{port: port, halfClock: halfClock}, nil
}

func (s *SerialBitbang) clock(high bool) error {
	if err := s.port.SetRTS(high); err != nil {
		return fmt.Errorf("probe: driving SWCLK: %w", err)
	}
	time.Sleep(s.halfClock)
	return nil
}

// SWDIO drives/samples SWDIO one bit per SWCLK cycle, per the
// probe.Transport contract: a driven bit sets DTR before the clock
// pulse; a sampled bit leaves DTR untouched and reads the pulse's
// settled CTS level.
func (s *SerialBitbang) SWDIO(dirBits, ioBits []bool) ([]bool, error) {
	if len(dirBits) != len(ioBits) {
		return nil, fmt.Errorf("probe: SWDIO dir/io length mismatch (%d vs %d)", len(dirBits), len(ioBits))
	}
	out := make([]bool, len(dirBits))
	for i := range dirBits {
		if err := s.clock(false); err != nil {
			return nil, err
		}
		if dirBits[i] {
			if err := s.port.SetDTR(ioBits[i]); err != nil {
				return nil, fmt.Errorf("probe: driving SWDIO: %w", err)
			}
		}
		status, err := s.port.GetModemStatusBits()
		if err != nil {
			return nil, fmt.Errorf("probe: sampling SWDIO: %w", err)
		}
		out[i] = status.CTS
		if err := s.clock(true); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// JTAGIO always fails: see the type doc.
func (s *SerialBitbang) JTAGIO(tmsBits, tdiBits []bool) ([]bool, error) {
	return nil, ErrJTAGUnsupported
}

// SetSpeed retunes the clock half-period to approximate khz, returning
// the rate actually achieved (bit-banged timing is only ever
// approximate, unlike a probe with a hardware clock divider).
func (s *SerialBitbang) SetSpeed(khz int) (int, error) {
	if khz <= 0 {
		return 0, fmt.Errorf("probe: SetSpeed requires a positive rate, got %d", khz)
	}
	s.halfClock = time.Second / time.Duration(2*khz*1000)
	if s.halfClock <= 0 {
		s.halfClock = time.Microsecond
	}
	return int(time.Second / (2 * s.halfClock) / 1000), nil
}

// SWJSequence drives an arbitrary bit sequence onto SWDIO, used for the
// JTAG-to-SWD protocol-switch sequence and line reset.
func (s *SerialBitbang) SWJSequence(bits []bool) error {
	dir := make([]bool, len(bits))
	for i := range dir {
		dir[i] = true
	}
	_, err := s.SWDIO(dir, bits)
	return err
}

// SWJPins is unsupported: CTS on this backend only ever reflects SWDIO,
// not an arbitrary pin selection.
func (s *SerialBitbang) SWJPins(out, selectMask Pin, waitUs time.Duration) (PinState, error) {
	return 0, ErrPinsUnsupported
}

func (s *SerialBitbang) ActiveProtocol() Protocol { return ProtocolSWD }

// TargetResetAssert/Deassert are unsupported: a two-control-line adapter
// has no spare line for nRESET. Targets using this backend are expected
// to come out of their own power-on reset instead.
func (s *SerialBitbang) TargetResetAssert() error {
	return fmt.Errorf("probe: serial bit-bang backend has no nRESET line")
}

func (s *SerialBitbang) TargetResetDeassert() error {
	return fmt.Errorf("probe: serial bit-bang backend has no nRESET line")
}
