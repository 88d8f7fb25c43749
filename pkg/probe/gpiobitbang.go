package probe

import (
	"fmt"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"
)

// GPIOBitbang drives SWD and JTAG directly over a Raspberry Pi's GPIO
// header, the bit-bang backend spec.md §6 names explicitly. Grounded on
// the `periph.io/x/periph` GPIO/host stack (the `google-periph` pack
// entry's `host/bcm283x` driver is what `host.Init()` below loads on a
// Pi): each wire-protocol signal is one `gpio.PinIO`, driven or sampled
// directly, with no hardware clock divider — timing is a plain
// `time.Sleep` half-period, coarser than a dedicated probe chip's.
type GPIOBitbang struct {
	clk, swdio    gpio.PinIO
	tms, tdi, tdo gpio.PinIO
	halfClock     time.Duration
	protocol      Protocol
}

// GPIOPins names the header pins a GPIOBitbang drives. SWD needs Clk and
// SWDIO; JTAG additionally needs TMS, TDI and TDO (TDI/TDO are distinct
// unidirectional lines, unlike SWD's single bidirectional SWDIO).
type GPIOPins struct {
	Clk, SWDIO    string
	TMS, TDI, TDO string
}

// OpenGPIOBitbang initializes the periph host drivers and resolves
// pins.Clk/SWDIO (and TMS/TDI/TDO, if given) by name (e.g. "GPIO4").
// protocol selects which wire protocol this instance drives; a caller
// needing both opens two instances sharing no pins.
func OpenGPIOBitbang(pins GPIOPins, protocol Protocol, halfClock time.Duration) (*GPIOBitbang, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("probe: initializing periph host drivers: %w", err)
	}

	b := &GPIOBitbang{protocol: protocol, halfClock: halfClock}
	if b.halfClock <= 0 {
		b.halfClock = 5 * time.Microsecond
	}

	var err error
	if b.clk, err = resolvePin(pins.Clk); err != nil {
		return nil, err
	}
	if protocol == ProtocolJTAG {
		if b.tms, err = resolvePin(pins.TMS); err != nil {
			return nil, err
		}
		if b.tdi, err = resolvePin(pins.TDI); err != nil {
			return nil, err
		}
		if b.tdo, err = resolvePin(pins.TDO); err != nil {
			return nil, err
		}
	} else {
		if b.swdio, err = resolvePin(pins.SWDIO); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func resolvePin(name string) (gpio.PinIO, error) {
	if name == "" {
		return nil, fmt.Errorf("probe: GPIO pin name is required")
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("probe: unknown GPIO pin %q", name)
	}
	return p, nil
}

func (b *GPIOBitbang) clockPulse() error {
	if err := b.clk.Out(gpio.High); err != nil {
		return err
	}
	time.Sleep(b.halfClock)
	if err := b.clk.Out(gpio.Low); err != nil {
		return err
	}
	time.Sleep(b.halfClock)
	return nil
}

// SWDIO drives/samples the SWDIO pin per the probe.Transport contract,
// reconfiguring its direction (periph's In/Out) on every bit to honor a
// driven-vs-released request, the direct GPIO analogue of an ARM
// SWJ-DP's own line turnaround.
func (b *GPIOBitbang) SWDIO(dirBits, ioBits []bool) ([]bool, error) {
	if b.swdio == nil {
		return nil, fmt.Errorf("probe: this backend was opened for %s, not SWD", b.protocol)
	}
	if len(dirBits) != len(ioBits) {
		return nil, fmt.Errorf("probe: SWDIO dir/io length mismatch (%d vs %d)", len(dirBits), len(ioBits))
	}
	out := make([]bool, len(dirBits))
	for i := range dirBits {
		if dirBits[i] {
			if err := b.swdio.Out(gpio.Level(ioBits[i])); err != nil {
				return nil, err
			}
		} else {
			if err := b.swdio.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
				return nil, err
			}
		}
		out[i] = bool(b.swdio.Read())
		if err := b.clockPulse(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// JTAGIO shifts tmsBits/tdiBits out on TMS/TDI, sampling TDO each cycle.
func (b *GPIOBitbang) JTAGIO(tmsBits, tdiBits []bool) ([]bool, error) {
	if b.tms == nil {
		return nil, fmt.Errorf("probe: this backend was opened for %s, not JTAG", b.protocol)
	}
	if len(tmsBits) != len(tdiBits) {
		return nil, fmt.Errorf("probe: JTAGIO tms/tdi length mismatch (%d vs %d)", len(tmsBits), len(tdiBits))
	}
	out := make([]bool, len(tmsBits))
	for i := range tmsBits {
		if err := b.tms.Out(gpio.Level(tmsBits[i])); err != nil {
			return nil, err
		}
		if err := b.tdi.Out(gpio.Level(tdiBits[i])); err != nil {
			return nil, err
		}
		out[i] = bool(b.tdo.Read())
		if err := b.clockPulse(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SetSpeed retunes the clock half-period to approximate khz.
func (b *GPIOBitbang) SetSpeed(khz int) (int, error) {
	if khz <= 0 {
		return 0, fmt.Errorf("probe: SetSpeed requires a positive rate, got %d", khz)
	}
	b.halfClock = time.Second / time.Duration(2*khz*1000)
	if b.halfClock <= 0 {
		b.halfClock = time.Microsecond
	}
	return int(time.Second / (2 * b.halfClock) / 1000), nil
}

// SWJSequence drives bits onto SWDIO (or TMS, with TDI held high, under
// JTAG) with the clock
// running continuously, used for the JTAG-to-SWD switch sequence and
// line reset.
func (b *GPIOBitbang) SWJSequence(bits []bool) error {
	dir := make([]bool, len(bits))
	for i := range dir {
		dir[i] = true
	}
	if b.protocol == ProtocolJTAG {
		_, err := b.JTAGIO(bits, dir)
		return err
	}
	_, err := b.SWDIO(dir, bits)
	return err
}

// SWJPins reports ErrPinsUnsupported: this backend's pins are dedicated
// to the wire protocol, not exposed for arbitrary sampling (spec.md §9's
// Open Question — see pkg/probe/probe.go's resolution).
func (b *GPIOBitbang) SWJPins(out, selectMask Pin, waitUs time.Duration) (PinState, error) {
	return 0, ErrPinsUnsupported
}

func (b *GPIOBitbang) ActiveProtocol() Protocol { return b.protocol }

// TargetResetAssert/Deassert are unsupported until a reset pin is wired
// up by a caller-supplied GPIOPins extension; most Pi HATs tie nRESET to
// a jumper rather than a GPIO this backend owns.
func (b *GPIOBitbang) TargetResetAssert() error {
	return fmt.Errorf("probe: GPIO bit-bang backend has no nRESET pin configured")
}

func (b *GPIOBitbang) TargetResetDeassert() error {
	return fmt.Errorf("probe: GPIO bit-bang backend has no nRESET pin configured")
}
