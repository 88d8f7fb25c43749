// Package armcm implements the spec.md §4.3.1 core driver for the
// Cortex-M family (ARMv6-M, ARMv7-M, ARMv7E-M, ARMv8-M): memory-mapped
// debug registers in the System Control Space, grounded on probe-rs's
// armv6m.rs Armv6m driver.
package armcm

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vertexdbg/probeforge/internal/bitfield"
	"github.com/vertexdbg/probeforge/pkg/core"
	"github.com/vertexdbg/probeforge/pkg/dap"
)

// Debug register addresses: System Control Space (base 0xE000_ED00) and
// the FPB/BPU (base 0xE000_2000).
const (
	addrDHCSR   uint32 = 0xE000_EDF0
	addrDCRSR   uint32 = 0xE000_EDF4
	addrDCRDR   uint32 = 0xE000_EDF8
	addrDFSR    uint32 = 0xE000_ED30
	addrAIRCR   uint32 = 0xE000_ED0C
	addrDEMCR   uint32 = 0xE000_EDFC
	addrBPCTRL  uint32 = 0xE000_2000
	addrBPCOMP0 uint32 = 0xE000_2008
)

// dhcsrKey is the write-key every DHCSR write must carry, else the write
// is silently dropped (spec.md §4.3.1).
var dhcsrKey = bitfield.KeyedRegister{Key: 0xA05F}

// aircrKey is AIRCR's write-key (VECTKEY = 0x05FA).
var aircrKey = bitfield.KeyedRegister{Key: 0x05FA}

// DHCSR bit positions.
const (
	bitCDebugEn  = 0
	bitCHalt     = 1
	bitCStep     = 2
	bitCMaskInts = 3
	bitSRegRdy   = 16
	bitSHalt     = 17
	bitSSleep    = 18
	bitSLockup   = 19
)

// DFSR sticky halt-reason bits (spec.md §4.3.1).
const (
	bitDFSRHalted   = 0
	bitDFSRBkpt     = 1
	bitDFSRDwtTrap  = 2
	bitDFSRVCatch   = 3
	bitDFSRExternal = 4
)

// DCRSR selects the register transferred through DCRDR.
const bitDCRSRWrite = 16

// AIRCR bits.
const bitAIRCRSysResetReq = 2

// Core register select codes (ARMv6-M/v7-M core register file).
const (
	regSP   uint32 = 0b01101
	regLR   uint32 = 0b01110
	regPC   uint32 = 0b01111
	regXPSR uint32 = 0b10000
)

const xpsrThumbBit = 1 << 24

// Driver implements core.Driver for a Cortex-M core reached through a
// MEM-AP.
type Driver struct {
	mem  *dap.MemAP
	log  *logrus.Entry
	kind core.CoreType

	cachedState core.Status
	bpEnabled   bool
}

// New returns a Cortex-M driver. kind selects the reported CoreType
// (Armv6m/Armv7m/Armv7em/Armv8m all share this driver's register layout).
func New(mem *dap.MemAP, kind core.CoreType, log *logrus.Entry) *Driver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Driver{mem: mem, log: log, kind: kind, cachedState: core.Unknown()}
}

func (d *Driver) readDHCSR() (uint32, error) {
	v, err := d.mem.ReadWord32(addrDHCSR)
	if err != nil {
		return 0, err
	}
	return bitfield.StripKey(v), nil
}

func (d *Driver) writeDHCSR(value uint32) error {
	return d.mem.WriteWord32(addrDHCSR, dhcsrKey.WithKey(value))
}

// Status decodes DHCSR/DFSR per spec.md §4.3.1: LockedUp, then Sleeping,
// then Halted (decoding and clearing DFSR, preserving the cached reason
// if DFSR now reads zero and the core was already halted), else Running.
func (d *Driver) Status() (core.Status, error) {
	dhcsr, err := d.readDHCSR()
	if err != nil {
		return core.Unknown(), err
	}

	if bitfield.GetBool(dhcsr, bitSLockup) {
		d.log.Warn("core is locked up after an unrecoverable exception")
		d.cachedState = core.LockedUp()
		return d.cachedState, nil
	}

	if bitfield.GetBool(dhcsr, bitSSleep) {
		if d.cachedState.IsHalted() {
			d.log.Warn("expected core to be halted, but core is sleeping")
		}
		d.cachedState = core.Sleeping()
		return d.cachedState, nil
	}

	if bitfield.GetBool(dhcsr, bitSHalt) {
		dfsr, err := d.mem.ReadWord32(addrDFSR)
		if err != nil {
			return core.Unknown(), err
		}
		reason := decodeHaltReason(dfsr)

		if err := d.mem.WriteWord32(addrDFSR, dfsrClearAll()); err != nil {
			return core.Unknown(), err
		}

		if d.cachedState.IsHalted() && reason == core.HaltReasonUnknown {
			d.log.Debugf("cached halt reason preserved: %s", d.cachedState.Reason)
			return d.cachedState, nil
		}

		d.cachedState = core.Halted(reason)
		return d.cachedState, nil
	}

	if d.cachedState.IsHalted() {
		d.log.Warn("core is running, but was expected to be halted")
	}
	d.cachedState = core.Running()
	return d.cachedState, nil
}

// decodeHaltReason maps DFSR's sticky bits to a HaltReason, collapsing
// multiple set bits to HaltReasonMultiple (spec.md §4.3.1).
func decodeHaltReason(dfsr uint32) core.HaltReason {
	var reasons []core.HaltReason
	if bitfield.GetBool(dfsr, bitDFSRExternal) {
		reasons = append(reasons, core.HaltReasonExternal)
	}
	if bitfield.GetBool(dfsr, bitDFSRVCatch) {
		reasons = append(reasons, core.HaltReasonException)
	}
	if bitfield.GetBool(dfsr, bitDFSRDwtTrap) {
		reasons = append(reasons, core.HaltReasonWatchpoint)
	}
	if bitfield.GetBool(dfsr, bitDFSRBkpt) {
		reasons = append(reasons, core.HaltReasonBreakpoint)
	}
	if bitfield.GetBool(dfsr, bitDFSRHalted) {
		reasons = append(reasons, core.HaltReasonRequest)
	}
	switch len(reasons) {
	case 0:
		return core.HaltReasonUnknown
	case 1:
		return reasons[0]
	default:
		return core.HaltReasonMultiple
	}
}

func dfsrClearAll() uint32 {
	v := uint32(0)
	v = bitfield.SetBool(v, bitDFSRHalted, true)
	v = bitfield.SetBool(v, bitDFSRBkpt, true)
	v = bitfield.SetBool(v, bitDFSRDwtTrap, true)
	v = bitfield.SetBool(v, bitDFSRVCatch, true)
	v = bitfield.SetBool(v, bitDFSRExternal, true)
	return v
}

// WaitForHalted polls DHCSR.S_HALT until set or timeout elapses (poll
// interval 1 ms, per spec.md §4.3.1).
func (d *Driver) WaitForHalted(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		dhcsr, err := d.readDHCSR()
		if err != nil {
			return err
		}
		if bitfield.GetBool(dhcsr, bitSHalt) {
			return nil
		}
		if time.Now().After(deadline) {
			return &core.TimeoutError{Op: "core halt", Elapsed: timeout}
		}
		time.Sleep(time.Millisecond)
	}
}

// Halt requests a halt and waits for it to take effect.
func (d *Driver) Halt(timeout time.Duration) (core.Information, error) {
	value := uint32(0)
	value = bitfield.SetBool(value, bitCHalt, true)
	value = bitfield.SetBool(value, bitCDebugEn, true)
	if err := d.writeDHCSR(value); err != nil {
		return core.Information{}, err
	}
	if err := d.WaitForHalted(timeout); err != nil {
		return core.Information{}, err
	}
	if _, err := d.Status(); err != nil {
		return core.Information{}, err
	}
	pc, err := d.ReadCoreReg(regPC)
	if err != nil {
		return core.Information{}, err
	}
	return core.Information{PC: pc}, nil
}

// Run performs a step first (clearing a breakpointed instruction), then
// requests the core run (spec.md §4.3.1).
func (d *Driver) Run() error {
	if _, err := d.Step(); err != nil {
		return fmt.Errorf("stepping over current instruction before run: %w", err)
	}

	value := uint32(0)
	value = bitfield.SetBool(value, bitCDebugEn, true)
	if err := d.writeDHCSR(value); err != nil {
		return err
	}
	d.cachedState = core.Running()
	return nil
}

// Step single-steps the core, temporarily disabling breakpoints if the
// core was halted on one (spec.md §4.3.1).
func (d *Driver) Step() (core.Information, error) {
	wasBreakpoint := d.cachedState.IsHalted() && d.cachedState.Reason == core.HaltReasonBreakpoint
	if wasBreakpoint {
		if err := d.EnableBreakpoints(false); err != nil {
			return core.Information{}, err
		}
	}

	value := uint32(0)
	value = bitfield.SetBool(value, bitCStep, true)
	value = bitfield.SetBool(value, bitCDebugEn, true)
	value = bitfield.SetBool(value, bitCMaskInts, true)
	if err := d.writeDHCSR(value); err != nil {
		return core.Information{}, err
	}
	if err := d.WaitForHalted(100 * time.Millisecond); err != nil {
		return core.Information{}, err
	}

	if wasBreakpoint {
		if err := d.EnableBreakpoints(true); err != nil {
			return core.Information{}, err
		}
	}

	d.cachedState = core.Halted(core.HaltReasonStep)
	pc, err := d.ReadCoreReg(regPC)
	if err != nil {
		return core.Information{}, err
	}
	return core.Information{PC: pc}, nil
}

// Reset requests a system reset via AIRCR.SYSRESETREQ, polling DHCSR
// until S_RESET_ST clears (spec.md §4.3.1's reset_system).
func (d *Driver) Reset() error {
	return d.resetSystem()
}

func (d *Driver) resetSystem() error {
	value := uint32(0)
	value = bitfield.SetBool(value, bitAIRCRSysResetReq, true)
	if err := d.mem.WriteWord32(addrAIRCR, aircrKey.WithKey(value)); err != nil {
		return err
	}

	const budget = 500 * time.Millisecond
	deadline := time.Now().Add(budget)
	for {
		dhcsr, err := d.readDHCSR()
		if err != nil {
			return err
		}
		if !bitfield.GetBool(dhcsr, 25) { // S_RESET_ST
			return nil
		}
		if time.Now().After(deadline) {
			return &core.TimeoutError{Op: "system reset", Elapsed: budget}
		}
		time.Sleep(time.Millisecond)
	}
}

// ResetAndHalt arms a reset vector catch, resets, then ensures the core
// lands in Thumb state before clearing the catch (spec.md §4.3.1).
func (d *Driver) ResetAndHalt(timeout time.Duration) (core.Information, error) {
	demcr, err := d.mem.ReadWord32(addrDEMCR)
	if err != nil {
		return core.Information{}, err
	}
	if err := d.mem.WriteWord32(addrDEMCR, bitfield.SetBool(demcr, 0, true)); err != nil { // VC_CORERESET
		return core.Information{}, err
	}

	if err := d.resetSystem(); err != nil {
		return core.Information{}, err
	}

	if _, err := d.Status(); err != nil {
		return core.Information{}, err
	}

	xpsr, err := d.ReadCoreReg(regXPSR)
	if err != nil {
		return core.Information{}, err
	}
	if xpsr&xpsrThumbBit == 0 {
		if err := d.WriteCoreReg(regXPSR, xpsr|xpsrThumbBit); err != nil {
			return core.Information{}, err
		}
	}

	demcr, err = d.mem.ReadWord32(addrDEMCR)
	if err != nil {
		return core.Information{}, err
	}
	if err := d.mem.WriteWord32(addrDEMCR, bitfield.SetBool(demcr, 0, false)); err != nil {
		return core.Information{}, err
	}

	pc, err := d.ReadCoreReg(regPC)
	if err != nil {
		return core.Information{}, err
	}
	return core.Information{PC: pc}, nil
}

// ReadCoreReg transfers a core register through DCRSR/DCRDR, polling
// DHCSR.S_REGRDY for completion.
func (d *Driver) ReadCoreReg(addr uint32) (uint32, error) {
	if err := d.mem.WriteWord32(addrDCRSR, addr); err != nil {
		return 0, err
	}
	if err := d.waitRegReady(); err != nil {
		return 0, err
	}
	return d.mem.ReadWord32(addrDCRDR)
}

// WriteCoreReg transfers value into a core register through DCRDR/DCRSR.
func (d *Driver) WriteCoreReg(addr uint32, value uint32) error {
	if err := d.mem.WriteWord32(addrDCRDR, value); err != nil {
		return err
	}
	sel := bitfield.SetBool(addr, bitDCRSRWrite, true)
	if err := d.mem.WriteWord32(addrDCRSR, sel); err != nil {
		return err
	}
	return d.waitRegReady()
}

func (d *Driver) waitRegReady() error {
	const budget = 100 * time.Millisecond
	deadline := time.Now().Add(budget)
	for {
		dhcsr, err := d.readDHCSR()
		if err != nil {
			return err
		}
		if bitfield.GetBool(dhcsr, bitSRegRdy) {
			return nil
		}
		if time.Now().After(deadline) {
			return &core.TimeoutError{Op: "core register transfer", Elapsed: budget}
		}
		time.Sleep(time.Millisecond)
	}
}

// AvailableBreakpointUnits reads BP_CTRL.NUM_CODE.
func (d *Driver) AvailableBreakpointUnits() (uint32, error) {
	v, err := d.mem.ReadWord32(addrBPCTRL)
	if err != nil {
		return 0, err
	}
	return bitfield.Get(v, bitfield.Range{Hi: 7, Lo: 4}), nil
}

// HardwareBreakpoints returns the address held in each slot, or nil for
// an empty slot.
func (d *Driver) HardwareBreakpoints() ([]*uint32, error) {
	n, err := d.AvailableBreakpointUnits()
	if err != nil {
		return nil, err
	}
	out := make([]*uint32, n)
	for i := uint32(0); i < n; i++ {
		v, err := d.mem.ReadWord32(addrBPCOMP0 + i*4)
		if err != nil {
			return nil, err
		}
		if !bitfield.GetBool(v, 0) { // enable
			continue
		}
		addr, err := breakpointComparatorAddress(v)
		if err != nil {
			return nil, err
		}
		out[i] = &addr
	}
	return out, nil
}

var fieldBPMatch = bitfield.Range{Hi: 31, Lo: 30}
var fieldBPComp = bitfield.Range{Hi: 28, Lo: 2}

func breakpointComparatorAddress(raw uint32) (uint32, error) {
	comp := bitfield.Get(raw, fieldBPComp) << 2
	switch bitfield.Get(raw, fieldBPMatch) {
	case 0b01:
		return comp, nil
	case 0b10:
		return comp | 0x2, nil
	default:
		return 0, fmt.Errorf("unsupported breakpoint comparator match field in 0x%08X", raw)
	}
}

// SetHardwareBreakpoint programs slot to trigger at addr, which must be
// below 0x2000_0000 (the FPB only covers code memory).
func (d *Driver) SetHardwareBreakpoint(slot uint32, addr uint32) error {
	if addr >= 0x2000_0000 {
		return fmt.Errorf("address 0x%08X is not code memory, hardware breakpoints require < 0x2000_0000", addr)
	}

	value := uint32(0)
	if addr%4 < 2 {
		value = bitfield.Set(value, fieldBPMatch, 0b01)
	} else {
		value = bitfield.Set(value, fieldBPMatch, 0b10)
	}
	value = bitfield.Set(value, fieldBPComp, (addr>>2)&0x07FF_FFFF)
	value = bitfield.SetBool(value, 0, true)

	return d.mem.WriteWord32(addrBPCOMP0+slot*4, value)
}

// ClearHardwareBreakpoint disables slot.
func (d *Driver) ClearHardwareBreakpoint(slot uint32) error {
	return d.mem.WriteWord32(addrBPCOMP0+slot*4, 0)
}

// EnableBreakpoints toggles BP_CTRL's global enable.
func (d *Driver) EnableBreakpoints(enable bool) error {
	d.log.Debugf("setting breakpoints enabled: %v", enable)
	value := uint32(0)
	value = bitfield.SetBool(value, 1, true) // KEY, SBO
	value = bitfield.SetBool(value, 0, enable)
	if err := d.mem.WriteWord32(addrBPCTRL, value); err != nil {
		return err
	}
	d.bpEnabled = enable
	return nil
}

func (d *Driver) HardwareBreakpointsEnabled() bool { return d.bpEnabled }

func (d *Driver) InstructionSet() (core.InstructionSet, error) {
	return core.InstructionSetThumb2, nil
}

func (d *Driver) Architecture() core.Architecture { return core.ArchitectureARM }
func (d *Driver) CoreType() core.CoreType         { return d.kind }
