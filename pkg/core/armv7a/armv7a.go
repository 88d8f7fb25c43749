// Package armv7a implements the spec.md §4.3.2 core driver for Cortex-A
// (ARMv7-A): register access through instruction injection rather than
// direct memory-mapped register reads, grounded on probe-rs's armv7a.rs
// Armv7a driver.
package armv7a

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vertexdbg/probeforge/internal/bitfield"
	"github.com/vertexdbg/probeforge/pkg/core"
	"github.com/vertexdbg/probeforge/pkg/dap"
)

// Debug register word offsets from debug_base, converted to byte offsets.
const (
	offDbgDIDR  uint32 = 0 * 4
	offDbgDTRRX uint32 = 32 * 4
	offDbgITR   uint32 = 33 * 4
	offDbgDSCR  uint32 = 34 * 4
	offDbgDTRTX uint32 = 35 * 4
	offDbgDRCR  uint32 = 36 * 4
	offDbgBVR0  uint32 = 64 * 4
	offDbgBCR0  uint32 = 80 * 4
)

// DBGDSCR bit positions.
const (
	bitDscrHalted     = 0
	bitDscrRestarted  = 1
	bitDscrMoeLo      = 2
	bitDscrSdabortL   = 6
	bitDscrAdabortL   = 7
	bitDscrItren      = 13
	bitDscrInstrcomlL = 24
	bitDscrTxfullL    = 26
	bitDscrRxfullL    = 27
)

var fieldDscrMoe = bitfield.Range{Hi: 5, Lo: 2}

// DBGBCR fields (breakpoint control).
var fieldBcrBT = bitfield.Range{Hi: 23, Lo: 20}
var fieldBcrPMC = bitfield.Range{Hi: 2, Lo: 1}
var fieldBcrBAS = bitfield.Range{Hi: 8, Lo: 5}

const bitBcrHMC = 13
const bitBcrE = 0

const btAddressMatch = 0b0000
const btAddressMismatch = 0b0100

// notHaltedError is returned when an instruction-injection operation is
// attempted while the core is not halted (spec.md §4.3.2's contract).
type notHaltedError struct{}

func (notHaltedError) Error() string { return "core must be halted to inject instructions" }

// dataAbortError is returned when an injected instruction raises a data
// or synchronous abort.
type dataAbortError struct{}

func (dataAbortError) Error() string { return "injected instruction raised a data abort" }

type cachedReg struct {
	value uint32
	dirty bool
}

// Driver implements core.Driver for a Cortex-A core, whose debug
// registers live in an MMIO window anchored at baseAddr.
type Driver struct {
	mem      *dap.MemAP
	baseAddr uint32
	log      *logrus.Entry

	cachedState    core.Status
	itrEnabled     bool
	numBreakpoints *uint32
	registerCache  [17]*cachedReg
}

// New returns a Cortex-A driver whose debug window starts at baseAddr.
func New(mem *dap.MemAP, baseAddr uint32, log *logrus.Entry) *Driver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Driver{mem: mem, baseAddr: baseAddr, log: log, cachedState: core.Unknown()}
}

func (d *Driver) addr(off uint32) uint32 { return d.baseAddr + off }

func (d *Driver) readDSCR() (uint32, error) { return d.mem.ReadWord32(d.addr(offDbgDSCR)) }

// executeInstruction injects instruction through DBGITR, lazily enabling
// ITR, and polls DBGDSCR.InstrCompl_l for completion, aborting on a data
// abort (spec.md §4.3.2's instruction-injection contract).
func (d *Driver) executeInstruction(instruction uint32) (uint32, error) {
	if !d.cachedState.IsHalted() {
		return 0, notHaltedError{}
	}

	if !d.itrEnabled {
		dscr, err := d.readDSCR()
		if err != nil {
			return 0, err
		}
		if err := d.mem.WriteWord32(d.addr(offDbgDSCR), bitfield.SetBool(dscr, bitDscrItren, true)); err != nil {
			return 0, err
		}
		d.itrEnabled = true
	}

	if err := d.mem.WriteWord32(d.addr(offDbgITR), instruction); err != nil {
		return 0, err
	}

	var dscr uint32
	for {
		var err error
		dscr, err = d.readDSCR()
		if err != nil {
			return 0, err
		}
		if bitfield.GetBool(dscr, bitDscrInstrcomlL) {
			break
		}
	}

	if bitfield.GetBool(dscr, bitDscrAdabortL) || bitfield.GetBool(dscr, bitDscrSdabortL) {
		drcr := bitfield.SetBool(uint32(0), 2, true) // CSE
		if err := d.mem.WriteWord32(d.addr(offDbgDRCR), drcr); err != nil {
			return 0, err
		}
		return 0, dataAbortError{}
	}

	return dscr, nil
}

// executeInstructionWithResult injects instruction, then waits for
// DBGDTRTX to fill and reads it (used to move a core register out via
// MCR p14, 0, Rn, c0, c5, 0).
func (d *Driver) executeInstructionWithResult(instruction uint32) (uint32, error) {
	dscr, err := d.executeInstruction(instruction)
	if err != nil {
		return 0, err
	}
	for !bitfield.GetBool(dscr, bitDscrTxfullL) {
		dscr, err = d.readDSCR()
		if err != nil {
			return 0, err
		}
	}
	return d.mem.ReadWord32(d.addr(offDbgDTRTX))
}

// executeInstructionWithInput moves value into DBGDTRRX, waits for
// DBGDSCR.RXfull_l to report it present, then injects instruction (used to move a core register in
// via MRC p14, 0, Rn, c0, c5, 0).
func (d *Driver) executeInstructionWithInput(instruction uint32, value uint32) error {
	if err := d.mem.WriteWord32(d.addr(offDbgDTRRX), value); err != nil {
		return err
	}
	dscr, err := d.readDSCR()
	if err != nil {
		return err
	}
	for !bitfield.GetBool(dscr, bitDscrRxfullL) {
		dscr, err = d.readDSCR()
		if err != nil {
			return err
		}
	}
	_, err = d.executeInstruction(instruction)
	return err
}

func buildMOV(rd, rm uint16) uint32 {
	v := uint32(0b1110_0001_1010_0000_0000_0000_0000_0000)
	v |= uint32(rd) << 12
	v |= uint32(rm)
	return v
}

func buildMCR(coproc, opcode1 uint8, reg uint16, ctrlRegN, ctrlRegM, opcode2 uint8) uint32 {
	v := uint32(0b1110_1110_0000_0000_0000_0000_0001_0000)
	v |= uint32(coproc) << 8
	v |= uint32(opcode1) << 21
	v |= uint32(reg) << 12
	v |= uint32(ctrlRegN) << 16
	v |= uint32(ctrlRegM)
	v |= uint32(opcode2) << 5
	return v
}

func buildMRC(coproc, opcode1 uint8, reg uint16, ctrlRegN, ctrlRegM, opcode2 uint8) uint32 {
	v := uint32(0b1110_1110_0001_0000_0000_0000_0001_0000)
	v |= uint32(coproc) << 8
	v |= uint32(opcode1) << 21
	v |= uint32(reg) << 12
	v |= uint32(ctrlRegN) << 16
	v |= uint32(ctrlRegM)
	v |= uint32(opcode2) << 5
	return v
}

func buildBX(reg uint16) uint32 {
	return uint32(0b1110_0001_0010_1111_1111_1111_0001_0000) | uint32(reg)
}

func buildMRS(reg uint16) uint32 {
	return uint32(0b1110_0001_0000_1111_0000_0000_0000_0000) | uint32(reg)<<12
}

const regPC = 15
const regCPSR = 16

func (d *Driver) resetRegisterCache() {
	for i := range d.registerCache {
		d.registerCache[i] = nil
	}
}

// writebackRegisters flushes every dirty cached register back to the
// core, as run() must before resuming (spec.md §4.3.2).
func (d *Driver) writebackRegisters() error {
	for i, cached := range d.registerCache {
		if cached == nil || !cached.dirty {
			continue
		}
		switch {
		case i <= 14:
			instr := buildMRC(14, 0, uint16(i), 0, 5, 0)
			if err := d.executeInstructionWithInput(instr, cached.value); err != nil {
				return fmt.Errorf("writing back r%d: %w", i, err)
			}
		case i == regPC:
			instr := buildMRC(14, 0, 0, 0, 5, 0)
			if err := d.executeInstructionWithInput(instr, cached.value); err != nil {
				return fmt.Errorf("writing back PC via r0: %w", err)
			}
			if _, err := d.executeInstruction(buildBX(0)); err != nil {
				return fmt.Errorf("bx r0 to restore PC: %w", err)
			}
		default:
			return fmt.Errorf("no writeback path for register %d", i)
		}
	}
	d.resetRegisterCache()
	return nil
}

func (d *Driver) prepareR0ForClobber() error {
	if d.registerCache[0] != nil {
		return nil
	}
	v, err := d.ReadCoreReg(0)
	if err != nil {
		return err
	}
	d.registerCache[0] = &cachedReg{value: v, dirty: true}
	return nil
}

// WaitForHalted polls DBGDSCR.HALTED until set or timeout elapses.
func (d *Driver) WaitForHalted(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		dscr, err := d.readDSCR()
		if err != nil {
			return err
		}
		if bitfield.GetBool(dscr, bitDscrHalted) {
			return nil
		}
		if time.Now().After(deadline) {
			return &core.TimeoutError{Op: "core halt", Elapsed: timeout}
		}
		time.Sleep(time.Millisecond)
	}
}

// Halt requests a halt via DBGDRCR.HRQ and waits for it.
func (d *Driver) Halt(timeout time.Duration) (core.Information, error) {
	if err := d.mem.WriteWord32(d.addr(offDbgDRCR), bitfield.SetBool(0, 0, true)); err != nil { // HRQ
		return core.Information{}, err
	}
	if err := d.WaitForHalted(timeout); err != nil {
		return core.Information{}, err
	}
	d.resetRegisterCache()
	if _, err := d.Status(); err != nil {
		return core.Information{}, err
	}
	pc, err := d.ReadCoreReg(regPC)
	if err != nil {
		return core.Information{}, err
	}
	return core.Information{PC: pc}, nil
}

// Run flushes dirty cached registers, requests a restart via
// DBGDRCR.RRQ, and waits for DBGDSCR.RESTARTED.
func (d *Driver) Run() error {
	if err := d.writebackRegisters(); err != nil {
		return err
	}

	if err := d.mem.WriteWord32(d.addr(offDbgDRCR), bitfield.SetBool(0, 1, true)); err != nil { // RRQ
		return err
	}

	for {
		dscr, err := d.readDSCR()
		if err != nil {
			return err
		}
		if bitfield.GetBool(dscr, bitDscrRestarted) {
			break
		}
	}

	d.cachedState = core.Running()
	_, err := d.Status()
	return err
}

// Step emulates single-step using the last breakpoint unit programmed as
// a mismatch breakpoint at the current PC (spec.md §4.3.2), since
// ARMv7-A has no direct single-step bit.
func (d *Driver) Step() (core.Information, error) {
	n, err := d.AvailableBreakpointUnits()
	if err != nil {
		return core.Information{}, err
	}
	slot := n - 1

	valueAddr := d.addr(offDbgBVR0) + slot*4
	controlAddr := d.addr(offDbgBCR0) + slot*4

	savedValue, err := d.mem.ReadWord32(valueAddr)
	if err != nil {
		return core.Information{}, err
	}
	savedControl, err := d.mem.ReadWord32(controlAddr)
	if err != nil {
		return core.Information{}, err
	}

	pc, err := d.ReadCoreReg(regPC)
	if err != nil {
		return core.Information{}, err
	}

	control := uint32(0)
	control = bitfield.Set(control, fieldBcrBT, btAddressMismatch)
	control = bitfield.SetBool(control, bitBcrHMC, true)
	control = bitfield.Set(control, fieldBcrPMC, 0b11)
	control = bitfield.Set(control, fieldBcrBAS, 0b1111)
	control = bitfield.SetBool(control, bitBcrE, true)

	if err := d.mem.WriteWord32(valueAddr, pc); err != nil {
		return core.Information{}, err
	}
	if err := d.mem.WriteWord32(controlAddr, control); err != nil {
		return core.Information{}, err
	}

	if err := d.Run(); err != nil {
		return core.Information{}, err
	}
	if err := d.WaitForHalted(100 * time.Millisecond); err != nil {
		return core.Information{}, err
	}

	if err := d.mem.WriteWord32(valueAddr, savedValue); err != nil {
		return core.Information{}, err
	}
	if err := d.mem.WriteWord32(controlAddr, savedControl); err != nil {
		return core.Information{}, err
	}

	newPC, err := d.ReadCoreReg(regPC)
	if err != nil {
		return core.Information{}, err
	}
	d.cachedState = core.Halted(core.HaltReasonStep)
	return core.Information{PC: newPC}, nil
}

// Reset only clears the register cache; it does not drive a reset of the
// core (no DBGPRCR/DBGPRSR warm-reset handshake is issued here or by any
// DebugSequence). ResetAndHalt likewise does not reset the core: it
// requests a halt via DBGDRCR.HRQ, waits for it, and clears the cache.
func (d *Driver) Reset() error {
	d.resetRegisterCache()
	return nil
}

func (d *Driver) ResetAndHalt(timeout time.Duration) (core.Information, error) {
	if err := d.mem.WriteWord32(d.addr(offDbgDRCR), bitfield.SetBool(0, 0, true)); err != nil { // HRQ
		return core.Information{}, err
	}
	if err := d.WaitForHalted(timeout); err != nil {
		return core.Information{}, err
	}
	d.resetRegisterCache()
	if _, err := d.Status(); err != nil {
		return core.Information{}, err
	}
	pc, err := d.ReadCoreReg(regPC)
	if err != nil {
		return core.Information{}, err
	}
	return core.Information{PC: pc}, nil
}

// ReadCoreReg reads a core register, caching the result. r0-r14 are read
// directly; PC and CPSR require clobbering r0 first (spec.md §4.3.2).
func (d *Driver) ReadCoreReg(reg uint32) (uint32, error) {
	if int(reg) < len(d.registerCache) {
		if cached := d.registerCache[reg]; cached != nil {
			return cached.value, nil
		}
	}

	var value uint32
	var err error

	switch {
	case reg <= 14:
		instr := buildMCR(14, 0, uint16(reg), 0, 5, 0)
		value, err = d.executeInstructionWithResult(instr)
	case reg == regPC:
		if err = d.prepareR0ForClobber(); err != nil {
			return 0, err
		}
		if _, err = d.executeInstruction(buildMOV(0, 15)); err != nil {
			break
		}
		var raw uint32
		raw, err = d.executeInstructionWithResult(buildMCR(14, 0, 0, 0, 5, 0))
		value = raw - 8 // ARM pipeline offset
	case reg == regCPSR:
		if err = d.prepareR0ForClobber(); err != nil {
			return 0, err
		}
		if _, err = d.executeInstruction(buildMRS(0)); err != nil {
			break
		}
		value, err = d.executeInstructionWithResult(buildMCR(14, 0, 0, 0, 5, 0))
	default:
		err = fmt.Errorf("invalid core register number %d", reg)
	}

	if err != nil {
		return 0, err
	}
	if int(reg) < len(d.registerCache) {
		d.registerCache[reg] = &cachedReg{value: value}
	}
	return value, nil
}

// WriteCoreReg defers the write to the register cache; it is flushed on
// the next Run (spec.md §4.3.2, §5's register-cache invariant). Only r0-r14
// and PC have a writeback path: a dirty CPSR makes the next Run fail.
func (d *Driver) WriteCoreReg(reg uint32, value uint32) error {
	if int(reg) >= len(d.registerCache) {
		return fmt.Errorf("invalid core register number %d", reg)
	}
	d.registerCache[reg] = &cachedReg{value: value, dirty: true}
	return nil
}

// AvailableBreakpointUnits reads DBGDIDR.BRPS (cached after first read,
// since it is a fixed implementation property).
func (d *Driver) AvailableBreakpointUnits() (uint32, error) {
	if d.numBreakpoints != nil {
		return *d.numBreakpoints, nil
	}
	v, err := d.mem.ReadWord32(d.addr(offDbgDIDR))
	if err != nil {
		return 0, err
	}
	n := bitfield.Get(v, bitfield.Range{Hi: 27, Lo: 24}) + 1
	d.numBreakpoints = &n
	return n, nil
}

func (d *Driver) HardwareBreakpoints() ([]*uint32, error) {
	n, err := d.AvailableBreakpointUnits()
	if err != nil {
		return nil, err
	}
	out := make([]*uint32, n)
	for i := uint32(0); i < n; i++ {
		value, err := d.mem.ReadWord32(d.addr(offDbgBVR0) + i*4)
		if err != nil {
			return nil, err
		}
		control, err := d.mem.ReadWord32(d.addr(offDbgBCR0) + i*4)
		if err != nil {
			return nil, err
		}
		if bitfield.GetBool(control, bitBcrE) {
			v := value
			out[i] = &v
		}
	}
	return out, nil
}

// SetHardwareBreakpoint programs slot as an address-match breakpoint
// covering all modes and all four bytes of the instruction word.
func (d *Driver) SetHardwareBreakpoint(slot uint32, addr uint32) error {
	control := uint32(0)
	control = bitfield.Set(control, fieldBcrBT, btAddressMatch)
	control = bitfield.SetBool(control, bitBcrHMC, true)
	control = bitfield.Set(control, fieldBcrPMC, 0b11)
	control = bitfield.Set(control, fieldBcrBAS, 0b1111)
	control = bitfield.SetBool(control, bitBcrE, true)

	if err := d.mem.WriteWord32(d.addr(offDbgBVR0)+slot*4, addr); err != nil {
		return err
	}
	return d.mem.WriteWord32(d.addr(offDbgBCR0)+slot*4, control)
}

func (d *Driver) ClearHardwareBreakpoint(slot uint32) error {
	if err := d.mem.WriteWord32(d.addr(offDbgBVR0)+slot*4, 0); err != nil {
		return err
	}
	return d.mem.WriteWord32(d.addr(offDbgBCR0)+slot*4, 0)
}

// EnableBreakpoints is a no-op: Cortex-A hardware breakpoints are always
// active once programmed (spec.md §4.3.2, matching probe-rs's armv7a).
func (d *Driver) EnableBreakpoints(bool) error { return nil }

func (d *Driver) HardwareBreakpointsEnabled() bool { return true }

// InstructionSet is read from CPSR's T bit.
func (d *Driver) InstructionSet() (core.InstructionSet, error) {
	cpsr, err := d.ReadCoreReg(regCPSR)
	if err != nil {
		return 0, err
	}
	if bitfield.GetBool(cpsr, 5) {
		return core.InstructionSetThumb2, nil
	}
	return core.InstructionSetA32, nil
}

func (d *Driver) Architecture() core.Architecture { return core.ArchitectureARM }
func (d *Driver) CoreType() core.CoreType         { return core.CoreTypeArmv7a }

func decodeMOE(dscr uint32) core.HaltReason {
	if !bitfield.GetBool(dscr, bitDscrHalted) {
		return core.HaltReasonUnknown
	}
	switch bitfield.Get(dscr, fieldDscrMoe) {
	case 0b0000:
		return core.HaltReasonRequest
	case 0b0001, 0b0011, 0b1010:
		return core.HaltReasonBreakpoint
	case 0b0010:
		return core.HaltReasonWatchpoint
	case 0b0100:
		return core.HaltReasonExternal
	case 0b0101, 0b1000:
		return core.HaltReasonException
	default:
		return core.HaltReasonUnknown
	}
}

// Status decodes DBGDSCR.HALTED/MOE (spec.md §4.3.2 via DBGDSCR rather
// than DHCSR/DFSR).
func (d *Driver) Status() (core.Status, error) {
	dscr, err := d.readDSCR()
	if err != nil {
		return core.Unknown(), err
	}

	if bitfield.GetBool(dscr, bitDscrHalted) {
		reason := decodeMOE(dscr)
		d.cachedState = core.Halted(reason)
		return d.cachedState, nil
	}

	if d.cachedState.IsHalted() {
		d.log.Warn("core is running, but was expected to be halted")
	}
	d.cachedState = core.Running()
	return d.cachedState, nil
}
