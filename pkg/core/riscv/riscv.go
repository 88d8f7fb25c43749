// Package riscv implements the spec.md §4.3.3 core driver for RV32: the
// RISC-V external debug spec's abstract commands over the Debug Module
// Interface (DMI), rather than the instruction-injection or
// memory-mapped-register approaches the ARM drivers use. Since no
// worked example of this layer survived the distillation (spec.md
// describes only its prose contract), the abstract command state
// machine here (command/abstractcs/data0) is built from the RISC-V
// external debug spec itself, wired the way pkg/dap wires DP register
// access: typed accessors over a narrow transport interface.
package riscv

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vertexdbg/probeforge/internal/bitfield"
	"github.com/vertexdbg/probeforge/pkg/core"
)

// DMI is the narrow transport a RISC-V driver needs: single-register
// read/write through the Debug Module Interface. Concrete probes
// implement this over whatever their wire.Engine's JTAG DMI scan is.
type DMI interface {
	ReadDMI(addr uint8) (uint32, error)
	WriteDMI(addr uint8, value uint32) error
}

// Debug Module register addresses (RISC-V external debug spec).
const (
	regData0      uint8 = 0x04
	regData1      uint8 = 0x05
	regDMControl  uint8 = 0x10
	regDMStatus   uint8 = 0x11
	regAbstractCS uint8 = 0x16
	regCommand    uint8 = 0x17
)

// dmcontrol bits.
const (
	bitDMActive     = 0
	bitNdmReset     = 1
	bitHaltReq      = 31
	bitResumeReq    = 30
	bitAckHaveReset = 28
)

// dmstatus bits.
const (
	bitAllHalted    = 9
	bitAnyHalted    = 8
	bitAllRunning   = 7
	bitAnyRunning   = 6
	bitAllResumeAck = 17
	bitAnyResumeAck = 16
	bitAllHaveReset = 19
)

// abstractcs bits.
var fieldAbstractCSCmdErr = bitfield.Range{Hi: 10, Lo: 8}

const bitAbstractCSBusy = 12

// command register: access register command, aarsize=2 (32-bit), postexec=0,
// transfer=1, write bit, regno.
var fieldCommandAarSize = bitfield.Range{Hi: 22, Lo: 20}
var fieldCommandRegno = bitfield.Range{Hi: 15, Lo: 0}

const bitCommandTransfer = 17
const bitCommandWrite = 16
const cmdAccessRegister = 0 << 24
const aarSize32 = 2

// CSR numbers used by the driver.
const (
	csrDPC  uint16 = 0x7b1
	csrDCSR uint16 = 0x7b0
)

const regGPR0 uint16 = 0x1000 // GPR x0 register-number base (regno = 0x1000 + n)

// regPC is the pseudo-register address ReadCoreReg/WriteCoreReg use for the
// program counter: RISC-V has no GPR holding PC, so addr 32 (one past the
// x0-x31 GPR range) is routed to the dpc CSR instead (see pkg/flash, which
// needs to forge PC the same way it forges it for ARM's r15).
const regPC uint32 = 32

// dcsr bits.
const (
	bitDcsrEbreakM = 15
	bitDcsrStep    = 2
)

// Driver implements core.Driver for an RV32 hart over DMI.
type Driver struct {
	dmi DMI
	log *logrus.Entry

	cachedState core.Status
}

// New returns a RISC-V driver talking to hart 0 over dmi.
func New(dmi DMI, log *logrus.Entry) *Driver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Driver{dmi: dmi, log: log, cachedState: core.Unknown()}
}

// ensureActive sets dmcontrol.dmactive, required before any other DM
// register access takes effect.
func (d *Driver) ensureActive() error {
	v := bitfield.SetBool(uint32(0), bitDMActive, true)
	return d.dmi.WriteDMI(regDMControl, v)
}

// Status reads dmstatus and reports Halted/Running; RISC-V has no
// Sleeping/LockedUp analogue in this driver's scope.
func (d *Driver) Status() (core.Status, error) {
	status, err := d.dmi.ReadDMI(regDMStatus)
	if err != nil {
		return core.Unknown(), err
	}
	if bitfield.GetBool(status, bitAllHalted) {
		d.cachedState = core.Halted(core.HaltReasonUnknown)
		return d.cachedState, nil
	}
	d.cachedState = core.Running()
	return d.cachedState, nil
}

// WaitForHalted polls dmstatus.allhalted.
func (d *Driver) WaitForHalted(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		status, err := d.dmi.ReadDMI(regDMStatus)
		if err != nil {
			return err
		}
		if bitfield.GetBool(status, bitAllHalted) {
			return nil
		}
		if time.Now().After(deadline) {
			return &core.TimeoutError{Op: "hart halt", Elapsed: timeout}
		}
		time.Sleep(time.Millisecond)
	}
}

// Halt requests a halt via dmcontrol.haltreq and waits for
// dmstatus.allhalted.
func (d *Driver) Halt(timeout time.Duration) (core.Information, error) {
	if err := d.ensureActive(); err != nil {
		return core.Information{}, err
	}
	v := bitfield.SetBool(uint32(0), bitDMActive, true)
	v = bitfield.SetBool(v, bitHaltReq, true)
	if err := d.dmi.WriteDMI(regDMControl, v); err != nil {
		return core.Information{}, err
	}
	if err := d.WaitForHalted(timeout); err != nil {
		return core.Information{}, err
	}
	// haltreq is a request, not sticky state; deassert once halted.
	if err := d.ensureActive(); err != nil {
		return core.Information{}, err
	}
	if _, err := d.Status(); err != nil {
		return core.Information{}, err
	}
	pc, err := d.readDPC()
	if err != nil {
		return core.Information{}, err
	}
	return core.Information{PC: pc}, nil
}

// Run requests resume via dmcontrol.resumereq and waits for
// dmstatus.allresumeack.
func (d *Driver) Run() error {
	v := bitfield.SetBool(uint32(0), bitDMActive, true)
	v = bitfield.SetBool(v, bitResumeReq, true)
	if err := d.dmi.WriteDMI(regDMControl, v); err != nil {
		return err
	}

	const budget = 100 * time.Millisecond
	deadline := time.Now().Add(budget)
	for {
		status, err := d.dmi.ReadDMI(regDMStatus)
		if err != nil {
			return err
		}
		if bitfield.GetBool(status, bitAllResumeAck) {
			break
		}
		if time.Now().After(deadline) {
			return &core.TimeoutError{Op: "hart resume", Elapsed: budget}
		}
		time.Sleep(time.Millisecond)
	}
	d.cachedState = core.Running()
	return d.ensureActive()
}

// Step sets dcsr.step, resumes, and waits for the single-step halt.
func (d *Driver) Step() (core.Information, error) {
	dcsr, err := d.readCSR(csrDCSR)
	if err != nil {
		return core.Information{}, err
	}
	if err := d.writeCSR(csrDCSR, bitfield.SetBool(dcsr, bitDcsrStep, true)); err != nil {
		return core.Information{}, err
	}

	if err := d.Run(); err != nil {
		return core.Information{}, err
	}
	if err := d.WaitForHalted(100 * time.Millisecond); err != nil {
		return core.Information{}, err
	}

	if err := d.writeCSR(csrDCSR, bitfield.SetBool(dcsr, bitDcsrStep, false)); err != nil {
		return core.Information{}, err
	}

	d.cachedState = core.Halted(core.HaltReasonStep)
	pc, err := d.readDPC()
	if err != nil {
		return core.Information{}, err
	}
	return core.Information{PC: pc}, nil
}

// Reset pulses dmcontrol.ndmreset.
func (d *Driver) Reset() error {
	v := bitfield.SetBool(uint32(0), bitDMActive, true)
	v = bitfield.SetBool(v, bitNdmReset, true)
	if err := d.dmi.WriteDMI(regDMControl, v); err != nil {
		return err
	}
	return d.ensureActive()
}

// ResetAndHalt sets haltreq alongside ndmreset, so the hart halts
// immediately out of reset, then waits and clears both requests.
func (d *Driver) ResetAndHalt(timeout time.Duration) (core.Information, error) {
	v := bitfield.SetBool(uint32(0), bitDMActive, true)
	v = bitfield.SetBool(v, bitNdmReset, true)
	v = bitfield.SetBool(v, bitHaltReq, true)
	if err := d.dmi.WriteDMI(regDMControl, v); err != nil {
		return core.Information{}, err
	}

	deadline := time.Now().Add(timeout)
	for {
		status, err := d.dmi.ReadDMI(regDMStatus)
		if err != nil {
			return core.Information{}, err
		}
		if bitfield.GetBool(status, bitAllHaveReset) {
			break
		}
		if time.Now().After(deadline) {
			return core.Information{}, &core.TimeoutError{Op: "hart reset", Elapsed: timeout}
		}
		time.Sleep(time.Millisecond)
	}

	if err := d.ensureActive(); err != nil {
		return core.Information{}, err
	}
	if err := d.WaitForHalted(timeout); err != nil {
		return core.Information{}, err
	}
	if _, err := d.Status(); err != nil {
		return core.Information{}, err
	}

	if err := d.enableEbreak(); err != nil {
		return core.Information{}, err
	}

	pc, err := d.readDPC()
	if err != nil {
		return core.Information{}, err
	}
	return core.Information{PC: pc}, nil
}

// enableEbreak sets dcsr.ebreakm so that an ebreak instruction (used for
// soft breakpoints) traps into debug mode rather than raising a normal
// breakpoint exception (spec.md §4.3.3).
func (d *Driver) enableEbreak() error {
	dcsr, err := d.readCSR(csrDCSR)
	if err != nil {
		return err
	}
	return d.writeCSR(csrDCSR, bitfield.SetBool(dcsr, bitDcsrEbreakM, true))
}

func (d *Driver) readDPC() (uint32, error) { return d.readCSR(csrDPC) }

// runAbstractCommand issues an access-register command over the command
// register and polls abstractcs.busy, failing on a non-zero cmderr
// (RISC-V external debug spec's abstract command state machine).
func (d *Driver) runAbstractCommand(regno uint16, write bool) error {
	cmd := uint32(cmdAccessRegister)
	cmd = bitfield.Set(cmd, fieldCommandAarSize, aarSize32)
	cmd = bitfield.SetBool(cmd, bitCommandTransfer, true)
	cmd = bitfield.SetBool(cmd, bitCommandWrite, write)
	cmd = bitfield.Set(cmd, fieldCommandRegno, uint32(regno))

	if err := d.dmi.WriteDMI(regCommand, cmd); err != nil {
		return err
	}

	const budget = 50 * time.Millisecond
	deadline := time.Now().Add(budget)
	for {
		cs, err := d.dmi.ReadDMI(regAbstractCS)
		if err != nil {
			return err
		}
		if !bitfield.GetBool(cs, bitAbstractCSBusy) {
			if errCode := bitfield.Get(cs, fieldAbstractCSCmdErr); errCode != 0 {
				return fmt.Errorf("abstract command failed for register 0x%04X: cmderr=%d", regno, errCode)
			}
			return nil
		}
		if time.Now().After(deadline) {
			return &core.TimeoutError{Op: "abstract command", Elapsed: budget}
		}
		time.Sleep(time.Millisecond)
	}
}

func (d *Driver) readRegno(regno uint16) (uint32, error) {
	if err := d.runAbstractCommand(regno, false); err != nil {
		return 0, err
	}
	return d.dmi.ReadDMI(regData0)
}

func (d *Driver) writeRegno(regno uint16, value uint32) error {
	if err := d.dmi.WriteDMI(regData0, value); err != nil {
		return err
	}
	return d.runAbstractCommand(regno, true)
}

func (d *Driver) readCSR(csr uint16) (uint32, error) { return d.readRegno(csr) }
func (d *Driver) writeCSR(csr uint16, value uint32) error {
	return d.writeRegno(csr, value)
}

// ReadCoreReg reads GPR x<addr> for addr 0-31, or the program counter (via
// the dpc CSR) for addr == regPC.
func (d *Driver) ReadCoreReg(addr uint32) (uint32, error) {
	if addr == regPC {
		return d.readDPC()
	}
	return d.readRegno(regGPR0 + uint16(addr))
}

func (d *Driver) WriteCoreReg(addr uint32, value uint32) error {
	if addr == regPC {
		return d.writeCSR(csrDPC, value)
	}
	return d.writeRegno(regGPR0+uint16(addr), value)
}

// AvailableBreakpointUnits always reports zero: this driver does not use
// the trigger module, so it has no hardware breakpoint slots (spec.md
// §4.3.3 scopes RV32 breakpoints to software ebreak).
func (d *Driver) AvailableBreakpointUnits() (uint32, error) { return 0, nil }

func (d *Driver) HardwareBreakpoints() ([]*uint32, error) { return nil, nil }

func (d *Driver) SetHardwareBreakpoint(uint32, uint32) error {
	return fmt.Errorf("hardware breakpoints are not implemented for RV32; use software ebreak")
}

func (d *Driver) ClearHardwareBreakpoint(uint32) error {
	return fmt.Errorf("hardware breakpoints are not implemented for RV32; use software ebreak")
}

func (d *Driver) EnableBreakpoints(bool) error     { return nil }
func (d *Driver) HardwareBreakpointsEnabled() bool { return false }

func (d *Driver) InstructionSet() (core.InstructionSet, error) {
	return core.InstructionSetRV32, nil
}

func (d *Driver) Architecture() core.Architecture { return core.ArchitectureRISCV }
func (d *Driver) CoreType() core.CoreType         { return core.CoreTypeRiscv }
