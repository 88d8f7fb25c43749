package core

import (
	"fmt"
	"time"
)

// NoAvailableBreakpointUnitsError is returned by SetBreakpoint when every
// hardware breakpoint slot is already occupied.
type NoAvailableBreakpointUnitsError struct{}

func (*NoAvailableBreakpointUnitsError) Error() string {
	return "no available hardware breakpoint units"
}

// Core is the handle callers use: it wraps a Driver and composes its raw
// slot operations into the "set/clear breakpoint at address" policy
// spec.md §4.3 describes, so callers never juggle slot indices directly.
type Core struct {
	driver Driver
}

// New wraps driver as a Core handle.
func New(driver Driver) *Core {
	return &Core{driver: driver}
}

func (c *Core) Status() (Status, error)                         { return c.driver.Status() }
func (c *Core) Halt(timeout time.Duration) (Information, error) { return c.driver.Halt(timeout) }
func (c *Core) Run() error                                      { return c.driver.Run() }
func (c *Core) Step() (Information, error)                      { return c.driver.Step() }
func (c *Core) Reset() error                                    { return c.driver.Reset() }
func (c *Core) WaitForHalted(timeout time.Duration) error       { return c.driver.WaitForHalted(timeout) }
func (c *Core) ReadCoreReg(addr uint32) (uint32, error)         { return c.driver.ReadCoreReg(addr) }
func (c *Core) WriteCoreReg(addr uint32, value uint32) error    { return c.driver.WriteCoreReg(addr, value) }
func (c *Core) InstructionSet() (InstructionSet, error)         { return c.driver.InstructionSet() }
func (c *Core) Architecture() Architecture                      { return c.driver.Architecture() }
func (c *Core) CoreType() CoreType                              { return c.driver.CoreType() }

func (c *Core) ResetAndHalt(timeout time.Duration) (Information, error) {
	return c.driver.ResetAndHalt(timeout)
}

// SetBreakpoint installs a hardware breakpoint at addr, reusing the slot
// already holding addr if one exists, otherwise claiming the first empty
// slot. Enables breakpoints globally if they were not already enabled.
// Returns NoAvailableBreakpointUnitsError if every slot is occupied.
func (c *Core) SetBreakpoint(addr uint32) error {
	slots, err := c.driver.HardwareBreakpoints()
	if err != nil {
		return fmt.Errorf("reading hardware breakpoint slots: %w", err)
	}

	freeSlot := -1
	for i, occupant := range slots {
		if occupant != nil && *occupant == addr {
			return nil
		}
		if occupant == nil && freeSlot == -1 {
			freeSlot = i
		}
	}
	if freeSlot == -1 {
		return &NoAvailableBreakpointUnitsError{}
	}

	if err := c.driver.SetHardwareBreakpoint(uint32(freeSlot), addr); err != nil {
		return fmt.Errorf("setting breakpoint at 0x%08X in slot %d: %w", addr, freeSlot, err)
	}
	if !c.driver.HardwareBreakpointsEnabled() {
		if err := c.driver.EnableBreakpoints(true); err != nil {
			return fmt.Errorf("enabling breakpoints: %w", err)
		}
	}
	return nil
}

// ClearBreakpoint removes the hardware breakpoint at addr, if any slot
// holds it. A no-op if addr has no breakpoint.
func (c *Core) ClearBreakpoint(addr uint32) error {
	slots, err := c.driver.HardwareBreakpoints()
	if err != nil {
		return fmt.Errorf("reading hardware breakpoint slots: %w", err)
	}
	for i, occupant := range slots {
		if occupant != nil && *occupant == addr {
			if err := c.driver.ClearHardwareBreakpoint(uint32(i)); err != nil {
				return fmt.Errorf("clearing breakpoint at 0x%08X in slot %d: %w", addr, i, err)
			}
			return nil
		}
	}
	return nil
}

// ClearAllBreakpoints clears every occupied hardware breakpoint slot.
func (c *Core) ClearAllBreakpoints() error {
	slots, err := c.driver.HardwareBreakpoints()
	if err != nil {
		return fmt.Errorf("reading hardware breakpoint slots: %w", err)
	}
	for i, occupant := range slots {
		if occupant == nil {
			continue
		}
		if err := c.driver.ClearHardwareBreakpoint(uint32(i)); err != nil {
			return fmt.Errorf("clearing breakpoint in slot %d: %w", i, err)
		}
	}
	return nil
}
