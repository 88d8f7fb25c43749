// Package session is the L5 composition root (spec.md §5): it owns a
// probe transport and a target description for the lifetime of a debug
// session, builds the wire/dap/core stack for each core on demand, and
// enforces the "only one core handle open at a time" exclusivity rule.
// There is no worked example of this layer in the teacher's connection
// package (Foenix only ever drives one fixed target), so the wiring
// order below follows spec.md §5/§6 directly: Transport -> wire.Engine
// -> dap.DebugPort -> dap.MemAP -> an architecture-specific core.Driver
// -> core.Core.
package session

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/vertexdbg/probeforge/pkg/core"
	"github.com/vertexdbg/probeforge/pkg/core/armcm"
	"github.com/vertexdbg/probeforge/pkg/core/armv7a"
	"github.com/vertexdbg/probeforge/pkg/core/riscv"
	"github.com/vertexdbg/probeforge/pkg/dap"
	"github.com/vertexdbg/probeforge/pkg/flash"
	"github.com/vertexdbg/probeforge/pkg/probe"
	"github.com/vertexdbg/probeforge/pkg/target"
	"github.com/vertexdbg/probeforge/pkg/wire"
)

// CoreAlreadyAttachedError is returned by AttachCore when a different
// core handle is already open on this session (spec.md §5: "two core
// handles cannot coexist" — the debug port's SELECT/CSW/TAR state is
// shared mutable hardware state, so only one logical owner may hold it).
type CoreAlreadyAttachedError struct {
	Attached string
}

func (e *CoreAlreadyAttachedError) Error() string {
	return fmt.Sprintf("core %q is already attached; detach it before attaching another", e.Attached)
}

// UnknownCoreError is returned by AttachCore when the variant has no core
// by that name.
type UnknownCoreError struct {
	Name string
}

func (e *UnknownCoreError) Error() string {
	return fmt.Sprintf("variant has no core named %q", e.Name)
}

// Session owns a single probe transport for one target variant. It is
// not safe for concurrent use by multiple goroutines, matching
// wire.Engine's own single-threaded contract (spec.md §5).
type Session struct {
	transport probe.Transport
	engine    *wire.Engine
	dp        *dap.DebugPort
	variant   target.ChipVariant
	family    target.ChipFamily
	log       *logrus.Entry

	attachedCore string
}

// Options configures session construction beyond the required transport
// and target description.
type Options struct {
	Settings wire.Settings
	Sequence dap.DebugSequence
	Log      *logrus.Entry
}

// New opens a session against transport, targeting variant within
// family. It runs the debug port bring-up sequence (spec.md §4.2) before
// returning, so a Session is always ready for AttachCore.
func New(transport probe.Transport, family target.ChipFamily, variant target.ChipVariant, opts Options) (*Session, error) {
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	settings := opts.Settings
	if settings == (wire.Settings{}) {
		settings = wire.DefaultSettings()
	}

	engine := wire.NewEngine(transport, settings, log)
	dp := dap.NewDebugPort(engine, opts.Sequence, log)
	if err := dp.Init(); err != nil {
		return nil, fmt.Errorf("session: debug port init: %w", err)
	}

	return &Session{
		transport: transport,
		engine:    engine,
		dp:        dp,
		variant:   variant,
		family:    family,
		log:       log,
	}, nil
}

// Statistics returns the underlying wire engine's bookkeeping counters
// (SPEC_FULL.md §C.1).
func (s *Session) Statistics() wire.Statistics { return s.engine.Statistics() }

// ScanChain walks the JTAG chain (SPEC_FULL.md §C.2); only meaningful
// when the probe's active protocol is JTAG.
func (s *Session) ScanChain() ([]wire.TAPInfo, int, error) {
	return s.engine.ScanChain()
}

// AttachCore builds the architecture-specific driver stack for the named
// core and returns a handle, failing if a different core is already
// attached. DetachCore must be called before attaching a different core.
func (s *Session) AttachCore(name string) (*core.Core, error) {
	if s.attachedCore != "" && s.attachedCore != name {
		return nil, &CoreAlreadyAttachedError{Attached: s.attachedCore}
	}

	tc, ok := s.variant.CoreByName(name)
	if !ok {
		return nil, &UnknownCoreError{Name: name}
	}

	driver, err := s.buildDriver(tc)
	if err != nil {
		return nil, fmt.Errorf("session: attaching core %q: %w", name, err)
	}

	s.attachedCore = name
	return core.New(driver), nil
}

// DetachCore releases the exclusivity claim so a different core may be
// attached. It does not alter the target's run state.
func (s *Session) DetachCore() {
	s.attachedCore = ""
}

func (s *Session) buildDriver(tc target.Core) (core.Driver, error) {
	if tc.CoreType == target.CoreTypeRiscv {
		dmi, err := s.engine.DMI()
		if err != nil {
			return nil, fmt.Errorf("constructing DMI: %w", err)
		}
		return riscv.New(dmi, s.log), nil
	}

	mem := dap.NewMemAP(s.dp, tc.Access.APIndex)
	if tc.CoreType == target.CoreTypeArmv7a {
		return armv7a.New(mem, tc.Access.DebugBase, s.log), nil
	}
	return armcm.New(mem, toCoreKind(tc.CoreType), s.log), nil
}

func toCoreKind(t target.CoreType) core.CoreType {
	switch t {
	case target.CoreTypeArmv6m:
		return core.CoreTypeArmv6m
	case target.CoreTypeArmv7m:
		return core.CoreTypeArmv7m
	case target.CoreTypeArmv7em:
		return core.CoreTypeArmv7em
	case target.CoreTypeArmv8m:
		return core.CoreTypeArmv8m
	case target.CoreTypeArmv7a:
		return core.CoreTypeArmv7a
	default:
		return core.CoreTypeRiscv
	}
}

// MemAP returns a Memory Access Port handle at apIndex, for callers (such
// as pkg/flash) that need raw memory access independent of a core handle
// — e.g. loading a flash algorithm into RAM before the core has even
// started executing it.
func (s *Session) MemAP(apIndex uint8) *dap.MemAP {
	return dap.NewMemAP(s.dp, apIndex)
}

// NewFlasher builds a flash.Flasher for algoName against the core named
// coreName, delegating the RAM-region choice to flash.NewFlasher (which
// picks the first region coreName may access, per spec.md §4.4.1).
func (s *Session) NewFlasher(c *core.Core, coreName string, algoName string) (*flash.Flasher, error) {
	algo, ok := s.family.Algorithm(algoName)
	if !ok {
		return nil, fmt.Errorf("session: unknown flash algorithm %q", algoName)
	}

	mem := s.MemAP(0)
	return flash.NewFlasher(c, mem, s.variant, coreName, algo, s.log)
}
