// Package flash implements the L4 flash-programming engine (spec.md §4.4):
// assembling a raw flash algorithm into target RAM, invoking its entry
// points by forging CPU state, and orchestrating erase/program pipelines
// with optional double-buffered streaming. It is grounded in probe-rs's
// flashing/flasher.rs, generalized from that file's Cortex-M/-A register
// conventions to also cover RISC-V (spec.md §4.4.3).
package flash

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vertexdbg/probeforge/pkg/core"
	"github.com/vertexdbg/probeforge/pkg/dap"
	"github.com/vertexdbg/probeforge/pkg/target"
)

// operation is the O::operation() discriminant the flash algorithm's init
// routine receives, distinguishing why it was called.
type operation uint32

const (
	opErase   operation = 1
	opProgram operation = 2
	opVerify  operation = 3
)

// Flasher drives a single flash algorithm against one core: it owns the
// algorithm's RAM placement and exposes the init/uninit/program_page/
// erase_sector/erase_all/verify entry points as Go methods.
type Flasher struct {
	core *core.Core
	mem  *dap.MemAP
	algo *loadedAlgorithm
	regs callRegisters
	log  *logrus.Entry
}

// NewFlasher picks a RAM region reachable by coreName, assembles raw
// against it, and loads+verifies the algorithm (spec.md §4.4.1-2).
func NewFlasher(c *core.Core, mem *dap.MemAP, variant target.ChipVariant, coreName string, raw target.RawFlashAlgorithm, log *logrus.Entry) (*Flasher, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	var chosen *target.MemoryRegion
	for _, r := range variant.RAMRegions() {
		if len(r.AccessCores) == 0 || containsCore(r.AccessCores, coreName) {
			region := r
			chosen = &region
			break
		}
	}
	if chosen == nil {
		return nil, &NoRamDefinedError{Variant: variant.Name}
	}

	algo, err := assembleAlgorithm(raw, *chosen)
	if err != nil {
		return nil, err
	}

	f := &Flasher{
		core: c,
		mem:  mem,
		algo: algo,
		regs: registersFor(c.Architecture()),
		log:  log,
	}

	log.Debugf("loading flash algorithm %q into RAM at 0x%08X", raw.Name, algo.loadAddress)
	if err := loadAndVerify(c, mem, algo); err != nil {
		return nil, err
	}
	return f, nil
}

func containsCore(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// DoubleBufferingSupported reports whether the loaded algorithm placed two
// page buffers, enabling the pipelined program path.
func (f *Flasher) DoubleBufferingSupported() bool { return f.algo.doubleBuffered() }

// ChipEraseSupported reports whether the algorithm declares an erase_all
// entry point.
func (f *Flasher) ChipEraseSupported() bool { return f.algo.raw.EntryPoints.EraseAll != 0 }

// registerCall is one core register to set before invoking an entry point;
// a nil Value leaves that register untouched (spec.md §4.4.3).
type registerCall struct {
	Addr  uint32
	Value *uint32
}

func val(v uint32) *uint32 { return &v }

// callFunction forges the arguments, stack, static base and return address
// into the core's registers, sets PC to entry, and resumes (spec.md §4.4.3).
// init controls whether static_base/SP are (re-)primed: those only need
// setting once, on the init call, per the source algorithm's calling
// convention.
func (f *Flasher) callFunction(entry uint32, args [4]*uint32, init bool) error {
	instrSet, err := f.core.InstructionSet()
	if err != nil {
		return err
	}
	returnAddr := f.algo.loadAddress
	if instrSet == core.InstructionSetThumb2 {
		returnAddr++ // stay in Thumb mode when the routine returns (spec.md §4.4.3)
	}

	calls := []registerCall{
		{Addr: f.regs.PC, Value: val(entry)},
		{Addr: f.regs.Arg[0], Value: args[0]},
		{Addr: f.regs.Arg[1], Value: args[1]},
		{Addr: f.regs.Arg[2], Value: args[2]},
		{Addr: f.regs.Arg[3], Value: args[3]},
		{Addr: f.regs.ReturnAddr, Value: val(returnAddr)},
	}
	if init {
		calls = append(calls,
			registerCall{Addr: f.regs.StaticBase, Value: val(f.algo.staticBase)},
			registerCall{Addr: f.regs.StackPtr, Value: val(f.algo.beginStack)},
		)
	}

	for _, rc := range calls {
		if rc.Value == nil {
			continue
		}
		if err := f.core.WriteCoreReg(rc.Addr, *rc.Value); err != nil {
			return fmt.Errorf("writing register %d for routine call: %w", rc.Addr, err)
		}
	}

	if f.core.Architecture() == core.ArchitectureRISCV {
		// ebreak must trap to debug mode for the page-buffer program
		// loop's breakpoint-on-return to halt the hart (spec.md §4.3.3).
		dcsr, err := f.core.ReadCoreReg(0x7b0)
		if err != nil {
			return err
		}
		if err := f.core.WriteCoreReg(0x7b0, dcsr|(1<<15)|(1<<13)|(1<<12)); err != nil {
			return err
		}
	}

	return f.core.Run()
}

// waitForCompletion waits for the routine to halt and reads its result
// register (spec.md §4.4.3: "non-zero return fails RoutineCallFailed").
func (f *Flasher) waitForCompletion(timeout time.Duration) (uint32, error) {
	if err := f.core.WaitForHalted(timeout); err != nil {
		return 0, err
	}
	return f.core.ReadCoreReg(f.regs.ResultReg0)
}

func (f *Flasher) callFunctionAndWait(entry uint32, args [4]*uint32, init bool, timeout time.Duration) (uint32, error) {
	if err := f.callFunction(entry, args, init); err != nil {
		return 0, err
	}
	return f.waitForCompletion(timeout)
}

// Init runs the algorithm's init entry point, if declared.
func (f *Flasher) Init(op operation, addr uint32) error {
	if f.algo.raw.EntryPoints.Init == 0 {
		return nil
	}
	result, err := f.callFunctionAndWait(f.algo.raw.EntryPoints.Init, [4]*uint32{val(addr), val(0), val(uint32(op)), nil}, true, 2*time.Second)
	if err != nil {
		return &InitError{Cause: err}
	}
	if result != 0 {
		return &InitError{Cause: &RoutineCallFailedError{Name: "init", Code: result}}
	}
	return nil
}

// uninitLogged runs Uninit and logs, rather than propagates, any failure:
// callers invoke it from a defer after their own operation already
// succeeded or failed, and an uninit error should not mask that result.
func (f *Flasher) uninitLogged(op operation) {
	if err := f.Uninit(op); err != nil {
		f.log.WithError(err).Warn("flash algorithm uninit failed")
	}
}

// Uninit runs the algorithm's uninit entry point, if declared.
func (f *Flasher) Uninit(op operation) error {
	if f.algo.raw.EntryPoints.Uninit == 0 {
		return nil
	}
	result, err := f.callFunctionAndWait(f.algo.raw.EntryPoints.Uninit, [4]*uint32{val(uint32(op)), nil, nil, nil}, false, 2*time.Second)
	if err != nil {
		return &UninitError{Cause: err}
	}
	if result != 0 {
		return &UninitError{Cause: &RoutineCallFailedError{Name: "uninit", Code: result}}
	}
	return nil
}

// EraseAll invokes the chip-wide erase entry point.
func (f *Flasher) EraseAll() error {
	if !f.ChipEraseSupported() {
		return &ChipEraseNotSupportedError{}
	}
	result, err := f.callFunctionAndWait(f.algo.raw.EntryPoints.EraseAll, [4]*uint32{nil, nil, nil, nil}, false, 30*time.Second)
	if err != nil {
		return err
	}
	if result != 0 {
		return &RoutineCallFailedError{Name: "erase_all", Code: result}
	}
	return nil
}

// EraseSector invokes pc_erase_sector(addr).
func (f *Flasher) EraseSector(addr uint32) error {
	timeout := time.Duration(f.algo.raw.Properties.EraseSectorTimeoutMillis) * time.Millisecond
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	result, err := f.callFunctionAndWait(f.algo.raw.EntryPoints.EraseSector, [4]*uint32{val(addr), nil, nil, nil}, false, timeout)
	if err != nil {
		return &EraseFailedError{SectorAddr: addr, Cause: err}
	}
	if result != 0 {
		return &EraseFailedError{SectorAddr: addr, Cause: &RoutineCallFailedError{Name: "erase_sector", Code: result}}
	}
	return nil
}

// ProgramPage transfers bytes to begin_data and calls pc_program_page, the
// simple (non-pipelined) programming path.
func (f *Flasher) ProgramPage(addr uint32, data []byte) error {
	if err := f.mem.WriteMemory32(f.algo.beginData, bytesToWords(data)); err != nil {
		return &PageWriteError{PageAddr: addr, Cause: err}
	}
	timeout := time.Duration(f.algo.raw.Properties.ProgramPageTimeoutMillis) * time.Millisecond
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	result, err := f.callFunctionAndWait(f.algo.raw.EntryPoints.ProgramPage, [4]*uint32{val(addr), val(uint32(len(data))), val(f.algo.beginData), nil}, false, timeout)
	if err != nil {
		return &PageWriteError{PageAddr: addr, Cause: err}
	}
	if result != 0 {
		return &PageWriteError{PageAddr: addr, Cause: &RoutineCallFailedError{Name: "program_page", Code: result}}
	}
	return nil
}

// LoadPageBuffer transfers data into page buffer bufIdx, without invoking
// the algorithm (the host→RAM half of the double-buffer pipeline).
func (f *Flasher) LoadPageBuffer(data []byte, bufIdx int) error {
	if bufIdx >= len(f.algo.pageBuffers) {
		return fmt.Errorf("page buffer index %d out of range (have %d)", bufIdx, len(f.algo.pageBuffers))
	}
	return f.mem.WriteMemory32(f.algo.pageBuffers[bufIdx], bytesToWords(data))
}

// StartProgramPage begins an asynchronous program_page(addr, buffer bufIdx)
// call without waiting for completion, so the host can push the next
// page's bytes into the other buffer while it runs.
func (f *Flasher) StartProgramPage(addr uint32, bufIdx int) error {
	if bufIdx >= len(f.algo.pageBuffers) {
		return fmt.Errorf("page buffer index %d out of range (have %d)", bufIdx, len(f.algo.pageBuffers))
	}
	pageSize := f.algo.raw.Properties.PageSize
	return f.callFunction(f.algo.raw.EntryPoints.ProgramPage, [4]*uint32{val(addr), val(pageSize), val(f.algo.pageBuffers[bufIdx]), nil}, false)
}

// WaitForProgramComplete waits for an asynchronous StartProgramPage call to
// finish and returns its result register.
func (f *Flasher) WaitForProgramComplete(timeout time.Duration) (uint32, error) {
	return f.waitForCompletion(timeout)
}

// ReadFlash reads size bytes of flash at addr into dst, used to fill
// restore-unwritten spans (spec.md §4.4.4 step 2).
func (f *Flasher) ReadFlash(addr uint32, dst []byte) error {
	words, err := f.mem.ReadMemory32(addr, (len(dst)+3)/4)
	if err != nil {
		return err
	}
	for i := range dst {
		dst[i] = byte(words[i/4] >> uint((i%4)*8))
	}
	return nil
}
