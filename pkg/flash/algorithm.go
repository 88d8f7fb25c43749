package flash

import (
	"time"

	"github.com/vertexdbg/probeforge/pkg/core"
	"github.com/vertexdbg/probeforge/pkg/dap"
	"github.com/vertexdbg/probeforge/pkg/target"
)

// loadedAlgorithm is the runtime, assembled form of a target.RawFlashAlgorithm:
// every section's absolute RAM address, resolved against a chosen RAM region
// (spec.md §3 "Flash algorithm (loaded form)", §4.4.1).
type loadedAlgorithm struct {
	raw target.RawFlashAlgorithm

	loadAddress uint32   // instruction blob base
	staticBase  uint32   // RW data section, 4-byte aligned after the blob
	beginStack  uint32   // lowest address of the stack region reserved at the end of RAM
	pageBuffers []uint32
	beginData   uint32   // data-staging address used by the simple programming path
}

// doubleBuffered reports whether two page buffers were placed, enabling the
// pipelined programming path of spec.md §4.4.4.
func (a *loadedAlgorithm) doubleBuffered() bool {
	return len(a.pageBuffers) >= 2
}

// assembleAlgorithm lays out raw's instruction blob, RW data, stack and page
// buffer(s) within ram, per spec.md §4.4.1. It does not touch the target;
// call loadAndVerify afterward to write and check the blob.
func assembleAlgorithm(raw target.RawFlashAlgorithm, ram target.MemoryRegion) (*loadedAlgorithm, error) {
	loadAddr := ram.Start
	if raw.LoadAddress != 0 {
		loadAddr = raw.LoadAddress
	}

	codeEnd := loadAddr + alignUp(uint32(len(raw.Instructions)), 4)
	staticBase := codeEnd
	dataEnd := staticBase + alignUp(raw.RAMSizeData, 4)

	nBuffers := 1
	if raw.PageBuffers == target.DoubleBuffer {
		nBuffers = 2
	}
	pageSize := raw.Properties.PageSize
	if pageSize == 0 {
		pageSize = 256
	}

	buffers := make([]uint32, nBuffers)
	cursor := dataEnd
	for i := range buffers {
		buffers[i] = cursor
		cursor += pageSize
	}

	stackTop := ram.End() - alignUp(raw.StackSize, 4)

	if stackTop < cursor {
		return nil, &NoRamDefinedError{Variant: ram.Name}
	}
	if codeEnd > ram.End() || dataEnd > ram.End() {
		return nil, &NoRamDefinedError{Variant: ram.Name}
	}

	return &loadedAlgorithm{
		raw:         raw,
		loadAddress: loadAddr,
		staticBase:  staticBase,
		beginStack:  stackTop,
		pageBuffers: buffers,
		beginData:   buffers[0],
	}, nil
}

func alignUp(v uint32, align uint32) uint32 {
	if align == 0 {
		return v
	}
	rem := v % align
	if rem == 0 {
		return v
	}
	return v + (align - rem)
}

// loadAndVerify halts the core, resets it, writes the instruction blob to
// RAM, and reads it back word-by-word to confirm the write landed
// (spec.md §4.4.2).
func loadAndVerify(c *core.Core, mem *dap.MemAP, a *loadedAlgorithm) error {
	if _, err := c.Halt(100 * time.Millisecond); err != nil {
		return err
	}
	if _, err := c.ResetAndHalt(500 * time.Millisecond); err != nil {
		return err
	}

	words := bytesToWords(a.raw.Instructions)
	if err := mem.WriteMemory32(a.loadAddress, words); err != nil {
		return err
	}

	readback, err := mem.ReadMemory32(a.loadAddress, len(words))
	if err != nil {
		return err
	}
	for i, w := range words {
		if readback[i] != w {
			return &FlashAlgorithmNotLoadedError{Offset: uint32(i * 4)}
		}
	}
	return nil
}

func bytesToWords(b []byte) []uint32 {
	n := (len(b) + 3) / 4
	out := make([]uint32, n)
	for i := 0; i < len(b); i++ {
		out[i/4] |= uint32(b[i]) << uint((i%4)*8)
	}
	return out
}
