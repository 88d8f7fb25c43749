package dap

import "github.com/vertexdbg/probeforge/internal/bitfield"

// MEM-AP register addresses within its bank (spec.md §4.2).
const (
	RegCSW uint8 = 0x00
	RegTAR uint8 = 0x04
	RegDRW uint8 = 0x0C
)

// CSW size field values (spec.md §4.2 "byte and half-word accesses modify
// CSW size").
const (
	cswSize8  uint32 = 0b000
	cswSize16 uint32 = 0b001
	cswSize32 uint32 = 0b010
)

var fieldCSWSize = bitfield.Range{Hi: 2, Lo: 0}

// cswAutoIncrementSingle selects auto-increment-by-access-size within the
// TAR window (the only mode probeforge's MemAP uses).
const cswAutoIncrementSingle uint32 = 0b01 << 4

// tarWindowSize is the TAR auto-increment window, "typically 1 KiB on
// ARM" per spec.md §4.2.
const tarWindowSize = 0x400

// MemAP is a Memory Access Port: the principal AP, translating reads and
// writes into target bus transactions through CSW/TAR/DRW.
type MemAP struct {
	dp      *DebugPort
	apIndex uint8
}

// NewMemAP returns a MemAP handle for the Access Port at apIndex.
func NewMemAP(dp *DebugPort, apIndex uint8) *MemAP {
	return &MemAP{dp: dp, apIndex: apIndex}
}

func (m *MemAP) programCSW(size uint32) error {
	csw := bitfield.Set(cswAutoIncrementSingle, fieldCSWSize, size)
	return m.dp.WriteAP(m.apIndex, RegCSW, csw)
}

func (m *MemAP) programTAR(addr uint32) error {
	return m.dp.WriteAP(m.apIndex, RegTAR, addr)
}

// windowChunk returns how many 4-byte words can be transferred starting
// at cur before the TAR auto-increment window wraps, capped at remaining
// (spec.md §4.2 step 4: "if the span crosses a TAR window boundary,
// reprogram TAR at each boundary").
func windowChunk(cur uint32, remaining int) int {
	inWindow := int((tarWindowSize - cur%tarWindowSize) / 4)
	if remaining < inWindow {
		return remaining
	}
	return inWindow
}

// ReadMemory32 reads n words starting at addr, reprogramming TAR at each
// 1 KiB window boundary the span crosses (spec.md §4.2 step 4).
func (m *MemAP) ReadMemory32(addr uint32, n int) ([]uint32, error) {
	if n == 0 {
		return nil, nil
	}
	if err := m.programCSW(cswSize32); err != nil {
		return nil, err
	}

	out := make([]uint32, 0, n)
	cur := addr
	remaining := n
	first := true
	for remaining > 0 {
		if first || cur%tarWindowSize == 0 {
			if err := m.programTAR(cur); err != nil {
				return nil, err
			}
			first = false
		}
		chunk := windowChunk(cur, remaining)
		for i := 0; i < chunk; i++ {
			v, err := m.dp.ReadAP(m.apIndex, RegDRW)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		cur += uint32(chunk * 4)
		remaining -= chunk
	}
	return out, nil
}

// WriteMemory32 writes data starting at addr, reprogramming TAR at each
// 1 KiB window boundary crossed.
func (m *MemAP) WriteMemory32(addr uint32, data []uint32) error {
	if len(data) == 0 {
		return nil
	}
	if err := m.programCSW(cswSize32); err != nil {
		return err
	}

	cur := addr
	idx := 0
	first := true
	for idx < len(data) {
		if first || cur%tarWindowSize == 0 {
			if err := m.programTAR(cur); err != nil {
				return err
			}
			first = false
		}
		chunk := windowChunk(cur, len(data)-idx)
		for i := 0; i < chunk; i++ {
			if err := m.dp.WriteAP(m.apIndex, RegDRW, data[idx+i]); err != nil {
				return err
			}
		}
		cur += uint32(chunk * 4)
		idx += chunk
	}
	return nil
}

// ReadWord32 reads a single 32-bit word at addr, the access pattern core
// drivers use to poll and read memory-mapped debug registers.
func (m *MemAP) ReadWord32(addr uint32) (uint32, error) {
	v, err := m.ReadMemory32(addr, 1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

// WriteWord32 writes a single 32-bit word at addr.
func (m *MemAP) WriteWord32(addr uint32, value uint32) error {
	return m.WriteMemory32(addr, []uint32{value})
}

// ReadMemory8 reads a single byte at addr, via a 32-bit access shifted
// down by the low address bits (spec.md §4.2).
func (m *MemAP) ReadMemory8(addr uint32) (byte, error) {
	if err := m.programCSW(cswSize8); err != nil {
		return 0, err
	}
	if err := m.programTAR(addr); err != nil {
		return 0, err
	}
	v, err := m.dp.ReadAP(m.apIndex, RegDRW)
	if err != nil {
		return 0, err
	}
	shift := (addr & 0x3) * 8
	return byte(v >> shift), nil
}

// WriteMemory8 writes a single byte at addr.
func (m *MemAP) WriteMemory8(addr uint32, value byte) error {
	if err := m.programCSW(cswSize8); err != nil {
		return err
	}
	if err := m.programTAR(addr); err != nil {
		return err
	}
	shift := (addr & 0x3) * 8
	return m.dp.WriteAP(m.apIndex, RegDRW, uint32(value)<<shift)
}

// ReadMemory16 reads a 16-bit half-word at addr (addr must be 2-byte
// aligned).
func (m *MemAP) ReadMemory16(addr uint32) (uint16, error) {
	if err := m.programCSW(cswSize16); err != nil {
		return 0, err
	}
	if err := m.programTAR(addr); err != nil {
		return 0, err
	}
	v, err := m.dp.ReadAP(m.apIndex, RegDRW)
	if err != nil {
		return 0, err
	}
	shift := (addr & 0x2) * 8
	return uint16(v >> shift), nil
}

// WriteMemory16 writes a 16-bit half-word at addr.
func (m *MemAP) WriteMemory16(addr uint32, value uint16) error {
	if err := m.programCSW(cswSize16); err != nil {
		return err
	}
	if err := m.programTAR(addr); err != nil {
		return err
	}
	shift := (addr & 0x2) * 8
	return m.dp.WriteAP(m.apIndex, RegDRW, uint32(value)<<shift)
}
