// Package target holds the immutable target-description data model (spec.md
// §3): chip families, their variants, memory maps, and raw flash algorithms.
// Loading a ChipFamily from YAML is outside this module's scope (spec.md §1,
// "Deliberately out of scope"); this package only defines the in-memory
// shape and its validation invariants, consumed by pkg/flash and pkg/session.
package target

import "fmt"

// CoreType names a supported core architecture revision.
type CoreType int

const (
	CoreTypeArmv6m CoreType = iota
	CoreTypeArmv7m
	CoreTypeArmv7em
	CoreTypeArmv8m
	CoreTypeArmv7a
	CoreTypeRiscv
)

func (c CoreType) String() string {
	switch c {
	case CoreTypeArmv6m:
		return "armv6m"
	case CoreTypeArmv7m:
		return "armv7m"
	case CoreTypeArmv7em:
		return "armv7em"
	case CoreTypeArmv8m:
		return "armv8m"
	case CoreTypeArmv7a:
		return "armv7a"
	case CoreTypeRiscv:
		return "riscv"
	default:
		return "unknown"
	}
}

// Architecture is the parent architecture family of a CoreType.
type Architecture int

const (
	ArchitectureARM Architecture = iota
	ArchitectureRISCV
)

func (a Architecture) String() string {
	if a == ArchitectureRISCV {
		return "riscv"
	}
	return "arm"
}

// Architecture returns the parent architecture family of the core type.
func (c CoreType) Architecture() Architecture {
	if c == CoreTypeRiscv {
		return ArchitectureRISCV
	}
	return ArchitectureARM
}

// IsCortexM reports whether c is one of the Cortex-M core types.
func (c CoreType) IsCortexM() bool {
	switch c {
	case CoreTypeArmv6m, CoreTypeArmv7m, CoreTypeArmv7em, CoreTypeArmv8m:
		return true
	default:
		return false
	}
}

// RegionKind tags a MemoryRegion's purpose.
type RegionKind int

const (
	RegionRAM RegionKind = iota
	RegionNVM
	RegionGeneric
)

func (k RegionKind) String() string {
	switch k {
	case RegionRAM:
		return "ram"
	case RegionNVM:
		return "nvm"
	default:
		return "generic"
	}
}

// CoreAccess describes how a core reaches the debug infrastructure: for ARM
// cores, the AP index carrying its MEM-AP and an optional debug-register
// base address (needed by Cortex-A instruction injection and, for some
// multi-core Cortex-M parts, a non-default SCS base).
type CoreAccess struct {
	APIndex   uint8
	DebugBase uint32 // 0 means "use the architectural default"
}

// Core describes one core within a ChipVariant.
type Core struct {
	Name     string
	CoreType CoreType
	Access   CoreAccess
}

// MemoryRegion is one non-overlapping span of the variant's address space.
type MemoryRegion struct {
	Name        string
	Kind        RegionKind
	Start       uint32
	Size        uint32
	Boot        bool
	AccessCores []string // names of Core entries permitted to access it; empty means all
}

// End returns the address one past the last byte of the region.
func (m MemoryRegion) End() uint32 { return m.Start + m.Size }

// Contains reports whether addr falls within the region.
func (m MemoryRegion) Contains(addr uint32) bool {
	return addr >= m.Start && addr < m.End()
}

// Overlaps reports whether m and other share any address.
func (m MemoryRegion) Overlaps(other MemoryRegion) bool {
	return m.Start < other.End() && other.Start < m.End()
}

// ChipVariant is one concrete part within a ChipFamily (e.g. "STM32F103C8").
type ChipVariant struct {
	Name            string
	Cores           []Core
	MemoryMap       []MemoryRegion
	FlashAlgorithms []string // names referencing ChipFamily.FlashAlgorithms
}

// CoreByName returns the named core, or false if no such core exists.
func (v ChipVariant) CoreByName(name string) (Core, bool) {
	for _, c := range v.Cores {
		if c.Name == name {
			return c, true
		}
	}
	return Core{}, false
}

// RAMRegions returns every RegionRAM entry in the variant's memory map.
func (v ChipVariant) RAMRegions() []MemoryRegion {
	var out []MemoryRegion
	for _, r := range v.MemoryMap {
		if r.Kind == RegionRAM {
			out = append(out, r)
		}
	}
	return out
}

// NVMRegionContaining returns the NVM region covering addr, if any.
func (v ChipVariant) NVMRegionContaining(addr uint32) (MemoryRegion, bool) {
	for _, r := range v.MemoryMap {
		if r.Kind == RegionNVM && r.Contains(addr) {
			return r, true
		}
	}
	return MemoryRegion{}, false
}

// TargetDescriptionSource records where a ChipFamily came from, for
// diagnostics only.
type TargetDescriptionSource int

const (
	SourceExternal TargetDescriptionSource = iota
	SourceGeneric
	SourceBuiltIn
)

// ChipFamily is the root of the target-description data model: a
// manufacturer's family name plus every variant and flash algorithm it owns.
type ChipFamily struct {
	Name            string
	Manufacturer    string
	Variants        []ChipVariant
	FlashAlgorithms []RawFlashAlgorithm
	Source          TargetDescriptionSource
}

// Algorithm returns the named RawFlashAlgorithm, or false if absent.
func (f ChipFamily) Algorithm(name string) (RawFlashAlgorithm, bool) {
	for _, a := range f.FlashAlgorithms {
		if a.Name == name {
			return a, true
		}
	}
	return RawFlashAlgorithm{}, false
}

// Variant returns the named ChipVariant, or false if absent.
func (f ChipFamily) Variant(name string) (ChipVariant, bool) {
	for _, v := range f.Variants {
		if v.Name == name {
			return v, true
		}
	}
	return ChipVariant{}, false
}

// Validate checks the invariants spec.md §3 requires of a ChipFamily:
// every algorithm name a variant references exists, every variant has at
// least one core, and a variant's cores share one architecture.
func (f ChipFamily) Validate() error {
	for _, variant := range f.Variants {
		for _, algoName := range variant.FlashAlgorithms {
			if _, ok := f.Algorithm(algoName); !ok {
				return fmt.Errorf("unknown flash algorithm %q for variant %q", algoName, variant.Name)
			}
		}

		if len(variant.Cores) == 0 {
			return fmt.Errorf("variant %q has no cores", variant.Name)
		}

		arch := variant.Cores[0].CoreType.Architecture()
		for _, c := range variant.Cores[1:] {
			if c.CoreType.Architecture() != arch {
				return fmt.Errorf("variant %q mixes core architectures", variant.Name)
			}
		}

		if err := validateMemoryMap(variant); err != nil {
			return err
		}
	}
	return nil
}

func validateMemoryMap(v ChipVariant) error {
	for i, a := range v.MemoryMap {
		for j, b := range v.MemoryMap {
			if i >= j {
				continue
			}
			if a.Overlaps(b) {
				return fmt.Errorf("variant %q: memory regions %q and %q overlap", v.Name, a.Name, b.Name)
			}
		}
		for _, coreName := range a.AccessCores {
			if _, ok := v.CoreByName(coreName); !ok {
				return fmt.Errorf("variant %q: memory region %q references unknown core %q", v.Name, a.Name, coreName)
			}
		}
	}
	return nil
}
