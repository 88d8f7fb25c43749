package target

// Target descriptions are ordinarily parsed from YAML by a collaborator
// outside this module (spec.md §1); these fixtures build ChipFamily values
// by hand so the validation logic can be exercised without a YAML loader.

func sampleRAMRegion() MemoryRegion {
	return MemoryRegion{Name: "SRAM", Kind: RegionRAM, Start: 0x2000_0000, Size: 0x4000}
}

func sampleNVMRegion() MemoryRegion {
	return MemoryRegion{Name: "FLASH", Kind: RegionNVM, Start: 0x0800_0000, Size: 0x1_0000, Boot: true}
}

func sampleCore() Core {
	return Core{Name: "main", CoreType: CoreTypeArmv6m, Access: CoreAccess{APIndex: 0}}
}

func sampleAlgorithm(name string) RawFlashAlgorithm {
	return RawFlashAlgorithm{
		Name:         name,
		Variants:     []string{"SAMPLE-1"},
		Instructions: []byte{0x00, 0xBF, 0x00, 0xBF},
		StackSize:    256,
		PageBuffers:  DoubleBuffer,
		EntryPoints: FlashAlgorithmEntryPoints{
			Init:        0,
			ProgramPage: 4,
			EraseSector: 8,
		},
		Properties: FlashProperties{
			AddressRangeStart: 0x0800_0000,
			AddressRangeEnd:   0x0801_0000,
			PageSize:          1024,
			ErasedByteValue:   0xFF,
			Sectors: []SectorDescription{
				{Address: 0x0800_0000, Size: 1024},
			},
		},
	}
}

func sampleFamily() ChipFamily {
	return ChipFamily{
		Name:         "SAMPLE",
		Manufacturer: "ExampleCorp",
		Variants: []ChipVariant{
			{
				Name:            "SAMPLE-1",
				Cores:           []Core{sampleCore()},
				MemoryMap:       []MemoryRegion{sampleRAMRegion(), sampleNVMRegion()},
				FlashAlgorithms: []string{"sample_algo"},
			},
		},
		FlashAlgorithms: []RawFlashAlgorithm{sampleAlgorithm("sample_algo")},
	}
}
