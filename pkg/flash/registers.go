package flash

import "github.com/vertexdbg/probeforge/pkg/core"

// callRegisters names the core-register addresses used to invoke a flash
// algorithm entry point (spec.md §4.4.3: "up to four 32-bit arguments...
// platform register 9 with static_base... SP with begin_stack... LR... PC").
// ARM and RISC-V number these registers differently, so the set is resolved
// once per Flasher from the core's Architecture().
type callRegisters struct {
	Arg        [4]uint32
	StaticBase uint32
	StackPtr   uint32
	ReturnAddr uint32
	PC         uint32
	ResultReg0 uint32
}

// armCallRegisters are the AAPCS register numbers: r0-r3 arguments, r9
// platform/static-base register, r13 SP, r14 LR, r15 PC. Result is read
// back from r0, the same register the first argument went in.
var armCallRegisters = callRegisters{
	Arg:        [4]uint32{0, 1, 2, 3},
	StaticBase: 9,
	StackPtr:   13,
	ReturnAddr: 14,
	PC:         15,
	ResultReg0: 0,
}

// riscvCallRegisters use the standard RV32 calling convention: a0-a3 (x10-
// x13) arguments, gp (x3) as the platform/static-base register, sp (x2),
// ra (x1) as the return address, and a0 again for the result. PC has no
// GPR index on RISC-V; pkg/core/riscv reserves register address 32 (one
// past the x0-x31 range) to mean "the dpc CSR" for exactly this purpose.
var riscvCallRegisters = callRegisters{
	Arg:        [4]uint32{10, 11, 12, 13},
	StaticBase: 3,
	StackPtr:   2,
	ReturnAddr: 1,
	PC:         32,
	ResultReg0: 10,
}

// registersFor resolves the register set to use for a given architecture.
func registersFor(arch core.Architecture) callRegisters {
	if arch == core.ArchitectureRISCV {
		return riscvCallRegisters
	}
	return armCallRegisters
}
