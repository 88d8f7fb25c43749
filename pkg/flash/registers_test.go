package flash

import (
	"testing"

	"github.com/vertexdbg/probeforge/pkg/core"
)

func TestRegistersForSelectsByArchitecture(t *testing.T) {
	arm := registersFor(core.ArchitectureARM)
	if arm.StaticBase != 9 {
		t.Errorf("ARM StaticBase = %d, want 9 (r9)", arm.StaticBase)
	}
	if arm.StackPtr != 13 {
		t.Errorf("ARM StackPtr = %d, want 13 (r13/SP)", arm.StackPtr)
	}

	riscv := registersFor(core.ArchitectureRISCV)
	if riscv.Arg[0] != 10 {
		t.Errorf("RISC-V Arg[0] = %d, want 10 (a0/x10)", riscv.Arg[0])
	}
	if riscv.StaticBase != 3 {
		t.Errorf("RISC-V StaticBase = %d, want 3 (gp/x3)", riscv.StaticBase)
	}
	if riscv.PC == arm.PC {
		t.Error("RISC-V and ARM PC register addresses must differ: RISC-V has no GPR holding PC")
	}
}
