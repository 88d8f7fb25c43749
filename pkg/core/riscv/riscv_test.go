package riscv

import (
	"testing"

	"github.com/vertexdbg/probeforge/internal/bitfield"
)

// fakeDMI is a minimal in-memory DMI: abstractcs.busy is always clear and
// cmderr is zero unless a test presets abstractcs, so runAbstractCommand's
// polling loop exits on its first read. It lets the pure encode/poll-loop logic be tested
// without a real Debug Module.
type fakeDMI struct {
	regs map[uint8]uint32
}

func newFakeDMI() *fakeDMI { return &fakeDMI{regs: map[uint8]uint32{}} }

func (f *fakeDMI) ReadDMI(addr uint8) (uint32, error) { return f.regs[addr], nil }
func (f *fakeDMI) WriteDMI(addr uint8, value uint32) error {
	f.regs[addr] = value
	return nil
}

func TestRunAbstractCommandEncodesTransferAndWrite(t *testing.T) {
	dmi := newFakeDMI()
	d := New(dmi, nil)

	if err := d.runAbstractCommand(0x1005, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cmd := dmi.regs[regCommand]
	if !bitfield.GetBool(cmd, bitCommandTransfer) {
		t.Error("command register missing transfer bit")
	}
	if !bitfield.GetBool(cmd, bitCommandWrite) {
		t.Error("command register missing write bit")
	}
	if got := bitfield.Get(cmd, fieldCommandRegno); got != 0x1005 {
		t.Errorf("command regno field = 0x%X, want 0x1005", got)
	}
	if got := bitfield.Get(cmd, fieldCommandAarSize); got != aarSize32 {
		t.Errorf("command aarsize field = %d, want %d", got, aarSize32)
	}
}

func TestRunAbstractCommandSurfacesCmdErr(t *testing.T) {
	dmi := newFakeDMI()
	dmi.regs[regAbstractCS] = bitfield.Set(0, fieldAbstractCSCmdErr, 3)
	d := New(dmi, nil)

	if err := d.runAbstractCommand(0x1000, false); err == nil {
		t.Fatal("expected an error when abstractcs.cmderr is non-zero")
	}
}

func TestReadWriteRegnoRoundTripThroughData0(t *testing.T) {
	dmi := newFakeDMI()
	d := New(dmi, nil)

	if err := d.writeRegno(0x1003, 0xDEADBEEF); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dmi.regs[regData0] != 0xDEADBEEF {
		t.Errorf("data0 = 0x%X, want 0xDEADBEEF", dmi.regs[regData0])
	}

	got, err := d.readRegno(0x1003)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0xDEADBEEF {
		t.Errorf("readRegno = 0x%X, want 0xDEADBEEF", got)
	}
}
