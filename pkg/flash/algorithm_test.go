package flash

import (
	"testing"

	"github.com/vertexdbg/probeforge/pkg/target"
)

func TestAlignUp(t *testing.T) {
	tests := []struct {
		v, align, want uint32
	}{
		{0, 4, 0},
		{1, 4, 4},
		{4, 4, 4},
		{5, 4, 8},
		{10, 1, 10},
	}
	for _, tt := range tests {
		if got := alignUp(tt.v, tt.align); got != tt.want {
			t.Errorf("alignUp(%d, %d) = %d, want %d", tt.v, tt.align, got, tt.want)
		}
	}
}

func TestAssembleAlgorithmLaysOutSectionsInOrder(t *testing.T) {
	ram := target.MemoryRegion{Name: "SRAM", Start: 0x2000_0000, Size: 0x2000}
	raw := target.RawFlashAlgorithm{
		Instructions: make([]byte, 100),
		RAMSizeData:  64,
		StackSize:    256,
		PageBuffers:  target.DoubleBuffer,
		Properties:   target.FlashProperties{PageSize: 512},
	}

	algo, err := assembleAlgorithm(raw, ram)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if algo.loadAddress != ram.Start {
		t.Errorf("loadAddress = 0x%X, want 0x%X", algo.loadAddress, ram.Start)
	}
	if algo.staticBase <= algo.loadAddress {
		t.Errorf("staticBase 0x%X must come after loadAddress 0x%X", algo.staticBase, algo.loadAddress)
	}
	if len(algo.pageBuffers) != 2 {
		t.Fatalf("len(pageBuffers) = %d, want 2 (DoubleBuffer requested)", len(algo.pageBuffers))
	}
	if algo.pageBuffers[1] <= algo.pageBuffers[0] {
		t.Errorf("pageBuffers must be placed in ascending order, got %v", algo.pageBuffers)
	}
	if algo.beginStack >= ram.End() {
		t.Errorf("beginStack 0x%X must be within the RAM region ending at 0x%X", algo.beginStack, ram.End())
	}
	if algo.beginStack < algo.pageBuffers[1] {
		t.Errorf("beginStack 0x%X must be placed after the page buffers", algo.beginStack)
	}
	if !algo.doubleBuffered() {
		t.Error("doubleBuffered() = false, want true")
	}
}

func TestAssembleAlgorithmUsesDeclaredLoadAddress(t *testing.T) {
	ram := target.MemoryRegion{Start: 0x2000_0000, Size: 0x1000}
	raw := target.RawFlashAlgorithm{
		Instructions: make([]byte, 16),
		LoadAddress:  0x2000_0100,
		StackSize:    64,
	}

	algo, err := assembleAlgorithm(raw, ram)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if algo.loadAddress != 0x2000_0100 {
		t.Errorf("loadAddress = 0x%X, want the declared 0x2000_0100", algo.loadAddress)
	}
}

func TestAssembleAlgorithmFailsWhenSectionsDoNotFit(t *testing.T) {
	ram := target.MemoryRegion{Start: 0x2000_0000, Size: 0x40}
	raw := target.RawFlashAlgorithm{
		Instructions: make([]byte, 256),
		StackSize:    256,
	}

	if _, err := assembleAlgorithm(raw, ram); err == nil {
		t.Error("expected an error when the algorithm does not fit in the chosen RAM region")
	}
}

func TestBytesToWordsPacksLittleEndian(t *testing.T) {
	words := bytesToWords([]byte{0x01, 0x02, 0x03, 0x04, 0x05})
	if len(words) != 2 {
		t.Fatalf("len(words) = %d, want 2", len(words))
	}
	if words[0] != 0x04030201 {
		t.Errorf("words[0] = 0x%08X, want 0x04030201", words[0])
	}
	if words[1] != 0x00000005 {
		t.Errorf("words[1] = 0x%08X, want 0x00000005", words[1])
	}
}
