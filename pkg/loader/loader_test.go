package loader

import (
	"os"
	"path/filepath"
	"testing"
)

type fakeBuilder struct {
	spans []span
}

type span struct {
	addr uint32
	data []byte
}

func (b *fakeBuilder) AddData(addr uint32, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	b.spans = append(b.spans, span{addr, cp})
}

func TestLoadIntoFeedsIntelHexIntoBuilder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.hex")
	contents := ":10000000000102030405060708090A0B0C0D0E0FC2\n:00000001FF\n"
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	b := &fakeBuilder{}
	if err := LoadInto(NewIntelHexLoader(), path, b); err != nil {
		t.Fatalf("LoadInto failed: %v", err)
	}
	if len(b.spans) != 1 {
		t.Fatalf("len(spans) = %d, want 1", len(b.spans))
	}
	if b.spans[0].addr != 0 {
		t.Errorf("span address = %#x, want 0", b.spans[0].addr)
	}
	if len(b.spans[0].data) != 16 {
		t.Errorf("span length = %d, want 16", len(b.spans[0].data))
	}
}

func TestLoadIntoFeedsSRecIntoBuilder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.srec")
	contents := "S00600004844521B\nS1130000000102030405060708090A0B0C0D0EA1\nS5030001FB\nS9030000FC\n"
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	b := &fakeBuilder{}
	if err := LoadInto(NewSRecLoader(), path, b); err != nil {
		t.Fatalf("LoadInto failed: %v", err)
	}
	if len(b.spans) != 1 {
		t.Fatalf("len(spans) = %d, want 1", len(b.spans))
	}
	if b.spans[0].addr != 0 {
		t.Errorf("span address = %#x, want 0", b.spans[0].addr)
	}
}

func TestForExtensionDispatchesByFileExtension(t *testing.T) {
	if l, err := ForExtension(".hex"); err != nil || l == nil {
		t.Errorf("ForExtension(.hex) = %v, %v, want an IntelHexLoader", l, err)
	}
	if l, err := ForExtension(".s19"); err != nil || l == nil {
		t.Errorf("ForExtension(.s19) = %v, %v, want an SRecLoader", l, err)
	}
	if _, err := ForExtension(".bin"); err == nil {
		t.Error("expected an error for an unregistered extension")
	}
}
