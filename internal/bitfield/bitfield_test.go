package bitfield

import "testing"

func TestGetSetRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		raw   uint32
		r     Range
		value uint32
	}{
		{"low nibble", 0x00000000, Range{Hi: 3, Lo: 0}, 0xA},
		{"middle byte", 0x12345678, Range{Hi: 15, Lo: 8}, 0xFF},
		{"full word", 0, Range{Hi: 31, Lo: 0}, 0xDEADBEEF},
		{"single bit", 0, Bit(17), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			updated := Set(tt.raw, tt.r, tt.value)
			got := Get(updated, tt.r)
			if got != tt.value {
				t.Errorf("Get(Set(...)) = %#x, want %#x", got, tt.value)
			}
		})
	}
}

func TestSetPreservesOtherBits(t *testing.T) {
	raw := uint32(0xFFFFFFFF)
	updated := Set(raw, Range{Hi: 7, Lo: 0}, 0x00)
	if updated != 0xFFFFFF00 {
		t.Errorf("Set() = %#x, want %#x", updated, 0xFFFFFF00)
	}
}

func TestGetBoolSetBool(t *testing.T) {
	raw := SetBool(0, 19, true)
	if !GetBool(raw, 19) {
		t.Error("expected bit 19 set")
	}
	raw = SetBool(raw, 19, false)
	if GetBool(raw, 19) {
		t.Error("expected bit 19 clear")
	}
}

func TestKeyedRegisterWithKey(t *testing.T) {
	k := KeyedRegister{Key: 0xA05F}
	raw := k.WithKey(0x00000001)
	if Get(raw, Range{Hi: 31, Lo: 16}) != 0xA05F {
		t.Errorf("key not applied: %#x", raw)
	}
	if Get(raw, Range{Hi: 15, Lo: 0}) != 1 {
		t.Errorf("low bits clobbered: %#x", raw)
	}
}

func TestStripKey(t *testing.T) {
	raw := uint32(0xA05F0003)
	stripped := StripKey(raw)
	if stripped != 0x00000003 {
		t.Errorf("StripKey() = %#x, want %#x", stripped, 0x00000003)
	}
}
