package probe

import "testing"

func TestPackUnpackBitsRoundTrips(t *testing.T) {
	tests := [][]bool{
		nil,
		{true},
		{false},
		{true, false, true, true, false, false, true, false, true},
	}
	for _, bits := range tests {
		packed := packBits(bits)
		got, err := unpackBits(packed)
		if err != nil {
			t.Fatalf("unpackBits error for %v: %v", bits, err)
		}
		if len(got) != len(bits) {
			t.Fatalf("round-trip length = %d, want %d", len(got), len(bits))
		}
		for i := range bits {
			if got[i] != bits[i] {
				t.Errorf("bit %d = %v, want %v", i, got[i], bits[i])
			}
		}
	}
}

func TestUnpackBitsRejectsTruncatedPayload(t *testing.T) {
	if _, err := unpackBits([]byte{0, 0, 0, 16}); err == nil {
		t.Error("expected an error unpacking a 16-bit claim with no packed bytes")
	}
}
