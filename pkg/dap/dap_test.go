package dap

import "testing"

func TestSelectValueBanksIndexAndBank(t *testing.T) {
	tests := []struct {
		name    string
		apIndex uint8
		bank    uint8
		want    uint32
	}{
		{"ap0 bank0", 0x00, 0x00, 0x00000000},
		{"ap1 bank0", 0x01, 0x00, 0x01000000},
		{"ap0 bank0x10", 0x00, 0x10, 0x00000010},
		{"ap2 bank0x40", 0x02, 0x40, 0x02000040},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectValue(tt.apIndex, tt.bank)
			if got != tt.want {
				t.Errorf("selectValue(%#x, %#x) = 0x%08X, want 0x%08X", tt.apIndex, tt.bank, got, tt.want)
			}
		})
	}
}

func TestAbortClearAllSetsAllStickyBits(t *testing.T) {
	v := AbortClearAll()
	want := uint32(1<<1 | 1<<2 | 1<<3 | 1<<4)
	if v != want {
		t.Errorf("AbortClearAll() = 0x%X, want 0x%X", v, want)
	}
}

func TestAbortClearOverrunSetsOnlyOrunBit(t *testing.T) {
	v := AbortClearOverrun()
	if v != 1<<4 {
		t.Errorf("AbortClearOverrun() = 0x%X, want 0x10", v)
	}
}

func TestCtrlStatPoweredUp(t *testing.T) {
	tests := []struct {
		name string
		raw  uint32
		want bool
	}{
		{"neither ack", 0, false},
		{"only csyspwrupack", 1 << 31, false},
		{"only cdbgpwrupack", 1 << 29, false},
		{"both acks", 1<<31 | 1<<29, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CtrlStatPoweredUp(tt.raw); got != tt.want {
				t.Errorf("CtrlStatPoweredUp(0x%08X) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestCtrlStatWithMaskLanePreservesOtherBits(t *testing.T) {
	raw := CtrlStatPowerUpRequest()
	v := CtrlStatWithMaskLane(raw)
	if v&(1<<30) == 0 || v&(1<<28) == 0 {
		t.Errorf("CtrlStatWithMaskLane(0x%08X) = 0x%08X, lost power-up request bits", raw, v)
	}
	if (v>>24)&0xF != 0b1111 {
		t.Errorf("CtrlStatWithMaskLane(0x%08X) = 0x%08X, mask lane not 0b1111", raw, v)
	}
}

func TestCtrlStatSticky(t *testing.T) {
	overrun, errBit := CtrlStatSticky(1<<ctrlSTICKYORUN | 1<<ctrlSTICKYERR)
	if !overrun || !errBit {
		t.Errorf("CtrlStatSticky() = (%v, %v), want (true, true)", overrun, errBit)
	}
	overrun, errBit = CtrlStatSticky(0)
	if overrun || errBit {
		t.Errorf("CtrlStatSticky(0) = (%v, %v), want (false, false)", overrun, errBit)
	}
}
