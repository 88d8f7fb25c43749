package wire

import "fmt"

// JTAG IR codes for the RISC-V external debug spec's debug transport
// module (DTM) registers, distinct from the ADI IR codes above.
const (
	jtagIRDTMCS = 0x10
	jtagIRDMI   = 0x11
)

// dmi operation/status codes (RISC-V external debug spec §6.1.5).
const (
	dmiOpNop   uint8 = 0
	dmiOpRead  uint8 = 1
	dmiOpWrite uint8 = 2

	dmiStatusSuccess uint8 = 0
	dmiStatusFailed  uint8 = 2
	dmiStatusBusy    uint8 = 3
)

// DMI implements pkg/core/riscv's DMI interface over the engine's JTAG
// transport (spec.md §4.3.3, SPEC_FULL.md §C.4's RISC-V abstract-command
// batching needs a working Debug Module Interface underneath it). Every
// DMI scan's result is returned on the *following* scan, per the RISC-V
// debug spec's pipelined register convention, so Read/Write each issue a
// request scan followed by a nop scan that collects the result.
type DMI struct {
	jtag  jtagAccess
	abits uint8
}

// NewDMI reads DTMCS once to learn the DMI address-width field (abits)
// and returns a ready accessor. abits varies by implementation; probing
// it avoids hardcoding a particular vendor's debug-module width.
func NewDMI(jtag jtagAccess) (*DMI, error) {
	resp, err := jtag.WriteRegister(jtagIRDTMCS, make([]byte, 4), 32)
	if err != nil {
		return nil, err
	}
	dtmcs := bytesToUint64(resp)
	abits := uint8((dtmcs >> 4) & 0x3F)
	if abits == 0 {
		abits = 7 // a conservative, commonly-seen default when DTMCS reports 0
	}
	return &DMI{jtag: jtag, abits: abits}, nil
}

func (d *DMI) buildRequest(op uint8, addr uint8, data uint32) ([]byte, uint32) {
	bitLen := 34 + uint32(d.abits)
	val := (uint64(addr) << 34) | (uint64(data) << 2) | uint64(op)
	nbytes := int((bitLen + 7) / 8)
	buf := make([]byte, nbytes)
	for i := 0; i < nbytes; i++ {
		buf[i] = byte(val >> uint(8*i))
	}
	return buf, bitLen
}

func (d *DMI) scan(op uint8, addr uint8, data uint32) (status uint8, result uint32, err error) {
	buf, bitLen := d.buildRequest(op, addr, data)
	resp, err := d.jtag.WriteRegister(jtagIRDMI, buf, bitLen)
	if err != nil {
		return 0, 0, err
	}
	val := bytesToUint64(resp)
	return uint8(val & 0x3), uint32((val >> 2) & 0xFFFFFFFF), nil
}

// ReadDMI implements riscv.DMI.
func (d *DMI) ReadDMI(addr uint8) (uint32, error) {
	if _, _, err := d.scan(dmiOpRead, addr, 0); err != nil {
		return 0, err
	}
	status, result, err := d.scan(dmiOpNop, 0, 0)
	if err != nil {
		return 0, err
	}
	if status == dmiStatusBusy {
		return 0, fmt.Errorf("wire: DMI read of 0x%X returned busy", addr)
	}
	if status == dmiStatusFailed {
		return 0, fmt.Errorf("wire: DMI read of 0x%X failed", addr)
	}
	return result, nil
}

// WriteDMI implements riscv.DMI.
func (d *DMI) WriteDMI(addr uint8, value uint32) error {
	if _, _, err := d.scan(dmiOpWrite, addr, value); err != nil {
		return err
	}
	status, _, err := d.scan(dmiOpNop, 0, 0)
	if err != nil {
		return err
	}
	if status == dmiStatusBusy {
		return fmt.Errorf("wire: DMI write of 0x%X returned busy", addr)
	}
	if status == dmiStatusFailed {
		return fmt.Errorf("wire: DMI write of 0x%X failed", addr)
	}
	return nil
}

func bytesToUint64(b []byte) uint64 {
	var v uint64
	for i, by := range b {
		if i >= 8 {
			break
		}
		v |= uint64(by) << uint(8*i)
	}
	return v
}

// DMI returns a Debug Module Interface accessor wired to this engine's
// JTAG transport, for constructing a RISC-V core driver (spec.md §4.3.3).
// It is only meaningful when the engine's active protocol is JTAG.
func (e *Engine) DMI() (*DMI, error) {
	return NewDMI(e.jtag)
}
