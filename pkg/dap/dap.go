// Package dap implements the L2 Debug Access Port layer described in
// spec.md §4.2: typed DP registers (DPIDR, ABORT, CTRL/STAT, SELECT,
// RDBUFF) and Access Ports addressed by (DP address, AP index), built on
// top of pkg/wire's batching engine. It is grounded on probe-rs's
// sequences/mod.rs (the ArmDebugSequence startup contract) and the
// teacher's pkg/protocol.commands.go, which plays the analogous
// "named register over a raw transport" role for the Foenix debug port.
package dap

import "github.com/vertexdbg/probeforge/internal/bitfield"

// DP register addresses (spec.md §3 Transfer.address space, 0..64 by 4).
// DPIDR and ABORT share address 0x0 (the former is read-only, the latter
// write-only); CTRL/STAT and WCR similarly share 0x4.
const (
	RegDPIDR    uint8 = 0x0
	RegABORT    uint8 = 0x0
	RegCTRLSTAT uint8 = 0x4
	RegSELECT   uint8 = 0x8
	RegRDBUFF   uint8 = 0xC
)

// ABORT register bit positions (each clears its corresponding sticky
// CTRL/STAT flag when written 1).
const (
	bitDAPABORT   uint = 0
	bitSTKCMPCLR  uint = 1
	bitSTKERRCLR  uint = 2
	bitWDERRCLR   uint = 3
	bitORUNERRCLR uint = 4
)

// AbortClearAll returns the ABORT write value that clears every sticky
// flag at once (spec.md §4.1's FAULT recovery step).
func AbortClearAll() uint32 {
	v := uint32(0)
	v = bitfield.SetBool(v, bitSTKCMPCLR, true)
	v = bitfield.SetBool(v, bitSTKERRCLR, true)
	v = bitfield.SetBool(v, bitWDERRCLR, true)
	v = bitfield.SetBool(v, bitORUNERRCLR, true)
	return v
}

// AbortClearOverrun returns the ABORT write value that clears only
// STICKYORUN, used between WAIT retries (spec.md §4.1).
func AbortClearOverrun() uint32 {
	return bitfield.SetBool(0, bitORUNERRCLR, true)
}

// CTRL/STAT register fields (spec.md §4.2 debug-port startup).
const (
	ctrlCSYSPWRUPACK uint = 31
	ctrlCSYSPWRUPREQ uint = 30
	ctrlCDBGPWRUPACK uint = 29
	ctrlCDBGPWRUPREQ uint = 28
	ctrlSTICKYERR    uint = 5
	ctrlSTICKYORUN   uint = 1
)

var fieldMaskLane = bitfield.Range{Hi: 27, Lo: 24}

// CtrlStatPowerUpRequest is the CTRL/STAT value requesting both system and
// debug power-up domains (spec.md §4.2 step 3).
func CtrlStatPowerUpRequest() uint32 {
	v := uint32(0)
	v = bitfield.SetBool(v, ctrlCSYSPWRUPREQ, true)
	v = bitfield.SetBool(v, ctrlCDBGPWRUPREQ, true)
	return v
}

// CtrlStatPoweredUp reports whether both power-up ACKs are set in a
// CTRL/STAT read value.
func CtrlStatPoweredUp(raw uint32) bool {
	return bitfield.GetBool(raw, ctrlCSYSPWRUPACK) && bitfield.GetBool(raw, ctrlCDBGPWRUPACK)
}

// CtrlStatWithMaskLane sets the CTRL/STAT mask-lane field to enable all
// four byte lanes (spec.md §4.2 step 4), preserving the power-up request
// bits already present in raw.
func CtrlStatWithMaskLane(raw uint32) uint32 {
	return bitfield.Set(raw, fieldMaskLane, 0b1111)
}

// CtrlStatSticky reports whether either sticky-error flag is set.
func CtrlStatSticky(raw uint32) (overrun, err bool) {
	return bitfield.GetBool(raw, ctrlSTICKYORUN), bitfield.GetBool(raw, ctrlSTICKYERR)
}

// SELECT register: banks both the AP index (bits 31:24) and the AP
// register bank within that AP (bits 7:4). probeforge caches the last
// value written (spec.md §4.2: "only re-writes when the bank changes").
var (
	fieldAPSEL     = bitfield.Range{Hi: 31, Lo: 24}
	fieldAPBANKSEL = bitfield.Range{Hi: 7, Lo: 4}
)

func selectValue(apIndex uint8, bank uint8) uint32 {
	v := bitfield.Set(0, fieldAPSEL, uint32(apIndex))
	v = bitfield.Set(v, fieldAPBANKSEL, uint32(bank)>>4)
	return v
}
