package wire

import (
	"testing"
	"time"

	"github.com/vertexdbg/probeforge/pkg/probe"
)

// fakeTransport is a scripted probe.Transport stand-in. script is consumed
// one entry per SWDIO call; each entry supplies the ack bits to return for
// every transfer window in call order.
type fakeTransport struct {
	protocol   probe.Protocol
	script     [][]ackScript
	call       int
	lineResets int
}

type ackScript struct {
	ack   [3]bool
	value uint32
	// idleAfter is the number of idle output bits the real wire sequence
	// carries between this transfer's frame and the next one in the same
	// call (Transfer.IdleCyclesAfter). Only needed for non-final entries
	// in a multi-transfer script slice; trailing idle on the last entry
	// is swallowed by SWDIO's tail loop regardless.
	idleAfter int
}

func (f *fakeTransport) ActiveProtocol() probe.Protocol { return f.protocol }

// SWDIO plays back f.script[f.call] against the request windows it
// receives: it echoes the 2-idle+8-request bits, supplies the scripted
// ACK, and for an OK ack either echoes the driven write data back or
// synthesizes a read value with correct parity. A WAIT/FAULT ack has no
// data phase on the wire, so nothing follows the ACK bits for it.
func (f *fakeTransport) SWDIO(dirBits, ioBits []bool) ([]bool, error) {
	acks := f.script[f.call]
	f.call++

	out := make([]bool, 0, len(ioBits))
	pos := 0
	for _, a := range acks {
		out = append(out, ioBits[pos:pos+10]...) // 2 idle + 8 request bits
		pos += 10
		pos += 4 // turnaround + 3 ACK bits are input slots, not driven by the caller
		out = append(out, false, a.ack[0], a.ack[1], a.ack[2])

		// The host always clocks out the fixed-width data phase regardless
		// of ack (it commits to the whole request before seeing any ack
		// bits), so pos must always advance past it even on WAIT/FAULT.
		notOk := !a.ack[0] || a.ack[1] || a.ack[2]

		// Both read and write data phases are 34 bits long. A write's
		// first bit is the extra input turnaround, then 32+1 driven bits;
		// a read is 34 input bits throughout, so peeking one bit past the
		// leading turnaround tells them apart.
		isWrite := pos+1 < len(dirBits) && dirBits[pos+1]
		switch {
		case notOk:
			out = append(out, ioBits[pos:pos+34]...) // don't-care data phase, echoed as driven
			pos += 34
		case isWrite:
			out = append(out, false)                   // extra turnaround
			out = append(out, ioBits[pos+1:pos+34]...) // 32 data bits + parity, echoed
			pos += 34
		default:
			value := a.value
			parity := 0
			for i := 0; i < 32; i++ {
				bit := (value>>uint(i))&1 == 1
				out = append(out, bit)
				if bit {
					parity++
				}
			}
			out = append(out, parity%2 == 1) // parity
			out = append(out, false)         // trailing turnaround
			pos += 34
		}

		pos += a.idleAfter
		out = append(out, ioBits[pos-a.idleAfter:pos]...)
	}
	for pos < len(ioBits) {
		out = append(out, ioBits[pos])
		pos++
	}
	return out, nil
}

func (f *fakeTransport) JTAGIO(tms, tdi []bool) ([]bool, error) {
	return make([]bool, len(tms)), nil
}
func (f *fakeTransport) SetSpeed(khz int) (int, error) { return khz, nil }
func (f *fakeTransport) SWJSequence(bits []bool) error {
	f.lineResets++
	return nil
}
func (f *fakeTransport) SWJPins(out, selectMask probe.Pin, waitUs time.Duration) (probe.PinState, error) {
	return probe.AllOnes, nil
}
func (f *fakeTransport) TargetResetAssert() error   { return nil }
func (f *fakeTransport) TargetResetDeassert() error { return nil }

func okAck(value uint32) ackScript { return ackScript{ack: [3]bool{true, false, false}, value: value} }
func waitAck() ackScript           { return ackScript{ack: [3]bool{false, true, false}} }
func faultAck() ackScript          { return ackScript{ack: [3]bool{false, false, true}} }

func TestTransferBatchSingleReadOk(t *testing.T) {
	ft := &fakeTransport{
		protocol: probe.ProtocolSWD,
		script:   [][]ackScript{{okAck(0x2BA01477)}},
	}
	e := NewEngine(ft, DefaultSettings(), nil)

	v, err := e.ReadRegister(PortDP, AddrDPIDR)
	if err != nil {
		t.Fatalf("ReadRegister() error = %v", err)
	}
	if v != 0x2BA01477 {
		t.Errorf("ReadRegister() = 0x%08X, want 0x2BA01477", v)
	}
}

func TestTransferBatchRetriesOnWaitThenSucceeds(t *testing.T) {
	ft := &fakeTransport{
		protocol: probe.ProtocolSWD,
		script: [][]ackScript{
			{waitAck()},
			{okAck(0)}, // the engine's ABORT write clearing STICKYORUN
			{okAck(1)},
		},
	}
	e := NewEngine(ft, DefaultSettings(), nil)

	v, err := e.ReadRegister(PortDP, AddrDPIDR)
	if err != nil {
		t.Fatalf("ReadRegister() error = %v", err)
	}
	if v != 1 {
		t.Errorf("ReadRegister() = %d, want 1", v)
	}
	stats := e.Statistics()
	if stats.NumWaitResponses != 1 {
		t.Errorf("NumWaitResponses = %d, want 1", stats.NumWaitResponses)
	}
}

func TestTransferBatchWaitExhausted(t *testing.T) {
	settings := DefaultSettings()
	settings.NumRetriesAfterWait = 3

	// the first attempt plus NumRetriesAfterWait retries, each a WAIT
	// followed by the engine's ABORT write clearing STICKYORUN
	script := make([][]ackScript, 2*(settings.NumRetriesAfterWait+1))
	for i := range script {
		if i%2 == 0 {
			script[i] = []ackScript{waitAck()}
		} else {
			script[i] = []ackScript{okAck(0)}
		}
	}
	ft := &fakeTransport{protocol: probe.ProtocolSWD, script: script}
	e := NewEngine(ft, settings, nil)

	_, err := e.ReadRegister(PortDP, AddrDPIDR)
	if _, ok := err.(*WaitExhaustedError); !ok {
		t.Fatalf("ReadRegister() error = %v (%T), want *WaitExhaustedError", err, err)
	}
}

func TestTransferBatchFaultClearsStickyAndSurfaces(t *testing.T) {
	ft := &fakeTransport{
		protocol: probe.ProtocolSWD,
		script: [][]ackScript{
			{{ack: [3]bool{false, false, true}, idleAfter: 10}, faultAck()}, // write (+write-verify padding), then the rewriter's trailing RDBUFF
			{okAck(0)},               // the engine's internal ABORT write
		},
	}
	e := NewEngine(ft, DefaultSettings(), nil)

	err := e.WriteRegister(PortDP, AddrCTRLSTAT, 0x50000000)
	if _, ok := err.(*FaultError); !ok {
		t.Fatalf("WriteRegister() error = %v (%T), want *FaultError", err, err)
	}
	if ft.call != 2 {
		t.Errorf("SWDIO called %d times, want 2 (transfer + abort clear)", ft.call)
	}
}

func TestRewriteBatchInsertsRDBuffAfterAPRead(t *testing.T) {
	e := NewEngine(&fakeTransport{protocol: probe.ProtocolSWD}, DefaultSettings(), nil)

	logical := []Transfer{
		Read(PortAP, 0x0),
		Read(PortDP, AddrCTRLSTAT),
	}
	physical, resultIndex := e.rewriteBatch(logical, 2)

	if len(physical) != 3 {
		t.Fatalf("rewriteBatch() produced %d physical transfers, want 3 (AP read, RDBUFF, CTRL/STAT)", len(physical))
	}
	if !physical[1].isRDBuffRead() {
		t.Errorf("physical[1] = %+v, want synthetic RDBUFF read", physical[1])
	}
	if resultIndex[0] != 1 {
		t.Errorf("resultIndex[0] = %d, want 1 (AP read result arrives via the RDBUFF read)", resultIndex[0])
	}
	if resultIndex[1] != 2 {
		t.Errorf("resultIndex[1] = %d, want 2", resultIndex[1])
	}
}

func TestRewriteBatchPadsBeforeAbortAfterWrite(t *testing.T) {
	e := NewEngine(&fakeTransport{protocol: probe.ProtocolSWD}, DefaultSettings(), nil)

	logical := []Transfer{
		Write(PortAP, 0x0, 0x1234),
		Write(PortDP, AddrABORT, 0x1F),
	}
	physical, _ := e.rewriteBatch(logical, 2)

	if len(physical) != 3 {
		t.Fatalf("rewriteBatch() produced %d physical transfers, want 3 (AP write, RDBUFF, ABORT write)", len(physical))
	}
	if !physical[1].isRDBuffRead() {
		t.Fatalf("physical[1] = %+v, want synthetic RDBUFF read", physical[1])
	}
	if physical[0].IdleCyclesAfter < e.settings.IdleCyclesBeforeWriteVerify {
		t.Errorf("AP write IdleCyclesAfter = %d, want >= %d (write-verify padding before the inserted RDBUFF)", physical[0].IdleCyclesAfter, e.settings.IdleCyclesBeforeWriteVerify)
	}
}

func TestLineResetResyncsOnFirstAttempt(t *testing.T) {
	ft := &fakeTransport{
		protocol: probe.ProtocolSWD,
		script:   [][]ackScript{{okAck(0x2BA01477)}},
	}
	e := NewEngine(ft, DefaultSettings(), nil)

	if err := e.LineReset(); err != nil {
		t.Fatalf("LineReset() error = %v", err)
	}
	if ft.lineResets != 1 {
		t.Errorf("SWJSequence called %d times, want 1", ft.lineResets)
	}
}
