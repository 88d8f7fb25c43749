package wire

import (
	"fmt"
	"math/bits"

	"github.com/sirupsen/logrus"

	"github.com/vertexdbg/probeforge/pkg/probe"
)

// ioSequence accumulates direction/value bit pairs for a physical SWD
// batch, exactly mirroring probe-rs's IoSequence: `dir[i]==true` means the
// host drives bit `io[i]`, `dir[i]==false` means the host releases the
// line and samples it.
type ioSequence struct {
	io  []bool
	dir []bool
}

func (s *ioSequence) output(bit bool) {
	s.io = append(s.io, bit)
	s.dir = append(s.dir, true)
}

func (s *ioSequence) outputN(bits []bool) {
	for _, b := range bits {
		s.output(b)
	}
}

func (s *ioSequence) input() {
	s.io = append(s.io, false)
	s.dir = append(s.dir, false)
}

func (s *ioSequence) inputN(n int) {
	for i := 0; i < n; i++ {
		s.input()
	}
}

func (s *ioSequence) extend(other *ioSequence) {
	s.io = append(s.io, other.io...)
	s.dir = append(s.dir, other.dir...)
}

// buildSWDTransfer assembles the bit-exact request sequence for a single
// SWD transfer per the ADI packet framing in spec.md §4.1: 2 idle, 8
// request bits (start/APnDP/RnW/A2/A3/parity/stop/park), 1 turnaround, 3
// ACK bits, then data+parity (+2 turnaround for writes).
func buildSWDTransfer(t Transfer) *ioSequence {
	seq := &ioSequence{}

	apndp := t.Port == PortAP
	isRead := t.Direction == DirRead

	a2 := (t.Address>>2)&1 == 1
	a3 := (t.Address>>3)&1 == 1

	// 2 idle bits before the request.
	seq.output(false)
	seq.output(false)

	seq.output(true)  // start
	seq.output(apndp) // APnDP
	seq.output(isRead)
	seq.output(a2)
	seq.output(a3)
	seq.output(apndp != isRead != a2 != a3) // even parity over APnDP,RnW,A2,A3
	seq.output(false)                       // stop
	seq.output(true)                        // park

	seq.input()   // turnaround
	seq.inputN(3) // ACK

	if t.Direction == DirWrite {
		seq.input() // extra turnaround observed in practice (per probe-rs)
		value := t.Value
		parity := false
		for i := 0; i < 32; i++ {
			bit := value&1 == 1
			seq.output(bit)
			parity = parity != bit
			value >>= 1
		}
		seq.output(parity)
	} else {
		seq.inputN(32) // data
		seq.input()    // parity
		seq.input()    // trailing turnaround
	}

	if t.IdleCyclesAfter > 0 {
		idle := make([]bool, t.IdleCyclesAfter)
		seq.outputN(idle)
	}

	return seq
}

func swdResponseLength(dir Direction) int {
	if dir == DirRead {
		return 2 + 8 + 3 + 32 + 1 + 2
	}
	return 2 + 8 + 3 + 2 + 32 + 1
}

// parseSWDResponse decodes the ACK/data/parity fields out of a captured
// response window, per spec.md invariant 3 (even parity) and the ACK
// table in spec.md §4.1.
func parseSWDResponse(response []bool, dir Direction) (uint32, Outcome, error) {
	const ackOffset = 2 + 8 + 1 // idle, request, turnaround
	if len(response) < ackOffset+3 {
		return 0, OutcomeProtocolError, fmt.Errorf("wire: short SWD response window (%d bits)", len(response))
	}
	ack := response[ackOffset : ackOffset+3]

	if ack[0] && ack[1] && ack[2] {
		return 0, OutcomeProtocolError, errNoAcknowledge
	}
	if ack[1] {
		return 0, OutcomeWait, errWaitResponse
	}
	if ack[2] {
		return 0, OutcomeFault, errFaultResponse
	}
	if !ack[0] {
		return 0, OutcomeProtocolError, fmt.Errorf("wire: unexpected SWD ack pattern %v", ack)
	}

	if dir != DirRead {
		return 0, OutcomeOk, nil
	}

	dataOffset := ackOffset + 3
	if len(response) < dataOffset+33 {
		return 0, OutcomeProtocolError, fmt.Errorf("wire: short SWD read window (%d bits)", len(response))
	}
	data := response[dataOffset : dataOffset+32]
	parityBit := response[dataOffset+32]

	value := bitsToWord(data)
	if (bits.OnesCount32(value)%2 == 1) != parityBit {
		return 0, OutcomeProtocolError, errIncorrectParity
	}
	return value, OutcomeOk, nil
}

func bitsToWord(b []bool) uint32 {
	var v uint32
	for i, bit := range b {
		if bit {
			v |= 1 << uint(i)
		}
	}
	return v
}

var (
	errNoAcknowledge   = fmt.Errorf("no acknowledge from target")
	errWaitResponse    = fmt.Errorf("WAIT response")
	errFaultResponse   = fmt.Errorf("FAULT response")
	errIncorrectParity = fmt.Errorf("incorrect parity on SWD read")
)

// performSWDTransfers concatenates the io sequences for every transfer in
// the physical batch into a single swd_io call, then slices the response
// back apart per transfer (spec.md §4.1 "Physical → logical").
func performSWDTransfers(t probe.Transport, transfers []Transfer, log *logrus.Entry) error {
	seq := &ioSequence{}
	for _, tr := range transfers {
		seq.extend(buildSWDTransfer(tr))
	}

	result, err := t.SWDIO(seq.dir, seq.io)
	if err != nil {
		return &TransportError{Err: err}
	}

	readIndex := 0
	for i := range transfers {
		window := result[readIndex:]
		value, outcome, perr := parseSWDResponse(window, transfers[i].Direction)
		if perr == nil {
			if transfers[i].Direction == DirRead {
				transfers[i].Value = value
			}
			transfers[i].Status = OutcomeOk
		} else {
			transfers[i].Status = outcome
		}
		log.WithFields(logrus.Fields{"index": i, "status": transfers[i].Status}).Trace("swd transfer result")

		readIndex += swdResponseLength(transfers[i].Direction)
		readIndex += transfers[i].IdleCyclesAfter
	}
	return nil
}
