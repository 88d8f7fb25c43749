package wire

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vertexdbg/probeforge/pkg/probe"
)

// Statistics tracks bookkeeping counters across a session's lifetime,
// grounded on probe-rs's ProbeStatistics (an SPEC_FULL.md §C supplement:
// pure bookkeeping on data the engine already computes, useful for
// judging how "clean" a probe/target pairing is).
type Statistics struct {
	NumTransfers      int
	NumExtraTransfers int
	NumIOCalls        int
	NumWaitResponses  int
	NumFaults         int
	NumLineResets     int
}

// Engine is the L1 wire-protocol engine described in spec.md §4.1. One
// Engine is owned per session (spec.md §5): it is not safe for concurrent
// use by multiple goroutines, matching the single-threaded, synchronous
// scheduling model.
type Engine struct {
	transport probe.Transport
	jtag      *jtagProbeAdapter
	settings  Settings
	stats     Statistics
	log       *logrus.Entry
}

// NewEngine constructs a wire engine driving transport with the given
// settings (use wire.DefaultSettings() absent an override from
// pkg/config's viper layer).
func NewEngine(transport probe.Transport, settings Settings, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		transport: transport,
		jtag:      newJTAGProbeAdapter(transport),
		settings:  settings,
		log:       log,
	}
}

// Statistics returns a snapshot of the engine's bookkeeping counters.
func (e *Engine) Statistics() Statistics { return e.stats }

// ReadRegister performs a single logical register read with full WAIT/
// FAULT/line-reset recovery (spec.md §4.1 error recovery rules).
func (e *Engine) ReadRegister(port Port, address uint8) (uint32, error) {
	batch := []Transfer{Read(port, address)}
	if err := e.TransferBatch(batch); err != nil {
		return 0, err
	}
	return batch[0].Value, nil
}

// WriteRegister performs a single logical register write with full
// recovery.
func (e *Engine) WriteRegister(port Port, address uint8, value uint32) error {
	batch := []Transfer{Write(port, address, value)}
	return e.TransferBatch(batch)
}

// TransferBatch executes a caller-ordered slice of logical transfers
// (spec.md §3/§4.1), rewriting it into a physical batch that honors the
// posted-read pipelining rule, dispatching it over the active wire
// protocol, and recovering transparently from WAIT and sticky
// FAULT/overrun per spec.md §4.1/§7. On return, each element of logical
// has its Status and (for reads) Value filled in.
//
// WAIT is retried up to settings.NumRetriesAfterWait times, doubling the
// inter-write idle-cycle padding on each retry (capped at
// MaxRetryIdleCyclesAfterWait) and clearing STICKYORUN between attempts.
// FAULT is not retried here: the engine clears the sticky flags so the
// next transfer starts clean and returns a *FaultError so the caller's
// higher-level operation can decide whether to retry.
func (e *Engine) TransferBatch(logical []Transfer) error {
	if len(logical) == 0 {
		return nil
	}

	idleCycles := e.settings.NumIdleCyclesBetweenWrites
	if idleCycles < 1 {
		idleCycles = 1
	}

	lineResetsLeft := e.settings.LineResetRetries
	retries := e.settings.NumRetriesAfterWait
	if retries < 1 {
		retries = 1
	}

	for attempt := 0; attempt <= retries; attempt++ {
		physical, resultIndex := e.rewriteBatch(logical, idleCycles)

		if err := e.dispatch(physical); err != nil {
			return err
		}

		waited, faulted, protoErr := false, false, false
		for i, idx := range resultIndex {
			status := physical[idx].Status
			logical[i].Status = status
			if status == OutcomeOk && logical[i].Direction == DirRead {
				logical[i].Value = physical[idx].Value
			}
			switch status {
			case OutcomeWait:
				waited = true
				e.stats.NumWaitResponses++
			case OutcomeFault:
				faulted = true
				e.stats.NumFaults++
			case OutcomeProtocolError:
				protoErr = true
			}
		}

		if faulted {
			e.log.Warn("sticky FAULT observed, clearing sticky flags")
			if err := e.clearStickyFlags(); err != nil {
				return err
			}
			return &FaultError{}
		}

		if protoErr {
			if lineResetsLeft <= 0 {
				return &ProtocolError{Reason: "no-acknowledge after line reset retries exhausted"}
			}
			lineResetsLeft--
			if err := e.LineReset(); err != nil {
				return err
			}
			continue
		}

		if waited {
			e.log.WithField("idle_cycles", idleCycles).Debug("WAIT response, retrying with backoff")
			if err := e.clearStickyOverrun(); err != nil {
				return err
			}
			idleCycles *= 2
			if idleCycles > e.settings.MaxRetryIdleCyclesAfterWait {
				idleCycles = e.settings.MaxRetryIdleCyclesAfterWait
			}
			continue
		}

		for i := range logical {
			if logical[i].Status != OutcomeOk {
				logical[i].Status = OutcomeOk
			}
		}
		return nil
	}

	return &WaitExhaustedError{Retries: retries}
}

// rewriteBatch implements the posted-read pipelining rewrite of spec.md
// §4.1: it inserts synthetic DP.RDBUFF reads wherever a pending AP read
// result or a buffered write's status would otherwise be lost, and pads
// write-verify-sensitive reads with idle_cycles_before_write_verify idle
// bits. It returns the physical batch plus, for each logical transfer,
// the index into the physical batch holding its result.
func (e *Engine) rewriteBatch(logical []Transfer, idleCycles int) ([]Transfer, []int) {
	physical := make([]Transfer, 0, len(logical)+2)
	resultIndex := make([]int, len(logical))

	needAPRead := false
	bufferedWrite := false

	for i, t := range logical {
		if !t.isAPRead() && needAPRead {
			physical = append(physical, Read(PortDP, AddrRDBUFF))
			e.stats.NumExtraTransfers++
		}

		if bufferedWrite {
			if t.isAbortWrite() || t.isDPIDRRead() || t.isCtrlStatRead() {
				if n := len(physical); n > 0 {
					physical[n-1].IdleCyclesAfter += e.settings.IdleCyclesBeforeWriteVerify
				}
				physical = append(physical, Read(PortDP, AddrRDBUFF))
				e.stats.NumExtraTransfers++
			}
		}

		physical = append(physical, t)
		pos := len(physical) - 1

		needAPRead = t.isAPRead()
		bufferedWrite = t.Port == PortAP && t.Direction == DirWrite
		writeResponsePending := t.isWrite() && !t.isAbortWrite()

		if needAPRead || writeResponsePending {
			resultIndex[i] = pos + 1
		} else {
			resultIndex[i] = pos
		}

		if t.isWrite() {
			physical[pos].IdleCyclesAfter = idleCycles
		}
	}

	lastWriteResponsePending := len(logical) > 0 && logical[len(logical)-1].isWrite() && !logical[len(logical)-1].isAbortWrite()
	if needAPRead || lastWriteResponsePending {
		if lastWriteResponsePending {
			if n := len(physical); n > 0 {
				physical[n-1].IdleCyclesAfter += e.settings.IdleCyclesBeforeWriteVerify
			}
		}
		physical = append(physical, Read(PortDP, AddrRDBUFF))
		e.stats.NumExtraTransfers++
	}

	if e.settings.IdleCyclesAfterTransfer > 0 && len(physical) > 0 {
		physical[len(physical)-1].IdleCyclesAfter += e.settings.IdleCyclesAfterTransfer
	}

	e.stats.NumTransfers += len(physical)
	return physical, resultIndex
}

func (e *Engine) dispatch(physical []Transfer) error {
	e.stats.NumIOCalls++
	switch e.transport.ActiveProtocol() {
	case probe.ProtocolJTAG:
		return performJTAGTransfers(e.jtag, physical, e.log)
	default:
		return performSWDTransfers(e.transport, physical, e.log)
	}
}

// clearStickyOverrun clears DP.ABORT.ORUNERRCLR between WAIT retries, so
// a transfer still in flight from the previous attempt cannot mask the
// retry's own result.
func (e *Engine) clearStickyOverrun() error {
	const orunerrclr = 1 << 4
	return e.writeAbortRaw(orunerrclr)
}

// clearStickyFlags clears DP.ABORT.{ORUNERRCLR,STKERRCLR} after a FAULT,
// per spec.md §4.1, so the next transfer on the wire starts clean.
func (e *Engine) clearStickyFlags() error {
	const orunerrclr = 1 << 4
	const stkerrclr = 1 << 2
	return e.writeAbortRaw(orunerrclr | stkerrclr)
}

// writeAbortRaw writes DP.ABORT directly, bypassing retry/rewrite (ABORT
// writes never post a status response per spec.md §9's open question, and
// must never themselves trigger another recovery cycle).
func (e *Engine) writeAbortRaw(value uint32) error {
	physical := []Transfer{Write(PortDP, AddrABORT, value)}
	return e.dispatch(physical)
}

// LineReset drives >=50 clock cycles with the data line held high,
// followed by two low cycles, then re-reads DP.DPIDR to resynchronize
// (spec.md §4.1). It is retried once internally if the first attempt
// still gets no acknowledge, matching probe-rs's line_reset.
func (e *Engine) LineReset() error {
	const numResetBits = 50
	seq := make([]bool, numResetBits+2)
	for i := 0; i < numResetBits; i++ {
		seq[i] = true
	}
	// trailing two low cycles

	var lastErr error
	for i := 0; i < 2; i++ {
		e.stats.NumLineResets++
		if err := e.transport.SWJSequence(seq); err != nil {
			return &TransportError{Err: err}
		}
		physical := []Transfer{Read(PortDP, AddrDPIDR)}
		if err := e.dispatch(physical); err != nil {
			return err
		}
		if physical[0].Status == OutcomeOk {
			return nil
		}
		lastErr = fmt.Errorf("line reset attempt %d: %s", i+1, physical[0].Status)
	}
	return &ProtocolError{Reason: fmt.Sprintf("line reset failed: %v", lastErr)}
}

// FaultError is returned when a sticky FAULT is surfaced to the caller,
// per spec.md §7. The engine has already cleared the sticky flags.
type FaultError struct{}

func (e *FaultError) Error() string { return "FAULT response (sticky flags cleared)" }

// WaitExhaustedError is returned when a transfer is retried past the
// configured WAIT budget.
type WaitExhaustedError struct{ Retries int }

func (e *WaitExhaustedError) Error() string {
	return fmt.Sprintf("WAIT response exceeded %d retries", e.Retries)
}

// ProtocolError is returned when line-reset recovery could not
// resynchronize the link.
type ProtocolError struct{ Reason string }

func (e *ProtocolError) Error() string { return "protocol error: " + e.Reason }

// TimeoutError is returned by a bounded poll (spec.md §5/§9: every poll
// has an absolute deadline and must not busy-spin).
type TimeoutError struct {
	Op      string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Elapsed)
}
