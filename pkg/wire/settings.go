package wire

import "time"

// Settings holds the tunable timing and retry parameters for the wire
// engine, per the defaults named in spec.md §4.1. These are the values
// pkg/config layers on top of via viper (PROBEFORGE_SWD_* env vars /
// probeforge.yaml), mirroring probe-rs's SwdSettings.
type Settings struct {
	// NumIdleCyclesBetweenWrites is the initial number of idle bits
	// trailing every write transfer.
	NumIdleCyclesBetweenWrites int
	// NumRetriesAfterWait bounds how many times a WAIT response is
	// retried before the transfer fails WaitExhausted.
	NumRetriesAfterWait int
	// MaxRetryIdleCyclesAfterWait caps the doubling backoff applied to
	// idle cycles between WAIT retries.
	MaxRetryIdleCyclesAfterWait int
	// IdleCyclesBeforeWriteVerify pads the RDBUFF read the engine
	// inserts before an ABORT write or a DPIDR/CTRL-STAT read that follows
	// a posted AP write, and the RDBUFF read that ends a batch whose last
	// transfer is a write.
	IdleCyclesBeforeWriteVerify int
	// IdleCyclesAfterTransfer pads the tail of every physical batch.
	IdleCyclesAfterTransfer int
	// LineResetRetries bounds how many times a no-acknowledge/parity
	// fault triggers a line reset + DPIDR resync before surfacing a
	// ProtocolError.
	LineResetRetries int
	// PollInterval is the sleep between iterations of a polling loop
	// (halt waits, reset waits, flash-routine waits). Never zero: the
	// engine must not busy-spin (spec.md §9).
	PollInterval time.Duration
}

// DefaultSettings returns the defaults named throughout spec.md §4.1.
func DefaultSettings() Settings {
	return Settings{
		NumIdleCyclesBetweenWrites:  2,
		NumRetriesAfterWait:         1000,
		MaxRetryIdleCyclesAfterWait: 128,
		IdleCyclesBeforeWriteVerify: 8,
		IdleCyclesAfterTransfer:     8,
		LineResetRetries:            2,
		PollInterval:                time.Millisecond,
	}
}
