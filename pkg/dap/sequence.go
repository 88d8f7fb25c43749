package dap

// DebugSequence is the customization hook SPEC_FULL.md's supplemented
// features call for: a per-chip-family override of the debug-port bring-
// up steps, modeled on probe-rs's ArmDebugSequence trait. Most targets
// use DefaultSequence; a handful of chip families need extra steps (e.g.
// unlocking a debug-access register before SELECT becomes writable) and
// supply their own implementation, set on the session at construction
// time.
type DebugSequence interface {
	// DebugPortSetup runs before power-up: clearing sticky flags and
	// establishing a known SELECT state.
	DebugPortSetup(d *DebugPort) error
	// DebugPortStart runs after DebugPortSetup: requesting power-up and
	// enabling CTRL/STAT byte lanes.
	DebugPortStart(d *DebugPort) error
}

// DefaultSequence implements the plain spec.md §4.2 startup with no
// chip-specific extensions.
type DefaultSequence struct{}

func (DefaultSequence) DebugPortSetup(d *DebugPort) error { return defaultDebugPortSetup(d) }
func (DefaultSequence) DebugPortStart(d *DebugPort) error { return defaultDebugPortStart(d) }
