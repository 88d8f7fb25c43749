package dap

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vertexdbg/probeforge/pkg/wire"
)

// DebugPort is the L2 handle over a wire.Engine: typed DP register access
// plus SELECT-register bank caching, shared by every AP on the link.
type DebugPort struct {
	engine *wire.Engine
	log    *logrus.Entry

	selectValid bool
	selectCache uint32

	sequence DebugSequence
}

// NewDebugPort wraps engine with the L2 register abstraction. sequence
// may be nil, in which case DefaultSequence{} drives startup.
func NewDebugPort(engine *wire.Engine, sequence DebugSequence, log *logrus.Entry) *DebugPort {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if sequence == nil {
		sequence = DefaultSequence{}
	}
	return &DebugPort{engine: engine, log: log, sequence: sequence}
}

// ReadDPIDR reads the Debug Port Identification Register.
func (d *DebugPort) ReadDPIDR() (uint32, error) {
	return d.engine.ReadRegister(wire.PortDP, RegDPIDR)
}

// ReadCtrlStat reads DP.CTRL/STAT.
func (d *DebugPort) ReadCtrlStat() (uint32, error) {
	return d.engine.ReadRegister(wire.PortDP, RegCTRLSTAT)
}

// WriteCtrlStat writes DP.CTRL/STAT.
func (d *DebugPort) WriteCtrlStat(value uint32) error {
	return d.engine.WriteRegister(wire.PortDP, RegCTRLSTAT, value)
}

// WriteAbort writes DP.ABORT directly. Per spec.md §9's open question,
// ABORT writes are assumed never to post a status response.
func (d *DebugPort) WriteAbort(value uint32) error {
	return d.engine.WriteRegister(wire.PortDP, RegABORT, value)
}

// selectAPBank ensures SELECT addresses (apIndex, bank), re-writing SELECT
// only when it would change (spec.md §4.2: "the layer caches the last-
// written SELECT value and only re-writes when the bank changes").
func (d *DebugPort) selectAPBank(apIndex, bank uint8) error {
	want := selectValue(apIndex, bank)
	if d.selectValid && d.selectCache == want {
		return nil
	}
	if err := d.engine.WriteRegister(wire.PortDP, RegSELECT, want); err != nil {
		return err
	}
	d.selectValid = true
	d.selectCache = want
	return nil
}

// invalidateSelect forces the next selectAPBank call to re-write SELECT,
// used after a line reset or FAULT recovery where the DP's internal
// SELECT state cannot be assumed to have survived.
func (d *DebugPort) invalidateSelect() {
	d.selectValid = false
}

// ReadAP reads AP register addr (0, 4, 8 or 0xC within the current bank)
// on the Access Port at apIndex.
func (d *DebugPort) ReadAP(apIndex uint8, addr uint8) (uint32, error) {
	if err := d.selectAPBank(apIndex, addr&0xF0); err != nil {
		return 0, err
	}
	return d.engine.ReadRegister(wire.PortAP, addr&0x0F)
}

// WriteAP writes AP register addr on the Access Port at apIndex.
func (d *DebugPort) WriteAP(apIndex uint8, addr uint8, value uint32) error {
	if err := d.selectAPBank(apIndex, addr&0xF0); err != nil {
		return err
	}
	return d.engine.WriteRegister(wire.PortAP, addr&0x0F, value)
}

// Init runs the debug-port startup sequence of spec.md §4.2: clear sticky
// ABORT flags, select bank 0, power up both domains (polling ACKs with a
// 100 ms budget), then enable all CTRL/STAT byte lanes. Called once per
// session after the transport has selected SWD or JTAG.
func (d *DebugPort) Init() error {
	if err := d.sequence.DebugPortSetup(d); err != nil {
		return err
	}
	return d.sequence.DebugPortStart(d)
}

// defaultDebugPortSetup implements DebugSequence.DebugPortSetup's default
// behavior, factored out so DefaultSequence and architecture-specific
// sequences that only want to override DebugPortStart can still reuse it.
func defaultDebugPortSetup(d *DebugPort) error {
	if err := d.WriteAbort(AbortClearAll()); err != nil {
		return err
	}
	d.invalidateSelect()
	if err := d.engine.WriteRegister(wire.PortDP, RegSELECT, 0); err != nil {
		return err
	}
	d.selectValid = true
	d.selectCache = 0
	return nil
}

// defaultDebugPortStart implements DebugSequence.DebugPortStart's default
// behavior: power up CDBG/CSYS and enable byte lanes.
func defaultDebugPortStart(d *DebugPort) error {
	ctrl, err := d.ReadCtrlStat()
	if err != nil {
		return err
	}

	if !CtrlStatPoweredUp(ctrl) {
		if err := d.WriteCtrlStat(CtrlStatPowerUpRequest()); err != nil {
			return err
		}

		const budget = 100 * time.Millisecond
		const pollInterval = time.Millisecond
		deadline := time.Now().Add(budget)
		for {
			ctrl, err = d.ReadCtrlStat()
			if err != nil {
				return err
			}
			if CtrlStatPoweredUp(ctrl) {
				break
			}
			if time.Now().After(deadline) {
				return &wire.TimeoutError{Op: "debug port power-up", Elapsed: budget}
			}
			time.Sleep(pollInterval)
		}
	}

	return d.WriteCtrlStat(CtrlStatWithMaskLane(ctrl))
}

func (d *DebugPort) String() string {
	return fmt.Sprintf("DebugPort{select=0x%08X}", d.selectCache)
}
