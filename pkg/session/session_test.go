package session

import (
	"testing"
	"time"

	"github.com/vertexdbg/probeforge/pkg/core"
	"github.com/vertexdbg/probeforge/pkg/dap"
	"github.com/vertexdbg/probeforge/pkg/probe"
	"github.com/vertexdbg/probeforge/pkg/target"
	"github.com/vertexdbg/probeforge/pkg/wire"
)

// fakeTransport is a minimal probe.Transport stand-in: JTAGIO always
// echoes back all-1 bits, enough for DMI construction (reading DTMCS) to
// succeed without a real probe attached.
type fakeTransport struct{}

func (fakeTransport) JTAGIO(tms, tdi []bool) ([]bool, error) {
	out := make([]bool, len(tms))
	for i := range out {
		out[i] = true
	}
	return out, nil
}
func (fakeTransport) SWDIO(dirBits, ioBits []bool) ([]bool, error) {
	return make([]bool, len(ioBits)), nil
}
func (fakeTransport) SetSpeed(khz int) (int, error) { return khz, nil }
func (fakeTransport) SWJSequence(bits []bool) error { return nil }
func (fakeTransport) SWJPins(out, selectMask probe.Pin, waitUs time.Duration) (probe.PinState, error) {
	return probe.AllOnes, nil
}
func (fakeTransport) ActiveProtocol() probe.Protocol { return probe.ProtocolJTAG }
func (fakeTransport) TargetResetAssert() error       { return nil }
func (fakeTransport) TargetResetDeassert() error     { return nil }

func testVariant() target.ChipVariant {
	return target.ChipVariant{
		Name: "TEST1",
		Cores: []target.Core{
			{Name: "main", CoreType: target.CoreTypeArmv7m, Access: target.CoreAccess{APIndex: 0}},
			{Name: "coproc", CoreType: target.CoreTypeRiscv},
		},
	}
}

// newTestSession builds a Session with a live wire.Engine/dap.DebugPort
// (needed since buildDriver dereferences them) but skips the hardware
// bring-up sequence in New(), since dp.Init() needs a scripted transport
// this package doesn't otherwise exercise.
func newTestSession(v target.ChipVariant) *Session {
	engine := wire.NewEngine(fakeTransport{}, wire.DefaultSettings(), nil)
	dp := dap.NewDebugPort(engine, nil, nil)
	return &Session{engine: engine, dp: dp, variant: v}
}

func TestAttachCoreRejectsUnknownName(t *testing.T) {
	s := newTestSession(testVariant())
	if _, err := s.AttachCore("nope"); err == nil {
		t.Error("expected an error attaching an unknown core name")
	}
}

func TestAttachCoreBuildsArmDriverForArmv7m(t *testing.T) {
	s := newTestSession(testVariant())
	c, err := s.AttachCore("main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Architecture() != core.ArchitectureARM {
		t.Errorf("Architecture() = %v, want ARM", c.Architecture())
	}
	if c.CoreType() != core.CoreTypeArmv7m {
		t.Errorf("CoreType() = %v, want Armv7m", c.CoreType())
	}
}

func TestAttachCoreRejectsSecondCoreWhileFirstAttached(t *testing.T) {
	s := newTestSession(testVariant())
	if _, err := s.AttachCore("main"); err != nil {
		t.Fatalf("unexpected error attaching first core: %v", err)
	}
	_, err := s.AttachCore("coproc")
	if err == nil {
		t.Fatal("expected CoreAlreadyAttachedError attaching a second core")
	}
	if _, ok := err.(*CoreAlreadyAttachedError); !ok {
		t.Errorf("error = %T, want *CoreAlreadyAttachedError", err)
	}
}

func TestReattachingTheSameCoreIsAllowed(t *testing.T) {
	s := newTestSession(testVariant())
	if _, err := s.AttachCore("main"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.AttachCore("main"); err != nil {
		t.Errorf("re-attaching the already-attached core should not error, got %v", err)
	}
}

func TestDetachCoreClearsExclusivity(t *testing.T) {
	s := newTestSession(testVariant())
	if _, err := s.AttachCore("main"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.DetachCore()
	if _, err := s.AttachCore("coproc"); err != nil {
		t.Errorf("attaching a different core after DetachCore should succeed, got %v", err)
	}
}

func TestToCoreKindMapsEveryTargetCoreType(t *testing.T) {
	tests := []struct {
		in   target.CoreType
		want core.CoreType
	}{
		{target.CoreTypeArmv6m, core.CoreTypeArmv6m},
		{target.CoreTypeArmv7m, core.CoreTypeArmv7m},
		{target.CoreTypeArmv7em, core.CoreTypeArmv7em},
		{target.CoreTypeArmv8m, core.CoreTypeArmv8m},
		{target.CoreTypeArmv7a, core.CoreTypeArmv7a},
		{target.CoreTypeRiscv, core.CoreTypeRiscv},
	}
	for _, tt := range tests {
		if got := toCoreKind(tt.in); got != tt.want {
			t.Errorf("toCoreKind(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
