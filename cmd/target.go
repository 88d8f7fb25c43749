package cmd

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vertexdbg/probeforge/pkg/config"
	"github.com/vertexdbg/probeforge/pkg/core"
	"github.com/vertexdbg/probeforge/pkg/probe"
	"github.com/vertexdbg/probeforge/pkg/session"
	"github.com/vertexdbg/probeforge/pkg/target"
)

// loadFamily resolves --target (an alias name or a direct YAML path) to a
// parsed target.ChipFamily, and --port to the probe address, falling back
// to the alias's DefaultPort when --port was not given. Loading YAML
// target descriptions is the CLI's job (SPEC_FULL.md §D); pkg/target
// itself never parses a file.
func loadFamily() (target.ChipFamily, string, error) {
	if targetFlag == "" {
		return target.ChipFamily{}, "", fmt.Errorf("no --target given (an alias from probeforge.ini, or a path to a target description YAML)")
	}

	descPath := targetFlag
	port := portFlag
	if alias, ok := aliases.Resolve(targetFlag); ok {
		descPath = alias.DescriptionPath
		if port == "" {
			port = alias.DefaultPort
		}
	}
	if port == "" {
		return target.ChipFamily{}, "", fmt.Errorf("no --port given and alias %q has no default port", targetFlag)
	}

	raw, err := os.ReadFile(descPath)
	if err != nil {
		return target.ChipFamily{}, "", fmt.Errorf("reading target description %q: %w", descPath, err)
	}

	var family target.ChipFamily
	if err := yaml.Unmarshal(raw, &family); err != nil {
		return target.ChipFamily{}, "", fmt.Errorf("parsing target description %q: %w", descPath, err)
	}
	if err := family.Validate(); err != nil {
		return target.ChipFamily{}, "", fmt.Errorf("invalid target description %q: %w", descPath, err)
	}

	return family, port, nil
}

// openTransport dials a probe.Transport for addr: a TCP bridge address
// (anything containing a colon, e.g. "192.168.1.20:4444" or
// "tcp:192.168.1.20:4444") or otherwise a local serial bit-bang port.
func openTransport(addr string) (probe.Transport, error) {
	addr = strings.TrimPrefix(addr, "tcp:")
	if strings.Contains(addr, ":") {
		return probe.DialTCPBridge(addr)
	}
	return probe.OpenSerialBitbang(addr, 0)
}

// openSession resolves the target description, dials the probe, and
// attaches the requested (or first) core, applying --speed if given. The
// returned closer detaches the core and leaves the transport open for the
// caller (the probe.Transport itself has no Close contract beyond what
// individual backends expose).
func openSession() (*session.Session, *core.Core, target.ChipFamily, func(), error) {
	family, port, err := loadFamily()
	if err != nil {
		return nil, nil, target.ChipFamily{}, nil, err
	}
	if len(family.Variants) == 0 {
		return nil, nil, target.ChipFamily{}, nil, fmt.Errorf("target description %q declares no variants", targetFlag)
	}

	variant := family.Variants[0]
	if variantFlag != "" {
		v, ok := family.Variant(variantFlag)
		if !ok {
			return nil, nil, target.ChipFamily{}, nil, fmt.Errorf("target description has no variant %q", variantFlag)
		}
		variant = v
	}

	transport, err := openTransport(port)
	if err != nil {
		return nil, nil, target.ChipFamily{}, nil, fmt.Errorf("opening probe on %q: %w", port, err)
	}

	if speedFlag > 0 {
		if _, err := transport.SetSpeed(speedFlag); err != nil {
			return nil, nil, target.ChipFamily{}, nil, fmt.Errorf("setting probe speed: %w", err)
		}
	}

	settings, err := config.LoadEngineSettings()
	if err != nil {
		return nil, nil, target.ChipFamily{}, nil, fmt.Errorf("loading engine settings: %w", err)
	}

	sess, err := session.New(transport, family, variant, session.Options{
		Settings: settings,
		Log:      log.WithField("target", variant.Name),
	})
	if err != nil {
		return nil, nil, target.ChipFamily{}, nil, fmt.Errorf("opening session: %w", err)
	}

	coreName := coreFlag
	if coreName == "" {
		coreName = variant.Cores[0].Name
	}
	c, err := sess.AttachCore(coreName)
	if err != nil {
		return nil, nil, target.ChipFamily{}, nil, fmt.Errorf("attaching core %q: %w", coreName, err)
	}

	return sess, c, family, func() { sess.DetachCore() }, nil
}
