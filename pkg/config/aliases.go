// Package config provides probeforge's two configuration layers
// (SPEC_FULL.md §A): an ini-backed target alias file for short target
// names, and a viper-backed engine-tuning layer for the wire engine's
// numeric knobs (settings.go). Grounded on the teacher's pkg/config,
// which only had the first layer.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"
)

// TargetAlias maps a short name a user types on the command line (e.g.
// "stm32f1") to the target-description file describing that chip family
// and the probe port to default to.
type TargetAlias struct {
	Name            string
	DescriptionPath string
	DefaultPort     string
}

// AliasFile holds every alias loaded from probeforge.ini.
type AliasFile struct {
	Aliases map[string]TargetAlias
	Path    string
}

// LoadAliases reads probeforge.ini from, in order, the current
// directory, $PROBEFORGE, and the user's home directory — the same
// search order as the teacher's config.Load, renamed from foenixmgr.ini.
// Each non-DEFAULT section is one alias, named after the section.
func LoadAliases() (*AliasFile, error) {
	var searchPaths []string
	searchPaths = append(searchPaths, filepath.Join(".", "probeforge.ini"))
	if dir := os.Getenv("PROBEFORGE"); dir != "" {
		searchPaths = append(searchPaths, filepath.Join(dir, "probeforge.ini"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, "probeforge.ini"))
	}

	var iniFile *ini.File
	var configPath string
	for _, path := range searchPaths {
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		f, err := ini.Load(path)
		if err != nil {
			continue
		}
		iniFile, configPath = f, path
		break
	}
	if iniFile == nil {
		// No alias file is not fatal: a caller can still pass a target
		// description path directly on the command line.
		return &AliasFile{Aliases: map[string]TargetAlias{}}, nil
	}

	aliases := make(map[string]TargetAlias)
	for _, section := range iniFile.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		aliases[section.Name()] = TargetAlias{
			Name:            section.Name(),
			DescriptionPath: section.Key("description").MustString(""),
			DefaultPort:     section.Key("port").MustString(""),
		}
	}
	return &AliasFile{Aliases: aliases, Path: configPath}, nil
}

// Resolve returns the named alias, or false if no such alias is defined.
func (f *AliasFile) Resolve(name string) (TargetAlias, bool) {
	a, ok := f.Aliases[name]
	return a, ok
}

// ConfigPath mirrors the teacher's ConfigPath helper, reporting which
// probeforge.ini (if any) LoadAliases would pick up right now.
func ConfigPath() (string, error) {
	paths := []string{filepath.Join(".", "probeforge.ini")}
	if dir := os.Getenv("PROBEFORGE"); dir != "" {
		paths = append(paths, filepath.Join(dir, "probeforge.ini"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "probeforge.ini"))
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no probeforge.ini file found")
}
