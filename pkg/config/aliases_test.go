package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAliasesReturnsEmptySetWhenNoFileExists(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(cwd)
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	f, err := LoadAliases()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.Aliases) != 0 {
		t.Errorf("len(Aliases) = %d, want 0 with no probeforge.ini present", len(f.Aliases))
	}
}

func TestLoadAliasesParsesSections(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(cwd)
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	contents := "[stm32f1]\ndescription = targets/stm32f1.yaml\nport = /dev/ttyUSB0\n"
	if err := os.WriteFile(filepath.Join(dir, "probeforge.ini"), []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	f, err := LoadAliases()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	alias, ok := f.Resolve("stm32f1")
	if !ok {
		t.Fatal("expected an alias named stm32f1")
	}
	if alias.DescriptionPath != "targets/stm32f1.yaml" {
		t.Errorf("DescriptionPath = %q, want targets/stm32f1.yaml", alias.DescriptionPath)
	}
	if alias.DefaultPort != "/dev/ttyUSB0" {
		t.Errorf("DefaultPort = %q, want /dev/ttyUSB0", alias.DefaultPort)
	}
}

func TestResolveReportsMissingAlias(t *testing.T) {
	f := &AliasFile{Aliases: map[string]TargetAlias{}}
	if _, ok := f.Resolve("nope"); ok {
		t.Error("expected Resolve to report false for an undefined alias")
	}
}
