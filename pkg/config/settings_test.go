package config

import (
	"os"
	"testing"

	"github.com/vertexdbg/probeforge/pkg/wire"
)

func TestLoadEngineSettingsFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(cwd)
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	got, err := LoadEngineSettings()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := wire.DefaultSettings()
	if got != want {
		t.Errorf("LoadEngineSettings() = %+v, want defaults %+v", got, want)
	}
}

func TestLoadEngineSettingsHonorsEnvOverride(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(cwd)
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	os.Setenv("PROBEFORGE_SWD_NUM_RETRIES_AFTER_WAIT", "42")
	defer os.Unsetenv("PROBEFORGE_SWD_NUM_RETRIES_AFTER_WAIT")

	got, err := LoadEngineSettings()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.NumRetriesAfterWait != 42 {
		t.Errorf("NumRetriesAfterWait = %d, want 42 from env override", got.NumRetriesAfterWait)
	}
}
