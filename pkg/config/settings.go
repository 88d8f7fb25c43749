package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vertexdbg/probeforge/pkg/wire"
)

// LoadEngineSettings builds a wire.Settings from, in priority order,
// environment variables (PROBEFORGE_SWD_*), a probeforge.yaml in the
// current directory, and wire.DefaultSettings()'s built-in fallbacks.
// SPEC_FULL.md §A gives viper this job since these are per-invocation
// numeric knobs that benefit from env-var overrides in CI/bench
// harnesses, unlike the alias file's static name->path mappings.
func LoadEngineSettings() (wire.Settings, error) {
	v := viper.New()
	v.SetConfigName("probeforge")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("PROBEFORGE_SWD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := wire.DefaultSettings()
	v.SetDefault("num_idle_cycles_between_writes", defaults.NumIdleCyclesBetweenWrites)
	v.SetDefault("num_retries_after_wait", defaults.NumRetriesAfterWait)
	v.SetDefault("max_retry_idle_cycles_after_wait", defaults.MaxRetryIdleCyclesAfterWait)
	v.SetDefault("idle_cycles_before_write_verify", defaults.IdleCyclesBeforeWriteVerify)
	v.SetDefault("idle_cycles_after_transfer", defaults.IdleCyclesAfterTransfer)
	v.SetDefault("line_reset_retries", defaults.LineResetRetries)
	v.SetDefault("poll_interval_ms", defaults.PollInterval.Milliseconds())

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return wire.Settings{}, err
		}
	}

	return wire.Settings{
		NumIdleCyclesBetweenWrites:  v.GetInt("num_idle_cycles_between_writes"),
		NumRetriesAfterWait:         v.GetInt("num_retries_after_wait"),
		MaxRetryIdleCyclesAfterWait: v.GetInt("max_retry_idle_cycles_after_wait"),
		IdleCyclesBeforeWriteVerify: v.GetInt("idle_cycles_before_write_verify"),
		IdleCyclesAfterTransfer:     v.GetInt("idle_cycles_after_transfer"),
		LineResetRetries:            v.GetInt("line_reset_retries"),
		PollInterval:                time.Duration(v.GetInt64("poll_interval_ms")) * time.Millisecond,
	}, nil
}
