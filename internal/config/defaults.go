package config

const (
	defaultDataDir            = "~/.local/share/loom/data"
	defaultLogDir             = "~/.local/share/loom/logs"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultEventRetentionDays = 30
	defaultMinFreeSpaceMiB    = 256
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Scheduler: Scheduler{
			MaxConcurrency: 0,
			StopOnError:    true,
		},
		Guardrails: Guardrails{},
		Store: Store{
			EventRetentionDays: defaultEventRetentionDays,
			MinFreeSpaceMiB:    defaultMinFreeSpaceMiB,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
