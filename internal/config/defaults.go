package config

const (
	defaultConfigPath         = "~/.config/norc/config.toml"
	defaultLogDir             = "~/.local/share/norc/logs"
	defaultRegistryPath       = "~/.local/share/norc/norc.db"
	defaultLogRetentionDays   = 30
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultPollFrequency      = 3
	defaultRunnerBinary       = "tmsd-run-task"
	defaultSettleDelaySeconds = 2
	daemonLogSubdir           = "_tmsd"
)

// Backend names accepted by daemon.backend.
const (
	BackendProcess = "process"
	BackendThread  = "thread"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir:       defaultLogDir,
			RegistryPath: defaultRegistryPath,
		},
		Daemon: Daemon{
			PollFrequency:     defaultPollFrequency,
			Backend:           BackendProcess,
			RedirectDaemonLog: true,
			RunnerBinary:      defaultRunnerBinary,
			SettleDelay:       defaultSettleDelaySeconds,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
