package config

const (
	defaultConfigFile      = "radiology-workflow.toml"
	defaultLogLevel        = "info"
	defaultLogFormat       = "console"
	defaultSweepInterval   = 30
	defaultEstimateMinutes = 30
	defaultOutboxCapacity  = 10000
	defaultAPIBind         = "127.0.0.1:7610"
	defaultLockPath        = "radiology-workflow.lock"
	defaultSubjectPrefix   = "radiology"
	defaultRequestTimeout  = 10
)

// Default returns a Config populated with service defaults.
func Default() Config {
	return Config{
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		Workflow: Workflow{
			SweepInterval:          defaultSweepInterval,
			DefaultEstimateMinutes: defaultEstimateMinutes,
			AdminChannels:          []string{"in_app", "email"},
			OutboxCapacity:         defaultOutboxCapacity,
		},
		API: API{
			Bind:     defaultAPIBind,
			LockPath: defaultLockPath,
		},
		NATS: NATS{
			SubjectPrefix: defaultSubjectPrefix,
		},
		Notifications: Notifications{
			RequestTimeout: defaultRequestTimeout,
		},
	}
}
