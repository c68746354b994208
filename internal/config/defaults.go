package config

const (
	defaultDataDir            = "~/.local/share/conveyor"
	defaultLogDir             = "~/.local/share/conveyor/logs"
	defaultLabelPrefix        = "conveyor"
	defaultTrackerTimeout     = 90
	defaultTrackerPageSize    = 200
	defaultQueuePollInterval  = 5
	defaultErrorRetryInterval = 10
	defaultCollectInterval    = 1200
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120
	defaultMaxAttempts        = 4
	defaultRetryBackoffBase   = 60
	defaultRetryBackoffCap    = 3600
	defaultStageWorkers       = 1
	defaultAgentTimeout       = 1800
	defaultNotifyTimeout      = 10
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Tracker: Tracker{
			LabelPrefix:    defaultLabelPrefix,
			RequestTimeout: defaultTrackerTimeout,
			PageSize:       defaultTrackerPageSize,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			CollectInterval:    defaultCollectInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			MaxAttempts:        defaultMaxAttempts,
			RetryBackoffBase:   defaultRetryBackoffBase,
			RetryBackoffCap:    defaultRetryBackoffCap,
			StageWorkers:       defaultStageWorkers,
			AgentTimeout:       defaultAgentTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Parked:         true,
			Errors:         true,
			Completed:      true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
