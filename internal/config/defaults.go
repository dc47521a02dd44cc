package config

const (
	defaultHost                 = "127.0.0.1"
	defaultPort                 = 1883
	defaultClientID             = "kiosk-player"
	defaultKeepalive            = 60
	defaultStatusReportInterval = 30000
	defaultHeartbeatInterval    = 15000
	defaultMediaDir             = "~/.local/share/kiosk/media"
	defaultMaxConcurrent        = 3
	defaultRetryLimit           = 3
	defaultDownloadTimeout      = 300
	defaultVolume               = 70
	defaultPlayerBinary         = "mpv"
	defaultRestartDelay         = 3
	defaultMaxRestarts          = 3
	defaultLogLevel             = "info"
	defaultLogFormat            = "console"
	defaultLogDir               = "~/.local/state/kiosk/logs"
	defaultStateDir             = "~/.local/state/kiosk"
	defaultAPIBind              = "127.0.0.1:7700"

	minKeepalive            = 10
	maxKeepalive            = 300
	minStatusReportInterval = 5000
	maxStatusReportInterval = 300000
	minHeartbeatInterval    = 5000
	maxHeartbeatInterval    = 120000
	minMaxConcurrent        = 1
	maxMaxConcurrent        = 10
	maxRetryLimit           = 10
	minDownloadTimeout      = 10
	maxDownloadTimeout      = 3600
	minRestartDelay         = 1
	maxRestartDelaySeconds  = 60
	maxRestartAttempts      = 10
)

func defaultRetryBackoff() []int {
	return []int{1, 2, 4, 8, 16, 30}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		MQTT: MQTT{
			Enabled:              true,
			Host:                 defaultHost,
			Port:                 defaultPort,
			ClientID:             defaultClientID,
			Keepalive:            defaultKeepalive,
			CleanSession:         true,
			StatusReportInterval: defaultStatusReportInterval,
			HeartbeatInterval:    defaultHeartbeatInterval,
		},
		Download: Download{
			Path:          defaultMediaDir,
			MaxConcurrent: defaultMaxConcurrent,
			RetryLimit:    defaultRetryLimit,
			RetryBackoff:  defaultRetryBackoff(),
			Timeout:       defaultDownloadTimeout,
		},
		Player: Player{
			AutoPlay:    true,
			Loop:        true,
			Volume:      defaultVolume,
			PreloadNext: true,
			Binary:      defaultPlayerBinary,
		},
		System: System{
			EnableAutoRestart: true,
			RestartDelay:      defaultRestartDelay,
			MaxRestarts:       defaultMaxRestarts,
			LogLevel:          defaultLogLevel,
			LogFormat:         defaultLogFormat,
			LogPath:           defaultLogDir,
			StateDir:          defaultStateDir,
			APIBind:           defaultAPIBind,
		},
	}
}
