package config

import "time"

// FacadeConfig represents the in-process Control Facade's companion
// HTTP/WebSocket event-push listener settings. The JSON control surface
// itself is an external collaborator; this is only the transport the
// Supervisor uses to publish completion and health-change events.
type FacadeConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	EventPath       string        `mapstructure:"event_path"`
	MaxConnections  int           `mapstructure:"max_connections"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MediaServerConfig describes the external streaming server (MediaMTX or
// equivalent) that Ingest and Mixer publish into. Only path-naming and
// reachability concerns live here; the server itself is out of scope.
type MediaServerConfig struct {
	Host           string `mapstructure:"host"`
	RTSPPort       int    `mapstructure:"rtsp_port"`
	RTMPPort       int    `mapstructure:"rtmp_port"`
	APIPort        int    `mapstructure:"api_port"`
	PublishPathFmt string `mapstructure:"publish_path_fmt"` // e.g. "cam/%s"
}

// CameraConfig describes one configured HDMI input.
type CameraConfig struct {
	ID              string  `mapstructure:"id"`
	DevicePath      string  `mapstructure:"device_path"`
	Width           int     `mapstructure:"width"`
	Height          int     `mapstructure:"height"`
	FrameRate       int     `mapstructure:"frame_rate"`
	Codec           string  `mapstructure:"codec"` // "h264" or "h265"
	BitrateKbps     int     `mapstructure:"bitrate_kbps"`
	Enabled         bool    `mapstructure:"enabled"`
	RecordingFormat string  `mapstructure:"recording_format_template"`
	PublishPath     string  `mapstructure:"publish_path"`
}

// DeviceProbeConfig tunes the Device Probe's behavior.
type DeviceProbeConfig struct {
	MinSignalWidth  int           `mapstructure:"min_signal_width"`
	MinSignalHeight int           `mapstructure:"min_signal_height"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
}

// IngestConfig tunes Ingest Engine deadlines and liveness checks.
type IngestConfig struct {
	StartDeadline    time.Duration `mapstructure:"start_deadline"`    // default 10s
	StopDeadline     time.Duration `mapstructure:"stop_deadline"`     // default 10s
	LivenessTimeout  time.Duration `mapstructure:"liveness_timeout"`  // default 15s
	PollInterval     time.Duration `mapstructure:"poll_interval"`     // default 10s
}

// RecorderMode selects how the Recorder Engine acquires its capture.
type RecorderMode string

const (
	RecorderModeBranched   RecorderMode = "branched"
	RecorderModeStandalone RecorderMode = "standalone"
)

// RecorderConfig tunes Recorder Engine behavior.
type RecorderConfig struct {
	Mode                RecorderMode  `mapstructure:"mode"`
	RecordingsRoot      string        `mapstructure:"recordings_root"`
	Container           string        `mapstructure:"container"`
	StopDeadline        time.Duration `mapstructure:"stop_deadline"`
	MaxSegmentDuration  time.Duration `mapstructure:"max_segment_duration"`
}

// StorageConfig guards the recordings filesystem against exhaustion.
type StorageConfig struct {
	WarnPercent  int `mapstructure:"warn_percent"`
	BlockPercent int `mapstructure:"block_percent"`
}

// SceneConfig points the Scene Manager at its persistence directory.
type SceneConfig struct {
	StoreDir      string `mapstructure:"store_dir"`
	SeedBuiltins  bool   `mapstructure:"seed_builtins"`
}

// MixerConfig tunes Mixer Engine deadlines.
type MixerConfig struct {
	StartDeadline      time.Duration `mapstructure:"start_deadline"`
	StopDeadline       time.Duration `mapstructure:"stop_deadline"`
	DeviceReleaseDelay time.Duration `mapstructure:"device_release_delay"` // default 500ms
	OutputWidth        int           `mapstructure:"output_width"`
	OutputHeight       int           `mapstructure:"output_height"`
	PublishPath        string        `mapstructure:"publish_path"`
}

// SupervisorConfig tunes the health-poll cadence and backoff policy.
type SupervisorConfig struct {
	MixerPollInterval  time.Duration `mapstructure:"mixer_poll_interval"`  // default 5s
	IngestPollInterval time.Duration `mapstructure:"ingest_poll_interval"` // default 10s
	RebuildBackoff     time.Duration `mapstructure:"rebuild_backoff"`      // default 30s
	CommandQueueDepth  int           `mapstructure:"command_queue_depth"`
	WorkerPoolSize     int           `mapstructure:"worker_pool_size"`
	StrandedProcessKill bool         `mapstructure:"stranded_process_kill"`
}

// LoggingConfig represents logging configuration (ambient, domain-free).
type LoggingConfig struct {
	Level          string `mapstructure:"level"`
	Format         string `mapstructure:"format"`
	FileEnabled    bool   `mapstructure:"file_enabled"`
	FilePath       string `mapstructure:"file_path"`
	MaxFileSize    int    `mapstructure:"max_file_size"`
	BackupCount    int    `mapstructure:"backup_count"`
	ConsoleEnabled bool   `mapstructure:"console_enabled"`
}

// SecurityConfig protects the Control Facade's command submission channel.
type SecurityConfig struct {
	JWTSecretKey      string        `mapstructure:"jwt_secret_key"`
	JWTExpiryHours    int           `mapstructure:"jwt_expiry_hours"`
	RateLimitRequests int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
}

// ServerDefaults carries process-level operational defaults that do not
// belong to any single engine (shutdown grace period, misc tickers).
type ServerDefaults struct {
	ShutdownTimeout     float64 `mapstructure:"shutdown_timeout"`      // seconds
	CameraMonitorTicker float64 `mapstructure:"camera_monitor_ticker"` // seconds
}

// APIKeyManagementConfig configures the Control Facade's shared API key
// store, used by the admin CLI (cmd/cli) and the security Authenticator's
// API-key path.
type APIKeyManagementConfig struct {
	StoragePath      string `mapstructure:"storage_path"`
	EncryptionKey    string `mapstructure:"encryption_key"`
	BackupEnabled    bool   `mapstructure:"backup_enabled"`
	BackupPath       string `mapstructure:"backup_path"`
	BackupInterval   string `mapstructure:"backup_interval"`
	KeyLength        int    `mapstructure:"key_length"`
	KeyPrefix        string `mapstructure:"key_prefix"`
	KeyFormat        string `mapstructure:"key_format"`
	DefaultExpiry    string `mapstructure:"default_expiry"`
	RotationEnabled  bool   `mapstructure:"rotation_enabled"`
	RotationInterval string `mapstructure:"rotation_interval"`
	MaxKeysPerRole   int    `mapstructure:"max_keys_per_role"`
	AuditLogging     bool   `mapstructure:"audit_logging"`
	UsageTracking    bool   `mapstructure:"usage_tracking"`
	CLIEnabled       bool   `mapstructure:"cli_enabled"`
	AdminInterface   bool   `mapstructure:"admin_interface"`
	AdminPort        int    `mapstructure:"admin_port"`
}

// HTTPHealthConfig configures the liveness/readiness endpoint.
type HTTPHealthConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	BasicEndpoint    string `mapstructure:"basic_endpoint"`
	DetailedEndpoint string `mapstructure:"detailed_endpoint"`
	ReadyEndpoint    string `mapstructure:"ready_endpoint"`
	LiveEndpoint     string `mapstructure:"live_endpoint"`
	ReadTimeout      string `mapstructure:"read_timeout"`
	WriteTimeout     string `mapstructure:"write_timeout"`
	IdleTimeout      string `mapstructure:"idle_timeout"`
}
