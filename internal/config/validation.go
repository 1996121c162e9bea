package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidateConfig validates the complete configuration, returning the first
// violation found. Called once after Viper unmarshal, on every load
// (including hot reloads).
func ValidateConfig(config *Config) error {
	if err := validateFacadeConfig(&config.Facade); err != nil {
		return fmt.Errorf("facade config: %w", err)
	}
	if err := validateMediaServerConfig(&config.MediaServer); err != nil {
		return fmt.Errorf("media_server config: %w", err)
	}
	if err := validateCameras(config.Cameras); err != nil {
		return fmt.Errorf("cameras config: %w", err)
	}
	if err := validateDeviceProbeConfig(&config.DeviceProbe); err != nil {
		return fmt.Errorf("device_probe config: %w", err)
	}
	if err := validateIngestConfig(&config.Ingest); err != nil {
		return fmt.Errorf("ingest config: %w", err)
	}
	if err := validateRecorderConfig(&config.Recorder); err != nil {
		return fmt.Errorf("recorder config: %w", err)
	}
	if err := validateStorageConfig(&config.Storage); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}
	if err := validateSceneConfig(&config.Scene); err != nil {
		return fmt.Errorf("scene config: %w", err)
	}
	if err := validateMixerConfig(&config.Mixer); err != nil {
		return fmt.Errorf("mixer config: %w", err)
	}
	if err := validateSupervisorConfig(&config.Supervisor); err != nil {
		return fmt.Errorf("supervisor config: %w", err)
	}
	if err := validateLoggingConfig(&config.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := validateCrossFieldConstraints(config); err != nil {
		return fmt.Errorf("cross-field validation: %w", err)
	}

	return nil
}

func validateFacadeConfig(config *FacadeConfig) error {
	if strings.TrimSpace(config.Host) == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if err := validateHost(config.Host); err != nil {
		return fmt.Errorf("invalid host format: %w", err)
	}
	if config.Port < 1 || config.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if strings.TrimSpace(config.EventPath) == "" {
		return fmt.Errorf("event_path cannot be empty")
	}
	if config.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive")
	}
	return nil
}

// validateHost validates host format (hostname or IP address).
func validateHost(host string) error {
	if ip := net.ParseIP(host); ip != nil {
		return nil
	}
	if len(host) > 253 {
		return fmt.Errorf("hostname too long")
	}
	for _, part := range strings.Split(host, ".") {
		if len(part) == 0 || len(part) > 63 {
			return fmt.Errorf("invalid hostname part")
		}
		if strings.HasPrefix(part, "-") || strings.HasSuffix(part, "-") {
			return fmt.Errorf("hostname part cannot start or end with hyphen")
		}
		for _, char := range part {
			if !((char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') ||
				(char >= '0' && char <= '9') || char == '-') {
				return fmt.Errorf("invalid character in hostname")
			}
		}
	}
	return nil
}

func validateMediaServerConfig(config *MediaServerConfig) error {
	ports := []struct {
		name string
		port int
	}{
		{"rtsp_port", config.RTSPPort},
		{"rtmp_port", config.RTMPPort},
		{"api_port", config.APIPort},
	}
	for _, p := range ports {
		if p.port < 1 || p.port > 65535 {
			return fmt.Errorf("%s must be between 1 and 65535", p.name)
		}
	}
	if strings.TrimSpace(config.PublishPathFmt) == "" {
		return fmt.Errorf("publish_path_fmt cannot be empty")
	}
	if !strings.Contains(config.PublishPathFmt, "%s") {
		return fmt.Errorf("publish_path_fmt must contain a %%s placeholder")
	}
	return nil
}

// validateCameras enforces that each configured camera owns exactly one
// device path.
func validateCameras(cams []CameraConfig) error {
	if len(cams) == 0 {
		return fmt.Errorf("at least one camera must be configured")
	}
	seenID := make(map[string]bool, len(cams))
	seenDevice := make(map[string]bool, len(cams))
	for _, cam := range cams {
		if strings.TrimSpace(cam.ID) == "" {
			return fmt.Errorf("camera id cannot be empty")
		}
		if seenID[cam.ID] {
			return fmt.Errorf("duplicate camera id %q", cam.ID)
		}
		seenID[cam.ID] = true

		if strings.TrimSpace(cam.DevicePath) == "" {
			return fmt.Errorf("camera %q: device_path cannot be empty", cam.ID)
		}
		if seenDevice[cam.DevicePath] {
			return fmt.Errorf("camera %q: device_path %q already bound to another camera", cam.ID, cam.DevicePath)
		}
		seenDevice[cam.DevicePath] = true

		if cam.Width < 1 || cam.Height < 1 {
			return fmt.Errorf("camera %q: width/height must be positive", cam.ID)
		}
		if cam.FrameRate < 1 {
			return fmt.Errorf("camera %q: frame_rate must be positive", cam.ID)
		}
		switch cam.Codec {
		case "h264", "h265":
		default:
			return fmt.Errorf("camera %q: unsupported codec %q, must be h264 or h265", cam.ID, cam.Codec)
		}
		if cam.BitrateKbps < 1 {
			return fmt.Errorf("camera %q: bitrate_kbps must be positive", cam.ID)
		}
		if strings.TrimSpace(cam.PublishPath) == "" {
			return fmt.Errorf("camera %q: publish_path cannot be empty", cam.ID)
		}
	}
	return nil
}

func validateDeviceProbeConfig(config *DeviceProbeConfig) error {
	if config.MinSignalWidth < 1 || config.MinSignalHeight < 1 {
		return fmt.Errorf("min_signal_width/min_signal_height must be positive")
	}
	if config.ProbeTimeout <= 0 {
		return fmt.Errorf("probe_timeout must be positive")
	}
	return nil
}

func validateIngestConfig(config *IngestConfig) error {
	if config.StartDeadline <= 0 {
		return fmt.Errorf("start_deadline must be positive")
	}
	if config.StopDeadline <= 0 {
		return fmt.Errorf("stop_deadline must be positive")
	}
	if config.LivenessTimeout <= 0 {
		return fmt.Errorf("liveness_timeout must be positive")
	}
	if config.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	return nil
}

func validateRecorderConfig(config *RecorderConfig) error {
	switch config.Mode {
	case RecorderModeBranched, RecorderModeStandalone:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", RecorderModeBranched, RecorderModeStandalone, config.Mode)
	}
	if strings.TrimSpace(config.RecordingsRoot) == "" {
		return fmt.Errorf("recordings_root cannot be empty")
	}
	validContainers := []string{"mp4", "mkv", "fmp4"}
	if !contains(validContainers, config.Container) {
		return fmt.Errorf("container must be one of %v, got %q", validContainers, config.Container)
	}
	if config.StopDeadline <= 0 {
		return fmt.Errorf("stop_deadline must be positive")
	}
	if config.MaxSegmentDuration < 0 {
		return fmt.Errorf("max_segment_duration must be non-negative")
	}
	return nil
}

func validateStorageConfig(config *StorageConfig) error {
	if config.WarnPercent <= 0 || config.WarnPercent >= 100 {
		return fmt.Errorf("warn_percent must be between 1 and 99")
	}
	if config.BlockPercent <= 0 || config.BlockPercent >= 100 {
		return fmt.Errorf("block_percent must be between 1 and 99")
	}
	if config.WarnPercent >= config.BlockPercent {
		return fmt.Errorf("warn_percent (%d) must be less than block_percent (%d)", config.WarnPercent, config.BlockPercent)
	}
	return nil
}

func validateSceneConfig(config *SceneConfig) error {
	if strings.TrimSpace(config.StoreDir) == "" {
		return fmt.Errorf("store_dir cannot be empty")
	}
	return nil
}

func validateMixerConfig(config *MixerConfig) error {
	if config.OutputWidth < 1 || config.OutputHeight < 1 {
		return fmt.Errorf("output_width/output_height must be positive")
	}
	if config.StartDeadline <= 0 {
		return fmt.Errorf("start_deadline must be positive")
	}
	if config.StopDeadline <= 0 {
		return fmt.Errorf("stop_deadline must be positive")
	}
	if config.DeviceReleaseDelay < 0 {
		return fmt.Errorf("device_release_delay must be non-negative")
	}
	if strings.TrimSpace(config.PublishPath) == "" {
		return fmt.Errorf("publish_path cannot be empty")
	}
	return nil
}

func validateSupervisorConfig(config *SupervisorConfig) error {
	if config.MixerPollInterval <= 0 {
		return fmt.Errorf("mixer_poll_interval must be positive")
	}
	if config.IngestPollInterval <= 0 {
		return fmt.Errorf("ingest_poll_interval must be positive")
	}
	if config.RebuildBackoff <= 0 {
		return fmt.Errorf("rebuild_backoff must be positive")
	}
	if config.CommandQueueDepth < 1 {
		return fmt.Errorf("command_queue_depth must be at least 1")
	}
	if config.WorkerPoolSize < 1 {
		return fmt.Errorf("worker_pool_size must be at least 1")
	}
	return nil
}

// validateLoggingConfig validates logging configuration.
func validateLoggingConfig(config *LoggingConfig) error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "warning": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[strings.ToLower(config.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Level)
	}

	if config.FileEnabled {
		if strings.TrimSpace(config.FilePath) == "" {
			return fmt.Errorf("file_path cannot be empty when file logging is enabled")
		}
		if config.MaxFileSize < 1 {
			return fmt.Errorf("max_file_size must be at least 1 byte")
		}
		if config.BackupCount < 0 {
			return fmt.Errorf("backup_count must be non-negative")
		}
	}

	return nil
}

// validateCrossFieldConstraints validates relationships between different config sections.
func validateCrossFieldConstraints(config *Config) error {
	if config.Facade.Port == config.HTTPHealth.Port {
		return fmt.Errorf("facade port conflicts with http_health port")
	}
	if config.Facade.Port == config.MediaServer.APIPort {
		return fmt.Errorf("facade port conflicts with media_server api_port")
	}
	if config.Supervisor.WorkerPoolSize > config.Supervisor.CommandQueueDepth {
		return fmt.Errorf("worker_pool_size should not exceed command_queue_depth")
	}
	return nil
}

// contains checks if a slice contains a specific value.
func contains(slice []string, value string) bool {
	for _, item := range slice {
		if item == value {
			return true
		}
	}
	return false
}
