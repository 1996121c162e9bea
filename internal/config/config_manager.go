package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camerarecorder/hdmi-mixer-go/internal/common"
	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ConfigManager manages configuration loading, validation, and hot reload functionality.
//
// A hot reload replaces the config returned by GetConfig and runs the
// registered update callbacks. The only callback that is registered
// (RegisterLoggingConfigurationUpdates) applies the logging settings.
// Everything else is read once at startup by the components that use it,
// so a reload does not change their behaviour until restart.
type ConfigManager struct {
	config          *Config
	configPath      string
	updateCallbacks []func(*Config)
	watcher         *fsnotify.Watcher
	watcherActive   int32 // Atomic: 0 = inactive, 1 = active
	watcherLock     sync.RWMutex
	lock            sync.RWMutex
	defaultConfig   *Config
	logger          *logging.Logger
	stopChan        chan struct{}
	wg              sync.WaitGroup
}

var _ common.Stoppable = (*ConfigManager)(nil)

// CreateConfigManager creates a new configuration manager instance.
func CreateConfigManager() *ConfigManager {
	return &ConfigManager{
		updateCallbacks: make([]func(*Config), 0),
		defaultConfig:   getDefaultConfig(),
		logger:          logging.GetLogger("config-manager"),
		stopChan:        make(chan struct{}, 5),
	}
}

// LoadConfig loads configuration from YAML file with environment variable overrides and validation.
func (cm *ConfigManager) LoadConfig(configPath string) error {
	cm.lock.Lock()
	defer cm.lock.Unlock()

	cm.logger.WithFields(logging.Fields{
		"config_path": configPath,
		"action":      "load_config",
	}).Info("Loading configuration")

	if err := cm.validateConfigFile(configPath); err != nil {
		return fmt.Errorf("configuration validation failed: invalid configuration - %w", err)
	}

	cfg, err := loadConfigFile(configPath)
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	oldConfig := cm.config
	cm.config = cfg
	cm.configPath = configPath

	if os.Getenv("MIXER_ENABLE_HOT_RELOAD") == "true" {
		if err := cm.startFileWatching(); err != nil {
			cm.logger.WithError(err).Warn("Failed to start file watching, hot reload disabled")
		}
	}

	cm.notifyConfigUpdated(oldConfig, cfg)

	cm.logger.WithFields(logging.Fields{
		"config_path": configPath,
		"action":      "load_config",
		"status":      "success",
	}).Info("Configuration loaded successfully")

	return nil
}

// validateConfigFile checks basic file-level sanity before Viper parses it.
func (cm *ConfigManager) validateConfigFile(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return fmt.Errorf("configuration file does not exist: '%s'", configPath)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("cannot read configuration file '%s': %w", configPath, err)
	}
	if len(content) == 0 {
		return fmt.Errorf("configuration file is empty: '%s'", configPath)
	}

	hasContent := false
	for _, line := range strings.Split(string(content), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		hasContent = true
		break
	}
	if !hasContent {
		return fmt.Errorf("configuration file contains only comments or is empty: '%s'", configPath)
	}
	return nil
}

// startFileWatching starts watching the configuration file for changes.
func (cm *ConfigManager) startFileWatching() error {
	cm.stopFileWatching()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	cm.watcherLock.Lock()
	cm.watcher = watcher
	cm.watcherLock.Unlock()

	configDir := filepath.Dir(cm.configPath)
	if err := cm.watcher.Add(configDir); err != nil {
		cm.watcher.Close()
		cm.watcherLock.Lock()
		cm.watcher = nil
		cm.watcherLock.Unlock()
		return fmt.Errorf("failed to watch config directory %s: %w", configDir, err)
	}

	atomic.StoreInt32(&cm.watcherActive, 1)

	cm.wg.Add(1)
	go cm.watchFileChanges()

	cm.logger.WithFields(logging.Fields{
		"config_path": cm.configPath,
		"watch_dir":   configDir,
	}).Info("File watching started for hot reload")

	return nil
}

// stopFileWatching stops the file watcher.
func (cm *ConfigManager) stopFileWatching() {
	atomic.StoreInt32(&cm.watcherActive, 0)

	cm.watcherLock.Lock()
	defer cm.watcherLock.Unlock()

	if cm.watcher != nil {
		if err := cm.watcher.Close(); err != nil {
			cm.logger.WithError(err).Warn("Error closing file watcher")
		}
		cm.watcher = nil
	}
}

// watchFileChanges watches for file changes and triggers configuration reload.
func (cm *ConfigManager) watchFileChanges() {
	defer cm.wg.Done()

	var reloadTimer *time.Timer

	for {
		if atomic.LoadInt32(&cm.watcherActive) == 0 {
			return
		}

		cm.watcherLock.RLock()
		if cm.watcher == nil {
			cm.watcherLock.RUnlock()
			return
		}
		events := cm.watcher.Events
		errs := cm.watcher.Errors
		cm.watcherLock.RUnlock()

		select {
		case <-cm.stopChan:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Name != cm.configPath {
				continue
			}
			switch event.Op {
			case fsnotify.Write, fsnotify.Create:
				if reloadTimer != nil {
					reloadTimer.Stop()
				}
				reloadTimer = time.AfterFunc(100*time.Millisecond, cm.reloadConfiguration)
			case fsnotify.Remove:
				cm.logger.Warn("Configuration file was removed, hot reload disabled")
				cm.stopFileWatching()
				return
			}
		case err, ok := <-errs:
			if !ok {
				return
			}
			cm.logger.WithError(err).Error("File watcher error")
		case <-time.After(100 * time.Millisecond):
			continue
		}
	}
}

// reloadConfiguration reloads the configuration file.
func (cm *ConfigManager) reloadConfiguration() {
	cm.logger.Info("Reloading configuration due to file change")

	if _, err := os.Stat(cm.configPath); os.IsNotExist(err) {
		cm.logger.Warn("Configuration file no longer exists, stopping hot reload")
		cm.stopFileWatching()
		return
	}

	if err := cm.LoadConfig(cm.configPath); err != nil {
		cm.logger.WithError(err).Error("Failed to reload configuration")
		return
	}

	cm.logger.Info("Configuration reloaded successfully")
}

// Stop stops the configuration manager and cleans up resources with context-aware cancellation.
func (cm *ConfigManager) Stop(ctx context.Context) error {
	cm.logger.Info("Stopping configuration manager")

	select {
	case <-cm.stopChan:
	default:
		close(cm.stopChan)
	}

	cm.stopFileWatching()

	done := make(chan struct{})
	go func() {
		cm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		cm.logger.Warn("Configuration manager shutdown timeout")
		return ctx.Err()
	}

	cm.logger.Info("Configuration manager stopped")
	return nil
}

// GetConfig returns the current configuration, or the built-in defaults if
// no configuration has been loaded yet.
func (cm *ConfigManager) GetConfig() *Config {
	cm.lock.RLock()
	defer cm.lock.RUnlock()

	if cm.config == nil {
		return cm.defaultConfig
	}
	return cm.config
}

// GetLogger returns the config manager's logger.
func (cm *ConfigManager) GetLogger() *logging.Logger {
	return cm.logger
}

// AddUpdateCallback adds a callback invoked whenever configuration is (re)loaded.
func (cm *ConfigManager) AddUpdateCallback(callback func(*Config)) {
	cm.lock.Lock()
	defer cm.lock.Unlock()
	cm.updateCallbacks = append(cm.updateCallbacks, callback)
}

// RegisterLoggingConfigurationUpdates wires logging reconfiguration into the
// hot-reload callback chain so log level/format changes apply without restart.
func (cm *ConfigManager) RegisterLoggingConfigurationUpdates() {
	cm.AddUpdateCallback(func(newConfig *Config) {
		if newConfig == nil {
			return
		}
		loggingConfig := &logging.LoggingConfig{
			Level:          newConfig.Logging.Level,
			Format:         newConfig.Logging.Format,
			FileEnabled:    newConfig.Logging.FileEnabled,
			FilePath:       newConfig.Logging.FilePath,
			MaxFileSize:    newConfig.Logging.MaxFileSize,
			BackupCount:    newConfig.Logging.BackupCount,
			ConsoleEnabled: newConfig.Logging.ConsoleEnabled,
		}
		if err := logging.ConfigureGlobalLogging(loggingConfig); err != nil {
			cm.logger.WithError(err).Error("Failed to update logging configuration")
			return
		}
		cm.logger.WithFields(logging.Fields{
			"level":  loggingConfig.Level,
			"format": loggingConfig.Format,
		}).Info("Logging configuration updated successfully")
	})
}

func (cm *ConfigManager) notifyConfigUpdated(oldConfig, newConfig *Config) {
	_ = oldConfig
	for _, cb := range cm.updateCallbacks {
		cb(newConfig)
	}
}

// setViperDefaults installs the built-in defaults on a fresh Viper;
// shared by the manager and the hot-reload watcher.
func setViperDefaults(v *viper.Viper) {
	d := getDefaultConfig()

	v.SetDefault("facade.host", d.Facade.Host)
	v.SetDefault("facade.port", d.Facade.Port)
	v.SetDefault("facade.event_path", d.Facade.EventPath)
	v.SetDefault("facade.max_connections", d.Facade.MaxConnections)
	v.SetDefault("facade.write_timeout", d.Facade.WriteTimeout)
	v.SetDefault("facade.shutdown_timeout", d.Facade.ShutdownTimeout)

	v.SetDefault("media_server.host", d.MediaServer.Host)
	v.SetDefault("media_server.rtsp_port", d.MediaServer.RTSPPort)
	v.SetDefault("media_server.rtmp_port", d.MediaServer.RTMPPort)
	v.SetDefault("media_server.api_port", d.MediaServer.APIPort)
	v.SetDefault("media_server.publish_path_fmt", d.MediaServer.PublishPathFmt)

	v.SetDefault("device_probe.min_signal_width", d.DeviceProbe.MinSignalWidth)
	v.SetDefault("device_probe.min_signal_height", d.DeviceProbe.MinSignalHeight)
	v.SetDefault("device_probe.probe_timeout", d.DeviceProbe.ProbeTimeout)

	v.SetDefault("ingest.start_deadline", d.Ingest.StartDeadline)
	v.SetDefault("ingest.stop_deadline", d.Ingest.StopDeadline)
	v.SetDefault("ingest.liveness_timeout", d.Ingest.LivenessTimeout)
	v.SetDefault("ingest.poll_interval", d.Ingest.PollInterval)

	v.SetDefault("recorder.mode", string(d.Recorder.Mode))
	v.SetDefault("recorder.recordings_root", d.Recorder.RecordingsRoot)
	v.SetDefault("recorder.container", d.Recorder.Container)
	v.SetDefault("recorder.stop_deadline", d.Recorder.StopDeadline)
	v.SetDefault("recorder.max_segment_duration", d.Recorder.MaxSegmentDuration)

	v.SetDefault("storage.warn_percent", d.Storage.WarnPercent)
	v.SetDefault("storage.block_percent", d.Storage.BlockPercent)

	v.SetDefault("scene.store_dir", d.Scene.StoreDir)
	v.SetDefault("scene.seed_builtins", d.Scene.SeedBuiltins)

	v.SetDefault("mixer.start_deadline", d.Mixer.StartDeadline)
	v.SetDefault("mixer.stop_deadline", d.Mixer.StopDeadline)
	v.SetDefault("mixer.device_release_delay", d.Mixer.DeviceReleaseDelay)
	v.SetDefault("mixer.output_width", d.Mixer.OutputWidth)
	v.SetDefault("mixer.output_height", d.Mixer.OutputHeight)
	v.SetDefault("mixer.publish_path", d.Mixer.PublishPath)

	v.SetDefault("supervisor.mixer_poll_interval", d.Supervisor.MixerPollInterval)
	v.SetDefault("supervisor.ingest_poll_interval", d.Supervisor.IngestPollInterval)
	v.SetDefault("supervisor.rebuild_backoff", d.Supervisor.RebuildBackoff)
	v.SetDefault("supervisor.command_queue_depth", d.Supervisor.CommandQueueDepth)
	v.SetDefault("supervisor.worker_pool_size", d.Supervisor.WorkerPoolSize)
	v.SetDefault("supervisor.stranded_process_kill", d.Supervisor.StrandedProcessKill)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file_enabled", d.Logging.FileEnabled)
	v.SetDefault("logging.console_enabled", d.Logging.ConsoleEnabled)

	v.SetDefault("security.jwt_expiry_hours", d.Security.JWTExpiryHours)
	v.SetDefault("security.rate_limit_requests", d.Security.RateLimitRequests)
	v.SetDefault("security.rate_limit_window", d.Security.RateLimitWindow)

	v.SetDefault("http_health.enabled", d.HTTPHealth.Enabled)
	v.SetDefault("http_health.host", d.HTTPHealth.Host)
	v.SetDefault("http_health.port", d.HTTPHealth.Port)
	v.SetDefault("http_health.basic_endpoint", d.HTTPHealth.BasicEndpoint)
	v.SetDefault("http_health.detailed_endpoint", d.HTTPHealth.DetailedEndpoint)
	v.SetDefault("http_health.ready_endpoint", d.HTTPHealth.ReadyEndpoint)
	v.SetDefault("http_health.live_endpoint", d.HTTPHealth.LiveEndpoint)
	v.SetDefault("http_health.read_timeout", d.HTTPHealth.ReadTimeout)
	v.SetDefault("http_health.write_timeout", d.HTTPHealth.WriteTimeout)
	v.SetDefault("http_health.idle_timeout", d.HTTPHealth.IdleTimeout)
}

// loadConfigFile parses and validates one configuration file with the
// built-in defaults and MIXER_* environment overrides applied.
func loadConfigFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	setViperDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("MIXER")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("cannot read configuration file '%s': %w", configPath, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// getDefaultConfig returns the built-in default configuration, seeding four
// enabled HDMI camera slots (cam0..cam3) matching the reference appliance.
func getDefaultConfig() *Config {
	cams := make([]CameraConfig, 0, 4)
	for i := 0; i < 4; i++ {
		cams = append(cams, CameraConfig{
			ID:                       fmt.Sprintf("cam%d", i),
			DevicePath:               fmt.Sprintf("/dev/video%d", i),
			Width:                    1920,
			Height:                   1080,
			FrameRate:                30,
			Codec:                    "h264",
			BitrateKbps:              4000,
			Enabled:                  true,
			RecordingFormat:          "%Y-%m-%d_%H-%M-%S_{camera}.mp4",
			PublishPath:              fmt.Sprintf("cam%d", i),
		})
	}

	return &Config{
		Facade: FacadeConfig{
			Host:            "0.0.0.0",
			Port:            9002,
			EventPath:       "/events",
			MaxConnections:  50,
			WriteTimeout:    5 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		MediaServer: MediaServerConfig{
			Host:           "127.0.0.1",
			RTSPPort:       8554,
			RTMPPort:       1935,
			APIPort:        9997,
			PublishPathFmt: "%s",
		},
		Cameras: cams,
		DeviceProbe: DeviceProbeConfig{
			MinSignalWidth:  640,
			MinSignalHeight: 480,
			ProbeTimeout:    2 * time.Second,
		},
		Ingest: IngestConfig{
			StartDeadline:   10 * time.Second,
			StopDeadline:    10 * time.Second,
			LivenessTimeout: 15 * time.Second,
			PollInterval:    10 * time.Second,
		},
		Recorder: RecorderConfig{
			Mode:               RecorderModeBranched,
			RecordingsRoot:     "/opt/mixer/recordings",
			Container:          "mp4",
			StopDeadline:       10 * time.Second,
			MaxSegmentDuration: 0,
		},
		Storage: StorageConfig{
			WarnPercent:  80,
			BlockPercent: 90,
		},
		Scene: SceneConfig{
			StoreDir:     "/opt/mixer/scenes",
			SeedBuiltins: true,
		},
		Mixer: MixerConfig{
			StartDeadline:      10 * time.Second,
			StopDeadline:       10 * time.Second,
			DeviceReleaseDelay: 500 * time.Millisecond,
			OutputWidth:        1920,
			OutputHeight:       1080,
			PublishPath:        "program",
		},
		Supervisor: SupervisorConfig{
			MixerPollInterval:   5 * time.Second,
			IngestPollInterval:  10 * time.Second,
			RebuildBackoff:      30 * time.Second,
			CommandQueueDepth:   64,
			WorkerPoolSize:      8,
			StrandedProcessKill: true,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			FileEnabled:    false,
			ConsoleEnabled: true,
		},
		Security: SecurityConfig{
			JWTExpiryHours:    24,
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
		},
		HTTPHealth: HTTPHealthConfig{
			Enabled:          true,
			Host:             "0.0.0.0",
			Port:             9003,
			BasicEndpoint:    "/health",
			DetailedEndpoint: "/health/detailed",
			ReadyEndpoint:    "/health/ready",
			LiveEndpoint:     "/health/live",
			ReadTimeout:      "5s",
			WriteTimeout:     "5s",
			IdleTimeout:      "60s",
		},
		ServerDefaults: ServerDefaults{
			ShutdownTimeout:     30.0,
			CameraMonitorTicker: 5.0,
		},
		APIKeyManagement: APIKeyManagementConfig{
			StoragePath:      "/etc/hdmi-mixer/api-keys.json",
			BackupEnabled:    true,
			BackupPath:       "/var/backups/hdmi-mixer/keys",
			BackupInterval:   "24h",
			KeyLength:        32,
			KeyPrefix:        "hmx_",
			KeyFormat:        "base64url",
			DefaultExpiry:    "90d",
			RotationEnabled:  false,
			RotationInterval: "30d",
			MaxKeysPerRole:   10,
			AuditLogging:     true,
			UsageTracking:    true,
			CLIEnabled:       true,
			AdminInterface:   false,
			AdminPort:        8004,
		},
	}
}
