package config

import (
	"fmt"
	"strings"
)

// Config represents the complete service configuration.
type Config struct {
	Facade       FacadeConfig      `mapstructure:"facade"`
	MediaServer  MediaServerConfig `mapstructure:"media_server"`
	Cameras      []CameraConfig    `mapstructure:"cameras"`
	DeviceProbe  DeviceProbeConfig `mapstructure:"device_probe"`
	Ingest       IngestConfig      `mapstructure:"ingest"`
	Recorder     RecorderConfig    `mapstructure:"recorder"`
	Storage      StorageConfig     `mapstructure:"storage"`
	Scene        SceneConfig       `mapstructure:"scene"`
	Mixer        MixerConfig       `mapstructure:"mixer"`
	Supervisor   SupervisorConfig  `mapstructure:"supervisor"`
	Logging      LoggingConfig     `mapstructure:"logging"`
	Security     SecurityConfig    `mapstructure:"security"`
	HTTPHealth   HTTPHealthConfig  `mapstructure:"http_health"`
	ServerDefaults   ServerDefaults         `mapstructure:"server_defaults"`
	APIKeyManagement APIKeyManagementConfig `mapstructure:"api_key_management"`
}

// String returns a string representation of the configuration for debugging.
func (c *Config) String() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("Facade: %s:%d", c.Facade.Host, c.Facade.Port))
	parts = append(parts, fmt.Sprintf("MediaServer: %s", c.MediaServer.Host))
	parts = append(parts, fmt.Sprintf("Cameras: %d configured", len(c.Cameras)))
	parts = append(parts, fmt.Sprintf("Recorder: mode=%s", c.Recorder.Mode))
	parts = append(parts, fmt.Sprintf("Mixer: %dx%d", c.Mixer.OutputWidth, c.Mixer.OutputHeight))
	parts = append(parts, fmt.Sprintf("Logging: level=%s", c.Logging.Level))
	return fmt.Sprintf("Config{%s}", strings.Join(parts, ", "))
}

// CameraByID returns the configured camera with the given id, if any.
func (c *Config) CameraByID(id string) (CameraConfig, bool) {
	for _, cam := range c.Cameras {
		if cam.ID == id {
			return cam, true
		}
	}
	return CameraConfig{}, false
}
