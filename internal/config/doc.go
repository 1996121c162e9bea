// Package config provides the appliance's configuration: YAML loading
// through Viper with MIXER_* environment overrides, validation with
// meaningful errors, built-in defaults (four HDMI camera slots), and
// fsnotify-driven hot reload for non-structural settings.
//
// Structural settings (camera device paths, recorder mode) are loaded
// once at startup and require a restart; non-structural settings (log
// level, poll intervals) propagate to registered update callbacks when
// the file changes.
//
// Usage:
//   - Create the manager with CreateConfigManager()
//   - Load with LoadConfig(path); a validation failure is fatal at boot
//   - Read with GetConfig(); register for reloads with AddUpdateCallback
package config
