package mirrorconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ControllerSettings is the persisted key/value settings document for the
// controller binary (§6.5). A YAML file under the user's home directory is
// the single-user analogue of the teacher's viper-backed config file; this
// repo has no UI settings store to persist into instead.
type ControllerSettings struct {
	ADBPath             string `yaml:"adb_path"`
	ConnectionAutoConnect bool `yaml:"connection_auto_connect"`
	UITheme             string `yaml:"ui_theme"`
	UIWindowWidth       int    `yaml:"ui_window_width"`
	UIWindowHeight      int    `yaml:"ui_window_height"`
	UIFullscreen        bool   `yaml:"ui_fullscreen"`
	UIWindowPosX        int    `yaml:"ui_window_pos_x"`
	UIWindowPosY        int    `yaml:"ui_window_pos_y"`

	MaxReconnectAttempts   int `yaml:"max_reconnect_attempts"`
	ReconnectDelayMs       int `yaml:"reconnect_delay_ms"`
	HeartbeatIntervalMs    int `yaml:"heartbeat_interval_ms"`
	DiscoveryIntervalMs    int `yaml:"discovery_interval_ms"`
	LivenessTimeoutMs      int `yaml:"liveness_timeout_ms"`
	AdaptiveBitrateEnabled bool `yaml:"adaptive_bitrate_enabled"`

	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
}

// DefaultControllerSettings mirrors §4.3, §4.7 and SPEC_FULL's added
// adaptive-bitrate opt-in (default false, honoring the Non-goal).
func DefaultControllerSettings() *ControllerSettings {
	return &ControllerSettings{
		ADBPath:                "adb",
		ConnectionAutoConnect:  false,
		UITheme:                "system",
		UIWindowWidth:          1280,
		UIWindowHeight:         800,
		MaxReconnectAttempts:   5,
		ReconnectDelayMs:       3000,
		HeartbeatIntervalMs:    5000,
		DiscoveryIntervalMs:    5000,
		LivenessTimeoutMs:      30000,
		AdaptiveBitrateEnabled: false,
		LogMaxSizeMB:           50,
		LogMaxBackups:          3,
	}
}

// SettingsDir returns the controller's user-scoped storage directory.
func SettingsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".mirror-controller"), nil
}

// LoadControllerSettings reads ~/.mirror-controller/settings.yaml, returning
// defaults if the file does not exist yet.
func LoadControllerSettings() (*ControllerSettings, error) {
	dir, err := SettingsDir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "settings.yaml")

	settings := DefaultControllerSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	return settings, nil
}

// SaveControllerSettings writes settings to ~/.mirror-controller/settings.yaml,
// creating the directory if needed.
func SaveControllerSettings(settings *ControllerSettings) error {
	dir, err := SettingsDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	path := filepath.Join(dir, "settings.yaml")
	return os.WriteFile(path, data, 0600)
}
