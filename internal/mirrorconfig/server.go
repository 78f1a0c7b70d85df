// Package mirrorconfig holds the configuration structs and validation for
// the mirror-server and mirror-controller binaries, loaded through viper
// the way internal/config does it in the teacher.
package mirrorconfig

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ServerConfig is the streaming server's runtime configuration (§6.4).
type ServerConfig struct {
	Port             int    `mapstructure:"port"`
	DiscoveryPort    int    `mapstructure:"discovery_port"`
	Width            int    `mapstructure:"width"`
	Height           int    `mapstructure:"height"`
	BitrateBps       int    `mapstructure:"bitrate"`
	FPS              int    `mapstructure:"fps"`
	Verbose          bool   `mapstructure:"verbose"`
	Debug            bool   `mapstructure:"debug"`
	LogLevel         string `mapstructure:"log_level"`
	LogFormat        string `mapstructure:"log_format"`
	LogFile          string `mapstructure:"log_file"`
	LogMaxSizeMB     int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups    int    `mapstructure:"log_max_backups"`
	MaxConnections   int    `mapstructure:"max_connections"`
	HeartbeatMs      int    `mapstructure:"heartbeat_interval_ms"`
	RecvBufferBytes  int    `mapstructure:"recv_buffer_bytes"`
	SendBufferBytes  int    `mapstructure:"send_buffer_bytes"`
	SocketTimeoutMs  int    `mapstructure:"socket_timeout_ms"`
	DeviceName       string `mapstructure:"device_name"`
}

// DefaultServerConfig mirrors the CLI defaults named in §6.4.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            8080,
		DiscoveryPort:   8081,
		Width:           1280,
		Height:          720,
		BitrateBps:      4_000_000,
		FPS:             30,
		LogLevel:        "warn",
		LogFormat:       "text",
		LogMaxSizeMB:    50,
		LogMaxBackups:   3,
		MaxConnections:  32,
		HeartbeatMs:     5000,
		RecvBufferBytes: 64 * 1024,
		SendBufferBytes: 64 * 1024,
		SocketTimeoutMs: 5000,
		DeviceName:      "mirror-server",
	}
}

// BindServerFlags registers the §6.4 flags on fs and binds them through v so
// LoadServerConfig's viper.Unmarshal picks up CLI overrides.
func BindServerFlags(fs *pflag.FlagSet, v *viper.Viper) {
	d := DefaultServerConfig()
	fs.IntP("port", "p", d.Port, "TCP port to listen on")
	fs.IntP("width", "w", d.Width, "capture width")
	fs.IntP("height", "h", d.Height, "capture height")
	fs.IntP("bitrate", "b", d.BitrateBps, "target encoder bitrate in bits/sec")
	fs.IntP("fps", "f", d.FPS, "target capture/encode framerate")
	fs.BoolP("verbose", "v", false, "enable verbose (info) logging")
	fs.BoolP("debug", "d", false, "enable debug logging")
	fs.String("log-file", "", "rotate logs to this file in addition to stdout")

	_ = v.BindPFlag("port", fs.Lookup("port"))
	_ = v.BindPFlag("width", fs.Lookup("width"))
	_ = v.BindPFlag("height", fs.Lookup("height"))
	_ = v.BindPFlag("bitrate", fs.Lookup("bitrate"))
	_ = v.BindPFlag("fps", fs.Lookup("fps"))
	_ = v.BindPFlag("verbose", fs.Lookup("verbose"))
	_ = v.BindPFlag("debug", fs.Lookup("debug"))
	_ = v.BindPFlag("log_file", fs.Lookup("log-file"))
}

// LoadServerConfig reads defaults, then environment (MIRROR_SERVER_ prefix),
// then any bound CLI flags, in viper's standard precedence order.
func LoadServerConfig(v *viper.Viper) (*ServerConfig, error) {
	cfg := DefaultServerConfig()

	v.SetEnvPrefix("MIRROR_SERVER")
	v.AutomaticEnv()

	defaultsMap := map[string]interface{}{
		"port": cfg.Port, "discovery_port": cfg.DiscoveryPort,
		"width": cfg.Width, "height": cfg.Height, "bitrate": cfg.BitrateBps,
		"fps": cfg.FPS, "log_level": cfg.LogLevel, "log_format": cfg.LogFormat,
		"log_file": cfg.LogFile, "log_max_size_mb": cfg.LogMaxSizeMB, "log_max_backups": cfg.LogMaxBackups,
		"max_connections": cfg.MaxConnections, "heartbeat_interval_ms": cfg.HeartbeatMs,
		"recv_buffer_bytes": cfg.RecvBufferBytes, "send_buffer_bytes": cfg.SendBufferBytes,
		"socket_timeout_ms": cfg.SocketTimeoutMs, "device_name": cfg.DeviceName,
	}
	for k, val := range defaultsMap {
		v.SetDefault(k, val)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal server config: %w", err)
	}

	if cfg.Verbose && cfg.LogLevel == "warn" {
		cfg.LogLevel = "info"
	}
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	result := cfg.ValidateTiered()
	if result.HasFatals() {
		return nil, fmt.Errorf("server config has fatal validation errors: %v", result.Fatals[0])
	}
	return cfg, nil
}

// ValidationResult separates fatal errors (terminate the process, §6.4) from
// warnings (logged, startup continues), matching internal/config's tiering.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool { return len(r.Fatals) > 0 }

// ValidateTiered checks a ServerConfig per §6.4: invalid port (0 or >65535),
// invalid resolution, or invalid fps (0 or >120) are fatal; everything else
// is a warning.
func (c *ServerConfig) ValidateTiered() ValidationResult {
	var result ValidationResult

	if c.Port <= 0 || c.Port > 65535 {
		result.Fatals = append(result.Fatals, fmt.Errorf("invalid port %d", c.Port))
	}
	if c.Width <= 0 || c.Height <= 0 {
		result.Fatals = append(result.Fatals, fmt.Errorf("invalid resolution %dx%d", c.Width, c.Height))
	}
	if c.FPS <= 0 || c.FPS > 120 {
		result.Fatals = append(result.Fatals, fmt.Errorf("invalid fps %d", c.FPS))
	}

	if c.BitrateBps <= 0 {
		result.Warnings = append(result.Warnings, fmt.Errorf("bitrate %d <= 0, encoder will reject", c.BitrateBps))
	}
	if c.MaxConnections <= 0 {
		result.Warnings = append(result.Warnings, fmt.Errorf("max_connections %d <= 0, clamping to 1", c.MaxConnections))
		c.MaxConnections = 1
	}
	if c.HeartbeatMs <= 0 {
		result.Warnings = append(result.Warnings, fmt.Errorf("heartbeat_interval_ms %d <= 0, using default 5000", c.HeartbeatMs))
		c.HeartbeatMs = 5000
	}
	if c.LogLevel != "" && !validLogLevel(c.LogLevel) {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_level %q invalid, using warn", c.LogLevel))
		c.LogLevel = "warn"
	}
	return result
}

func validLogLevel(s string) bool {
	switch s {
	case "debug", "info", "warn", "warning", "error":
		return true
	default:
		return false
	}
}
