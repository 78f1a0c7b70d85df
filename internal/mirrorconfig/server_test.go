package mirrorconfig

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func TestValidateTieredFatalOnBadPort(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Port = 0

	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("expected fatal validation error for port 0")
	}
}

func TestValidateTieredFatalOnBadResolution(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Width = 0

	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("expected fatal validation error for zero width")
	}
}

func TestValidateTieredFatalOnBadFPS(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.FPS = 200

	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("expected fatal validation error for fps > 120")
	}
}

func TestValidateTieredWarnsAndClampsMaxConnections(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.MaxConnections = -1

	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("max_connections should only warn, got fatals: %v", result.Fatals)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected a warning for negative max_connections")
	}
	if cfg.MaxConnections != 1 {
		t.Fatalf("max_connections = %d, want clamped to 1", cfg.MaxConnections)
	}
}

func TestValidateTieredDefaultsInvalidLogLevel(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.LogLevel = "nonsense"

	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("invalid log_level should only warn, got fatals: %v", result.Fatals)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("log_level = %q, want defaulted to warn", cfg.LogLevel)
	}
}

func TestLoadServerConfigAppliesFlagOverrides(t *testing.T) {
	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindServerFlags(fs, v)

	if err := fs.Parse([]string{"--port", "9000", "--verbose"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := LoadServerConfig(v)
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.Port != 9000 {
		t.Fatalf("port = %d, want 9000", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("log_level = %q, want info after --verbose", cfg.LogLevel)
	}
}

func TestLoadServerConfigDebugOverridesVerbose(t *testing.T) {
	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindServerFlags(fs, v)

	if err := fs.Parse([]string{"--verbose", "--debug"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := LoadServerConfig(v)
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log_level = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadServerConfigRejectsFatalOverride(t *testing.T) {
	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindServerFlags(fs, v)

	if err := fs.Parse([]string{"--fps", "0"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	if _, err := LoadServerConfig(v); err == nil {
		t.Fatal("expected LoadServerConfig to reject fps=0")
	}
}
