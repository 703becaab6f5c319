package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agent-beacon/backend/internal/session"
)

type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Timing  TimingConfig   `yaml:"timing"`
	Models  map[string]int `yaml:"models"`
	Privacy PrivacyConfig  `yaml:"privacy"`
	Notify  NotifyConfig   `yaml:"notify"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxConnections int      `yaml:"max_connections"`
}

type TimingConfig struct {
	CoalesceInterval  time.Duration `yaml:"coalesce_interval"`
	LivenessInterval  time.Duration `yaml:"liveness_interval"`
	BroadcastThrottle time.Duration `yaml:"broadcast_throttle"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval"`

	NotifySilenceWindow    time.Duration `yaml:"notify_silence_window"`
	NotifyEscalationWindow time.Duration `yaml:"notify_escalation_window"`
	OfflineGracePeriod     time.Duration `yaml:"offline_grace_period"`
	TerminatedRetention    time.Duration `yaml:"terminated_retention"`
	HardExpiry             time.Duration `yaml:"hard_expiry"`
	DoneVisibleDuration    time.Duration `yaml:"done_visible_duration"`
}

type PrivacyConfig struct {
	MaskWorkingDirs bool     `yaml:"mask_working_dirs"`
	MaskSessionIDs  bool     `yaml:"mask_session_ids"`
	MaskPIDs        bool     `yaml:"mask_pids"`
	MaskTerminals   bool     `yaml:"mask_terminals"`
	AllowedPaths    []string `yaml:"allowed_paths"`
	BlockedPaths    []string `yaml:"blocked_paths"`
}

type NotifyConfig struct {
	Desktop bool `yaml:"desktop"`
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	tuning := session.DefaultTuning()
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Timing: TimingConfig{
			CoalesceInterval:  100 * time.Millisecond,
			LivenessInterval:  5 * time.Second,
			BroadcastThrottle: 500 * time.Millisecond,
			SnapshotInterval:  5 * time.Second,

			NotifySilenceWindow:    tuning.NotifySilenceWindow,
			NotifyEscalationWindow: tuning.NotifyEscalationWindow,
			OfflineGracePeriod:     tuning.OfflineGracePeriod,
			TerminatedRetention:    tuning.TerminatedRetention,
			HardExpiry:             tuning.HardExpiry,
			DoneVisibleDuration:    tuning.DoneVisibleDuration,
		},
		Models: tuning.ModelContextTokens,
		Notify: NotifyConfig{Desktop: true},
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault reads the config file if it exists; a missing file is
// not an error and yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// GenerateToken returns a random hex auth token.
func GenerateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Tuning projects the config onto the core's timing knobs.
func (c *Config) Tuning() session.Tuning {
	return session.Tuning{
		NotifySilenceWindow:    c.Timing.NotifySilenceWindow,
		NotifyEscalationWindow: c.Timing.NotifyEscalationWindow,
		OfflineGracePeriod:     c.Timing.OfflineGracePeriod,
		TerminatedRetention:    c.Timing.TerminatedRetention,
		HardExpiry:             c.Timing.HardExpiry,
		DoneVisibleDuration:    c.Timing.DoneVisibleDuration,
		ModelContextTokens:     c.Models,
	}
}

// PrivacyFilter builds the outbound masking filter.
func (c *Config) PrivacyFilter() *session.PrivacyFilter {
	return &session.PrivacyFilter{
		MaskWorkingDirs: c.Privacy.MaskWorkingDirs,
		MaskSessionIDs:  c.Privacy.MaskSessionIDs,
		MaskPIDs:        c.Privacy.MaskPIDs,
		MaskTerminals:   c.Privacy.MaskTerminals,
		AllowedPaths:    c.Privacy.AllowedPaths,
		BlockedPaths:    c.Privacy.BlockedPaths,
	}
}
