// Package config loads and watches the blastbot configuration file. YAML
// and JSON are both accepted; YAML is coerced to JSON so one strict decoder
// validates either format.
package config

import (
	"fmt"
	"strings"
	"time"

	logx "blastbot/pkg/logx"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Engine   EngineConfig   `json:"engine"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OperatorChatID receives completion reports; 0 disables notifications.
	OperatorChatID int64 `json:"operator_chat_id"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Logx maps the section onto the logging service config.
func (l LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
	}
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout"`
}

type EngineConfig struct {
	RatePerSec         int    `json:"rate_per_sec"`
	MaxLimitWait       string `json:"max_limit_wait"`
	MonitorMinInterval string `json:"monitor_min_interval"`
	MonitorMaxInterval string `json:"monitor_max_interval"`
}

// Validate normalizes defaults and rejects configs the process cannot run
// with. Duration fields are validated here so a typo fails at load, not at
// first use.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = "./data/blastbot.db"
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Engine.RatePerSec < 0 {
		return fmt.Errorf("engine.rate_per_sec must be >= 0")
	}
	for path, raw := range map[string]string{
		"storage.busy_timeout":        c.Storage.BusyTimeout,
		"engine.max_limit_wait":       c.Engine.MaxLimitWait,
		"engine.monitor_min_interval": c.Engine.MonitorMinInterval,
		"engine.monitor_max_interval": c.Engine.MonitorMaxInterval,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	return nil
}

// ParseDurationField parses an optional duration string; empty means 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault falls back to def when the field is empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
