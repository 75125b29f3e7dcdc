// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config provides configuration management for the asdgptd daemon.
// It handles loading and parsing the YAML configuration file and provides
// structured access to loop timing, trigger thresholds, inference backend
// settings, scheduler cooldown tables, and persistence paths.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the daemon's configuration, loaded from a YAML file.
type Config struct {
	// PollIntervalMs is the sampling loop tick interval in milliseconds.
	PollIntervalMs int `yaml:"poll-interval-ms" json:"poll-interval-ms"`

	// DefaultMode is the mode the engine starts in. Usually "active".
	DefaultMode string `yaml:"default-mode" json:"default-mode"`

	// SnoozeDurationSec is how long a snooze lasts before the engine wakes
	// itself back to active.
	SnoozeDurationSec int `yaml:"snooze-duration-sec" json:"snooze-duration-sec"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile controls whether logs go to rotating files or stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogsMaxTotalSizeMB limits the total size (in MB) of the logs directory.
	// Set to 0 to disable cleanup.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`

	// Triggers holds the inference-call admission thresholds.
	Triggers TriggerConfig `yaml:"triggers" json:"triggers"`

	// Inference configures the external inference backend client and its
	// circuit breaker.
	Inference InferenceConfig `yaml:"inference" json:"inference"`

	// Estimator configures state smoothing.
	Estimator EstimatorConfig `yaml:"estimator" json:"estimator"`

	// Meeting configures the do-not-disturb meeting heuristic.
	Meeting MeetingConfig `yaml:"meeting" json:"meeting"`

	// Recovery configures error-mode recovery attempts and probation.
	Recovery RecoveryConfig `yaml:"recovery" json:"recovery"`

	// Scheduler configures intervention cooldowns, escalation, and rules.
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`

	// Persist configures the suppression and preference JSON stores.
	Persist PersistConfig `yaml:"persist" json:"persist"`

	// History configures the SQLite event history collector.
	History HistoryConfig `yaml:"history" json:"history"`

	// API configures the local management HTTP surface.
	API APIConfig `yaml:"api" json:"api"`
}

// TriggerConfig holds thresholds for the trigger policy.
type TriggerConfig struct {
	// AudioLevelThreshold triggers an inference call when exceeded and the
	// signal is classified as speech. Range 0..1.
	AudioLevelThreshold float64 `yaml:"audio-level-threshold" json:"audio-level-threshold"`

	// VideoActivityThreshold triggers an inference call when exceeded and a
	// face is present. Range 0..1.
	VideoActivityThreshold float64 `yaml:"video-activity-threshold" json:"video-activity-threshold"`

	// PeriodicIntervalSec is the fallback interval between inference calls
	// when no event trigger fires.
	PeriodicIntervalSec int `yaml:"periodic-interval-sec" json:"periodic-interval-sec"`

	// MinCallIntervalSec is the floor between consecutive call attempts.
	// Applies to event triggers too, to bound call rate under sensor noise.
	MinCallIntervalSec int `yaml:"min-call-interval-sec" json:"min-call-interval-sec"`
}

// PeriodicInterval returns the periodic trigger interval as a duration.
func (t TriggerConfig) PeriodicInterval() time.Duration {
	return time.Duration(t.PeriodicIntervalSec) * time.Second
}

// MinCallInterval returns the inter-call floor as a duration.
func (t TriggerConfig) MinCallInterval() time.Duration {
	return time.Duration(t.MinCallIntervalSec) * time.Second
}

// InferenceConfig configures the external inference client.
type InferenceConfig struct {
	// Endpoint is the inference backend URL.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// AttemptTimeoutSec is the per-HTTP-attempt timeout.
	AttemptTimeoutSec int `yaml:"attempt-timeout-sec" json:"attempt-timeout-sec"`

	// RetryAttempts is the number of HTTP attempts per call sequence.
	RetryAttempts int `yaml:"retry-attempts" json:"retry-attempts"`

	// RetryBackoffMs is the initial backoff between attempts; it doubles
	// after each failure.
	RetryBackoffMs int `yaml:"retry-backoff-ms" json:"retry-backoff-ms"`

	// BreakerMaxFailures is the consecutive-failure count that opens the
	// circuit breaker.
	BreakerMaxFailures int `yaml:"breaker-max-failures" json:"breaker-max-failures"`

	// BreakerCooldownSec is how long the breaker stays open before calls
	// are attempted again.
	BreakerCooldownSec int `yaml:"breaker-cooldown-sec" json:"breaker-cooldown-sec"`

	// FallbackEnabled substitutes a heuristic local result while the
	// breaker is open, so state estimation keeps receiving signal.
	FallbackEnabled bool `yaml:"fallback-enabled" json:"fallback-enabled"`
}

// AttemptTimeout returns the per-attempt timeout as a duration.
func (i InferenceConfig) AttemptTimeout() time.Duration {
	return time.Duration(i.AttemptTimeoutSec) * time.Second
}

// RetryBackoff returns the initial retry backoff as a duration.
func (i InferenceConfig) RetryBackoff() time.Duration {
	return time.Duration(i.RetryBackoffMs) * time.Millisecond
}

// BreakerCooldown returns the breaker cooldown as a duration.
func (i InferenceConfig) BreakerCooldown() time.Duration {
	return time.Duration(i.BreakerCooldownSec) * time.Second
}

// EstimatorConfig configures the state smoothing filter.
type EstimatorConfig struct {
	// HistoryDepth is the per-dimension ring buffer depth.
	HistoryDepth int `yaml:"history-depth" json:"history-depth"`

	// Baseline maps dimension name to its starting value (0..100).
	// Dimensions listed here define the state vector.
	Baseline map[string]int `yaml:"baseline" json:"baseline"`
}

// MeetingConfig configures the automatic do-not-disturb heuristic.
type MeetingConfig struct {
	// Enabled turns the heuristic on.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// SpeechSpanSec is how long sustained speech (with a face present)
	// must hold before dnd is entered.
	SpeechSpanSec int `yaml:"speech-span-sec" json:"speech-span-sec"`

	// InputIdleSec is how long manual input must be absent for the
	// heuristic to hold.
	InputIdleSec int `yaml:"input-idle-sec" json:"input-idle-sec"`
}

// SpeechSpan returns the sustained-speech span as a duration.
func (m MeetingConfig) SpeechSpan() time.Duration {
	return time.Duration(m.SpeechSpanSec) * time.Second
}

// InputIdle returns the required input-idle span as a duration.
func (m MeetingConfig) InputIdle() time.Duration {
	return time.Duration(m.InputIdleSec) * time.Second
}

// RecoveryConfig configures error-mode recovery.
type RecoveryConfig struct {
	// AttemptIntervalSec is the fixed interval between recovery attempts
	// while in error mode.
	AttemptIntervalSec int `yaml:"attempt-interval-sec" json:"attempt-interval-sec"`

	// MaxAttempts caps recovery attempts; after it is reached a single
	// persistent-failure notification fires and attempts stop.
	MaxAttempts int `yaml:"max-attempts" json:"max-attempts"`

	// ProbationSec is the grace window after recovering to active during
	// which failures are tolerated before re-entering error mode.
	ProbationSec int `yaml:"probation-sec" json:"probation-sec"`
}

// AttemptInterval returns the recovery attempt interval as a duration.
func (r RecoveryConfig) AttemptInterval() time.Duration {
	return time.Duration(r.AttemptIntervalSec) * time.Second
}

// Probation returns the post-recovery probation window as a duration.
func (r RecoveryConfig) Probation() time.Duration {
	return time.Duration(r.ProbationSec) * time.Second
}

// SchedulerConfig configures the intervention scheduler.
type SchedulerConfig struct {
	// MaxTier caps escalation. Tier 1 is gentle, 2 moderate, 3 urgent.
	MaxTier int `yaml:"max-tier" json:"max-tier"`

	// NagIntervalSec is the minimum spacing between repeated proposals of
	// the same id that still counts as escalation rather than spam.
	NagIntervalSec int `yaml:"nag-interval-sec" json:"nag-interval-sec"`

	// CategoryCooldownsSec maps category name to its standard cooldown.
	// The reserved "system" category bypasses all cooldown and
	// suppression checks.
	CategoryCooldownsSec map[string]int `yaml:"category-cooldowns-sec" json:"category-cooldowns-sec"`

	// DefaultCooldownSec applies to categories absent from the table.
	DefaultCooldownSec int `yaml:"default-cooldown-sec" json:"default-cooldown-sec"`

	// HistoryLimit bounds the in-memory intervention record history.
	HistoryLimit int `yaml:"history-limit" json:"history-limit"`

	// LibraryPath points at the YAML intervention library file.
	LibraryPath string `yaml:"library-path" json:"library-path"`

	// ReflexiveTagThreshold is how many consecutive inference results must
	// carry a watched visual tag before its reflexive intervention fires.
	ReflexiveTagThreshold int `yaml:"reflexive-tag-threshold" json:"reflexive-tag-threshold"`

	// Rules are optional expr conditions evaluated against a candidate;
	// any rule returning false vetoes acceptance. Evaluation errors fail
	// open (the rule is skipped and logged).
	Rules []string `yaml:"rules" json:"rules"`
}

// NagInterval returns the nag interval as a duration.
func (s SchedulerConfig) NagInterval() time.Duration {
	return time.Duration(s.NagIntervalSec) * time.Second
}

// CategoryCooldown returns the cooldown for a category, falling back to
// the default table entry.
func (s SchedulerConfig) CategoryCooldown(category string) time.Duration {
	if sec, ok := s.CategoryCooldownsSec[category]; ok {
		return time.Duration(sec) * time.Second
	}
	return time.Duration(s.DefaultCooldownSec) * time.Second
}

// PersistConfig configures the suppression and preference JSON stores.
type PersistConfig struct {
	// SuppressionFile is the path of the suppression map JSON file.
	SuppressionFile string `yaml:"suppression-file" json:"suppression-file"`

	// PreferencesFile is the path of the preference map JSON file.
	PreferencesFile string `yaml:"preferences-file" json:"preferences-file"`
}

// HistoryConfig configures the SQLite event history collector.
type HistoryConfig struct {
	// Enabled turns history collection on.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// DBPath is the SQLite database file path.
	DBPath string `yaml:"db-path" json:"db-path"`

	// RetentionDays is how long records are kept before pruning.
	RetentionDays int `yaml:"retention-days" json:"retention-days"`
}

// APIConfig configures the local management HTTP surface.
type APIConfig struct {
	// Enabled turns the management server on.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Host is the bind host. Defaults to loopback only.
	Host string `yaml:"host" json:"host"`

	// Port is the listen port.
	Port int `yaml:"port" json:"port"`

	// ManagementKeyHash is an optional bcrypt hash; when set, requests
	// must carry the matching key in the X-Management-Key header.
	ManagementKeyHash string `yaml:"management-key-hash" json:"-"`
}

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *Config {
	return &Config{
		PollIntervalMs:    500,
		DefaultMode:       "active",
		SnoozeDurationSec: 900,
		Triggers: TriggerConfig{
			AudioLevelThreshold:    0.75,
			VideoActivityThreshold: 0.6,
			PeriodicIntervalSec:    120,
			MinCallIntervalSec:     15,
		},
		Inference: InferenceConfig{
			Endpoint:           "http://127.0.0.1:8199/v1/infer",
			AttemptTimeoutSec:  10,
			RetryAttempts:      3,
			RetryBackoffMs:     500,
			BreakerMaxFailures: 5,
			BreakerCooldownSec: 300,
			FallbackEnabled:    true,
		},
		Estimator: EstimatorConfig{
			HistoryDepth: 5,
			Baseline: map[string]int{
				"arousal":  30,
				"overload": 20,
				"focus":    60,
				"energy":   60,
				"mood":     60,
			},
		},
		Meeting: MeetingConfig{
			Enabled:       true,
			SpeechSpanSec: 90,
			InputIdleSec:  120,
		},
		Recovery: RecoveryConfig{
			AttemptIntervalSec: 30,
			MaxAttempts:        5,
			ProbationSec:       60,
		},
		Scheduler: SchedulerConfig{
			MaxTier:        3,
			NagIntervalSec: 60,
			CategoryCooldownsSec: map[string]int{
				"regulation": 600,
				"break":      900,
				"posture":    1200,
			},
			DefaultCooldownSec:    600,
			HistoryLimit:          100,
			LibraryPath:           "interventions.yaml",
			ReflexiveTagThreshold: 3,
		},
		Persist: PersistConfig{
			SuppressionFile: "suppression.json",
			PreferencesFile: "preferences.json",
		},
		History: HistoryConfig{
			Enabled:       true,
			DBPath:        "history.db",
			RetentionDays: 90,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8841,
		},
	}
}

// LoadConfig reads and parses the YAML configuration file at the given path.
// Missing fields keep their defaults; the result is validated before return.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("config: poll-interval-ms must be positive, got %d", c.PollIntervalMs)
	}
	switch c.DefaultMode {
	case "active", "paused", "snoozed", "dnd":
	default:
		return fmt.Errorf("config: default-mode %q is not a startable mode", c.DefaultMode)
	}
	if c.Inference.RetryAttempts <= 0 {
		return fmt.Errorf("config: inference retry-attempts must be positive, got %d", c.Inference.RetryAttempts)
	}
	if c.Inference.BreakerMaxFailures <= 0 {
		return fmt.Errorf("config: breaker-max-failures must be positive, got %d", c.Inference.BreakerMaxFailures)
	}
	if c.Estimator.HistoryDepth <= 0 {
		return fmt.Errorf("config: estimator history-depth must be positive, got %d", c.Estimator.HistoryDepth)
	}
	if len(c.Estimator.Baseline) == 0 {
		return fmt.Errorf("config: estimator baseline must define at least one dimension")
	}
	for dim, v := range c.Estimator.Baseline {
		if v < 0 || v > 100 {
			return fmt.Errorf("config: baseline %s=%d outside [0,100]", dim, v)
		}
	}
	if c.Scheduler.MaxTier < 1 {
		return fmt.Errorf("config: scheduler max-tier must be at least 1, got %d", c.Scheduler.MaxTier)
	}
	if c.Scheduler.NagIntervalSec <= 0 {
		return fmt.Errorf("config: scheduler nag-interval-sec must be positive, got %d", c.Scheduler.NagIntervalSec)
	}
	if c.Scheduler.ReflexiveTagThreshold <= 0 {
		return fmt.Errorf("config: reflexive-tag-threshold must be positive, got %d", c.Scheduler.ReflexiveTagThreshold)
	}
	return nil
}

// PollInterval returns the loop tick interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// SnoozeDuration returns the snooze span as a duration.
func (c *Config) SnoozeDuration() time.Duration {
	return time.Duration(c.SnoozeDurationSec) * time.Second
}
