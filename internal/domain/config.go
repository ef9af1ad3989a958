package domain

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type SchedulerMode string

const (
	// SchedulerModeSingle backs the scheduler with an in-process lock; no
	// cross-process coordination is attempted.
	SchedulerModeSingle SchedulerMode = "single"
	// SchedulerModeClustered shares the job store across N processes, each
	// polling independently and claiming due triggers through the store.
	SchedulerModeClustered SchedulerMode = "clustered"
	// SchedulerModeDisabled installs the null scheduler: every mutation
	// succeeds as a no-op.
	SchedulerModeDisabled SchedulerMode = "disabled"
)

type Config struct {
	InstanceID string       `json:"instance_id" yaml:"instance_id"`
	DataDir    string       `json:"data_dir" yaml:"data_dir"`
	Logger     *slog.Logger `json:"-" yaml:"-"`

	Executor  ExecutorConfig  `json:"executor" yaml:"executor"`
	Store     StoreConfig     `json:"store" yaml:"store"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
}

type ExecutorConfig struct {
	// MinTaskTimeout floors the remaining-budget computation so a nearly
	// exhausted scope never dispatches a zero-timeout task.
	MinTaskTimeout  time.Duration `json:"min_task_timeout" yaml:"min_task_timeout"`
	DefaultTimeout  time.Duration `json:"default_timeout" yaml:"default_timeout"`
	LogStreamPrefix string        `json:"log_stream_prefix" yaml:"log_stream_prefix"`
}

type StoreConfig struct {
	RetryAttempts    int           `json:"retry_attempts" yaml:"retry_attempts"`
	RetryBackoff     time.Duration `json:"retry_backoff" yaml:"retry_backoff"`
	DefaultRetention time.Duration `json:"default_retention" yaml:"default_retention"`
}

type SchedulerConfig struct {
	Mode         SchedulerMode `json:"mode" yaml:"mode"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
	ClaimTTL     time.Duration `json:"claim_ttl" yaml:"claim_ttl"`
}

func DefaultConfig() *Config {
	return &Config{
		Executor:  DefaultExecutorConfig(),
		Store:     DefaultStoreConfig(),
		Scheduler: DefaultSchedulerConfig(),
	}
}

func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MinTaskTimeout:  10 * time.Second,
		DefaultTimeout:  10 * time.Minute,
		LogStreamPrefix: "logs",
	}
}

func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		RetryAttempts:    3,
		RetryBackoff:     100 * time.Millisecond,
		DefaultRetention: 30 * 24 * time.Hour,
	}
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Mode:         SchedulerModeSingle,
		PollInterval: 10 * time.Second,
		ClaimTTL:     5 * time.Minute,
	}
}

// ApplyDefaults fills zero-valued fields in place without touching values
// the caller set explicitly.
func (c *Config) ApplyDefaults() {
	if c.InstanceID == "" {
		c.InstanceID = uuid.New().String()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Executor.MinTaskTimeout <= 0 {
		c.Executor.MinTaskTimeout = DefaultExecutorConfig().MinTaskTimeout
	}
	if c.Executor.DefaultTimeout <= 0 {
		c.Executor.DefaultTimeout = DefaultExecutorConfig().DefaultTimeout
	}
	if c.Executor.LogStreamPrefix == "" {
		c.Executor.LogStreamPrefix = DefaultExecutorConfig().LogStreamPrefix
	}
	if c.Store.RetryAttempts <= 0 {
		c.Store.RetryAttempts = DefaultStoreConfig().RetryAttempts
	}
	if c.Store.RetryBackoff <= 0 {
		c.Store.RetryBackoff = DefaultStoreConfig().RetryBackoff
	}
	if c.Store.DefaultRetention <= 0 {
		c.Store.DefaultRetention = DefaultStoreConfig().DefaultRetention
	}
	if c.Scheduler.Mode == "" {
		c.Scheduler.Mode = SchedulerModeSingle
	}
	if c.Scheduler.PollInterval <= 0 {
		c.Scheduler.PollInterval = DefaultSchedulerConfig().PollInterval
	}
	if c.Scheduler.ClaimTTL <= 0 {
		c.Scheduler.ClaimTTL = DefaultSchedulerConfig().ClaimTTL
	}
}

func (c *Config) Validate() error {
	if c.InstanceID == "" {
		return NewValidationError("instance_id", "cannot be empty")
	}
	switch c.Scheduler.Mode {
	case SchedulerModeSingle, SchedulerModeClustered, SchedulerModeDisabled:
	default:
		return NewValidationError("scheduler.mode", "must be single, clustered, or disabled")
	}
	return nil
}
