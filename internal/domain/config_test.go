package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	assert.NotEmpty(t, cfg.InstanceID)
	assert.NotNil(t, cfg.Logger)
	assert.Equal(t, 10*time.Second, cfg.Executor.MinTaskTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Executor.DefaultTimeout)
	assert.Equal(t, "logs", cfg.Executor.LogStreamPrefix)
	assert.Equal(t, 3, cfg.Store.RetryAttempts)
	assert.Equal(t, 30*24*time.Hour, cfg.Store.DefaultRetention)
	assert.Equal(t, SchedulerModeSingle, cfg.Scheduler.Mode)
}

func TestConfigApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		InstanceID: "instance-1",
		Executor:   ExecutorConfig{MinTaskTimeout: time.Minute},
		Scheduler:  SchedulerConfig{Mode: SchedulerModeClustered, PollInterval: time.Second},
	}
	cfg.ApplyDefaults()

	assert.Equal(t, time.Minute, cfg.Executor.MinTaskTimeout)
	assert.Equal(t, SchedulerModeClustered, cfg.Scheduler.Mode)
	assert.Equal(t, time.Second, cfg.Scheduler.PollInterval)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InstanceID = "instance-1"
	assert.NoError(t, cfg.Validate())

	missing := DefaultConfig()
	assert.Error(t, missing.Validate())

	badMode := DefaultConfig()
	badMode.InstanceID = "instance-1"
	badMode.Scheduler.Mode = "quorum"
	assert.Error(t, badMode.Validate())
}
