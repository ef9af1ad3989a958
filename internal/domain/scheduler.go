package domain

import (
	"time"

	"github.com/conveyorci/conveyor/internal/xjson"
)

// JobKey uniquely identifies a scheduled job within the scheduler namespace.
type JobKey struct {
	Name  string `json:"name"`
	Group string `json:"group"`
}

func (k JobKey) String() string {
	return k.Group + "." + k.Name
}

func (k JobKey) Validate() error {
	if k.Name == "" {
		return NewValidationError("job_name", "cannot be empty")
	}
	if k.Group == "" {
		return NewValidationError("job_group", "cannot be empty")
	}
	return nil
}

// AccountIDKey is the data-map entry consulted by account-scoped bulk
// pause/resume/delete operations.
const AccountIDKey = "accountId"

type JobState string

const (
	JobStateScheduled JobState = "scheduled"
	JobStatePaused    JobState = "paused"
)

// JobDetail is an executable unit of recurring or one-shot work. Handlers
// are registered by Type; the data map rides opaquely to the handler.
type JobDetail struct {
	Key                JobKey                      `json:"key"`
	Type               string                      `json:"type"`
	Description        string                      `json:"description,omitempty"`
	Data               map[string]xjson.RawMessage `json:"data,omitempty"`
	Durable            bool                        `json:"durable"`
	DisallowConcurrent bool                        `json:"disallow_concurrent"`

	State     JobState  `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

func (j *JobDetail) AccountID() string {
	raw, ok := j.Data[AccountIDKey]
	if !ok {
		return ""
	}
	var id string
	if err := xjson.Unmarshal(raw, &id); err != nil {
		return ""
	}
	return id
}

// SameDefinition gates whether a re-registration is a no-op. Every field a
// caller can change participates: durability, the concurrency-disallowed
// flag, and the description.
func (j *JobDetail) SameDefinition(other *JobDetail) bool {
	return j.Type == other.Type &&
		j.Durable == other.Durable &&
		j.DisallowConcurrent == other.DisallowConcurrent &&
		j.Description == other.Description
}

// TriggerDetail binds a fire schedule to a job. CronExpression uses the
// standard five-field cron syntax; a one-shot trigger carries FireOnceAt
// instead.
type TriggerDetail struct {
	Key            string    `json:"key"`
	JobKey         JobKey    `json:"job_key"`
	Description    string    `json:"description,omitempty"`
	CronExpression string    `json:"cron_expression,omitempty"`
	FireOnceAt     time.Time `json:"fire_once_at,omitempty"`

	NextFireAt time.Time `json:"next_fire_at"`
	PrevFireAt time.Time `json:"prev_fire_at,omitempty"`
}

func (t *TriggerDetail) Validate() error {
	if t.Key == "" {
		return NewValidationError("trigger_key", "cannot be empty")
	}
	if t.CronExpression == "" && t.FireOnceAt.IsZero() {
		return NewValidationError("trigger_schedule", "requires a cron expression or a fire-once time")
	}
	return nil
}

func (t *TriggerDetail) SameSchedule(other *TriggerDetail) bool {
	return t.CronExpression == other.CronExpression &&
		t.FireOnceAt.Equal(other.FireOnceAt) &&
		t.Description == other.Description
}

// TriggerClaim is the store-level claim one polling process takes before
// firing a due trigger. The claim key embeds the due time so two pollers
// racing over the same due instant collide on the same key.
type TriggerClaim struct {
	TriggerKey string    `json:"trigger_key"`
	InstanceID string    `json:"instance_id"`
	DueAt      time.Time `json:"due_at"`
	ClaimedAt  time.Time `json:"claimed_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func NewTriggerClaim(triggerKey, instanceID string, dueAt time.Time, ttl time.Duration) *TriggerClaim {
	now := time.Now()
	return &TriggerClaim{
		TriggerKey: triggerKey,
		InstanceID: instanceID,
		DueAt:      dueAt,
		ClaimedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
}

func (c *TriggerClaim) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}
