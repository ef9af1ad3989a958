package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorci/conveyor/internal/domain"
)

func TestJobStore_BootstrapOnce(t *testing.T) {
	ctx := context.Background()
	storage := newMockStorage()

	first := NewJobStore(storage, nil)
	second := NewJobStore(storage, nil)

	require.NoError(t, first.Bootstrap(ctx))
	require.NoError(t, second.Bootstrap(ctx))

	marker, err := storage.Get(ctx, bootstrapMarkerKey)
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, string(marker))
}

func TestJobStore_CreateJobRace(t *testing.T) {
	ctx := context.Background()
	js := NewJobStore(newMockStorage(), nil)

	key := domain.JobKey{Name: "cleanup", Group: "maintenance"}
	job := domain.JobDetail{Key: key, Type: "plan_expiry_cleanup"}

	created, err := js.CreateJob(ctx, job)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = js.CreateJob(ctx, job)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestJobStore_GetJobAbsent(t *testing.T) {
	ctx := context.Background()
	js := NewJobStore(newMockStorage(), nil)

	job, err := js.GetJob(ctx, domain.JobKey{Name: "ghost", Group: "maintenance"})
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestJobStore_ListSkipsCorruptRecords(t *testing.T) {
	ctx := context.Background()
	storage := newMockStorage()
	js := NewJobStore(storage, nil)

	key := domain.JobKey{Name: "cleanup", Group: "maintenance"}
	_, err := js.CreateJob(ctx, domain.JobDetail{Key: key, Type: "plan_expiry_cleanup"})
	require.NoError(t, err)

	require.NoError(t, storage.Put(ctx, domain.SchedulerJobKey(domain.JobKey{Name: "bad", Group: "maintenance"}), []byte("{not json")))

	jobs, err := js.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, key, jobs[0].Key)
}

func TestJobStore_AdvanceTrigger(t *testing.T) {
	ctx := context.Background()
	js := NewJobStore(newMockStorage(), nil)

	key := domain.JobKey{Name: "cleanup", Group: "maintenance"}
	firedAt := time.Now().Truncate(time.Second)
	next := firedAt.Add(time.Hour)

	trigger := domain.TriggerDetail{
		Key:            "trig-1",
		JobKey:         key,
		CronExpression: "0 * * * *",
		NextFireAt:     firedAt,
	}
	require.NoError(t, js.SaveTrigger(ctx, trigger))

	require.NoError(t, js.AdvanceTrigger(ctx, "trig-1", firedAt, next, false))

	advanced, err := js.GetTrigger(ctx, "trig-1")
	require.NoError(t, err)
	assert.True(t, advanced.NextFireAt.Equal(next))
	assert.True(t, advanced.PrevFireAt.Equal(firedAt))

	// A second advance for the already-passed due time is a no-op.
	require.NoError(t, js.AdvanceTrigger(ctx, "trig-1", firedAt, firedAt.Add(2*time.Hour), false))

	unchanged, err := js.GetTrigger(ctx, "trig-1")
	require.NoError(t, err)
	assert.True(t, unchanged.NextFireAt.Equal(next))
}

func TestJobStore_AdvanceOneShotDeletes(t *testing.T) {
	ctx := context.Background()
	js := NewJobStore(newMockStorage(), nil)

	key := domain.JobKey{Name: "cleanup", Group: "maintenance"}
	firedAt := time.Now()

	require.NoError(t, js.SaveTrigger(ctx, domain.TriggerDetail{
		Key:        "trig-1",
		JobKey:     key,
		FireOnceAt: firedAt,
		NextFireAt: firedAt,
	}))

	require.NoError(t, js.AdvanceTrigger(ctx, "trig-1", firedAt, time.Time{}, true))

	trigger, err := js.GetTrigger(ctx, "trig-1")
	require.NoError(t, err)
	assert.Nil(t, trigger)
}
