package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorci/conveyor/internal/domain"
	"github.com/conveyorci/conveyor/internal/ports"
	"github.com/conveyorci/conveyor/internal/xjson"
)

type mockTransport struct {
	mu        sync.Mutex
	submitted []ports.TaskPayload
	cancelled []string
	failAfter int // fail the Nth submission (1-based), 0 means never
	nextID    int
}

func (m *mockTransport) Submit(ctx context.Context, payload ports.TaskPayload) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAfter > 0 && len(m.submitted)+1 == m.failAfter {
		return "", errors.New("queue unavailable")
	}
	m.submitted = append(m.submitted, payload)
	m.nextID++
	return fmt.Sprintf("task-%d", m.nextID), nil
}

func (m *mockTransport) Cancel(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, taskID)
	return nil
}

type mockNotifier struct {
	mu            sync.Mutex
	notifications map[string][]ports.ResponseData
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{notifications: make(map[string][]ports.ResponseData)}
}

func (m *mockNotifier) Notify(ctx context.Context, callbackID string, response ports.ResponseData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[callbackID] = append(m.notifications[callbackID], response)
	return nil
}

type mockExecStore struct {
	mu          sync.Mutex
	initialized []string
	details     map[string][]string
}

func newMockExecStore() *mockExecStore {
	return &mockExecStore{details: make(map[string][]string)}
}

func (m *mockExecStore) Initialize(ctx context.Context, nodeExecutionID, planExecutionID string, metadata *domain.StrategyMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = append(m.initialized, nodeExecutionID)
	return nil
}

func (m *mockExecStore) AttachStepDetail(ctx context.Context, nodeExecutionID, name string, detail xjson.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.details[nodeExecutionID] = append(m.details[nodeExecutionID], name)
	return nil
}

func (m *mockExecStore) AttachResolvedInputs(ctx context.Context, nodeExecutionID string, inputs xjson.RawMessage) error {
	return nil
}

func (m *mockExecStore) GetResolvedInputs(ctx context.Context, nodeExecutionID string) (xjson.RawMessage, error) {
	return xjson.RawMessage(`{}`), nil
}

func (m *mockExecStore) GetStepDetails(ctx context.Context, nodeExecutionID string) ([]domain.StepDetail, error) {
	return nil, nil
}

func (m *mockExecStore) CopyForRetry(ctx context.Context, originalID, newID, planExecutionID string) error {
	return nil
}

func (m *mockExecStore) RecordConcurrencyCursor(ctx context.Context, nodeExecutionID string, instance domain.ConcurrentChildInstance) error {
	return nil
}

func (m *mockExecStore) IncrementCursor(ctx context.Context, nodeExecutionID string, childStatus domain.Status) (*domain.ConcurrentChildInstance, error) {
	return nil, nil
}

func (m *mockExecStore) DeleteForIDs(ctx context.Context, nodeExecutionIDs []string) error {
	return nil
}

func (m *mockExecStore) ExtendRetentionFor(ctx context.Context, planExecutionID string, until time.Time) error {
	return nil
}

func (m *mockExecStore) ResolveStrategyContext(ctx context.Context, levels []domain.StrategyLevel, useAxisNameAsKey bool) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

type mockLogClient struct {
	mu       sync.Mutex
	prefixes []string
	err      error
}

func (m *mockLogClient) CloseAllOpenStreamsWithPrefix(ctx context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefixes = append(m.prefixes, prefix)
	return m.err
}

type fakeStepSpec struct {
	taskType string
	requests []ports.TaskRequest
	buildErr error
	outcome  *ports.StepOutcome
}

func (f *fakeStepSpec) Type() string { return f.taskType }

func (f *fakeStepSpec) BuildTaskRequests(ctx context.Context, sctx ports.StepContext) ([]ports.TaskRequest, error) {
	return f.requests, f.buildErr
}

func (f *fakeStepSpec) ProduceOutcome(ctx context.Context, sctx ports.StepContext, responses map[string]ports.ResponseData) (*ports.StepOutcome, error) {
	if f.outcome != nil {
		return f.outcome, nil
	}
	return &ports.StepOutcome{Status: domain.StatusSucceeded}, nil
}

type executorFixture struct {
	executor  *StepExecutor
	transport *mockTransport
	notifier  *mockNotifier
	store     *mockExecStore
	logs      *mockLogClient
}

func newExecutorFixture() *executorFixture {
	transport := &mockTransport{}
	notifier := newMockNotifier()
	store := newMockExecStore()
	logs := &mockLogClient{}

	executor := NewStepExecutor(transport, notifier, store, logs, domain.DefaultExecutorConfig(), nil)

	return &executorFixture{
		executor:  executor,
		transport: transport,
		notifier:  notifier,
		store:     store,
		logs:      logs,
	}
}

func shellStepSpec() *fakeStepSpec {
	return &fakeStepSpec{
		taskType: "shell_script",
		requests: []ports.TaskRequest{
			{
				Payload: ports.TaskPayload{TaskType: "shell_script", Parked: true},
				LogKey:  "logs/node-1/parked",
			},
			{
				Payload: ports.TaskPayload{TaskType: "shell_script"},
				LogKey:  "logs/node-1/main",
			},
		},
	}
}

func stepContext() ports.StepContext {
	return ports.StepContext{
		NodeExecutionID: "node-1",
		PlanExecutionID: "plan-1",
		AccountID:       "acct-1",
		ScopeStartedAt:  time.Now(),
		ScopeTimeout:    time.Hour,
	}
}

func TestStepExecutor_StartDispatchesAllTasks(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture()

	response, err := f.executor.Start(ctx, stepContext(), shellStepSpec())
	require.NoError(t, err)

	assert.Equal(t, []string{"task-1", "task-2"}, response.CallbackIDs)
	assert.Equal(t, []string{"logs/node-1/parked", "logs/node-1/main"}, response.LogKeys)
	assert.Equal(t, []string{"node-1"}, f.store.initialized)

	require.Len(t, f.transport.submitted, 2)
	for _, payload := range f.transport.submitted {
		assert.Equal(t, "acct-1", payload.AccountID)
		assert.Greater(t, payload.Timeout, time.Duration(0))
	}
	assert.True(t, f.transport.submitted[0].Parked)
	assert.False(t, f.transport.submitted[1].Parked)
}

func TestStepExecutor_StartValidation(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture()

	_, err := f.executor.Start(ctx, stepContext(), nil)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	_, err = f.executor.Start(ctx, stepContext(), &fakeStepSpec{taskType: "empty"})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestStepExecutor_StartSubmitFailureCancelsDispatched(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture()
	f.transport.failAfter = 2

	_, err := f.executor.Start(ctx, stepContext(), shellStepSpec())
	require.Error(t, err)
	assert.Equal(t, "queue unavailable", err.Error())

	// The first submission went through and must be cancelled.
	assert.Equal(t, []string{"task-1"}, f.transport.cancelled)
}

func TestStepExecutor_OnCallbackAbortsSiblingsOnce(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture()
	sctx := stepContext()

	response, err := f.executor.Start(ctx, sctx, shellStepSpec())
	require.NoError(t, err)
	require.Equal(t, []string{"task-1", "task-2"}, response.CallbackIDs)

	failure := ports.ResponseData{Status: domain.StatusFailed, ErrorMessage: "exit code 1"}
	require.NoError(t, f.executor.OnCallback(ctx, sctx, response.CallbackIDs, "task-2", failure))

	// The parked sibling got exactly one synthetic failure.
	require.Len(t, f.notifier.notifications["task-1"], 1)
	synthetic := f.notifier.notifications["task-1"][0]
	assert.Equal(t, domain.StatusFailed, synthetic.Status)
	assert.Equal(t, SyntheticFailureMessage, synthetic.ErrorMessage)
	assert.Empty(t, f.notifier.notifications["task-2"])

	// A second terminal callback for the same dispatch must not re-notify.
	require.NoError(t, f.executor.OnCallback(ctx, sctx, response.CallbackIDs, "task-2", failure))
	assert.Len(t, f.notifier.notifications["task-1"], 1)
}

func TestStepExecutor_OnCallbackNonTerminalAbsorbed(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture()
	sctx := stepContext()

	response, err := f.executor.Start(ctx, sctx, shellStepSpec())
	require.NoError(t, err)

	running := ports.ResponseData{Status: domain.StatusRunning}
	require.NoError(t, f.executor.OnCallback(ctx, sctx, response.CallbackIDs, "task-2", running))
	assert.Empty(t, f.notifier.notifications)
}

func TestStepExecutor_OnCallbackSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture()
	sctx := stepContext()

	// No Start on this instance: correlation state was lost with the old
	// process, but the callback set travels with the event.
	callbackIDs := []string{"task-1", "task-2", "task-3"}
	failure := ports.ResponseData{Status: domain.StatusExpired}

	require.NoError(t, f.executor.OnCallback(ctx, sctx, callbackIDs, "task-3", failure))
	assert.Len(t, f.notifier.notifications["task-1"], 1)
	assert.Len(t, f.notifier.notifications["task-2"], 1)

	require.NoError(t, f.executor.OnCallback(ctx, sctx, callbackIDs, "task-3", failure))
	assert.Len(t, f.notifier.notifications["task-1"], 1)
	assert.Len(t, f.notifier.notifications["task-2"], 1)
}

func TestStepExecutor_OnCallbackEmptyID(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture()

	err := f.executor.OnCallback(ctx, stepContext(), nil, "", ports.ResponseData{Status: domain.StatusFailed})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestStepExecutor_FinishOutcomes(t *testing.T) {
	tests := []struct {
		name        string
		responses   map[string]ports.ResponseData
		wantStatus  domain.Status
		wantFailure string
	}{
		{
			name: "all succeeded",
			responses: map[string]ports.ResponseData{
				"task-1": {Status: domain.StatusSucceeded},
				"task-2": {Status: domain.StatusSucceeded},
			},
			wantStatus: domain.StatusSucceeded,
		},
		{
			name: "remote failure message preserved verbatim",
			responses: map[string]ports.ResponseData{
				"task-1": {Status: domain.StatusSucceeded},
				"task-2": {Status: domain.StatusFailed, ErrorMessage: "exit code 137 (oom)"},
			},
			wantStatus:  domain.StatusFailed,
			wantFailure: "exit code 137 (oom)",
		},
		{
			name: "synthetic sibling failure",
			responses: map[string]ports.ResponseData{
				"task-1": {Status: domain.StatusFailed, ErrorMessage: SyntheticFailureMessage},
				"task-2": {Status: domain.StatusFailed, ErrorMessage: "exit code 1"},
			},
			wantStatus: domain.StatusFailed,
		},
		{
			name: "skip wins over success",
			responses: map[string]ports.ResponseData{
				"task-1": {Status: domain.StatusSkipped},
				"task-2": {Status: domain.StatusSucceeded},
			},
			wantStatus: domain.StatusSkipped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newExecutorFixture()

			outcome, err := f.executor.Finish(ctx, stepContext(), shellStepSpec(), tt.responses)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, outcome.Status)
			if tt.wantFailure != "" {
				assert.Equal(t, tt.wantFailure, outcome.FailureMessage)
			}
		})
	}
}

func TestStepExecutor_AbortWithoutDispatchIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture()

	require.NoError(t, f.executor.Abort(ctx, stepContext()))
	assert.Empty(t, f.transport.cancelled)
	assert.Empty(t, f.logs.prefixes)
}

func TestStepExecutor_AbortCancelsAndCleansUp(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture()
	sctx := stepContext()

	_, err := f.executor.Start(ctx, sctx, shellStepSpec())
	require.NoError(t, err)

	require.NoError(t, f.executor.Abort(ctx, sctx))

	assert.Equal(t, []string{"task-1", "task-2"}, f.transport.cancelled)
	assert.Equal(t, []string{"abort"}, f.store.details["node-1"])
	require.Len(t, f.logs.prefixes, 1)
	assert.Equal(t, "logs/node-1", f.logs.prefixes[0])
}

func TestStepExecutor_AbortLogCleanupFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture()
	f.logs.err = errors.New("stream service down")
	sctx := stepContext()

	_, err := f.executor.Start(ctx, sctx, shellStepSpec())
	require.NoError(t, err)

	require.NoError(t, f.executor.Abort(ctx, sctx))
}
