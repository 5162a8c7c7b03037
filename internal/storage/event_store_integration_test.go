package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/procpulse-io/procpulse/internal/config"
	"github.com/procpulse-io/procpulse/internal/event"
)

// newIntegrationStore boots a postgres container with the full schema and
// returns a store bound to it. Cleanup is registered on t.
func newIntegrationStore(ctx context.Context, t *testing.T) *EventStore {
	t.Helper()

	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	conn := &Connection{
		db: testDB.Connection,
		cfg: &Config{
			PoolMax:        5,
			IdleTimeout:    time.Minute,
			AcquireTimeout: 5 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
	}

	store, err := NewEventStore(conn)
	require.NoError(t, err)

	return store
}

// fixtureEvent builds a valid event for one step of a process instance.
func fixtureEvent(correlationID string, seq int, typ event.Type, status event.Status) *event.Event {
	return &event.Event{
		CorrelationID:     correlationID,
		TraceID:           "trace-" + correlationID,
		ApplicationID:     "payments-gateway",
		OriginatingSystem: "mobile-app",
		TargetSystem:      "core-banking",
		ProcessName:       "card-replacement",
		StepSequence:      seq,
		EventType:         typ,
		EventStatus:       status,
		Identifiers:       map[string]string{"employee_id": "E-1"},
		Summary:           fmt.Sprintf("step %d", seq),
		EventTimestamp:    time.Now().UTC(),
	}
}

func TestEventStore_CorrelationLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := newIntegrationStore(ctx, t)

	batch := []*event.Event{
		fixtureEvent("corr-A", 0, event.TypeProcessStart, event.StatusSuccess),
		fixtureEvent("corr-A", 1, event.TypeStep, event.StatusSuccess),
		fixtureEvent("corr-A", 2, event.TypeStep, event.StatusSuccess),
		fixtureEvent("corr-A", 3, event.TypeStep, event.StatusSuccess),
		fixtureEvent("corr-A", 4, event.TypeProcessEnd, event.StatusSuccess),
	}

	result, err := store.InsertBatch(ctx, batch)
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.Len(t, result.ExecutionIDs, 5)

	for _, id := range result.ExecutionIDs {
		assert.NotEmpty(t, id)
	}

	timeline, err := store.GetByCorrelationID(ctx, "corr-A")
	require.NoError(t, err)
	require.Len(t, timeline.Events, 5)
	assert.Nil(t, timeline.Link)

	for i, ev := range timeline.Events {
		assert.Equal(t, i, ev.StepSequence, "events ordered by step sequence")
	}

	err = store.UpsertLink(ctx, &event.CorrelationLink{
		CorrelationID: "corr-A",
		AccountID:     "acct-1",
		LinkedAt:      time.Now().UTC(),
	})
	require.NoError(t, err)

	timeline, err = store.GetByCorrelationID(ctx, "corr-A")
	require.NoError(t, err)
	require.NotNil(t, timeline.Link)
	assert.Equal(t, "acct-1", timeline.Link.AccountID)
}

func TestEventStore_IdempotentRetry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := newIntegrationStore(ctx, t)

	ev := fixtureEvent("corr-idem", 0, event.TypeProcessStart, event.StatusSuccess)
	ev.IdempotencyKey = "k1"

	first, err := store.InsertBatch(ctx, []*event.Event{ev})
	require.NoError(t, err)
	require.Empty(t, first.Errors)

	retry := fixtureEvent("corr-idem", 0, event.TypeProcessStart, event.StatusSuccess)
	retry.IdempotencyKey = "k1"

	second, err := store.InsertBatch(ctx, []*event.Event{retry})
	require.NoError(t, err)
	require.Empty(t, second.Errors)

	assert.Equal(t, first.ExecutionIDs[0], second.ExecutionIDs[0],
		"replayed key must echo the original execution id")

	timeline, err := store.GetByCorrelationID(ctx, "corr-idem")
	require.NoError(t, err)
	assert.Len(t, timeline.Events, 1, "replay must not insert a second row")
}

func TestEventStore_PartialBatchFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := newIntegrationStore(ctx, t)

	bad := fixtureEvent("corr-partial", 1, event.TypeStep, event.StatusSuccess)
	bad.HTTPMethod = "FETCH" // violates the http_method check constraint

	batch := []*event.Event{
		fixtureEvent("corr-partial", 0, event.TypeProcessStart, event.StatusSuccess),
		bad,
		fixtureEvent("corr-partial", 2, event.TypeStep, event.StatusSuccess),
	}

	result, err := store.InsertBatch(ctx, batch)
	require.NoError(t, err)

	require.Len(t, result.ExecutionIDs, 3)
	assert.NotEmpty(t, result.ExecutionIDs[0])
	assert.Empty(t, result.ExecutionIDs[1], "failed row carries a placeholder")
	assert.NotEmpty(t, result.ExecutionIDs[2])

	require.Len(t, result.Errors, 1)
	assert.Equal(t, 1, result.Errors[0].Index)

	timeline, err := store.GetByCorrelationID(ctx, "corr-partial")
	require.NoError(t, err)
	assert.Len(t, timeline.Events, 2, "good rows survive the bad one")
}

func TestEventStore_TraceAggregates(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := newIntegrationStore(ctx, t)

	base := time.Now().UTC().Truncate(time.Second)

	systems := []string{"system-a", "system-a", "system-b"}
	offsets := []time.Duration{10 * time.Millisecond, 15 * time.Millisecond, 25 * time.Millisecond}
	batch := make([]*event.Event, len(systems))

	for i := range systems {
		ev := fixtureEvent(fmt.Sprintf("corr-trace-%d", i), 0, event.TypeStep, event.StatusSuccess)
		ev.TraceID = "trace-T"
		ev.TargetSystem = systems[i]
		ev.EventTimestamp = base.Add(offsets[i])
		batch[i] = ev
	}

	result, err := store.InsertBatch(ctx, batch)
	require.NoError(t, err)
	require.Empty(t, result.Errors)

	trace, err := store.GetByTraceID(ctx, "trace-T")
	require.NoError(t, err)

	require.Len(t, trace.Events, 3)
	assert.ElementsMatch(t, []string{"system-a", "system-b"}, trace.SystemsInvolved)
	assert.Equal(t, int64(15), trace.TotalDurationMs)

	for i := 1; i < len(trace.Events); i++ {
		assert.False(t, trace.Events[i].EventTimestamp.Before(trace.Events[i-1].EventTimestamp),
			"events ordered by timestamp")
	}
}

func TestEventStore_BatchSummary(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := newIntegrationStore(ctx, t)

	completedEnd := fixtureEvent("corr-done", 1, event.TypeProcessEnd, event.StatusSuccess)
	failedStep := fixtureEvent("corr-broken", 1, event.TypeStep, event.StatusFailure)

	batch := []*event.Event{
		fixtureEvent("corr-done", 0, event.TypeProcessStart, event.StatusSuccess),
		completedEnd,
		fixtureEvent("corr-open", 0, event.TypeProcessStart, event.StatusSuccess),
		fixtureEvent("corr-broken", 0, event.TypeProcessStart, event.StatusSuccess),
		failedStep,
	}

	for _, ev := range batch {
		ev.BatchID = "batch-1"
	}

	result, err := store.InsertBatch(ctx, batch)
	require.NoError(t, err)
	require.Empty(t, result.Errors)

	summary, err := store.GetBatchSummary(ctx, "batch-1")
	require.NoError(t, err)

	assert.Equal(t, int64(3), summary.TotalProcesses)
	assert.Equal(t, int64(1), summary.Completed)
	assert.Equal(t, int64(1), summary.InProgress)
	assert.Equal(t, int64(1), summary.Failed)
	assert.ElementsMatch(t, []string{"corr-done", "corr-open", "corr-broken"}, summary.CorrelationIDs)
	assert.False(t, summary.FirstEventAt.IsZero())
	assert.False(t, summary.LastEventAt.Before(summary.FirstEventAt))
}

func TestEventStore_AccountTimeline(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := newIntegrationStore(ctx, t)

	base := time.Now().UTC().Truncate(time.Second)
	batch := make([]*event.Event, 0, 4)

	for i := 0; i < 3; i++ {
		ev := fixtureEvent(fmt.Sprintf("corr-acct-%d", i), 0, event.TypeProcessStart, event.StatusSuccess)
		ev.AccountID = "acct-9"
		ev.EventTimestamp = base.Add(time.Duration(i) * time.Second)
		batch = append(batch, ev)
	}

	// Linked only: no direct account id, bound via a correlation link below.
	linked := fixtureEvent("corr-linked", 0, event.TypeProcessStart, event.StatusSuccess)
	linked.EventTimestamp = base.Add(3 * time.Second)
	batch = append(batch, linked)

	result, err := store.InsertBatch(ctx, batch)
	require.NoError(t, err)
	require.Empty(t, result.Errors)

	require.NoError(t, store.UpsertLink(ctx, &event.CorrelationLink{
		CorrelationID: "corr-linked",
		AccountID:     "acct-9",
		LinkedAt:      time.Now().UTC(),
	}))

	page, err := store.GetByAccount(ctx, event.AccountQuery{
		AccountID: "acct-9",
		Page:      event.PageRequest{Page: 1, PageSize: 2},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(3), page.TotalCount, "direct matches only by default")
	assert.Len(t, page.Events, 2)
	assert.True(t, page.HasMore())

	// Newest first.
	assert.Equal(t, "corr-acct-2", page.Events[0].CorrelationID)

	widened, err := store.GetByAccount(ctx, event.AccountQuery{
		AccountID:     "acct-9",
		IncludeLinked: true,
		Page:          event.PageRequest{Page: 1, PageSize: 10},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(4), widened.TotalCount, "linked correlations widen the match")
}
