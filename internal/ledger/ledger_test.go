package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dq/internal/errs"
	"dq/internal/storage"
	_ "dq/internal/storage/sqlite"
)

type memRepo struct {
	mu        sync.Mutex
	entries   []storage.LogEntry
	appendErr error
}

func (m *memRepo) EnsureLedgerSchema(context.Context) error { return nil }

func (m *memRepo) AppendLogEntry(_ context.Context, e storage.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memRepo) LogEntriesSince(_ context.Context, pipeline string, since time.Time) ([]storage.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.LogEntry
	for _, e := range m.entries {
		if e.PipelineName == pipeline && !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

// stepClock advances by step on every call.
func stepClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := cur
		cur = cur.Add(step)
		return t
	}
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRunStep_FailureWritesOneErrorAndReturnsOriginal(t *testing.T) {
	t.Parallel()

	repo := &memRepo{}
	l := New(repo, nil, WithClock(stepClock(t0, 250*time.Millisecond)))

	boom := errs.Computation("avg", errors.New("overflow"))
	err := l.RunStep(context.Background(), "dq", "profile_column:orders.amount", func(context.Context) (int64, error) {
		return 42, boom
	})
	require.ErrorIs(t, err, boom)

	require.Len(t, repo.entries, 2)
	assert.Equal(t, storage.LevelInfo, repo.entries[0].LogLevel)
	assert.Nil(t, repo.entries[0].ErrorCode)

	var errorsSeen int
	for _, e := range repo.entries {
		if e.LogLevel != storage.LevelError {
			continue
		}
		errorsSeen++
		require.NotNil(t, e.RecordsProcessed)
		assert.Equal(t, int64(0), *e.RecordsProcessed)
		require.NotNil(t, e.ErrorCode)
		assert.Equal(t, errs.CodeComputation, *e.ErrorCode)
		require.NotNil(t, e.ExecutionTimeMs)
		assert.Equal(t, int64(250), *e.ExecutionTimeMs)
		assert.Contains(t, e.Message, "overflow")
	}
	assert.Equal(t, 1, errorsSeen)
}

func TestRunStep_SuccessRecordsDurationAndCount(t *testing.T) {
	t.Parallel()

	repo := &memRepo{}
	l := New(repo, nil, WithClock(stepClock(t0, time.Second)))

	err := l.RunStep(context.Background(), "dq", "profile_table:orders", func(context.Context) (int64, error) {
		return 7, nil
	})
	require.NoError(t, err)

	require.Len(t, repo.entries, 2)
	done := repo.entries[1]
	assert.Equal(t, storage.LevelSuccess, done.LogLevel)
	assert.Nil(t, done.ErrorCode)
	assert.Equal(t, int64(7), *done.RecordsProcessed)
	assert.Equal(t, int64(1000), *done.ExecutionTimeMs)
	assert.NotEqual(t, repo.entries[0].LogID, done.LogID)
}

func TestLogEvent_SwallowsWriteFailures(t *testing.T) {
	t.Parallel()

	repo := &memRepo{appendErr: errors.New("disk full")}
	l := New(repo, nil)

	l.LogEvent(context.Background(), Event{Pipeline: "dq", Step: "s", Level: storage.LevelInfo, Message: "m"})

	action := errors.New("real failure")
	err := l.RunStep(context.Background(), "dq", "s", func(context.Context) (int64, error) { return 0, action })
	assert.ErrorIs(t, err, action, "the step's own error must win over ledger failures")
}

func TestLogEvent_ErrorCodeOnlyOnErrors(t *testing.T) {
	t.Parallel()

	repo := &memRepo{}
	l := New(repo, nil)
	ctx := context.Background()

	l.LogEvent(ctx, Event{Pipeline: "dq", Step: "a", Level: storage.LevelSuccess, ErrorCode: "NOT_FOUND"})
	l.LogEvent(ctx, Event{Pipeline: "dq", Step: "b", Level: storage.LevelError})

	assert.Nil(t, repo.entries[0].ErrorCode)
	require.NotNil(t, repo.entries[1].ErrorCode)
	assert.Equal(t, errs.CodeUnknown, *repo.entries[1].ErrorCode)
}

func TestSummarize_CountsTerminalEventsInWindow(t *testing.T) {
	t.Parallel()

	ms := func(v int64) *int64 { return &v }
	now := t0
	repo := &memRepo{entries: []storage.LogEntry{
		{PipelineName: "dq", Timestamp: now.Add(-30 * 24 * time.Hour), LogLevel: storage.LevelSuccess, ExecutionTimeMs: ms(9999), RecordsProcessed: ms(9999)},
		{PipelineName: "dq", Timestamp: now.Add(-2 * time.Hour), LogLevel: storage.LevelInfo},
		{PipelineName: "dq", Timestamp: now.Add(-2 * time.Hour), LogLevel: storage.LevelSuccess, ExecutionTimeMs: ms(100), RecordsProcessed: ms(10)},
		{PipelineName: "dq", Timestamp: now.Add(-time.Hour), LogLevel: storage.LevelSuccess, ExecutionTimeMs: ms(300), RecordsProcessed: ms(5)},
		{PipelineName: "dq", Timestamp: now.Add(-time.Hour), LogLevel: storage.LevelError, ExecutionTimeMs: ms(200), RecordsProcessed: ms(0)},
		{PipelineName: "other", Timestamp: now.Add(-time.Hour), LogLevel: storage.LevelError},
	}}
	l := New(repo, nil, WithClock(func() time.Time { return now }))

	s, err := l.Summarize(context.Background(), "dq", 0)
	require.NoError(t, err)

	assert.Equal(t, DefaultDaysBack, s.DaysBack)
	assert.Equal(t, int64(3), s.TotalExecutions)
	assert.Equal(t, int64(2), s.SuccessfulExecutions)
	assert.Equal(t, int64(1), s.FailedExecutions)
	assert.InDelta(t, 66.666, s.SuccessRate, 0.01)
	assert.InDelta(t, 200.0, s.AvgExecutionTimeMs, 1e-9)
	assert.Equal(t, int64(15), s.TotalRecordsProcessed)
}

func TestSummarize_EmptyWindow(t *testing.T) {
	t.Parallel()

	l := New(&memRepo{}, nil)
	s, err := l.Summarize(context.Background(), "dq", 3)
	require.NoError(t, err)
	assert.Equal(t, Summary{Pipeline: "dq", DaysBack: 3}, s)
}

func TestLedger_SQLiteRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo, err := storage.Open(ctx, storage.Config{Kind: storage.KindSQLite, DSN: filepath.Join(t.TempDir(), "ledger.db")})
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	require.NoError(t, repo.EnsureLedgerSchema(ctx))

	l := New(repo, nil)
	require.NoError(t, l.RunStep(ctx, "nightly", "profile_table:a", func(context.Context) (int64, error) { return 3, nil }))
	_ = l.RunStep(ctx, "nightly", "profile_table:b", func(context.Context) (int64, error) {
		return 0, errs.NotFound("table", "b")
	})

	s, err := l.Summarize(ctx, "nightly", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.TotalExecutions)
	assert.Equal(t, int64(1), s.FailedExecutions)
	assert.Equal(t, int64(3), s.TotalRecordsProcessed)
	assert.InDelta(t, 50.0, s.SuccessRate, 1e-9)
}

func TestSummarize_ByStepKindSeparatesNestedSteps(t *testing.T) {
	t.Parallel()

	n := func(v int64) *int64 { return &v }
	now := t0
	repo := &memRepo{entries: []storage.LogEntry{
		{PipelineName: "dq", Timestamp: now, StepName: "profile_column:t.a", LogLevel: storage.LevelSuccess, ExecutionTimeMs: n(10), RecordsProcessed: n(1000)},
		{PipelineName: "dq", Timestamp: now, StepName: "profile_column:t.b", LogLevel: storage.LevelError, ExecutionTimeMs: n(30), RecordsProcessed: n(0)},
		{PipelineName: "dq", Timestamp: now, StepName: "profile_table:t", LogLevel: storage.LevelInfo},
		{PipelineName: "dq", Timestamp: now, StepName: "profile_table:t", LogLevel: storage.LevelSuccess, ExecutionTimeMs: n(45), RecordsProcessed: n(1)},
	}}
	l := New(repo, nil, WithClock(func() time.Time { return now.Add(time.Minute) }))

	s, err := l.Summarize(context.Background(), "dq", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.TotalExecutions)
	require.Len(t, s.ByStepKind, 2)

	cols := s.ByStepKind["profile_column"]
	assert.Equal(t, int64(2), cols.TotalExecutions)
	assert.Equal(t, int64(1), cols.FailedExecutions)
	assert.Equal(t, int64(1000), cols.TotalRecordsProcessed)
	assert.InDelta(t, 20.0, cols.AvgExecutionTimeMs, 1e-9)

	tables := s.ByStepKind["profile_table"]
	assert.Equal(t, int64(1), tables.TotalExecutions)
	assert.Equal(t, int64(1), tables.TotalRecordsProcessed)
	assert.InDelta(t, 100.0, tables.SuccessRate, 1e-9)
}

func TestRunStep_TimeoutRecordsTimeoutCode(t *testing.T) {
	t.Parallel()

	repo := &memRepo{}
	l := New(repo, nil, WithStepTimeout(20*time.Millisecond))

	parent := context.Background()
	err := l.RunStep(parent, "dq", "profile_table:slow", func(ctx context.Context) (int64, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NoError(t, parent.Err())

	require.Len(t, repo.entries, 2)
	last := repo.entries[1]
	assert.Equal(t, storage.LevelError, last.LogLevel)
	require.NotNil(t, last.ErrorCode)
	assert.Equal(t, errs.CodeTimeout, *last.ErrorCode)
}
