package profile

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dq/internal/errs"
	"dq/internal/ledger"
	"dq/internal/storage"
	_ "dq/internal/storage/sqlite"
)

type fixture struct {
	repo     storage.Repository
	db       *sql.DB
	store    *Store
	ledger   *ledger.Ledger
	profiler *Profiler
}

func newFixture(t *testing.T, seed string) *fixture {
	t.Helper()
	ctx := context.Background()

	repo, err := storage.Open(ctx, storage.Config{Kind: storage.KindSQLite, DSN: filepath.Join(t.TempDir(), "wh.db")})
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	require.NoError(t, repo.EnsureProfileSchema(ctx))
	require.NoError(t, repo.EnsureLedgerSchema(ctx))

	db := repo.(interface{ DB() *sql.DB }).DB()
	if seed != "" {
		_, err = db.ExecContext(ctx, seed)
		require.NoError(t, err)
	}

	clock := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	tick := func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	store := NewStore(repo, WithDefaultSchema(repo.DefaultSchema()))
	l := ledger.New(repo, nil)
	return &fixture{
		repo:     repo,
		db:       db,
		store:    store,
		ledger:   l,
		profiler: NewProfiler(repo, store, l, WithPipeline("test"), WithClock(tick)),
	}
}

func byColumn(recs []storage.ProfileRecord) map[string]storage.ProfileRecord {
	out := make(map[string]storage.ProfileRecord, len(recs))
	for _, r := range recs {
		out[r.ColumnName] = r
	}
	return out
}

const ordersSeed = `
CREATE TABLE orders (
  id INTEGER,
  amount DECIMAL(10,2),
  note VARCHAR(20),
  placed_at TIMESTAMP,
  payload BLOB
);
INSERT INTO orders VALUES
  (1, 1.0, 'a',  '2026-01-01 10:00:00', x'00'),
  (2, 2.0, 'bb', '2026-01-03 10:00:00', NULL),
  (3, 3.0, 'e' || char(769), NULL, NULL),
  (4, NULL, NULL, '2026-01-02 10:00:00', NULL),
  (5, NULL, 'bb', NULL, NULL);`

func TestProfileTable_CategoryStatistics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, ordersSeed)

	run, err := f.profiler.ProfileTable(ctx, storage.TableRef{Name: "orders"})
	require.NoError(t, err)
	require.Empty(t, run.Failed)
	require.Len(t, run.Records, 5)

	for _, r := range run.Records {
		assert.Equal(t, run.ProfileID, r.ProfileID)
		assert.True(t, r.Timestamp.Equal(run.Timestamp))
		assert.Equal(t, "orders", r.TableName)
	}

	cols := byColumn(run.Records)

	amount := cols["amount"]
	assert.Equal(t, string(Numeric), amount.DataTypeCategory)
	assert.Equal(t, int64(5), amount.TotalCount)
	assert.Equal(t, int64(2), amount.NullCount)
	assert.InDelta(t, 40.0, *amount.NullPercentage, 1e-9)
	assert.Equal(t, int64(3), amount.DistinctCount)
	assert.InDelta(t, 60.0, *amount.DistinctPercentage, 1e-9)
	assert.Equal(t, "1", *amount.MinValue)
	assert.Equal(t, "3", *amount.MaxValue)
	assert.InDelta(t, 2.0, *amount.AvgValue, 1e-9)
	assert.InDelta(t, 1.0, *amount.StdDev, 1e-9)
	assert.Nil(t, amount.MinLength)
	assert.Nil(t, amount.AvgLength)

	note := cols["note"]
	assert.Equal(t, string(Text), note.DataTypeCategory)
	assert.Equal(t, int64(1), note.NullCount)
	assert.Equal(t, int64(3), note.DistinctCount)
	assert.Equal(t, "a", *note.MinValue)
	assert.Equal(t, int64(1), *note.MinLength, "combining accent counts as one character")
	assert.Equal(t, int64(2), *note.MaxLength)
	assert.InDelta(t, 1.5, *note.AvgLength, 1e-9)
	assert.Nil(t, note.AvgValue)
	assert.Nil(t, note.StdDev)

	placed := cols["placed_at"]
	assert.Equal(t, string(Temporal), placed.DataTypeCategory)
	assert.Equal(t, "2026-01-01T10:00:00.000000000Z", *placed.MinValue)
	assert.Equal(t, "2026-01-03T10:00:00.000000000Z", *placed.MaxValue)
	assert.Nil(t, placed.AvgValue)
	assert.Nil(t, placed.MinLength)

	payload := cols["payload"]
	assert.Equal(t, string(Other), payload.DataTypeCategory)
	assert.Equal(t, int64(4), payload.NullCount)
	assert.Nil(t, payload.MinValue)
	assert.Nil(t, payload.MaxValue)
	assert.Nil(t, payload.AvgValue)
	assert.Nil(t, payload.MinLength)

	latest, err := f.store.Latest(ctx, "orders")
	require.NoError(t, err)
	assert.Len(t, latest, 5)
	assert.Equal(t, "id", latest[0].ColumnName, "latest is ordered by ordinal")
}

func TestProfileTable_NullPercentageMatchesCounts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, `CREATE TABLE m (v INTEGER);
INSERT INTO m VALUES (1),(NULL),(3),(NULL),(NULL),(6),(7),(NULL);`)

	run, err := f.profiler.ProfileTable(ctx, storage.TableRef{Name: "m"})
	require.NoError(t, err)
	rec := run.Records[0]

	var nonNull int64
	require.NoError(t, f.db.QueryRowContext(ctx, `SELECT COUNT(v) FROM m`).Scan(&nonNull))
	assert.Equal(t, rec.TotalCount, rec.NullCount+nonNull)
	assert.InDelta(t, float64(rec.NullCount)/float64(rec.TotalCount)*100, *rec.NullPercentage, 1e-9)
	assert.InDelta(t, 50.0, *rec.NullPercentage, 1e-9)
}

func TestProfileTable_EmptyTableLeavesPercentagesUndefined(t *testing.T) {
	t.Parallel()
	f := newFixture(t, `CREATE TABLE empty_t (a INTEGER, b TEXT);`)

	run, err := f.profiler.ProfileTable(context.Background(), storage.TableRef{Name: "empty_t"})
	require.NoError(t, err)
	require.Len(t, run.Records, 2, "every column yields a record")

	for _, r := range run.Records {
		assert.Zero(t, r.TotalCount)
		assert.Nil(t, r.NullPercentage)
		assert.Nil(t, r.DistinctPercentage)
		assert.Nil(t, r.MinValue)
		assert.Nil(t, r.AvgValue)
		assert.Nil(t, r.MinLength)
	}
}

func TestProfileTable_IsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, ordersSeed)
	ref := storage.TableRef{Name: "orders"}

	first, err := f.profiler.ProfileTable(ctx, ref)
	require.NoError(t, err)
	second, err := f.profiler.ProfileTable(ctx, ref)
	require.NoError(t, err)

	assert.NotEqual(t, first.ProfileID, second.ProfileID)
	assert.True(t, second.Timestamp.After(first.Timestamp))

	strip := func(recs []storage.ProfileRecord) []storage.ProfileRecord {
		out := make([]storage.ProfileRecord, len(recs))
		for i, r := range recs {
			r.ProfileID = ""
			r.Timestamp = time.Time{}
			out[i] = r
		}
		return out
	}
	assert.Equal(t, strip(first.Records), strip(second.Records))

	latest, err := f.store.Latest(ctx, "orders")
	require.NoError(t, err)
	require.NotEmpty(t, latest)
	for _, r := range latest {
		assert.Equal(t, second.ProfileID, r.ProfileID, "latest must only return the newest run")
	}
}

func TestProfileTable_ColumnFailureDoesNotAbortSiblings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, `CREATE TABLE bad (id INTEGER, price NUMERIC, label TEXT);
INSERT INTO bad VALUES (1, 10, 'x'), (2, 'not-a-number', 'y');`)

	run, err := f.profiler.ProfileTable(ctx, storage.TableRef{Name: "bad"})
	require.NoError(t, err)

	require.Len(t, run.Failed, 1)
	assert.Equal(t, "price", run.Failed[0].Column)
	assert.Equal(t, errs.CodeComputation, errs.Code(run.Failed[0].Err))

	cols := byColumn(run.Records)
	assert.Contains(t, cols, "id")
	assert.Contains(t, cols, "label")
	assert.NotContains(t, cols, "price")

	entries, err := f.repo.LogEntriesSince(ctx, "test", time.Time{})
	require.NoError(t, err)
	var errorEntries []storage.LogEntry
	for _, e := range entries {
		if e.LogLevel == storage.LevelError {
			errorEntries = append(errorEntries, e)
		}
	}
	require.Len(t, errorEntries, 1)
	assert.Equal(t, "profile_column:bad.price", errorEntries[0].StepName)
	assert.Equal(t, errs.CodeComputation, *errorEntries[0].ErrorCode)
}

func TestProfileTable_TimeOfDayColumn(t *testing.T) {
	t.Parallel()
	f := newFixture(t, `CREATE TABLE shifts (id INTEGER, starts TIME);
INSERT INTO shifts VALUES (1, '08:30:00'), (2, '06:15:00'), (3, NULL);`)

	run, err := f.profiler.ProfileTable(context.Background(), storage.TableRef{Name: "shifts"})
	require.NoError(t, err)
	require.Empty(t, run.Failed)
	require.Len(t, run.Records, 2)

	starts := byColumn(run.Records)["starts"]
	assert.Equal(t, string(Temporal), starts.DataTypeCategory)
	assert.Equal(t, int64(1), starts.NullCount)
	require.NotNil(t, starts.MinValue)
	assert.Contains(t, *starts.MinValue, "06:15:00")
	assert.Contains(t, *starts.MaxValue, "08:30:00")
}

func TestProfileTable_AllColumnsFailingKeepsPreviousRunLatest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, `CREATE TABLE v (x NUMERIC, y TIMESTAMP);
INSERT INTO v VALUES (1, '2026-01-01 00:00:00');`)
	ref := storage.TableRef{Name: "v"}

	first, err := f.profiler.ProfileTable(ctx, ref)
	require.NoError(t, err)

	_, err = f.db.ExecContext(ctx, `UPDATE v SET x = 'abc', y = 'garbage'`)
	require.NoError(t, err)

	second, err := f.profiler.ProfileTable(ctx, ref)
	require.Error(t, err)
	assert.Equal(t, errs.CodeComputation, errs.Code(err))
	assert.Empty(t, second.Records)
	assert.Len(t, second.Failed, 2)

	latest, err := f.store.Latest(ctx, "v")
	require.NoError(t, err)
	require.NotEmpty(t, latest)
	assert.Equal(t, first.ProfileID, latest[0].ProfileID)
}

func TestProfileTable_DefaultSchemaSharesHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, `CREATE TABLE c (v INTEGER); INSERT INTO c VALUES (1);`)

	run, err := f.profiler.ProfileTable(ctx, storage.TableRef{Schema: "main", Name: "c"})
	require.NoError(t, err)
	assert.Equal(t, storage.TableRef{Name: "c"}, run.Table)
	assert.Equal(t, "c", run.Records[0].TableName)

	for _, key := range []string{"c", "main.c"} {
		latest, err := f.store.Latest(ctx, key)
		require.NoError(t, err)
		require.Len(t, latest, 1, key)
		assert.Equal(t, run.ProfileID, latest[0].ProfileID)
	}
}

func TestProfileTable_MissingTable(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	_, err := f.profiler.ProfileTable(context.Background(), storage.TableRef{Name: "ghost"})
	assert.True(t, errs.IsNotFound(err), "got %v", err)
}

func TestStore_ReplaceCompactDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, `CREATE TABLE s (v INTEGER); INSERT INTO s VALUES (1),(2);`)
	ref := storage.TableRef{Name: "s"}

	r1, err := f.profiler.ProfileTable(ctx, ref)
	require.NoError(t, err)
	r2, err := f.profiler.ProfileTable(ctx, ref)
	require.NoError(t, err)

	n, err := f.store.Compact(ctx, "s", r2.Timestamp.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only the older run is compacted")

	latest, err := f.store.Latest(ctx, "s")
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, r2.ProfileID, latest[0].ProfileID)

	require.NoError(t, f.store.Replace(ctx, "s", r1.Records))
	latest, err = f.store.Latest(ctx, "s")
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, r1.ProfileID, latest[0].ProfileID)

	err = f.store.Replace(ctx, "other", r1.Records)
	assert.Error(t, err)

	n, err = f.store.DeleteAllFor(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	latest, err = f.store.Latest(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, latest)
}
