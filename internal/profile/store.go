package profile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"dq/internal/storage"
)

// Store is the profile store: an append-only log of run batches with a
// latest-run view.
//
// Profiling only ever appends; "latest" is the batch at max(timestamp), so
// concurrent runs never delete each other's rows. Replace and Compact are the
// only deleting operations and are serialised per table.
type Store struct {
	repo          storage.ProfileRepository
	defaultSchema string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithDefaultSchema makes table keys that name schema resolve to the bare
// table name, matching what the profiler writes for that warehouse.
func WithDefaultSchema(schema string) StoreOption {
	return func(s *Store) { s.defaultSchema = schema }
}

func NewStore(repo storage.ProfileRepository, opts ...StoreOption) *Store {
	s := &Store{repo: repo, locks: make(map[string]*sync.Mutex)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// key is the canonical form of table.
func (s *Store) key(table string) string {
	return storage.ParseTableRef(table).Canonical(s.defaultSchema).String()
}

// canonical returns records with canonical table names, copying only when a
// name changes.
func (s *Store) canonical(records []storage.ProfileRecord) []storage.ProfileRecord {
	out, copied := records, false
	for i, r := range records {
		k := s.key(r.TableName)
		if k == r.TableName {
			continue
		}
		if !copied {
			out, copied = append([]storage.ProfileRecord(nil), records...), true
		}
		out[i].TableName = k
	}
	return out
}

// tableLock returns the mutex guarding table. Entries are never removed; the
// map is bounded by the number of profiled tables.
func (s *Store) tableLock(table string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[table]
	if !ok {
		l = &sync.Mutex{}
		s.locks[table] = l
	}
	return l
}

// lockTables locks every table in records in name order and returns the
// unlock func.
func (s *Store) lockTables(records []storage.ProfileRecord) func() {
	seen := map[string]bool{}
	var names []string
	for _, r := range records {
		if !seen[r.TableName] {
			seen[r.TableName] = true
			names = append(names, r.TableName)
		}
	}
	sort.Strings(names)

	held := make([]*sync.Mutex, 0, len(names))
	for _, n := range names {
		l := s.tableLock(n)
		l.Lock()
		held = append(held, l)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

// Append writes records as one batch.
func (s *Store) Append(ctx context.Context, records []storage.ProfileRecord) error {
	if len(records) == 0 {
		return nil
	}
	records = s.canonical(records)
	unlock := s.lockTables(records)
	defer unlock()

	if err := s.repo.AppendProfiles(ctx, records); err != nil {
		return fmt.Errorf("profile store: append: %w", err)
	}
	return nil
}

// Latest returns the records of table's most recent run, or an empty slice.
func (s *Store) Latest(ctx context.Context, table string) ([]storage.ProfileRecord, error) {
	table = s.key(table)
	recs, err := s.repo.LatestProfiles(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("profile store: latest %s: %w", table, err)
	}
	return recs, nil
}

// DeleteAllFor removes every stored run of table.
func (s *Store) DeleteAllFor(ctx context.Context, table string) (int64, error) {
	table = s.key(table)
	l := s.tableLock(table)
	l.Lock()
	defer l.Unlock()

	n, err := s.repo.DeleteProfiles(ctx, table)
	if err != nil {
		return 0, fmt.Errorf("profile store: delete %s: %w", table, err)
	}
	return n, nil
}

// Replace clears table and appends records under one per-table lock, for
// callers that want a single-batch history. Records must all belong to
// table.
func (s *Store) Replace(ctx context.Context, table string, records []storage.ProfileRecord) error {
	table = s.key(table)
	records = s.canonical(records)
	for _, r := range records {
		if r.TableName != table {
			return fmt.Errorf("profile store: replace %s: record for %s", table, r.TableName)
		}
	}

	l := s.tableLock(table)
	l.Lock()
	defer l.Unlock()

	if _, err := s.repo.DeleteProfiles(ctx, table); err != nil {
		return fmt.Errorf("profile store: replace %s: %w", table, err)
	}
	if err := s.repo.AppendProfiles(ctx, records); err != nil {
		return fmt.Errorf("profile store: replace %s: %w", table, err)
	}
	return nil
}

// Compact deletes runs of table older than keepAfter. The latest run always
// survives.
func (s *Store) Compact(ctx context.Context, table string, keepAfter time.Time) (int64, error) {
	table = s.key(table)
	l := s.tableLock(table)
	l.Lock()
	defer l.Unlock()

	n, err := s.repo.DeleteProfilesBefore(ctx, table, keepAfter)
	if err != nil {
		return 0, fmt.Errorf("profile store: compact %s: %w", table, err)
	}
	return n, nil
}
