package stores

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/openfroyo/deployconf/pkg/engine"
)

// MemoryStore is an in-process Store. Records are cloned on the way in and
// out, so callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*engine.SolutionRecord
	audit   []*AuditEntry
	locks   *keyedMutex
	now     engine.Clock
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*engine.SolutionRecord),
		locks:   newKeyedMutex(),
		now:     time.Now,
	}
}

// WithClock overrides the clock used for timestamps.
func (s *MemoryStore) WithClock(now engine.Clock) *MemoryStore {
	s.now = now
	return s
}

// Init is a no-op.
func (s *MemoryStore) Init(context.Context) error { return nil }

// Migrate is a no-op.
func (s *MemoryStore) Migrate(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

// Create inserts a new solution in status selected.
func (s *MemoryStore) Create(_ context.Context, id, intent string, resources []engine.ResourceRef) (*engine.SolutionRecord, error) {
	rec := engine.NewSolutionRecord(id, intent, resources, s.now())
	if err := engine.ValidateRecord(rec); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; ok {
		return nil, &engine.AlreadyExistsError{SolutionID: id}
	}
	s.records[id] = rec.Clone()
	s.appendAudit(rec, ActionCreated, nil)

	return rec, nil
}

// Get returns a copy of the committed record for id.
func (s *MemoryStore) Get(_ context.Context, id string) (*engine.SolutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, &engine.NotFoundError{SolutionID: id}
	}
	return rec.Clone(), nil
}

// Update applies fn to a copy of the record and stores the result if fn and
// the invariant check succeed. Updates to one id are serialized.
func (s *MemoryStore) Update(ctx context.Context, id string, fn func(*engine.SolutionRecord) error) (*engine.SolutionRecord, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, engine.NewTransientError("update cancelled", err).WithSolution(id)
	}

	before, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	after := before.Clone()
	if err := fn(after); err != nil {
		return nil, err
	}
	if err := engine.CheckMutation(before, after); err != nil {
		return nil, err
	}
	after.Version = before.Version + 1
	after.UpdatedAt = s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if current := s.records[id]; current == nil || current.Version != before.Version {
		return nil, engine.NewConflictError("solution was modified concurrently", nil).WithSolution(id)
	}
	s.records[id] = after.Clone()
	action, details := describeChange(before, after)
	s.appendAudit(after, action, details)

	return after, nil
}

// List returns solutions ordered by creation time, newest first.
func (s *MemoryStore) List(_ context.Context, filter engine.SolutionFilter) ([]*engine.SolutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*engine.SolutionRecord
	for _, rec := range s.records {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID > records[j].ID
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if filter.Offset >= len(records) {
		return nil, nil
	}
	records = records[filter.Offset:]
	if len(records) > limit {
		records = records[:limit]
	}

	out := make([]*engine.SolutionRecord, len(records))
	for i, rec := range records {
		out[i] = rec.Clone()
	}
	return out, nil
}

// ListAudit returns audit entries in commit order.
func (s *MemoryStore) ListAudit(_ context.Context, solutionID string, limit int) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = defaultAuditLimit
	}
	var entries []*AuditEntry
	for _, e := range s.audit {
		if solutionID != "" && e.SolutionID != solutionID {
			continue
		}
		c := *e
		entries = append(entries, &c)
		if len(entries) == limit {
			break
		}
	}
	return entries, nil
}

// appendAudit must be called with mu held.
func (s *MemoryStore) appendAudit(rec *engine.SolutionRecord, action string, details *string) {
	s.audit = append(s.audit, &AuditEntry{
		ID:         int64(len(s.audit) + 1),
		SolutionID: rec.ID,
		Action:     action,
		Version:    rec.Version,
		Status:     rec.Status,
		Stage:      rec.CurrentStage,
		Details:    details,
		Timestamp:  rec.UpdatedAt,
	})
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
