// Package runlog keeps a journal of finished runs. Records hold the task,
// outcome and timings; the credential a run was started with is never part
// of a record.
package runlog

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
	"unicode/utf8"
)

// Outcomes recorded for a run.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

const (
	defaultListLimit = 100
	maxTextLen       = 2000
)

// ErrNotFound is returned by Get for unknown run IDs.
var ErrNotFound = errors.New("run not found")

// Record describes one finished run.
type Record struct {
	ID        string        `json:"id"`
	Task      string        `json:"task"`
	Outcome   string        `json:"outcome"`
	Steps     int           `json:"steps"`
	Result    string        `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	StartedAt time.Time     `json:"started_at"`
}

// Filter selects records for List. Results are newest first.
type Filter struct {
	Outcome string
	Limit   int
	Offset  int
}

// Stats aggregates every stored record.
type Stats struct {
	Total         int64         `json:"total"`
	Succeeded     int64         `json:"succeeded"`
	Failed        int64         `json:"failed"`
	Cancelled     int64         `json:"cancelled"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// Store persists run records.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, filter Filter) ([]*Record, error)
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// clip bounds free text so a chatty model cannot bloat the journal.
func clip(s string) string {
	if len(s) <= maxTextLen {
		return s
	}
	cut := maxTextLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func normalize(rec *Record) Record {
	out := *rec
	out.Task = clip(out.Task)
	out.Result = clip(out.Result)
	out.Error = clip(out.Error)
	if out.StartedAt.IsZero() {
		out.StartedAt = time.Now()
	}
	out.StartedAt = out.StartedAt.UTC()
	return out
}

// MemoryStore keeps the most recent records in memory.
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	records  []*Record
}

// NewMemoryStore keeps at most capacity records, dropping the oldest.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 500
	}
	return &MemoryStore{capacity: capacity}
}

func (m *MemoryStore) Save(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return errors.New("record needs an id")
	}
	r := normalize(rec)
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.records {
		if existing.ID == r.ID {
			m.records[i] = &r
			return nil
		}
	}
	m.records = append(m.records, &r)
	if len(m.records) > m.capacity {
		m.records = m.records[len(m.records)-m.capacity:]
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) List(ctx context.Context, filter Filter) ([]*Record, error) {
	m.mu.RLock()
	matched := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		if filter.Outcome != "" && r.Outcome != filter.Outcome {
			continue
		}
		cp := *r
		matched = append(matched, &cp)
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})
	return page(matched, filter), nil
}

func (m *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := &Stats{}
	for _, r := range m.records {
		stats.add(r.Outcome, r.Duration)
	}
	stats.finish()
	return stats, nil
}

func (m *MemoryStore) Close() error { return nil }

func (s *Stats) add(outcome string, d time.Duration) {
	s.Total++
	s.TotalDuration += d
	switch outcome {
	case OutcomeSuccess:
		s.Succeeded++
	case OutcomeCancelled:
		s.Cancelled++
	default:
		s.Failed++
	}
}

func (s *Stats) finish() {
	if s.Total > 0 {
		s.AvgDuration = s.TotalDuration / time.Duration(s.Total)
	}
}

func page(records []*Record, filter Filter) []*Record {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if filter.Offset >= len(records) {
		return []*Record{}
	}
	if filter.Offset > 0 {
		records = records[filter.Offset:]
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return records
}
