package trace

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Saver persists a consistent snapshot of the store. Implemented by the
// storage backends. Save failures degrade durability, never live state, so
// the store logs and swallows them.
type Saver interface {
	Save(Snapshot) error
}

// Store is the authoritative in-memory mapping from task id to its ordered
// trace list. All access goes through its lock; the raw maps are never
// exposed. A mutation and the snapshot save it triggers execute under the
// lock as one unit, so concurrent voters and submitters cannot interleave
// mid-write and a persisted snapshot always reflects a real store state.
type Store struct {
	mu    sync.RWMutex
	tasks map[string][]*Trace
	byID  map[string]*Trace // secondary index, avoids scanning all tasks per vote

	saver  Saver
	logger *slog.Logger
}

// NewStore builds a store seeded from a loaded snapshot. A nil snapshot
// starts empty. saver may be nil (tests).
func NewStore(snap Snapshot, saver Saver, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		tasks:  make(map[string][]*Trace),
		byID:   make(map[string]*Trace),
		saver:  saver,
		logger: logger.With("component", "trace.Store"),
	}
	for taskID, traces := range snap {
		for _, t := range traces {
			c := t.Clone()
			if c.Voters == nil {
				c.Voters = make(map[string]int)
			}
			s.tasks[taskID] = append(s.tasks[taskID], c)
			s.byID[c.ID] = c
		}
	}
	return s
}

// GetTraces returns the traces for a task in insertion order. An unknown
// task id is not an error; it yields an empty slice.
func (s *Store) GetTraces(taskID string) []*Trace {
	s.mu.RLock()
	defer s.mu.RUnlock()

	traces := s.tasks[taskID]
	out := make([]*Trace, len(traces))
	for i, t := range traces {
		out[i] = t.Clone()
	}
	return out
}

// AddTrace creates a new trace with a fresh ULID, zero score and no voters,
// appends it to the task's list and persists the store.
func (s *Store) AddTrace(taskID, username, text string) (*Trace, error) {
	if taskID == "" {
		return nil, fmt.Errorf("%w: task_id is required", ErrValidation)
	}
	if text == "" {
		return nil, fmt.Errorf("%w: text is required", ErrValidation)
	}
	if username == "" {
		username = "Anonymous"
	}

	t := &Trace{
		ID:        ulid.Make().String(),
		TaskID:    taskID,
		Username:  username,
		Text:      text,
		Score:     0,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		Voters:    make(map[string]int),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[taskID] = append(s.tasks[taskID], t)
	s.byID[t.ID] = t
	s.saveLocked()
	return t.Clone(), nil
}

// ApplyVote records username's vote (+1 or -1) on a trace. The score moves
// by vote - current, which handles first-time votes, reversals (a flip moves
// the score by 2) and repeats (delta zero) with one formula. Repeating an
// identical vote is a no-op: the result carries Changed=false and nothing
// is saved.
func (s *Store) ApplyVote(traceID, username string, vote int) (VoteResult, error) {
	if traceID == "" || username == "" {
		return VoteResult{}, fmt.Errorf("%w: trace_id and username are required", ErrValidation)
	}
	if vote != 1 && vote != -1 {
		return VoteResult{}, fmt.Errorf("%w: vote must be +1 or -1, got %d", ErrValidation, vote)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[traceID]
	if !ok {
		return VoteResult{}, fmt.Errorf("%w: %s", ErrNotFound, traceID)
	}

	current := t.Voters[username]
	if current == vote {
		return VoteResult{TraceID: t.ID, TaskID: t.TaskID, Score: t.Score, Changed: false}, nil
	}

	t.Score += vote - current
	t.Voters[username] = vote
	s.saveLocked()
	return VoteResult{TraceID: t.ID, TaskID: t.TaskID, Score: t.Score, Changed: true}, nil
}

// Snapshot returns a deep copy of the full store.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Stats returns aggregate counts.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Tasks: len(s.tasks)}
	for _, traces := range s.tasks {
		st.Traces += len(traces)
	}
	return st
}

func (s *Store) snapshotLocked() Snapshot {
	snap := make(Snapshot, len(s.tasks))
	for taskID, traces := range s.tasks {
		list := make([]*Trace, len(traces))
		for i, t := range traces {
			list[i] = t.Clone()
		}
		snap[taskID] = list
	}
	return snap
}

// saveLocked persists the current state. Must be called with mu held.
func (s *Store) saveLocked() {
	if s.saver == nil {
		return
	}
	if err := s.saver.Save(s.snapshotLocked()); err != nil {
		s.logger.Error("failed to save trace store", "error", err)
	}
}
