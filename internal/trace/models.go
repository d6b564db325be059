package trace

import (
	"errors"
)

// Trace is a single user-submitted annotation against a task. Everything
// except score and voters is immutable after creation.
type Trace struct {
	ID        string         `json:"trace_id"`
	TaskID    string         `json:"task_id"`
	Username  string         `json:"username"`
	Text      string         `json:"text"`
	Score     int            `json:"score"`
	Timestamp float64        `json:"timestamp"` // seconds since epoch, fractional
	Voters    map[string]int `json:"voters"`    // username -> current vote (+1 or -1)
}

// Clone returns a deep copy. Callers outside the store only ever see clones,
// so a trace handed out earlier can never be observed mid-mutation.
func (t *Trace) Clone() *Trace {
	c := *t
	c.Voters = make(map[string]int, len(t.Voters))
	for user, vote := range t.Voters {
		c.Voters[user] = vote
	}
	return &c
}

// Snapshot is the full serialized form of the store: task_id -> traces in
// insertion order. It is what the storage backends persist and load.
type Snapshot map[string][]*Trace

// Clone deep-copies the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for taskID, traces := range s {
		list := make([]*Trace, len(traces))
		for i, t := range traces {
			list[i] = t.Clone()
		}
		out[taskID] = list
	}
	return out
}

// VoteResult reports the outcome of applying a vote.
type VoteResult struct {
	TraceID string `json:"trace_id"`
	TaskID  string `json:"task_id"`
	Score   int    `json:"score"`

	// Changed is false when the user already had this exact vote recorded.
	// No-op votes trigger no save and no broadcast.
	Changed bool `json:"-"`
}

// Stats holds aggregate counts for the status endpoint.
type Stats struct {
	Tasks  int `json:"tasks"`
	Traces int `json:"traces"`
}

var (
	// ErrValidation marks malformed or missing client input. Reported to the
	// originating client only; no state change occurs.
	ErrValidation = errors.New("invalid input")

	// ErrNotFound marks a reference to a trace id that is not in the store.
	ErrNotFound = errors.New("trace not found")
)
