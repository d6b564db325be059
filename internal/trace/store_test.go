package trace

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

// countingSaver records how many times the store persisted.
type countingSaver struct {
	mu    sync.Mutex
	saves int
	last  Snapshot
	err   error
}

func (s *countingSaver) Save(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.last = snap
	return s.err
}

func (s *countingSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func TestAddTrace_Basic(t *testing.T) {
	store := NewStore(nil, nil, nil)

	tr, err := store.AddTrace("T1", "alice", "42")
	if err != nil {
		t.Fatalf("AddTrace: %v", err)
	}
	if tr.ID == "" {
		t.Error("expected a generated trace id")
	}
	if tr.TaskID != "T1" || tr.Username != "alice" || tr.Text != "42" {
		t.Errorf("unexpected trace fields: %+v", tr)
	}
	if tr.Score != 0 {
		t.Errorf("score = %d, want 0", tr.Score)
	}
	if len(tr.Voters) != 0 {
		t.Errorf("voters = %v, want empty", tr.Voters)
	}
	if tr.Timestamp <= 0 {
		t.Errorf("timestamp = %v, want > 0", tr.Timestamp)
	}
}

func TestAddTrace_Validation(t *testing.T) {
	store := NewStore(nil, nil, nil)

	if _, err := store.AddTrace("", "alice", "text"); !errors.Is(err, ErrValidation) {
		t.Errorf("empty task_id: err = %v, want ErrValidation", err)
	}
	if _, err := store.AddTrace("T1", "alice", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("empty text: err = %v, want ErrValidation", err)
	}

	// Missing username falls back to Anonymous rather than failing.
	tr, err := store.AddTrace("T1", "", "text")
	if err != nil {
		t.Fatalf("AddTrace: %v", err)
	}
	if tr.Username != "Anonymous" {
		t.Errorf("username = %q, want Anonymous", tr.Username)
	}
}

func TestGetTraces_UnknownTask(t *testing.T) {
	store := NewStore(nil, nil, nil)
	if got := store.GetTraces("nope"); len(got) != 0 {
		t.Errorf("expected empty slice for unknown task, got %d traces", len(got))
	}
}

func TestGetTraces_Ordering(t *testing.T) {
	store := NewStore(nil, nil, nil)
	var ids []string
	for i := 0; i < 5; i++ {
		tr, err := store.AddTrace("T1", "alice", fmt.Sprintf("answer %d", i))
		if err != nil {
			t.Fatalf("AddTrace: %v", err)
		}
		ids = append(ids, tr.ID)
	}

	// Vote activity must not disturb insertion order.
	if _, err := store.ApplyVote(ids[2], "bob", 1); err != nil {
		t.Fatalf("ApplyVote: %v", err)
	}

	got := store.GetTraces("T1")
	if len(got) != 5 {
		t.Fatalf("got %d traces, want 5", len(got))
	}
	for i, tr := range got {
		if tr.ID != ids[i] {
			t.Errorf("position %d: got %s, want %s", i, tr.ID, ids[i])
		}
	}
}

func TestApplyVote_Scenario(t *testing.T) {
	saver := &countingSaver{}
	store := NewStore(nil, saver, nil)

	tr, err := store.AddTrace("T1", "alice", "42")
	if err != nil {
		t.Fatalf("AddTrace: %v", err)
	}
	savesAfterAdd := saver.count()

	res, err := store.ApplyVote(tr.ID, "bob", 1)
	if err != nil {
		t.Fatalf("ApplyVote: %v", err)
	}
	if res.Score != 1 || !res.Changed {
		t.Errorf("first vote: score = %d changed = %v, want 1 true", res.Score, res.Changed)
	}
	if res.TaskID != "T1" {
		t.Errorf("task_id = %q, want T1", res.TaskID)
	}

	// Identical repeat vote: no score change and no save.
	res, err = store.ApplyVote(tr.ID, "bob", 1)
	if err != nil {
		t.Fatalf("ApplyVote repeat: %v", err)
	}
	if res.Score != 1 || res.Changed {
		t.Errorf("repeat vote: score = %d changed = %v, want 1 false", res.Score, res.Changed)
	}
	if saver.count() != savesAfterAdd+1 {
		t.Errorf("saves = %d, want %d (repeat vote must not save)", saver.count(), savesAfterAdd+1)
	}

	// Reversal moves the score by 2.
	res, err = store.ApplyVote(tr.ID, "bob", -1)
	if err != nil {
		t.Fatalf("ApplyVote flip: %v", err)
	}
	if res.Score != -1 || !res.Changed {
		t.Errorf("flip vote: score = %d changed = %v, want -1 true", res.Score, res.Changed)
	}
}

func TestApplyVote_SequenceNetEffect(t *testing.T) {
	store := NewStore(nil, nil, nil)
	tr, _ := store.AddTrace("T1", "alice", "42")

	// Repeats are no-ops, flips apply vote - current.
	votes := []int{1, 1, -1, -1, 1}
	var last VoteResult
	for _, v := range votes {
		res, err := store.ApplyVote(tr.ID, "u", v)
		if err != nil {
			t.Fatalf("ApplyVote(%d): %v", v, err)
		}
		last = res
	}
	if last.Score != 1 {
		t.Errorf("final score = %d, want 1", last.Score)
	}
}

func TestApplyVote_MultipleVoters(t *testing.T) {
	store := NewStore(nil, nil, nil)
	tr, _ := store.AddTrace("T1", "alice", "42")

	store.ApplyVote(tr.ID, "bob", 1)
	store.ApplyVote(tr.ID, "carol", 1)
	res, err := store.ApplyVote(tr.ID, "dave", -1)
	if err != nil {
		t.Fatalf("ApplyVote: %v", err)
	}
	if res.Score != 1 {
		t.Errorf("score = %d, want 1", res.Score)
	}

	// score == sum(voters) must hold.
	got := store.GetTraces("T1")[0]
	sum := 0
	for _, v := range got.Voters {
		sum += v
	}
	if got.Score != sum {
		t.Errorf("score %d != sum of voters %d", got.Score, sum)
	}
}

func TestApplyVote_Errors(t *testing.T) {
	store := NewStore(nil, nil, nil)
	tr, _ := store.AddTrace("T1", "alice", "42")

	if _, err := store.ApplyVote("missing", "bob", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown trace: err = %v, want ErrNotFound", err)
	}
	for _, vote := range []int{0, 2, -2, 100} {
		if _, err := store.ApplyVote(tr.ID, "bob", vote); !errors.Is(err, ErrValidation) {
			t.Errorf("vote %d: err = %v, want ErrValidation", vote, err)
		}
	}
	if _, err := store.ApplyVote(tr.ID, "", 1); !errors.Is(err, ErrValidation) {
		t.Errorf("empty username: err = %v, want ErrValidation", err)
	}
}

func TestAddTrace_ConcurrentUniqueIDs(t *testing.T) {
	store := NewStore(nil, nil, nil)

	const n = 50
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr, err := store.AddTrace("T1", "alice", "same text")
			if err != nil {
				t.Errorf("AddTrace: %v", err)
				return
			}
			ids <- tr.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate trace id %s", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Errorf("got %d unique ids, want %d", len(seen), n)
	}
}

func TestStore_SaveFailureDoesNotAbortMutation(t *testing.T) {
	saver := &countingSaver{err: errors.New("disk on fire")}
	store := NewStore(nil, saver, nil)

	tr, err := store.AddTrace("T1", "alice", "42")
	if err != nil {
		t.Fatalf("AddTrace should succeed despite save failure: %v", err)
	}
	res, err := store.ApplyVote(tr.ID, "bob", 1)
	if err != nil {
		t.Fatalf("ApplyVote should succeed despite save failure: %v", err)
	}
	if res.Score != 1 {
		t.Errorf("score = %d, want 1", res.Score)
	}
}

func TestStore_HandedOutTracesAreCopies(t *testing.T) {
	store := NewStore(nil, nil, nil)
	tr, _ := store.AddTrace("T1", "alice", "42")

	// Tampering with a returned record must not affect the store.
	tr.Score = 999
	tr.Voters["mallory"] = 1

	got := store.GetTraces("T1")[0]
	if got.Score != 0 || len(got.Voters) != 0 {
		t.Errorf("store state leaked through returned trace: %+v", got)
	}
}

func TestNewStore_SeedsFromSnapshot(t *testing.T) {
	snap := Snapshot{
		"T1": {
			{ID: "a", TaskID: "T1", Username: "alice", Text: "one", Score: 2,
				Voters: map[string]int{"bob": 1, "carol": 1}},
			{ID: "b", TaskID: "T1", Username: "bob", Text: "two"},
		},
	}
	store := NewStore(snap, nil, nil)

	got := store.GetTraces("T1")
	if len(got) != 2 {
		t.Fatalf("got %d traces, want 2", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("order not preserved: %s, %s", got[0].ID, got[1].ID)
	}

	// Votes on restored traces must resolve by id.
	res, err := store.ApplyVote("b", "carol", -1)
	if err != nil {
		t.Fatalf("ApplyVote on restored trace: %v", err)
	}
	if res.Score != -1 {
		t.Errorf("score = %d, want -1", res.Score)
	}
}

func TestStore_Stats(t *testing.T) {
	store := NewStore(nil, nil, nil)
	store.AddTrace("T1", "alice", "one")
	store.AddTrace("T1", "bob", "two")
	store.AddTrace("T2", "carol", "three")

	st := store.Stats()
	if st.Tasks != 2 || st.Traces != 3 {
		t.Errorf("stats = %+v, want 2 tasks / 3 traces", st)
	}
}
