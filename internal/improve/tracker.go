// Package improve tracks AI improvement requests per transcript chunk.
package improve

import (
	"errors"
	"sync"
	"time"

	"github.com/rcliao/live-meeting/internal/model"
)

var (
	// ErrAlreadyInProgress rejects a second request while one is pending.
	ErrAlreadyInProgress = errors.New("improvement already in progress")

	// ErrStaleImprovement marks a response overtaken by a newer request or a manual edit.
	ErrStaleImprovement = errors.New("stale improvement response")
)

// State is the improvement state of one chunk.
type State int

const (
	Untouched State = iota
	Pending
	Improved
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Improved:
		return "improved"
	case Failed:
		return "failed"
	default:
		return "untouched"
	}
}

// Ticket identifies one dispatched improvement request.
type Ticket struct {
	ChunkID int64
	Seq     uint64
}

type entry struct {
	state State
	seq   uint64
	err   error
}

// Tracker holds the per-chunk state machine:
// untouched -> pending -> improved | failed.
// Failed and untouched both mean "no override" to the merge logic.
//
// Sequence numbers come from one counter that Reset does not rewind, so a
// ticket issued before a Reset never matches a request issued after it.
type Tracker struct {
	mu      sync.Mutex
	seq     uint64
	entries map[int64]*entry
	now     func() time.Time
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{entries: make(map[int64]*entry), now: time.Now}
}

func (t *Tracker) get(id int64) *entry {
	e, ok := t.entries[id]
	if !ok {
		e = &entry{}
		t.entries[id] = e
	}
	return e
}

// Begin moves chunk id to pending and returns the ticket for the request.
func (t *Tracker) Begin(id int64) (Ticket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.get(id)
	if e.state == Pending {
		return Ticket{}, ErrAlreadyInProgress
	}
	t.seq++
	e.seq = t.seq
	e.state = Pending
	e.err = nil
	return Ticket{ChunkID: id, Seq: e.seq}, nil
}

func (t *Tracker) current(tk Ticket) (*entry, bool) {
	e, ok := t.entries[tk.ChunkID]
	if !ok || e.seq != tk.Seq || e.state != Pending {
		return nil, false
	}
	return e, true
}

// Complete records the improved text for tk. A ticket that is no longer the
// newest request for its chunk returns ErrStaleImprovement and changes nothing.
func (t *Tracker) Complete(tk Ticket, original, improved string) (model.ImprovedChunk, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.current(tk)
	if !ok {
		return model.ImprovedChunk{}, ErrStaleImprovement
	}
	res := model.ImprovedChunk{
		Text:       improved,
		Diff:       Diff(original, improved),
		ImprovedAt: t.now().UTC(),
		Source:     model.SourceAI,
	}
	e.state = Improved
	return res, nil
}

// Fail records a failed request. Stale tickets are ignored.
func (t *Tracker) Fail(tk Ticket, cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.current(tk)
	if !ok {
		return ErrStaleImprovement
	}
	e.state = Failed
	e.err = cause
	return nil
}

// Supersede is called when a human edits chunk id. Any in-flight request
// becomes stale and the previous suggestion is dropped.
func (t *Tracker) Supersede(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.get(id)
	t.seq++
	e.seq = t.seq
	e.state = Untouched
	e.err = nil
}

// State returns the current state of chunk id.
func (t *Tracker) State(id int64) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[id]; ok {
		return e.state
	}
	return Untouched
}

// Err returns the failure cause for a chunk in the failed state.
func (t *Tracker) Err(id int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[id]; ok && e.state == Failed {
		return e.err
	}
	return nil
}

// Reset forgets all chunks, used when the active meeting changes. Tickets
// still in flight become stale.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[int64]*entry)
}
