// Package session owns the live meeting record: the chunk log, the single
// write path to the persistence engine and the live/archived lifecycle.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rcliao/live-meeting/internal/improve"
	"github.com/rcliao/live-meeting/internal/kv"
	"github.com/rcliao/live-meeting/internal/logging"
	"github.com/rcliao/live-meeting/internal/merge"
	"github.com/rcliao/live-meeting/internal/model"
)

// Options configures a Repository.
type Options struct {
	Merge  merge.Options
	Logger *slog.Logger
	Now    func() time.Time
}

// Repository is the session record store. It publishes an in-memory view of
// the active record and funnels every mutation through Update.
//
// Writes from this process are serialized, and each mutation starts from the
// current in-memory record. Writers in other processes sharing the same
// store still race: the last Set wins.
//
// When a write fails the published record stays as it was and the rejected
// record is held as the unsaved draft. Later mutations build on the draft
// and write it whole, so nothing typed during an outage is lost.
type Repository struct {
	kv   kv.Store
	opts Options
	log  *slog.Logger
	now  func() time.Time

	writeMu sync.Mutex // serializes read-modify-write cycles

	mu     sync.RWMutex // guards the fields below
	active *model.SessionRecord
	draft  *model.SessionRecord // unsaved successor of active; same id
	closed string               // id of the record archived from this repository
}

// NewRepository returns a Repository over store. Call Load before mutating.
func NewRepository(store kv.Store, opts Options) *Repository {
	if opts.Merge.GapThreshold <= 0 {
		opts.Merge = merge.DefaultOptions()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Repository{
		kv:   store,
		opts: opts,
		log:  log.With("component", "session"),
		now:  now,
	}
}

// Active returns a copy of the published active record.
func (r *Repository) Active() (*model.SessionRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == nil {
		return nil, false
	}
	return r.active.Clone(), true
}

// Unsaved returns a copy of the draft left by a failed write, if any.
func (r *Repository) Unsaved() (*model.SessionRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.draft == nil {
		return nil, false
	}
	return r.draft.Clone(), true
}

// publish replaces the published record. A draft survives only while it
// belongs to the same record.
func (r *Repository) publish(rec *model.SessionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = rec
	if rec != nil {
		r.closed = ""
	}
	if r.draft != nil && (rec == nil || r.draft.ID != rec.ID) {
		r.draft = nil
	}
}

// commit publishes a record that was just written.
func (r *Repository) commit(rec *model.SessionRecord) {
	r.publish(rec)
	r.mu.Lock()
	r.draft = nil
	r.mu.Unlock()
}

// hold keeps rec as the unsaved draft of the published record.
func (r *Repository) hold(rec *model.SessionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil && r.active.ID == rec.ID {
		r.draft = rec
	}
}

// base is the record the next mutation starts from: the draft when one is
// held, else the published record. Callers hold writeMu.
func (r *Repository) base() (cur *model.SessionRecord, closed string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.draft != nil {
		return r.draft, r.closed
	}
	return r.active, r.closed
}

// Load re-reads the active record from the store and publishes it. When no
// active record exists a new empty one is created and persisted.
func (r *Repository) Load(ctx context.Context) (*model.SessionRecord, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.loadLocked(ctx)
}

func (r *Repository) loadLocked(ctx context.Context) (*model.SessionRecord, error) {
	rec, err := r.findActive(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = model.NewSessionRecord(r.now())
		if err := r.put(ctx, rec); err != nil {
			return nil, &StorageWriteError{Key: rec.ID, Err: err, Record: rec.Clone()}
		}
		logging.WithMeeting(r.log, rec.ID).Info("created meeting")
	}
	r.publish(rec)
	return rec.Clone(), nil
}

// Reload re-reads the published record after another process may have
// changed the store. Unlike Load it never starts a meeting: when the
// published record was archived or removed elsewhere it is closed and
// ErrMeetingArchived is returned. A meeting started elsewhere is adopted.
// Before anything was loaded Reload behaves like Load.
func (r *Repository) Reload(ctx context.Context) (*model.SessionRecord, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	cur, closed := r.active, r.closed
	r.mu.RUnlock()
	if cur == nil && closed == "" {
		return r.loadLocked(ctx)
	}

	if cur != nil {
		stored, err := r.Get(ctx, cur.ID)
		switch {
		case err == nil && stored.IsArchived:
			r.closeActive(cur.ID)
			logging.WithMeeting(r.log, cur.ID).Info("meeting archived by another process")
			return nil, fmt.Errorf("%w: %s", ErrMeetingArchived, cur.ID)
		case err == nil:
			r.publish(stored)
			return stored.Clone(), nil
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}
		closed = cur.ID
	}

	rec, err := r.findActive(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		if cur != nil {
			r.closeActive(cur.ID)
			logging.WithMeeting(r.log, cur.ID).Info("meeting removed by another process")
		}
		return nil, fmt.Errorf("%w: %s", ErrMeetingArchived, closed)
	}
	r.publish(rec)
	return rec.Clone(), nil
}

// Create starts a new active record. It fails with ErrMeetingInProgress
// unless the previous one was archived or cleared.
func (r *Repository) Create(ctx context.Context) (*model.SessionRecord, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur, err := r.findActive(ctx)
	if err != nil {
		return nil, err
	}
	if cur != nil {
		return nil, fmt.Errorf("%w: %s", ErrMeetingInProgress, cur.ID)
	}
	rec := model.NewSessionRecord(r.now())
	if err := r.put(ctx, rec); err != nil {
		return nil, &StorageWriteError{Key: rec.ID, Err: err, Record: rec.Clone()}
	}
	r.publish(rec)
	logging.WithMeeting(r.log, rec.ID).Info("created meeting")
	return rec.Clone(), nil
}

// findActive scans the store for non-archived records. If more than one is
// found the newest wins and the others are reported.
func (r *Repository) findActive(ctx context.Context) (*model.SessionRecord, error) {
	var found []*model.SessionRecord
	err := r.scan(ctx, func(rec *model.SessionRecord) {
		if !rec.IsArchived {
			found = append(found, rec)
		}
	})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	best := found[0]
	for _, rec := range found[1:] {
		if rec.StartTime.After(best.StartTime) {
			best = rec
		}
	}
	if len(found) > 1 {
		r.log.Warn("multiple active meetings in store", "count", len(found), "using", best.ID)
	}
	return best, nil
}

// scan decodes every record in the store, skipping values that fail validation.
func (r *Repository) scan(ctx context.Context, visit func(*model.SessionRecord)) error {
	err := r.kv.Iterate(ctx, func(key string, value []byte) error {
		rec, err := decode(value)
		if err != nil {
			r.log.Warn("skipping invalid record", "key", key, "err", err)
			return nil
		}
		visit(rec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan records: %w", err)
	}
	return nil
}

// find returns the first valid record match accepts, stopping the scan there.
func (r *Repository) find(ctx context.Context, match func(*model.SessionRecord) bool) (*model.SessionRecord, error) {
	var found *model.SessionRecord
	err := kv.IterateAll(ctx, r.kv, func(key string, value []byte) error {
		rec, err := decode(value)
		if err != nil {
			return nil
		}
		if match(rec) {
			found = rec
			return kv.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	return found, nil
}

// Get returns the stored record with id.
func (r *Repository) Get(ctx context.Context, id string) (*model.SessionRecord, error) {
	value, err := r.kv.Get(ctx, id)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("meeting %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decode(value)
}

func decode(value []byte) (*model.SessionRecord, error) {
	var rec model.SessionRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if rec.StartTime.IsZero() {
		return nil, errors.New("decode record: missing startTime")
	}
	if rec.ID != "" && !strings.HasPrefix(rec.ID, model.IDPrefix) {
		return nil, fmt.Errorf("decode record: unexpected id %q", rec.ID)
	}
	rec.Normalize()
	return &rec, nil
}

func (r *Repository) put(ctx context.Context, rec *model.SessionRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return r.kv.Set(ctx, rec.ID, b)
}

// errNoChange lets a mutator skip the write without reporting an error.
var errNoChange = errors.New("no change")

// Update is the single write path for the active record. fn receives a copy
// of the current in-memory record (the unsaved draft, if one is held); the
// result is written whole and then published. If fn fails the call is a
// no-op. If the write fails the published view is left as it was and the
// result becomes the draft.
func (r *Repository) Update(ctx context.Context, fn func(rec *model.SessionRecord) error) (*model.SessionRecord, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.updateLocked(ctx, fn)
}

func (r *Repository) updateLocked(ctx context.Context, fn func(rec *model.SessionRecord) error) (*model.SessionRecord, error) {
	cur, closed := r.base()
	if cur == nil {
		if closed != "" {
			return nil, fmt.Errorf("%w: %s", ErrMeetingArchived, closed)
		}
		return nil, ErrNoActiveMeeting
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, errNoChange) {
			return cur.Clone(), nil
		}
		return nil, err
	}

	next.ID = cur.ID
	next.StartTime = cur.StartTime
	if cur.IsArchived {
		next.IsArchived = true
	}
	if next.LastProcessedIndex < cur.LastProcessedIndex {
		next.LastProcessedIndex = cur.LastProcessedIndex
	}
	next.Normalize()

	if err := r.put(ctx, next); err != nil {
		logging.WithMeeting(r.log, next.ID).Warn("write failed, keeping unsaved draft", "err", err)
		r.hold(next)
		return nil, &StorageWriteError{Key: next.ID, Err: err, Record: next.Clone()}
	}
	r.commit(next)
	return next.Clone(), nil
}

// Flush writes the unsaved draft. It is a no-op when nothing is held.
func (r *Repository) Flush(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	held := r.draft != nil
	r.mu.RUnlock()
	if !held {
		return nil
	}
	_, err := r.updateLocked(ctx, func(*model.SessionRecord) error { return nil })
	return err
}

// UpdateStore writes rec as the whole active record. ID, StartTime and an
// archived flag already set are kept from the current record.
func (r *Repository) UpdateStore(ctx context.Context, rec *model.SessionRecord) (*model.SessionRecord, error) {
	return r.Update(ctx, func(next *model.SessionRecord) error {
		*next = *rec.Clone()
		return nil
	})
}

// SetTitle replaces the meeting title.
func (r *Repository) SetTitle(ctx context.Context, title string) (*model.SessionRecord, error) {
	return r.Update(ctx, func(rec *model.SessionRecord) error {
		rec.Title = strings.TrimSpace(title)
		return nil
	})
}

// SetNotes replaces the note list. Notes without an id get one.
func (r *Repository) SetNotes(ctx context.Context, notes []model.Note) (*model.SessionRecord, error) {
	return r.Update(ctx, func(rec *model.SessionRecord) error {
		seen := make(map[string]bool, len(notes))
		out := make([]model.Note, 0, len(notes))
		for _, n := range notes {
			if n.Timestamp.IsZero() {
				n.Timestamp = r.now().UTC()
			}
			if n.ID == "" {
				n.ID = model.NewNoteID(n.Timestamp)
			}
			if seen[n.ID] {
				return fmt.Errorf("duplicate note id %s", n.ID)
			}
			seen[n.ID] = true
			out = append(out, n)
		}
		rec.Notes = out
		return nil
	})
}

// AddNote appends a note and returns it.
func (r *Repository) AddNote(ctx context.Context, text, device string, isInput bool) (model.Note, error) {
	now := r.now().UTC()
	note := model.Note{
		ID:        model.NewNoteID(now),
		Text:      text,
		Timestamp: now,
		IsInput:   isInput,
		Device:    device,
	}
	_, err := r.Update(ctx, func(rec *model.SessionRecord) error {
		rec.Notes = append(rec.Notes, note)
		return nil
	})
	if err != nil {
		return model.Note{}, err
	}
	return note, nil
}

// EditNote replaces the text of note id and stamps EditedAt.
func (r *Repository) EditNote(ctx context.Context, id, text string) (model.Note, error) {
	var edited model.Note
	_, err := r.Update(ctx, func(rec *model.SessionRecord) error {
		i := rec.NoteIndex(id)
		if i < 0 {
			return fmt.Errorf("note %s: %w", id, ErrNotFound)
		}
		if rec.Notes[i].Text == text {
			edited = rec.Notes[i]
			return errNoChange
		}
		now := r.now().UTC()
		rec.Notes[i].Text = text
		rec.Notes[i].EditedAt = &now
		edited = rec.Notes[i]
		return nil
	})
	if err != nil {
		return model.Note{}, err
	}
	return edited, nil
}

// DeleteNote removes note id.
func (r *Repository) DeleteNote(ctx context.Context, id string) error {
	_, err := r.Update(ctx, func(rec *model.SessionRecord) error {
		i := rec.NoteIndex(id)
		if i < 0 {
			return fmt.Errorf("note %s: %w", id, ErrNotFound)
		}
		rec.Notes = append(rec.Notes[:i], rec.Notes[i+1:]...)
		return nil
	})
	return err
}

// SetAnalysis replaces the analysis wholesale; nil clears it.
func (r *Repository) SetAnalysis(ctx context.Context, a *model.MeetingAnalysis) (*model.SessionRecord, error) {
	return r.Update(ctx, func(rec *model.SessionRecord) error {
		if a == nil {
			rec.Analysis = nil
			return nil
		}
		c := a.Clone()
		rec.Analysis = &c
		return nil
	})
}

// SetSpeakerName maps a raw speaker label to a display name. An empty name
// removes the mapping.
func (r *Repository) SetSpeakerName(ctx context.Context, raw, name string) (*model.SessionRecord, error) {
	return r.Update(ctx, func(rec *model.SessionRecord) error {
		ApplyPatch(rec, Patch{SpeakerMappings: map[string]string{raw: strings.TrimSpace(name)}})
		return nil
	})
}

// SelectDevice adds an observed device back to the selection.
func (r *Repository) SelectDevice(ctx context.Context, name string) (*model.SessionRecord, error) {
	return r.Update(ctx, func(rec *model.SessionRecord) error {
		if !rec.SelectDevice(name) {
			return fmt.Errorf("%w: %s", ErrUnknownDevice, name)
		}
		return nil
	})
}

// DeselectDevice removes a device from the selection.
func (r *Repository) DeselectDevice(ctx context.Context, name string) (*model.SessionRecord, error) {
	return r.Update(ctx, func(rec *model.SessionRecord) error {
		rec.DeselectDevice(name)
		return nil
	})
}

// OnNewChunk appends one chunk to the active record.
func (r *Repository) OnNewChunk(ctx context.Context, c model.TranscriptionChunk) (*model.SessionRecord, error) {
	return r.OnNewChunks(ctx, []model.TranscriptionChunk{c})
}

// OnNewChunks appends chunks, records their devices and re-merges segments in
// one write. A duplicate id anywhere in the batch rejects the whole batch.
func (r *Repository) OnNewChunks(ctx context.Context, chunks []model.TranscriptionChunk) (*model.SessionRecord, error) {
	return r.Update(ctx, func(rec *model.SessionRecord) error {
		if rec.IsArchived {
			return fmt.Errorf("%w: %s", ErrMeetingArchived, rec.ID)
		}
		log := NewChunkLog(rec.Chunks)
		for _, c := range chunks {
			if err := log.Append(c); err != nil {
				return err
			}
			rec.ObserveDevice(c.DeviceName)
		}
		rec.Chunks = log.All()
		rec.MergedChunks, rec.LastProcessedIndex = merge.Reconcile(
			rec.MergedChunks, rec.Chunks, rec.LastProcessedIndex, r.opts.Merge)
		return nil
	})
}

// EditChunk stores a manual edit of chunk id. Manual edits always win over
// AI improvements.
func (r *Repository) EditChunk(ctx context.Context, id int64, text string) (model.ImprovedChunk, error) {
	var edit model.ImprovedChunk
	_, err := r.Update(ctx, func(rec *model.SessionRecord) error {
		c, ok := rec.ChunkByID(id)
		if !ok {
			return fmt.Errorf("chunk %d: %w", id, ErrNotFound)
		}
		edit = model.ImprovedChunk{
			Text:       text,
			Diff:       improve.Diff(c.Text, text),
			ImprovedAt: r.now().UTC(),
			Source:     model.SourceManual,
		}
		rec.EditedMergedChunks[id] = edit
		return nil
	})
	if err != nil {
		return model.ImprovedChunk{}, err
	}
	return edit, nil
}

// RevertChunk drops any override so chunk id shows its original text.
func (r *Repository) RevertChunk(ctx context.Context, id int64) error {
	_, err := r.Update(ctx, func(rec *model.SessionRecord) error {
		if _, ok := rec.EditedMergedChunks[id]; !ok {
			return errNoChange
		}
		delete(rec.EditedMergedChunks, id)
		return nil
	})
	return err
}

// ApplyImprovement stores an AI result for chunk id of meeting unless a
// manual edit is already in place. It reports whether the improvement was
// kept. A result requested for another meeting fails with
// improve.ErrStaleImprovement.
func (r *Repository) ApplyImprovement(ctx context.Context, meeting string, id int64, imp model.ImprovedChunk) (bool, error) {
	accepted := false
	_, err := r.Update(ctx, func(rec *model.SessionRecord) error {
		if rec.ID != meeting {
			return fmt.Errorf("meeting %s: %w", meeting, improve.ErrStaleImprovement)
		}
		if _, ok := rec.ChunkByID(id); !ok {
			return fmt.Errorf("chunk %d: %w", id, ErrNotFound)
		}
		var cur *model.ImprovedChunk
		if existing, ok := rec.EditedMergedChunks[id]; ok {
			cur = &existing
		}
		combined, ok := merge.Combine(cur, imp)
		if !ok {
			return errNoChange
		}
		accepted = true
		rec.EditedMergedChunks[id] = combined
		return nil
	})
	if err != nil {
		return false, err
	}
	return accepted, nil
}
