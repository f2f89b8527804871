// Package meeting is the single read/write surface over the live meeting.
// It fans mutations out to the session repository, the improvement tracker
// and the AI services, and republishes a derived View after each change.
package meeting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rcliao/live-meeting/internal/ai"
	"github.com/rcliao/live-meeting/internal/improve"
	"github.com/rcliao/live-meeting/internal/logging"
	"github.com/rcliao/live-meeting/internal/model"
	"github.com/rcliao/live-meeting/internal/session"
	"github.com/rcliao/live-meeting/internal/transcribe"
)

// ErrEditedByHand is returned when asking the model to improve a chunk the
// user already edited.
var ErrEditedByHand = errors.New("chunk was edited by hand")

// contextWindow is how many segments on each side of a chunk are sent as
// context for an improvement.
const contextWindow = 2

// View is the derived state handed to the rendering layer.
type View struct {
	ID              string                 `json:"id"`
	StartTime       time.Time              `json:"startTime"`
	Title           string                 `json:"title"`
	Notes           []model.Note           `json:"notes"`
	Segments        []session.Segment      `json:"segments"`
	Analysis        *model.MeetingAnalysis `json:"analysis,omitempty"`
	DeviceNames     []string               `json:"deviceNames"`
	SelectedDevices []string               `json:"selectedDevices"`
	Loading         bool                   `json:"loading"`
	Dirty           bool                   `json:"dirty"` // holds edits not yet written
	Warning         string                 `json:"warning,omitempty"`
}

// Options configures a Facade.
type Options struct {
	Improver ai.Improver
	Analyzer ai.Analyzer
	Logger   *slog.Logger
}

// Facade owns the live meeting for one process.
type Facade struct {
	repo     *session.Repository
	tracker  *improve.Tracker
	improver ai.Improver
	analyzer ai.Analyzer
	log      *slog.Logger

	mu         sync.Mutex
	loading    bool
	warning    string // shown while the repository holds unsaved changes
	listeners  []func(View)
	stopIngest context.CancelCauseFunc
}

// New returns a Facade over repo. Call ReloadData before use.
func New(repo *session.Repository, opts Options) *Facade {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	f := &Facade{
		repo:     repo,
		tracker:  improve.NewTracker(),
		improver: opts.Improver,
		analyzer: opts.Analyzer,
		log:      log.With("component", "meeting"),
	}
	if f.improver == nil {
		f.improver = ai.Disabled{}
	}
	if f.analyzer == nil {
		f.analyzer = ai.Disabled{}
	}
	return f
}

// Repository exposes the underlying record store for archived-record access.
func (f *Facade) Repository() *session.Repository {
	return f.repo
}

// OnChange registers fn to receive every republished view.
func (f *Facade) OnChange(fn func(View)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

// current returns the record mutations build on: unsaved changes when a
// write failed, else the stored active record.
func (f *Facade) current() (rec *model.SessionRecord, dirty bool) {
	if rec, ok := f.repo.Unsaved(); ok {
		return rec, true
	}
	rec, _ = f.repo.Active()
	return rec, false
}

// View projects the current record. Unsaved edits are shown in place of the
// stored record so a failed write never looks like lost data.
func (f *Facade) View() View {
	f.mu.Lock()
	warning, loading := f.warning, f.loading
	f.mu.Unlock()

	rec, dirty := f.current()
	v := View{Loading: loading, Dirty: dirty}
	if dirty {
		v.Warning = warning
	}
	if rec == nil {
		return v
	}
	v.ID = rec.ID
	v.StartTime = rec.StartTime
	v.Title = rec.Title
	v.Notes = append([]model.Note{}, rec.Notes...)
	v.Segments = session.Project(rec)
	for i := range v.Segments {
		seg := &v.Segments[i]
		if st := f.tracker.State(seg.ChunkID); st != improve.Untouched {
			seg.Improvement = st.String()
		}
		if err := f.tracker.Err(seg.ChunkID); err != nil {
			seg.ImprovementError = err.Error()
		}
	}
	if rec.Analysis != nil {
		a := rec.Analysis.Clone()
		v.Analysis = &a
	}
	v.DeviceNames = append([]string{}, rec.DeviceNames...)
	v.SelectedDevices = append([]string{}, rec.SelectedDevices...)
	return v
}

func (f *Facade) publish() {
	f.mu.Lock()
	listeners := append([]func(View){}, f.listeners...)
	f.mu.Unlock()
	if len(listeners) == 0 {
		return
	}
	v := f.View()
	for _, fn := range listeners {
		fn(v)
	}
}

// ReloadData re-reads the active record from storage, for example after
// another process changed it. If that process archived the live meeting,
// ingestion into it stops as if EndMeeting had been called here.
func (f *Facade) ReloadData(ctx context.Context) (View, error) {
	f.mu.Lock()
	f.loading = true
	f.mu.Unlock()

	prev, _ := f.repo.Active()
	rec, err := f.repo.Reload(ctx)

	f.mu.Lock()
	f.loading = false
	f.mu.Unlock()
	if errors.Is(err, session.ErrMeetingArchived) {
		f.tracker.Reset()
		f.stopIngesting()
		f.publish()
		return f.View(), nil
	}
	if err != nil {
		f.remember(err)
		return f.View(), err
	}
	if prev == nil || prev.ID != rec.ID {
		f.tracker.Reset()
	}
	f.publish()
	return f.View(), nil
}

// stopIngesting ends a running Ingest because its meeting was archived.
func (f *Facade) stopIngesting() {
	f.mu.Lock()
	stop := f.stopIngest
	f.stopIngest = nil
	f.mu.Unlock()
	if stop != nil {
		stop(session.ErrMeetingArchived)
	}
}

// remember sets the view warning after a failed write that left unsaved
// changes behind. Other errors leave the view alone.
func (f *Facade) remember(err error) {
	var we *session.StorageWriteError
	if !errors.As(err, &we) {
		return
	}
	log := logging.WithMeeting(f.log, we.Key)
	if _, dirty := f.repo.Unsaved(); !dirty {
		log.Warn("write to stored meeting failed", "err", we.Err)
		return
	}
	f.mu.Lock()
	f.warning = fmt.Sprintf("changes not saved: %v", we.Err)
	f.mu.Unlock()
	log.Warn("keeping unsaved changes", "err", we.Err)
}

// mutate runs one repository mutation and republishes the view. During a
// storage outage each mutation builds on the unsaved changes of the last,
// and the first write that succeeds stores all of them.
func (f *Facade) mutate(ctx context.Context, op func(ctx context.Context) error) error {
	err := op(ctx)
	f.remember(err)
	f.publish()
	return err
}

// Retry writes unsaved changes again. It is a no-op when nothing is pending.
func (f *Facade) Retry(ctx context.Context) error {
	err := f.repo.Flush(ctx)
	f.remember(err)
	f.publish()
	return err
}

// LastChunkID is the id of the newest chunk in the live meeting, unsaved
// ones included, or -1.
func (f *Facade) LastChunkID() int64 {
	if rec, _ := f.current(); rec != nil {
		return rec.LastChunkID()
	}
	return -1
}

// SetTitle renames the live meeting.
func (f *Facade) SetTitle(ctx context.Context, title string) error {
	return f.mutate(ctx, func(ctx context.Context) error {
		_, err := f.repo.SetTitle(ctx, title)
		return err
	})
}

// SetNotes replaces all notes.
func (f *Facade) SetNotes(ctx context.Context, notes []model.Note) error {
	return f.mutate(ctx, func(ctx context.Context) error {
		_, err := f.repo.SetNotes(ctx, notes)
		return err
	})
}

// AddNote appends a note.
func (f *Facade) AddNote(ctx context.Context, text, device string, isInput bool) (model.Note, error) {
	var note model.Note
	err := f.mutate(ctx, func(ctx context.Context) error {
		var err error
		note, err = f.repo.AddNote(ctx, text, device, isInput)
		return err
	})
	return note, err
}

// EditNote replaces a note's text.
func (f *Facade) EditNote(ctx context.Context, id, text string) (model.Note, error) {
	var note model.Note
	err := f.mutate(ctx, func(ctx context.Context) error {
		var err error
		note, err = f.repo.EditNote(ctx, id, text)
		return err
	})
	return note, err
}

// DeleteNote removes a note.
func (f *Facade) DeleteNote(ctx context.Context, id string) error {
	return f.mutate(ctx, func(ctx context.Context) error {
		return f.repo.DeleteNote(ctx, id)
	})
}

// EditChunk stores a manual edit. Any improvement in flight for the chunk
// becomes stale.
func (f *Facade) EditChunk(ctx context.Context, id int64, text string) (model.ImprovedChunk, error) {
	f.tracker.Supersede(id)
	var edit model.ImprovedChunk
	err := f.mutate(ctx, func(ctx context.Context) error {
		var err error
		edit, err = f.repo.EditChunk(ctx, id, text)
		return err
	})
	return edit, err
}

// RevertChunk drops any override on a chunk.
func (f *Facade) RevertChunk(ctx context.Context, id int64) error {
	f.tracker.Supersede(id)
	return f.mutate(ctx, func(ctx context.Context) error {
		return f.repo.RevertChunk(ctx, id)
	})
}

// SetSpeakerName maps a raw speaker label to a display name.
func (f *Facade) SetSpeakerName(ctx context.Context, raw, name string) error {
	return f.mutate(ctx, func(ctx context.Context) error {
		_, err := f.repo.SetSpeakerName(ctx, raw, name)
		return err
	})
}

// SelectDevice includes an observed device in the selection.
func (f *Facade) SelectDevice(ctx context.Context, name string) error {
	return f.mutate(ctx, func(ctx context.Context) error {
		_, err := f.repo.SelectDevice(ctx, name)
		return err
	})
}

// DeselectDevice excludes a device from the selection.
func (f *Facade) DeselectDevice(ctx context.Context, name string) error {
	return f.mutate(ctx, func(ctx context.Context) error {
		_, err := f.repo.DeselectDevice(ctx, name)
		return err
	})
}

// OnNewChunk appends a transcription chunk to the live meeting.
func (f *Facade) OnNewChunk(ctx context.Context, c model.TranscriptionChunk) error {
	return f.mutate(ctx, func(ctx context.Context) error {
		_, err := f.repo.OnNewChunk(ctx, c)
		return err
	})
}

// ImprovementState reports the tracker state of a chunk.
func (f *Facade) ImprovementState(id int64) improve.State {
	return f.tracker.State(id)
}

// ImproveChunk asks the model to improve one chunk and stores the result
// unless it went stale or a manual edit landed meanwhile. It returns nil
// and no error when the result was dropped.
func (f *Facade) ImproveChunk(ctx context.Context, id int64) (*model.ImprovedChunk, error) {
	rec, _ := f.current()
	if rec == nil {
		return nil, session.ErrNoActiveMeeting
	}
	c, ok := rec.ChunkByID(id)
	if !ok {
		return nil, fmt.Errorf("chunk %d: %w", id, session.ErrNotFound)
	}
	if ov, ok := rec.EditedMergedChunks[id]; ok && ov.Manual() {
		return nil, fmt.Errorf("chunk %d: %w", id, ErrEditedByHand)
	}

	tk, err := f.tracker.Begin(id)
	if err != nil {
		return nil, err
	}
	f.publish()

	text, err := f.improver.Improve(ctx, ai.ImproveRequest{
		Kind:    ai.KindChunk,
		Text:    c.Text,
		Title:   rec.Title,
		Speaker: session.SpeakerName(rec, c.Speaker),
		Context: surrounding(rec, id),
	})
	if err != nil {
		if ferr := f.tracker.Fail(tk, err); errors.Is(ferr, improve.ErrStaleImprovement) {
			logging.WithMeeting(f.log, rec.ID).Debug("dropping failed stale improvement", "chunk", id, "seq", tk.Seq)
		}
		f.publish()
		return nil, fmt.Errorf("improve chunk %d: %w", id, err)
	}

	log := logging.WithMeeting(f.log, rec.ID)
	imp, err := f.tracker.Complete(tk, c.Text, text)
	if errors.Is(err, improve.ErrStaleImprovement) {
		log.Debug("dropping stale improvement", "chunk", id, "seq", tk.Seq)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var accepted bool
	err = f.mutate(ctx, func(ctx context.Context) error {
		var err error
		accepted, err = f.repo.ApplyImprovement(ctx, rec.ID, id, imp)
		return err
	})
	if errors.Is(err, improve.ErrStaleImprovement) || errors.Is(err, session.ErrMeetingArchived) {
		log.Debug("dropping improvement for a closed meeting", "chunk", id, "seq", tk.Seq)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !accepted {
		f.tracker.Supersede(id)
		log.Debug("manual edit kept over improvement", "chunk", id)
		return nil, nil
	}
	return &imp, nil
}

// surrounding renders the segments around chunk id as model context.
func surrounding(rec *model.SessionRecord, id int64) string {
	segs := session.Project(rec)
	i := sort.Search(len(segs), func(i int) bool { return segs[i].ChunkID >= id })
	lo, hi := max(0, i-contextWindow), min(len(segs), i+contextWindow+1)
	return strings.TrimSpace(session.Transcript(segs[lo:hi]))
}

// ImproveNote rewrites a note using the closest transcript chunk as context.
// On failure the note keeps its original text and the error is returned.
func (f *Facade) ImproveNote(ctx context.Context, noteID string) (model.Note, error) {
	rec, _ := f.current()
	if rec == nil {
		return model.Note{}, session.ErrNoActiveMeeting
	}
	i := rec.NoteIndex(noteID)
	if i < 0 {
		return model.Note{}, fmt.Errorf("note %s: %w", noteID, session.ErrNotFound)
	}
	note := rec.Notes[i]

	req := ai.ImproveRequest{Kind: ai.KindNote, Text: note.Text, Title: rec.Title}
	if c, ok := nearestChunk(rec, note.Timestamp); ok {
		req.Speaker = session.SpeakerName(rec, c.Speaker)
		req.Context = c.Text
		if ov, ok := rec.EditedMergedChunks[c.ID]; ok {
			req.Context = ov.Text
		}
	}

	text, err := f.improver.Improve(ctx, req)
	if err != nil {
		logging.WithMeeting(f.log, rec.ID).Warn("note improvement failed", "note", noteID, "err", err)
		return note, fmt.Errorf("improve note %s: %w", noteID, err)
	}
	if strings.TrimSpace(text) == "" {
		return note, nil
	}
	return f.EditNote(ctx, noteID, text)
}

func nearestChunk(rec *model.SessionRecord, at time.Time) (model.TranscriptionChunk, bool) {
	var (
		best  model.TranscriptionChunk
		found bool
		gap   time.Duration
	)
	for _, c := range rec.Chunks {
		d := c.Timestamp.Sub(at)
		if d < 0 {
			d = -d
		}
		if !found || d < gap {
			best, gap, found = c, d, true
		}
	}
	return best, found
}

// Analyze regenerates the analysis of record id, or of the live meeting
// when id is empty. With summaryOnly the other analysis fields are kept.
// A failed model call leaves the stored analysis untouched.
func (f *Facade) Analyze(ctx context.Context, id string, summaryOnly bool) (*model.MeetingAnalysis, error) {
	var rec *model.SessionRecord
	if id == "" {
		rec, _ = f.current()
		if rec == nil {
			return nil, session.ErrNoActiveMeeting
		}
	} else {
		stored, err := f.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		rec = stored
	}

	notes := make([]string, 0, len(rec.Notes))
	for _, n := range rec.Notes {
		notes = append(notes, n.Text)
	}
	a, err := f.analyzer.Analyze(ctx, ai.AnalyzeRequest{
		Title:       rec.Title,
		Transcript:  session.Transcript(session.Project(rec)),
		Notes:       notes,
		SummaryOnly: summaryOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", rec.ID, err)
	}

	patch := session.Patch{Analysis: session.FromAnalysis(a)}
	if summaryOnly {
		summary := append([]string{}, a.Summary...)
		patch.Analysis = &session.AnalysisPatch{Summary: &summary}
	}
	var updated *model.SessionRecord
	err = f.mutate(ctx, func(ctx context.Context) error {
		var err error
		updated, err = f.repo.UpdateRecord(ctx, rec.ID, patch)
		return err
	})
	if err != nil {
		return nil, err
	}
	if updated == nil || updated.Analysis == nil {
		return nil, fmt.Errorf("meeting %s: %w", rec.ID, session.ErrNotFound)
	}
	out := updated.Analysis.Clone()
	return &out, nil
}

// Ingest feeds chunks from src into the live meeting until the meeting is
// ended, ctx is done or the stream pauses. A paused stream returns
// transcribe.ErrPaused; the meeting stays live and Ingest can be called
// again with a new source.
func (f *Facade) Ingest(ctx context.Context, src transcribe.Source) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	f.mu.Lock()
	f.stopIngest = cancel
	f.mu.Unlock()

	for {
		c, err := src.Next(ctx)
		if err != nil {
			if errors.Is(context.Cause(ctx), session.ErrMeetingArchived) {
				return nil
			}
			return err
		}
		err = f.OnNewChunk(ctx, c)
		switch {
		case err == nil:
		case errors.Is(err, session.ErrMeetingArchived):
			f.log.Info("meeting ended, ingestion stopped")
			return nil
		case errors.Is(err, session.ErrDuplicateChunk):
			f.log.Warn("rejected chunk", "err", err)
		case errors.Is(err, session.ErrStorageWrite):
			// Held as unsaved changes and written with the next chunk.
		default:
			return err
		}
	}
}

// EndMeeting archives the live meeting, unsaved changes included, and stops
// ingestion into it.
func (f *Facade) EndMeeting(ctx context.Context) (*model.SessionRecord, error) {
	rec, err := f.repo.Archive(ctx)
	if err != nil {
		f.remember(err)
		f.publish()
		return nil, err
	}
	f.tracker.Reset()
	f.stopIngesting()
	f.publish()
	return rec, nil
}

// StartNext begins a new live meeting after the previous one ended.
func (f *Facade) StartNext(ctx context.Context) (View, error) {
	if _, err := f.repo.EnsureActive(ctx); err != nil {
		return f.View(), err
	}
	f.tracker.Reset()
	f.publish()
	return f.View(), nil
}

// Clear discards the live meeting and starts an empty one.
func (f *Facade) Clear(ctx context.Context) error {
	f.mu.Lock()
	f.warning = ""
	f.mu.Unlock()
	if _, err := f.repo.Clear(ctx); err != nil {
		f.remember(err)
		return err
	}
	f.tracker.Reset()
	f.publish()
	return nil
}
