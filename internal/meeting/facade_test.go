package meeting

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rcliao/live-meeting/internal/ai"
	"github.com/rcliao/live-meeting/internal/improve"
	"github.com/rcliao/live-meeting/internal/kv"
	"github.com/rcliao/live-meeting/internal/model"
	"github.com/rcliao/live-meeting/internal/session"
	"github.com/rcliao/live-meeting/internal/transcribe"
)

var t0 = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func clock() func() time.Time {
	var mu sync.Mutex
	t := t0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

// stubImprover returns Text or Err. When gate is set it waits for a value
// before answering, so tests can interleave edits with a request in flight.
type stubImprover struct {
	text    string
	err     error
	gate    chan struct{}
	started chan struct{}
	last    ai.ImproveRequest
	mu      sync.Mutex
}

func (s *stubImprover) Improve(ctx context.Context, req ai.ImproveRequest) (string, error) {
	s.mu.Lock()
	s.last = req
	s.mu.Unlock()
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.text, s.err
}

type stubAnalyzer struct {
	out model.MeetingAnalysis
	err error
	req ai.AnalyzeRequest
}

func (s *stubAnalyzer) Analyze(_ context.Context, req ai.AnalyzeRequest) (model.MeetingAnalysis, error) {
	s.req = req
	return s.out, s.err
}

type failingStore struct {
	kv.Store
	fail atomic.Bool
}

func (s *failingStore) Set(ctx context.Context, key string, value []byte) error {
	if s.fail.Load() {
		return errors.New("quota exceeded")
	}
	return s.Store.Set(ctx, key, value)
}

// chanSource is a transcribe.Source fed by the test.
type chanSource struct {
	ch chan model.TranscriptionChunk
}

func (s *chanSource) Next(ctx context.Context) (model.TranscriptionChunk, error) {
	select {
	case <-ctx.Done():
		return model.TranscriptionChunk{}, ctx.Err()
	case c, ok := <-s.ch:
		if !ok {
			return model.TranscriptionChunk{}, transcribe.ErrPaused
		}
		return c, nil
	}
}

func (s *chanSource) Close() error { return nil }

func newTestFacade(t *testing.T, store kv.Store, opts Options) *Facade {
	t.Helper()
	repo := session.NewRepository(store, session.Options{Now: clock()})
	f := New(repo, opts)
	if _, err := f.ReloadData(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	return f
}

func chunk(id int64, text string) model.TranscriptionChunk {
	return model.TranscriptionChunk{
		ID:         id,
		Timestamp:  t0.Add(time.Duration(id) * time.Second),
		Text:       text,
		Speaker:    "speaker_1",
		DeviceName: "mic",
		IsInput:    true,
	}
}

func segmentText(t *testing.T, v View, id int64) string {
	t.Helper()
	for _, s := range v.Segments {
		if s.ChunkID == id {
			return s.Text
		}
	}
	t.Fatalf("no segment for chunk %d", id)
	return ""
}

func TestImproveChunk(t *testing.T) {
	ctx := context.Background()
	imp := &stubImprover{text: "Ship it on Friday."}
	f := newTestFacade(t, kv.NewMemoryStore(), Options{Improver: imp})
	for i, text := range []string{"so", "ship friday", "ok"} {
		if err := f.OnNewChunk(ctx, chunk(int64(i+1), text)); err != nil {
			t.Fatal(err)
		}
	}

	res, err := f.ImproveChunk(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || res.Text != "Ship it on Friday." || res.Source != model.SourceAI || len(res.Diff) == 0 {
		t.Fatalf("result = %+v", res)
	}
	if got := segmentText(t, f.View(), 2); got != "Ship it on Friday." {
		t.Errorf("displayed %q", got)
	}
	if f.ImprovementState(2) != improve.Improved {
		t.Errorf("state = %s", f.ImprovementState(2))
	}
	if imp.last.Kind != ai.KindChunk || imp.last.Context == "" || imp.last.Speaker != "speaker_1" {
		t.Errorf("request = %+v", imp.last)
	}
}

func TestEditDuringImprovementKeepsEdit(t *testing.T) {
	ctx := context.Background()
	imp := &stubImprover{text: "AI version", gate: make(chan struct{}), started: make(chan struct{}, 1)}
	f := newTestFacade(t, kv.NewMemoryStore(), Options{Improver: imp})
	if err := f.OnNewChunk(ctx, chunk(5, "raw words")); err != nil {
		t.Fatal(err)
	}

	type result struct {
		res *model.ImprovedChunk
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := f.ImproveChunk(ctx, 5)
		done <- result{res, err}
	}()

	<-imp.started
	if _, err := f.EditChunk(ctx, 5, "my words"); err != nil {
		t.Fatal(err)
	}
	close(imp.gate)

	r := <-done
	if r.err != nil || r.res != nil {
		t.Fatalf("stale improvement returned %+v, %v", r.res, r.err)
	}
	if got := segmentText(t, f.View(), 5); got != "my words" {
		t.Errorf("displayed %q, want the manual edit", got)
	}
	if f.ImprovementState(5) != improve.Untouched {
		t.Errorf("state = %s", f.ImprovementState(5))
	}
}

func TestImproveChunkRejectsConcurrentRequest(t *testing.T) {
	ctx := context.Background()
	imp := &stubImprover{text: "x", gate: make(chan struct{}), started: make(chan struct{}, 1)}
	f := newTestFacade(t, kv.NewMemoryStore(), Options{Improver: imp})
	f.OnNewChunk(ctx, chunk(1, "a"))

	done := make(chan error, 1)
	go func() {
		_, err := f.ImproveChunk(ctx, 1)
		done <- err
	}()
	<-imp.started
	if _, err := f.ImproveChunk(ctx, 1); !errors.Is(err, improve.ErrAlreadyInProgress) {
		t.Errorf("expected ErrAlreadyInProgress, got %v", err)
	}
	close(imp.gate)
	if err := <-done; err != nil {
		t.Errorf("first request: %v", err)
	}
}

func TestImproveChunkFailureKeepsOriginal(t *testing.T) {
	ctx := context.Background()
	f := newTestFacade(t, kv.NewMemoryStore(), Options{Improver: &stubImprover{err: errors.New("timeout")}})
	f.OnNewChunk(ctx, chunk(1, "original"))

	if _, err := f.ImproveChunk(ctx, 1); err == nil {
		t.Fatal("expected error")
	}
	if got := segmentText(t, f.View(), 1); got != "original" {
		t.Errorf("displayed %q", got)
	}
	if f.ImprovementState(1) != improve.Failed {
		t.Errorf("state = %s", f.ImprovementState(1))
	}
}

func TestImproveChunkAfterManualEdit(t *testing.T) {
	ctx := context.Background()
	f := newTestFacade(t, kv.NewMemoryStore(), Options{Improver: &stubImprover{text: "x"}})
	f.OnNewChunk(ctx, chunk(1, "a"))
	f.EditChunk(ctx, 1, "b")
	if _, err := f.ImproveChunk(ctx, 1); !errors.Is(err, ErrEditedByHand) {
		t.Errorf("expected ErrEditedByHand, got %v", err)
	}
}

func TestImproveNote(t *testing.T) {
	ctx := context.Background()
	imp := &stubImprover{text: "ship on friday"}
	f := newTestFacade(t, kv.NewMemoryStore(), Options{Improver: imp})
	f.OnNewChunk(ctx, chunk(1, "we ship friday"))
	n, err := f.AddNote(ctx, "ship fri", "mic", true)
	if err != nil {
		t.Fatal(err)
	}

	got, err := f.ImproveNote(ctx, n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "ship on friday" || got.EditedAt == nil {
		t.Errorf("note = %+v", got)
	}
	if imp.last.Kind != ai.KindNote || imp.last.Context != "we ship friday" {
		t.Errorf("request = %+v", imp.last)
	}

	imp.err = errors.New("offline")
	got, err = f.ImproveNote(ctx, n.ID)
	if err == nil {
		t.Fatal("expected error")
	}
	if got.Text != "ship on friday" {
		t.Errorf("failed improvement changed the note: %q", got.Text)
	}
}

func TestAnalyzeSummaryOnly(t *testing.T) {
	ctx := context.Background()
	an := &stubAnalyzer{out: model.MeetingAnalysis{
		Facts:     []string{"f"},
		Events:    []string{"e"},
		Flow:      []string{"fl"},
		Decisions: []string{"d"},
		Summary:   []string{"first"},
	}}
	f := newTestFacade(t, kv.NewMemoryStore(), Options{Analyzer: an})
	f.OnNewChunk(ctx, chunk(1, "hello"))
	f.SetTitle(ctx, "sync")

	if _, err := f.Analyze(ctx, "", false); err != nil {
		t.Fatal(err)
	}
	if an.req.Title != "sync" || an.req.Transcript == "" {
		t.Errorf("request = %+v", an.req)
	}

	an.out = model.MeetingAnalysis{Summary: []string{"second"}}
	a, err := f.Analyze(ctx, "", true)
	if err != nil {
		t.Fatal(err)
	}
	if a.Facts[0] != "f" || a.Decisions[0] != "d" || a.Summary[0] != "second" {
		t.Errorf("analysis = %+v", a)
	}

	an.err = errors.New("model down")
	if _, err := f.Analyze(ctx, "", false); err == nil {
		t.Fatal("expected error")
	}
	if v := f.View(); v.Analysis == nil || v.Analysis.Summary[0] != "second" {
		t.Errorf("failed analysis changed the record: %+v", v.Analysis)
	}
}

func TestAnalyzeArchivedRecord(t *testing.T) {
	ctx := context.Background()
	an := &stubAnalyzer{out: model.MeetingAnalysis{Summary: []string{"s"}}}
	f := newTestFacade(t, kv.NewMemoryStore(), Options{Analyzer: an})
	f.OnNewChunk(ctx, chunk(1, "hello"))
	rec, err := f.EndMeeting(ctx)
	if err != nil {
		t.Fatal(err)
	}
	a, err := f.Analyze(ctx, rec.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if a.Summary[0] != "s" {
		t.Errorf("analysis = %+v", a)
	}
	stored, _ := f.Repository().Get(ctx, rec.ID)
	if !stored.IsArchived || stored.Analysis == nil {
		t.Errorf("stored = %+v", stored)
	}
}

func TestFailedWriteKeepsEditVisible(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: kv.NewMemoryStore()}
	f := newTestFacade(t, store, Options{})

	store.fail.Store(true)
	err := f.SetTitle(ctx, "unsaved")
	if !errors.Is(err, session.ErrStorageWrite) {
		t.Fatalf("expected ErrStorageWrite, got %v", err)
	}
	v := f.View()
	if v.Title != "unsaved" || !v.Dirty || v.Warning == "" {
		t.Errorf("view = %+v", v)
	}

	if err := f.Retry(ctx); err == nil {
		t.Error("retry should fail while the store rejects writes")
	}

	store.fail.Store(false)
	if _, err := f.AddNote(ctx, "after", "mic", true); err != nil {
		t.Fatal(err)
	}
	v = f.View()
	if v.Title != "unsaved" || v.Dirty || len(v.Notes) != 1 {
		t.Errorf("view after recovery = %+v", v)
	}
	rec, _ := f.Repository().Active()
	if rec.Title != "unsaved" {
		t.Errorf("stored title = %q", rec.Title)
	}
}

func TestIngestStopsWhenMeetingEnds(t *testing.T) {
	ctx := context.Background()
	f := newTestFacade(t, kv.NewMemoryStore(), Options{})
	src := &chanSource{ch: make(chan model.TranscriptionChunk)}

	done := make(chan error, 1)
	go func() { done <- f.Ingest(ctx, src) }()

	src.ch <- chunk(1, "one")
	src.ch <- chunk(1, "duplicate")
	src.ch <- chunk(2, "two")

	// The send above returns once Next has the chunk; wait until it is stored.
	deadline := time.After(5 * time.Second)
	for len(f.View().Segments) < 2 {
		select {
		case <-deadline:
			t.Fatal("chunks not ingested")
		case <-time.After(5 * time.Millisecond):
		}
	}

	rec, err := f.EndMeeting(ctx)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ingest returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ingest did not stop after the meeting ended")
	}
	if len(rec.Chunks) != 2 || !rec.IsArchived {
		t.Errorf("archived record = %d chunks, archived=%v", len(rec.Chunks), rec.IsArchived)
	}
}

func TestIngestPausesWhenStreamEnds(t *testing.T) {
	ctx := context.Background()
	f := newTestFacade(t, kv.NewMemoryStore(), Options{})
	src := &chanSource{ch: make(chan model.TranscriptionChunk, 1)}
	src.ch <- chunk(1, "one")
	close(src.ch)

	if err := f.Ingest(ctx, src); !errors.Is(err, transcribe.ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	if _, ok := f.Repository().Active(); !ok {
		t.Error("meeting ended when the stream paused")
	}
}

func TestEndMeetingThenStartNext(t *testing.T) {
	ctx := context.Background()
	f := newTestFacade(t, kv.NewMemoryStore(), Options{})
	first := f.View().ID
	if _, err := f.EndMeeting(ctx); err != nil {
		t.Fatal(err)
	}
	if err := f.OnNewChunk(ctx, chunk(1, "late")); !errors.Is(err, session.ErrMeetingArchived) {
		t.Errorf("expected ErrMeetingArchived, got %v", err)
	}
	v, err := f.StartNext(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v.ID == "" || v.ID == first {
		t.Errorf("next meeting id = %q", v.ID)
	}
}

func TestOnChangeReceivesViews(t *testing.T) {
	ctx := context.Background()
	f := newTestFacade(t, kv.NewMemoryStore(), Options{})
	var titles []string
	f.OnChange(func(v View) { titles = append(titles, v.Title) })
	f.SetTitle(ctx, "a")
	f.SetTitle(ctx, "b")
	if len(titles) != 2 || titles[1] != "b" {
		t.Errorf("titles = %v", titles)
	}
}

func TestClearResetsMeeting(t *testing.T) {
	ctx := context.Background()
	f := newTestFacade(t, kv.NewMemoryStore(), Options{})
	f.OnNewChunk(ctx, chunk(1, "x"))
	if err := f.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if v := f.View(); len(v.Segments) != 0 {
		t.Errorf("segments after clear = %d", len(v.Segments))
	}
}

func TestWatchReloadsExternalWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dbPath := filepath.Join(t.TempDir(), "meetings.db")

	open := func() *session.Repository {
		store, err := kv.NewSQLiteStore(dbPath)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { store.Close() })
		return session.NewRepository(store, session.Options{Now: clock()})
	}
	f := New(open(), Options{})
	if _, err := f.ReloadData(ctx); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan string, 16)
	f.OnChange(func(v View) {
		select {
		case reloaded <- v.Title:
		default:
		}
	})
	go f.Watch(ctx, dbPath, 20*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	other := open()
	if _, err := other.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := other.SetTitle(ctx, "from another process"); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case title := <-reloaded:
			if title == "from another process" {
				return
			}
		case <-deadline:
			t.Fatal("facade did not reload after an external write")
		}
	}
}

func TestWritesDuringOutageAreAllStored(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: kv.NewMemoryStore()}
	f := newTestFacade(t, store, Options{})

	store.fail.Store(true)
	for i := int64(1); i <= 3; i++ {
		if err := f.OnNewChunk(ctx, chunk(i, "words")); !errors.Is(err, session.ErrStorageWrite) {
			t.Fatalf("chunk %d: expected ErrStorageWrite, got %v", i, err)
		}
	}
	if err := f.SetTitle(ctx, "standup"); !errors.Is(err, session.ErrStorageWrite) {
		t.Fatalf("expected ErrStorageWrite, got %v", err)
	}
	v := f.View()
	if len(v.Segments) != 3 || v.Title != "standup" || !v.Dirty || v.Warning == "" {
		t.Fatalf("view during outage = %d segments, title %q, dirty=%v", len(v.Segments), v.Title, v.Dirty)
	}
	if got := f.LastChunkID(); got != 3 {
		t.Errorf("last chunk id = %d, want 3", got)
	}

	store.fail.Store(false)
	if err := f.Retry(ctx); err != nil {
		t.Fatal(err)
	}
	v = f.View()
	if v.Dirty || v.Warning != "" {
		t.Errorf("view after retry = dirty=%v warning=%q", v.Dirty, v.Warning)
	}
	stored, err := f.Repository().Get(ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Chunks) != 3 || stored.Title != "standup" {
		t.Errorf("stored %d chunks, title %q", len(stored.Chunks), stored.Title)
	}
}

// replyImprover hands each request to the test, which answers it through
// the call's reply channel.
type replyImprover struct {
	calls chan improveCall
}

type improveCall struct {
	req   ai.ImproveRequest
	reply chan string
}

func (s *replyImprover) Improve(ctx context.Context, req ai.ImproveRequest) (string, error) {
	c := improveCall{req: req, reply: make(chan string, 1)}
	select {
	case s.calls <- c:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case text := <-c.reply:
		return text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestLateImprovementFromEndedMeetingDropped(t *testing.T) {
	ctx := context.Background()
	imp := &replyImprover{calls: make(chan improveCall)}
	f := newTestFacade(t, kv.NewMemoryStore(), Options{Improver: imp})
	if err := f.OnNewChunk(ctx, chunk(1, "a one")); err != nil {
		t.Fatal(err)
	}

	type result struct {
		res *model.ImprovedChunk
		err error
	}
	oldDone := make(chan result, 1)
	go func() {
		res, err := f.ImproveChunk(ctx, 1)
		oldDone <- result{res, err}
	}()
	oldCall := <-imp.calls

	if _, err := f.EndMeeting(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := f.StartNext(ctx); err != nil {
		t.Fatal(err)
	}
	if err := f.OnNewChunk(ctx, chunk(1, "b one")); err != nil {
		t.Fatal(err)
	}
	newDone := make(chan result, 1)
	go func() {
		res, err := f.ImproveChunk(ctx, 1)
		newDone <- result{res, err}
	}()
	newCall := <-imp.calls

	oldCall.reply <- "rewrite of a one"
	if r := <-oldDone; r.err != nil || r.res != nil {
		t.Fatalf("late response returned %+v, %v", r.res, r.err)
	}
	if got := segmentText(t, f.View(), 1); got != "b one" {
		t.Errorf("displayed %q after the late response", got)
	}

	newCall.reply <- "rewrite of " + newCall.req.Text
	if r := <-newDone; r.err != nil || r.res == nil {
		t.Fatalf("current response returned %+v, %v", r.res, r.err)
	}
	if got := segmentText(t, f.View(), 1); got != "rewrite of b one" {
		t.Errorf("displayed %q", got)
	}
}

func TestViewShowsImprovementState(t *testing.T) {
	ctx := context.Background()
	f := newTestFacade(t, kv.NewMemoryStore(), Options{Improver: &stubImprover{err: errors.New("timeout")}})
	f.OnNewChunk(ctx, chunk(1, "one"))
	f.OnNewChunk(ctx, chunk(2, "two"))
	if _, err := f.ImproveChunk(ctx, 1); err == nil {
		t.Fatal("expected error")
	}

	v := f.View()
	if s := v.Segments[0]; s.Improvement != "failed" || s.ImprovementError == "" {
		t.Errorf("segment 1 = %+v", s)
	}
	if s := v.Segments[1]; s.Improvement != "" || s.ImprovementError != "" {
		t.Errorf("segment 2 = %+v", s)
	}
}

func TestExternalArchiveStopsIngest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dbPath := filepath.Join(t.TempDir(), "meetings.db")

	open := func() (*session.Repository, *kv.SQLiteStore) {
		store, err := kv.NewSQLiteStore(dbPath)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { store.Close() })
		return session.NewRepository(store, session.Options{Now: clock()}), store
	}
	repo, _ := open()
	f := New(repo, Options{})
	if _, err := f.ReloadData(ctx); err != nil {
		t.Fatal(err)
	}
	first := f.View().ID

	src := &chanSource{ch: make(chan model.TranscriptionChunk)}
	done := make(chan error, 1)
	go func() { done <- f.Ingest(ctx, src) }()
	src.ch <- chunk(1, "one")

	go f.Watch(ctx, dbPath, 20*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	other, otherStore := open()
	if _, err := other.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := other.Archive(ctx); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ingest returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ingest kept running after the meeting was archived elsewhere")
	}
	if v := f.View(); v.ID != "" {
		t.Errorf("view still shows meeting %q", v.ID)
	}
	if err := f.OnNewChunk(ctx, chunk(2, "two")); !errors.Is(err, session.ErrMeetingArchived) {
		t.Errorf("expected ErrMeetingArchived, got %v", err)
	}

	recs, err := session.NewRepository(otherStore, session.Options{}).ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].ID != first || !recs[0].IsArchived {
		t.Errorf("stored records = %d, want only the archived %s", len(recs), first)
	}
}
