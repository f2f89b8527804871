// Package transcribe reads raw transcription chunks from a live NDJSON
// stream. The end of a stream pauses ingestion; it does not end the meeting.
package transcribe

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rcliao/live-meeting/internal/model"
)

// ErrPaused is returned by Next once the stream has ended or dropped.
// Reconnect and keep ingesting into the same meeting.
var ErrPaused = errors.New("transcription stream paused")

// Source yields raw chunks in arrival order.
type Source interface {
	Next(ctx context.Context) (model.TranscriptionChunk, error)
	Close() error
}

// Speaker accepts a bare label, a number or an object with an id.
type Speaker string

func (s *Speaker) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = Speaker(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err == nil {
		*s = Speaker("speaker_" + num.String())
		return nil
	}
	var obj struct {
		ID   json.RawMessage `json:"id"`
		Name string          `json:"name"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("speaker: %w", err)
	}
	switch {
	case obj.Name != "":
		*s = Speaker(obj.Name)
		return nil
	case len(obj.ID) == 0:
		*s = ""
		return nil
	}
	return s.UnmarshalJSON(obj.ID)
}

// Event is one line of the stream.
type Event struct {
	ID            *int64    `json:"id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Transcription string    `json:"transcription"`
	Text          string    `json:"text"`
	Speaker       Speaker   `json:"speaker"`
	DeviceName    string    `json:"deviceName"`
	Device        string    `json:"device"`
	DeviceType    string    `json:"deviceType"`
	IsInput       *bool     `json:"isInput"`
	Error         string    `json:"error"`
}

// Chunk converts e into a chunk, without assigning an id.
func (e Event) Chunk() model.TranscriptionChunk {
	text := e.Transcription
	if text == "" {
		text = e.Text
	}
	device := e.DeviceName
	if device == "" {
		device = e.Device
	}
	isInput := strings.EqualFold(e.DeviceType, "input")
	if e.IsInput != nil {
		isInput = *e.IsInput
	}
	return model.TranscriptionChunk{
		Timestamp:  e.Timestamp.UTC(),
		Text:       strings.TrimSpace(text),
		Speaker:    string(e.Speaker),
		DeviceName: device,
		IsInput:    isInput,
	}
}

type result struct {
	chunk model.TranscriptionChunk
	err   error
}

// Stream is a Source over newline-delimited JSON events.
type Stream struct {
	rc   io.ReadCloser
	out  chan result
	log  *slog.Logger
	now  func() time.Time
	once sync.Once

	mu     sync.Mutex
	lastID int64
	done   bool
}

// StreamOptions configures a Stream.
type StreamOptions struct {
	// LastID is the newest chunk id already stored; events without an id
	// are numbered after it.
	LastID int64
	Logger *slog.Logger
	Now    func() time.Time
}

// NewStream starts reading events from rc.
func NewStream(rc io.ReadCloser, opts StreamOptions) *Stream {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Stream{
		rc:     rc,
		out:    make(chan result),
		log:    log.With("component", "transcribe"),
		now:    now,
		lastID: opts.LastID,
	}
	go s.read()
	return s
}

// Dial connects to a stream server. network is "tcp" or "unix".
func Dial(ctx context.Context, network, addr string, opts StreamOptions) (*Stream, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("connect to transcription source: %w", err)
	}
	return NewStream(conn, opts), nil
}

func (s *Stream) read() {
	defer close(s.out)
	scanner := bufio.NewScanner(s.rc)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB buffer

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			s.log.Warn("skipping malformed event", "err", err)
			continue
		}
		if ev.Error != "" {
			s.log.Warn("source reported error", "err", ev.Error)
			continue
		}
		c, ok := s.assign(ev)
		if !ok {
			continue
		}
		s.out <- result{chunk: c}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Info("transcription stream dropped", "err", err)
		s.out <- result{err: fmt.Errorf("%w: %v", ErrPaused, err)}
	}
}

func (s *Stream) assign(ev Event) (model.TranscriptionChunk, bool) {
	c := ev.Chunk()
	if c.Text == "" {
		return c, false
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return c, false
	}
	if ev.ID != nil {
		if *ev.ID <= s.lastID {
			s.log.Debug("skipping replayed chunk", "id", *ev.ID, "last_id", s.lastID)
			return c, false
		}
		c.ID = *ev.ID
	} else {
		c.ID = s.lastID + 1
	}
	s.lastID = c.ID
	return c, true
}

// Next blocks until a chunk arrives, the stream ends or ctx is done.
func (s *Stream) Next(ctx context.Context) (model.TranscriptionChunk, error) {
	select {
	case <-ctx.Done():
		return model.TranscriptionChunk{}, ctx.Err()
	case r, ok := <-s.out:
		if !ok {
			return model.TranscriptionChunk{}, ErrPaused
		}
		return r.chunk, r.err
	}
}

// LastID returns the id of the newest chunk handed out.
func (s *Stream) LastID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastID
}

// Close stops reading and releases the connection.
func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.done = true
		s.mu.Unlock()
		err = s.rc.Close()
		// Unblock the reader if it is waiting to deliver.
		go func() {
			for range s.out {
			}
		}()
	})
	return err
}
