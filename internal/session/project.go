package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/live-meeting/internal/model"
)

// DefaultSpeaker labels chunks without speaker attribution.
const DefaultSpeaker = "speaker_0"

// Segment is one display row derived from a raw chunk.
type Segment struct {
	ChunkID    int64     `json:"chunkId"`
	Timestamp  time.Time `json:"timestamp"`
	Text       string    `json:"transcription"`
	DeviceName string    `json:"deviceName"`
	Speaker    string    `json:"speaker"`
	Edited     bool      `json:"edited,omitempty"`
	Source     string    `json:"source,omitempty"`

	// Set by the live view from the improvement tracker.
	Improvement      string `json:"improvement,omitempty"`
	ImprovementError string `json:"improvementError,omitempty"`
}

// Project derives display segments from rec, one per raw chunk. An entry in
// EditedMergedChunks always wins over the raw text.
func Project(rec *model.SessionRecord) []Segment {
	if rec == nil {
		return nil
	}
	segs := make([]Segment, 0, len(rec.Chunks))
	for _, c := range rec.Chunks {
		s := Segment{
			ChunkID:    c.ID,
			Timestamp:  c.Timestamp,
			Text:       c.Text,
			DeviceName: c.DeviceName,
			Speaker:    SpeakerName(rec, c.Speaker),
		}
		if ov, ok := rec.EditedMergedChunks[c.ID]; ok {
			s.Text = ov.Text
			s.Edited = true
			s.Source = ov.Source
		}
		segs = append(segs, s)
	}
	return segs
}

// SpeakerName resolves the display name of a raw speaker label.
func SpeakerName(rec *model.SessionRecord, raw string) string {
	if raw == "" {
		raw = DefaultSpeaker
	}
	if name, ok := rec.SpeakerMappings[raw]; ok && name != "" {
		return name
	}
	return raw
}

// Transcript renders segments as "[15:04:05] speaker: text" lines.
func Transcript(segs []Segment) string {
	var b strings.Builder
	for _, s := range segs {
		fmt.Fprintf(&b, "[%s] %s: %s\n", s.Timestamp.Format("15:04:05"), s.Speaker, strings.TrimSpace(s.Text))
	}
	return b.String()
}
