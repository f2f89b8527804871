// Package history groups raw transcription chunks into past meetings.
package history

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rcliao/live-meeting/internal/merge"
	"github.com/rcliao/live-meeting/internal/model"
)

// DefaultMinChars drops groups too short to be a meeting.
const DefaultMinChars = 200

// Options controls grouping.
type Options struct {
	// GapThreshold starts a new meeting when consecutive chunks are at least
	// this far apart. It is the same threshold the merge policy uses.
	GapThreshold time.Duration
	MinChars     int
	Speakers     map[string]string // raw label -> display name
}

// DefaultOptions mirrors the merge defaults.
func DefaultOptions() Options {
	return Options{GapThreshold: merge.DefaultGapThreshold, MinChars: DefaultMinChars}
}

// Segment is one line of a grouped meeting.
type Segment struct {
	Timestamp  time.Time `json:"timestamp"`
	Text       string    `json:"transcription"`
	DeviceName string    `json:"deviceName"`
	IsInput    bool      `json:"isInput"`
	Speaker    string    `json:"speaker"`
}

// Meeting is a run of chunks without a long pause.
type Meeting struct {
	Group         int       `json:"group"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Transcription string    `json:"transcription"`
	DeviceNames   []string  `json:"deviceNames"`
	Segments      []Segment `json:"segments"`
}

// Duration is the time between the first and last chunk.
func (m Meeting) Duration() time.Duration {
	return m.End.Sub(m.Start)
}

// Group sorts chunks by time, splits them wherever the gap reaches the
// threshold and returns meetings newest first. Meetings whose transcription
// is shorter than MinChars, ignoring newlines, are dropped.
func Group(chunks []model.TranscriptionChunk, opts Options) []Meeting {
	if opts.GapThreshold <= 0 {
		opts.GapThreshold = merge.DefaultGapThreshold
	}
	sorted := append([]model.TranscriptionChunk(nil), chunks...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var (
		meetings []Meeting
		cur      *Meeting
		b        strings.Builder
		devices  map[string]bool
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.Transcription = b.String()
		cur.DeviceNames = setToSlice(devices)
		meetings = append(meetings, *cur)
	}

	for i, c := range sorted {
		if cur == nil || c.Timestamp.Sub(sorted[i-1].Timestamp) >= opts.GapThreshold {
			flush()
			cur = &Meeting{Group: len(meetings) + 1, Start: c.Timestamp}
			b.Reset()
			devices = map[string]bool{}
		}
		speaker := speakerLabel(c, opts.Speakers)
		cur.End = c.Timestamp
		cur.Segments = append(cur.Segments, Segment{
			Timestamp:  c.Timestamp,
			Text:       c.Text,
			DeviceName: c.DeviceName,
			IsInput:    c.IsInput,
			Speaker:    speaker,
		})
		if c.DeviceName != "" {
			devices[c.DeviceName] = true
		}
		fmt.Fprintf(&b, "%s [%s] %s\n", c.Timestamp.Format("15:04:05"), speaker, c.Text)
	}
	flush()

	sort.SliceStable(meetings, func(i, j int) bool {
		return meetings[i].Start.After(meetings[j].Start)
	})

	out := meetings[:0]
	for _, m := range meetings {
		if len(strings.ReplaceAll(m.Transcription, "\n", "")) >= opts.MinChars {
			out = append(out, m)
		}
	}
	return out
}

func speakerLabel(c model.TranscriptionChunk, names map[string]string) string {
	if name := names[c.Speaker]; c.Speaker != "" && name != "" {
		return name
	}
	if c.IsInput {
		return "you"
	}
	return "others"
}

func setToSlice(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Collect gathers the raw chunks of records, keeping each record's speaker
// names, for grouping across meetings.
func Collect(recs []*model.SessionRecord) ([]model.TranscriptionChunk, map[string]string) {
	var chunks []model.TranscriptionChunk
	names := map[string]string{}
	for _, rec := range recs {
		chunks = append(chunks, rec.Chunks...)
		for raw, name := range rec.SpeakerMappings {
			names[raw] = name
		}
	}
	return chunks, names
}
