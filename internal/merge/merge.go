// Package merge folds raw transcription chunks into display segments and
// decides how concurrent edits to the same segment combine.
package merge

import (
	"strings"
	"time"

	"github.com/rcliao/live-meeting/internal/model"
)

// DefaultGapThreshold separates segments and meetings.
const DefaultGapThreshold = 5 * time.Minute

// Options configures merging behavior.
type Options struct {
	// GapThreshold is the smallest pause that opens a new segment.
	GapThreshold time.Duration
}

// DefaultOptions returns default merge options.
func DefaultOptions() Options {
	return Options{GapThreshold: DefaultGapThreshold}
}

// Reconcile folds every chunk in raw with an id above lastProcessed into
// merged and returns the new segments plus the new high-water mark.
//
// It never mutates its inputs, and feeding chunks one at a time yields the
// same segments as feeding them in one batch. Chunks at or below the mark
// are skipped, so replaying the full chunk log after a reload is a no-op.
func Reconcile(merged, raw []model.TranscriptionChunk, lastProcessed int64, opts Options) ([]model.TranscriptionChunk, int64) {
	if opts.GapThreshold <= 0 {
		opts = DefaultOptions()
	}

	out := make([]model.TranscriptionChunk, len(merged), len(merged)+len(raw))
	copy(out, merged)

	mark := lastProcessed
	for _, c := range raw {
		if c.ID <= mark {
			continue
		}
		mark = c.ID

		if n := len(out); n > 0 && continues(out[n-1], c, opts) {
			out[n-1] = extend(out[n-1], c)
			continue
		}
		out = append(out, open(c))
	}
	return out, mark
}

// continues reports whether c extends seg: same device and speaker, and a
// pause shorter than the threshold since the segment's last chunk.
func continues(seg, c model.TranscriptionChunk, opts Options) bool {
	if seg.DeviceName != c.DeviceName || seg.Speaker != c.Speaker {
		return false
	}
	return c.Timestamp.Sub(seg.End()) < opts.GapThreshold
}

func open(c model.TranscriptionChunk) model.TranscriptionChunk {
	seg := c
	seg.Text = strings.TrimSpace(c.Text)
	end := c.Timestamp
	seg.EndTimestamp = &end
	seg.LastChunkID = c.ID
	return seg
}

func extend(seg, c model.TranscriptionChunk) model.TranscriptionChunk {
	text := strings.TrimSpace(c.Text)
	switch {
	case seg.Text == "":
		seg.Text = text
	case text != "":
		seg.Text = seg.Text + " " + text
	}
	end := c.Timestamp
	if end.Before(seg.End()) {
		end = seg.End()
	}
	seg.EndTimestamp = &end
	seg.LastChunkID = c.ID
	return seg
}

// Combine decides which override a chunk displays when incoming arrives
// while current may already be set. Human authorship dominates: an AI result
// never replaces a manual edit, whatever the timestamps say. It returns the
// override to store and whether incoming was accepted.
func Combine(current *model.ImprovedChunk, incoming model.ImprovedChunk) (model.ImprovedChunk, bool) {
	if current == nil {
		return incoming, true
	}
	if current.Manual() && !incoming.Manual() {
		return *current, false
	}
	return incoming, true
}
