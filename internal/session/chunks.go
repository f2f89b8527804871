package session

import "github.com/rcliao/live-meeting/internal/model"

// ChunkLog is the append-only log of raw chunks for one meeting.
// Ids must strictly increase; stored chunks are never changed or removed.
type ChunkLog struct {
	chunks []model.TranscriptionChunk
}

// NewChunkLog wraps an existing chunk sequence.
func NewChunkLog(existing []model.TranscriptionChunk) *ChunkLog {
	return &ChunkLog{chunks: append([]model.TranscriptionChunk(nil), existing...)}
}

// Append adds c to the end of the log. Ids start at 0.
func (l *ChunkLog) Append(c model.TranscriptionChunk) error {
	if last := l.LastID(); c.ID <= last {
		return &DuplicateChunkError{ID: c.ID, LastID: last}
	}
	c.EndTimestamp = nil
	c.LastChunkID = 0
	l.chunks = append(l.chunks, c)
	return nil
}

// All returns a copy of the log in append order.
func (l *ChunkLog) All() []model.TranscriptionChunk {
	return append([]model.TranscriptionChunk{}, l.chunks...)
}

// LastID returns the newest chunk id, or -1 when empty.
func (l *ChunkLog) LastID() int64 {
	if len(l.chunks) == 0 {
		return -1
	}
	return l.chunks[len(l.chunks)-1].ID
}

// Len returns the number of chunks.
func (l *ChunkLog) Len() int {
	return len(l.chunks)
}
