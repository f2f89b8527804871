package session

import (
	"errors"
	"fmt"

	"github.com/rcliao/live-meeting/internal/model"
)

var (
	// ErrDuplicateChunk matches every *DuplicateChunkError.
	ErrDuplicateChunk = errors.New("duplicate or out-of-order chunk")

	// ErrStorageWrite matches every *StorageWriteError.
	ErrStorageWrite = errors.New("storage write failed")

	// ErrNoActiveMeeting is returned when a live-record operation has nothing to act on.
	ErrNoActiveMeeting = errors.New("no active meeting")

	// ErrMeetingArchived is returned when chunks arrive for a record that was archived.
	ErrMeetingArchived = errors.New("meeting is archived")

	// ErrMeetingInProgress is returned when creating a record while another is active.
	ErrMeetingInProgress = errors.New("another meeting is still active")

	// ErrNotFound is returned for unknown records, chunks and notes.
	ErrNotFound = errors.New("not found")

	// ErrUnknownDevice is returned when selecting a device never observed.
	ErrUnknownDevice = errors.New("unknown device")
)

// DuplicateChunkError reports a chunk whose id does not increase.
type DuplicateChunkError struct {
	ID     int64
	LastID int64
}

func (e *DuplicateChunkError) Error() string {
	return fmt.Sprintf("chunk %d rejected: last stored chunk is %d", e.ID, e.LastID)
}

func (e *DuplicateChunkError) Is(target error) bool {
	return target == ErrDuplicateChunk
}

// StorageWriteError reports a rejected write. Record holds the unsaved
// state so callers can keep showing it and retry.
type StorageWriteError struct {
	Key    string
	Err    error
	Record *model.SessionRecord
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Key, e.Err)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }

func (e *StorageWriteError) Is(target error) bool {
	return target == ErrStorageWrite
}
