// Package model defines the live-meeting data types.
package model

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// TranscriptionChunk is one raw transcription fragment. Merged segments reuse
// the same shape; EndTimestamp and LastChunkID are only set on merged segments.
type TranscriptionChunk struct {
	ID           int64      `json:"id"`
	Timestamp    time.Time  `json:"timestamp"`
	Text         string     `json:"text"`
	Speaker      string     `json:"speaker,omitempty"`
	DeviceName   string     `json:"deviceName,omitempty"`
	IsInput      bool       `json:"isInput"`
	EndTimestamp *time.Time `json:"endTimestamp,omitempty"`
	LastChunkID  int64      `json:"lastChunkId,omitempty"`
}

// End returns the timestamp of the latest chunk folded into c.
func (c TranscriptionChunk) End() time.Time {
	if c.EndTimestamp != nil {
		return *c.EndTimestamp
	}
	return c.Timestamp
}

// Edit sources. A manual edit always outranks an AI improvement.
const (
	SourceManual = "manual"
	SourceAI     = "ai"
)

// DiffOp is one operation of a structured diff from original to improved text.
type DiffOp struct {
	Op   string `json:"op"` // equal | insert | delete
	Text string `json:"text"`
}

// ImprovedChunk overrides the displayed text of a chunk.
type ImprovedChunk struct {
	Text       string    `json:"text"`
	Diff       []DiffOp  `json:"diff,omitempty"`
	ImprovedAt time.Time `json:"improvedAt"`
	Source     string    `json:"source"`
}

// Manual reports whether the override was typed by a human.
func (c ImprovedChunk) Manual() bool {
	return c.Source == SourceManual
}

// Note is a free-form note authored alongside the transcript.
type Note struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	Timestamp time.Time  `json:"timestamp"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
	IsInput   bool       `json:"isInput"`
	Device    string     `json:"device"`
}

// MeetingAnalysis is produced wholesale by the analysis service.
type MeetingAnalysis struct {
	Facts     []string `json:"facts" jsonschema:"required,description=Concrete facts stated during the meeting"`
	Events    []string `json:"events" jsonschema:"required,description=Notable events in chronological order"`
	Flow      []string `json:"flow" jsonschema:"required,description=How the conversation moved between topics"`
	Decisions []string `json:"decisions" jsonschema:"required,description=Decisions and agreed action items"`
	Summary   []string `json:"summary" jsonschema:"required,description=Short summary bullet points"`
}

// SessionRecord is the aggregate persisted as one value per meeting.
type SessionRecord struct {
	ID                 string                  `json:"id"`
	Chunks             []TranscriptionChunk    `json:"chunks"`
	MergedChunks       []TranscriptionChunk    `json:"mergedChunks"`
	EditedMergedChunks map[int64]ImprovedChunk `json:"editedMergedChunks"`
	SpeakerMappings    map[string]string       `json:"speakerMappings"`
	LastProcessedIndex int64                   `json:"lastProcessedIndex"`
	StartTime          time.Time               `json:"startTime"`
	EndTime            *time.Time              `json:"endTime,omitempty"`
	Title              string                  `json:"title,omitempty"`
	Notes              []Note                  `json:"notes"`
	Analysis           *MeetingAnalysis        `json:"analysis,omitempty"`
	DeviceNames        []string                `json:"deviceNames"`
	SelectedDevices    []string                `json:"selectedDevices"`
	IsArchived         bool                    `json:"isArchived"`

	Agenda              string   `json:"agenda,omitempty"`
	ParticipantsInvited []string `json:"participantsInvited,omitempty"`
	Participants        []string `json:"participants,omitempty"`
	GuestCount          int      `json:"guestCount,omitempty"`
	ConfirmedCount      int      `json:"confirmedCount,omitempty"`
	Organizer           string   `json:"organizer,omitempty"`
	Recurrence          string   `json:"recurrence,omitempty"`
}

// IDPrefix prefixes every meeting id; the rest is the RFC 3339 start time.
const IDPrefix = "live-meeting-"

// MeetingID derives a record id from its start time.
func MeetingID(start time.Time) string {
	return IDPrefix + start.UTC().Format(time.RFC3339Nano)
}

// NewSessionRecord returns an empty, active record starting at start.
func NewSessionRecord(start time.Time) *SessionRecord {
	start = start.UTC()
	return &SessionRecord{
		ID:                 MeetingID(start),
		Chunks:             []TranscriptionChunk{},
		MergedChunks:       []TranscriptionChunk{},
		EditedMergedChunks: map[int64]ImprovedChunk{},
		SpeakerMappings:    map[string]string{},
		LastProcessedIndex: -1,
		StartTime:          start,
		Notes:              []Note{},
		DeviceNames:        []string{},
		SelectedDevices:    []string{},
	}
}

// Normalize fills nil collections left behind by older or hand-edited values.
func (r *SessionRecord) Normalize() {
	if r.Chunks == nil {
		r.Chunks = []TranscriptionChunk{}
	}
	if r.MergedChunks == nil {
		r.MergedChunks = []TranscriptionChunk{}
	}
	if r.EditedMergedChunks == nil {
		r.EditedMergedChunks = map[int64]ImprovedChunk{}
	}
	if r.SpeakerMappings == nil {
		r.SpeakerMappings = map[string]string{}
	}
	if r.Notes == nil {
		r.Notes = []Note{}
	}
	if r.DeviceNames == nil {
		r.DeviceNames = []string{}
	}
	if r.SelectedDevices == nil {
		r.SelectedDevices = []string{}
	}
	if r.ID == "" && !r.StartTime.IsZero() {
		r.ID = MeetingID(r.StartTime)
	}
}

// Clone returns a deep copy so callers can mutate without touching r.
func (r *SessionRecord) Clone() *SessionRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Chunks = append([]TranscriptionChunk(nil), r.Chunks...)
	c.MergedChunks = append([]TranscriptionChunk(nil), r.MergedChunks...)
	c.EditedMergedChunks = make(map[int64]ImprovedChunk, len(r.EditedMergedChunks))
	for k, v := range r.EditedMergedChunks {
		v.Diff = append([]DiffOp(nil), v.Diff...)
		c.EditedMergedChunks[k] = v
	}
	c.SpeakerMappings = make(map[string]string, len(r.SpeakerMappings))
	for k, v := range r.SpeakerMappings {
		c.SpeakerMappings[k] = v
	}
	c.Notes = append([]Note(nil), r.Notes...)
	if r.Analysis != nil {
		a := r.Analysis.Clone()
		c.Analysis = &a
	}
	if r.EndTime != nil {
		t := *r.EndTime
		c.EndTime = &t
	}
	c.DeviceNames = append([]string(nil), r.DeviceNames...)
	c.SelectedDevices = append([]string(nil), r.SelectedDevices...)
	c.ParticipantsInvited = append([]string(nil), r.ParticipantsInvited...)
	c.Participants = append([]string(nil), r.Participants...)
	c.Normalize()
	return &c
}

// Clone deep-copies the analysis.
func (a MeetingAnalysis) Clone() MeetingAnalysis {
	return MeetingAnalysis{
		Facts:     append([]string(nil), a.Facts...),
		Events:    append([]string(nil), a.Events...),
		Flow:      append([]string(nil), a.Flow...),
		Decisions: append([]string(nil), a.Decisions...),
		Summary:   append([]string(nil), a.Summary...),
	}
}

// LastChunkID returns the id of the newest raw chunk, or -1.
func (r *SessionRecord) LastChunkID() int64 {
	if len(r.Chunks) == 0 {
		return -1
	}
	return r.Chunks[len(r.Chunks)-1].ID
}

// ObserveDevice records a newly seen device in both device sets.
// Devices already known keep their current selection.
func (r *SessionRecord) ObserveDevice(name string) {
	if name == "" || contains(r.DeviceNames, name) {
		return
	}
	r.DeviceNames = insertSorted(r.DeviceNames, name)
	r.SelectedDevices = insertSorted(r.SelectedDevices, name)
}

// SelectDevice adds a known device back into the selection.
func (r *SessionRecord) SelectDevice(name string) bool {
	if !contains(r.DeviceNames, name) {
		return false
	}
	if !contains(r.SelectedDevices, name) {
		r.SelectedDevices = insertSorted(r.SelectedDevices, name)
	}
	return true
}

// DeselectDevice removes a device from the selection only.
func (r *SessionRecord) DeselectDevice(name string) {
	out := r.SelectedDevices[:0:0]
	for _, d := range r.SelectedDevices {
		if d != name {
			out = append(out, d)
		}
	}
	r.SelectedDevices = out
}

// NoteIndex returns the position of the note with id, or -1.
func (r *SessionRecord) NoteIndex(id string) int {
	for i, n := range r.Notes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// ChunkByID returns the raw chunk with id.
func (r *SessionRecord) ChunkByID(id int64) (TranscriptionChunk, bool) {
	i := sort.Search(len(r.Chunks), func(i int) bool { return r.Chunks[i].ID >= id })
	if i < len(r.Chunks) && r.Chunks[i].ID == id {
		return r.Chunks[i], true
	}
	return TranscriptionChunk{}, false
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func insertSorted(set []string, s string) []string {
	i := sort.SearchStrings(set, s)
	set = append(set, "")
	copy(set[i+1:], set[i:])
	set[i] = s
	return set
}

var (
	entropyMu sync.Mutex
	entropy   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// NewNoteID returns a sortable unique note id.
func NewNoteID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}
