package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewSessionRecord(t *testing.T) {
	start := time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC)
	r := NewSessionRecord(start)

	if r.ID != "live-meeting-2026-03-02T15:04:05Z" {
		t.Errorf("ID = %q", r.ID)
	}
	if r.LastProcessedIndex != -1 {
		t.Errorf("LastProcessedIndex = %d, want -1", r.LastProcessedIndex)
	}
	if r.IsArchived {
		t.Error("new record should be active")
	}
}

func TestCloneIsDeep(t *testing.T) {
	r := NewSessionRecord(time.Now())
	r.Notes = append(r.Notes, Note{ID: "n1", Text: "first"})
	r.EditedMergedChunks[1] = ImprovedChunk{Text: "x", Diff: []DiffOp{{Op: "equal", Text: "x"}}}
	r.Analysis = &MeetingAnalysis{Summary: []string{"a"}}
	r.ObserveDevice("mic")

	c := r.Clone()
	c.Notes[0].Text = "changed"
	c.EditedMergedChunks[1] = ImprovedChunk{Text: "y"}
	c.Analysis.Summary[0] = "b"
	c.DeselectDevice("mic")

	if r.Notes[0].Text != "first" {
		t.Errorf("note mutated through clone: %q", r.Notes[0].Text)
	}
	if r.EditedMergedChunks[1].Text != "x" {
		t.Errorf("edit mutated through clone: %q", r.EditedMergedChunks[1].Text)
	}
	if r.Analysis.Summary[0] != "a" {
		t.Errorf("analysis mutated through clone: %q", r.Analysis.Summary[0])
	}
	if len(r.SelectedDevices) != 1 {
		t.Errorf("selection mutated through clone: %v", r.SelectedDevices)
	}
}

func TestDeviceSets(t *testing.T) {
	r := NewSessionRecord(time.Now())
	r.ObserveDevice("speakers")
	r.ObserveDevice("mic")
	r.ObserveDevice("mic")

	if len(r.DeviceNames) != 2 || r.DeviceNames[0] != "mic" {
		t.Fatalf("DeviceNames = %v", r.DeviceNames)
	}

	r.DeselectDevice("mic")
	if len(r.SelectedDevices) != 1 || r.SelectedDevices[0] != "speakers" {
		t.Errorf("SelectedDevices = %v", r.SelectedDevices)
	}
	if len(r.DeviceNames) != 2 {
		t.Errorf("deselect must not remove known devices: %v", r.DeviceNames)
	}

	// Seeing a deselected device again keeps it deselected.
	r.ObserveDevice("mic")
	if len(r.SelectedDevices) != 1 {
		t.Errorf("re-observed device was reselected: %v", r.SelectedDevices)
	}

	if r.SelectDevice("unknown") {
		t.Error("selecting an unknown device should fail")
	}
	if !r.SelectDevice("mic") || len(r.SelectedDevices) != 2 {
		t.Errorf("SelectDevice(mic): %v", r.SelectedDevices)
	}
}

func TestRecordJSONShape(t *testing.T) {
	r := NewSessionRecord(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r.EditedMergedChunks[7] = ImprovedChunk{Text: "fixed", Source: SourceManual}

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	for _, key := range []string{"id", "chunks", "mergedChunks", "editedMergedChunks", "speakerMappings", "lastProcessedIndex", "startTime", "isArchived"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q", key)
		}
	}
	if _, ok := raw["endTime"]; ok {
		t.Error("endTime should be omitted while live")
	}

	var back SessionRecord
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.EditedMergedChunks[7].Text != "fixed" {
		t.Errorf("edit lost in round trip: %+v", back.EditedMergedChunks)
	}
}

func TestChunkByID(t *testing.T) {
	r := NewSessionRecord(time.Now())
	r.Chunks = []TranscriptionChunk{{ID: 1}, {ID: 4}, {ID: 9}}

	if c, ok := r.ChunkByID(4); !ok || c.ID != 4 {
		t.Errorf("ChunkByID(4) = %v, %v", c, ok)
	}
	if _, ok := r.ChunkByID(5); ok {
		t.Error("ChunkByID(5) should miss")
	}
	if r.LastChunkID() != 9 {
		t.Errorf("LastChunkID = %d", r.LastChunkID())
	}
}
