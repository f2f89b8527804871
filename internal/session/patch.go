package session

import (
	"time"

	"github.com/rcliao/live-meeting/internal/model"
)

// AnalysisPatch replaces individual analysis fields. Nil fields are kept,
// so a summary-only regeneration leaves facts, events, flow and decisions alone.
type AnalysisPatch struct {
	Facts     *[]string
	Events    *[]string
	Flow      *[]string
	Decisions *[]string
	Summary   *[]string
}

// FromAnalysis builds a patch that replaces every analysis field.
func FromAnalysis(a model.MeetingAnalysis) *AnalysisPatch {
	a = a.Clone()
	return &AnalysisPatch{
		Facts:     &a.Facts,
		Events:    &a.Events,
		Flow:      &a.Flow,
		Decisions: &a.Decisions,
		Summary:   &a.Summary,
	}
}

// Patch is a partial update of a stored record. Only non-nil fields apply.
//
// Protected fields:
//   - ID never changes.
//   - IsArchived can go from false to true, never back.
//   - Title and StartTime change only when set in the patch.
type Patch struct {
	Title           *string
	StartTime       *time.Time
	EndTime         *time.Time
	Notes           *[]model.Note
	Analysis        *AnalysisPatch
	ClearAnalysis   bool
	SpeakerMappings map[string]string // merged per key; an empty name removes the mapping
	SelectedDevices *[]string
	IsArchived      *bool

	Agenda              *string
	ParticipantsInvited *[]string
	Participants        *[]string
	GuestCount          *int
	ConfirmedCount      *int
	Organizer           *string
	Recurrence          *string
}

// ApplyPatch merges p into rec field by field.
func ApplyPatch(rec *model.SessionRecord, p Patch) {
	if p.Title != nil {
		rec.Title = *p.Title
	}
	if p.StartTime != nil && !p.StartTime.IsZero() {
		rec.StartTime = p.StartTime.UTC()
	}
	if p.EndTime != nil {
		t := p.EndTime.UTC()
		rec.EndTime = &t
	}
	if p.Notes != nil {
		rec.Notes = append([]model.Note{}, (*p.Notes)...)
	}

	if p.ClearAnalysis {
		rec.Analysis = nil
	}
	if a := p.Analysis; a != nil {
		cur := model.MeetingAnalysis{}
		if rec.Analysis != nil {
			cur = rec.Analysis.Clone()
		}
		setStrings(&cur.Facts, a.Facts)
		setStrings(&cur.Events, a.Events)
		setStrings(&cur.Flow, a.Flow)
		setStrings(&cur.Decisions, a.Decisions)
		setStrings(&cur.Summary, a.Summary)
		rec.Analysis = &cur
	}

	for raw, name := range p.SpeakerMappings {
		if name == "" {
			delete(rec.SpeakerMappings, raw)
			continue
		}
		rec.SpeakerMappings[raw] = name
	}

	if p.SelectedDevices != nil {
		// Selection stays a subset of the observed devices.
		rec.SelectedDevices = []string{}
		for _, d := range *p.SelectedDevices {
			rec.SelectDevice(d)
		}
	}

	if p.IsArchived != nil && *p.IsArchived {
		rec.IsArchived = true
	}

	if p.Agenda != nil {
		rec.Agenda = *p.Agenda
	}
	if p.ParticipantsInvited != nil {
		rec.ParticipantsInvited = append([]string(nil), (*p.ParticipantsInvited)...)
	}
	if p.Participants != nil {
		rec.Participants = append([]string(nil), (*p.Participants)...)
	}
	if p.GuestCount != nil {
		rec.GuestCount = *p.GuestCount
	}
	if p.ConfirmedCount != nil {
		rec.ConfirmedCount = *p.ConfirmedCount
	}
	if p.Organizer != nil {
		rec.Organizer = *p.Organizer
	}
	if p.Recurrence != nil {
		rec.Recurrence = *p.Recurrence
	}
}

func setStrings(dst *[]string, src *[]string) {
	if src != nil {
		*dst = append([]string(nil), (*src)...)
	}
}
