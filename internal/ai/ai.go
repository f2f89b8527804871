// Package ai wraps the language model services the meeting engine calls:
// text improvement for chunks and notes, and whole-meeting analysis.
package ai

import (
	"context"
	"errors"

	"github.com/rcliao/live-meeting/internal/model"
)

// ErrDisabled is returned when no model is configured.
var ErrDisabled = errors.New("ai: no model configured")

// Kinds of text an ImproveRequest can target.
const (
	KindChunk = "chunk"
	KindNote  = "note"
)

// ImproveRequest is one piece of text to rewrite, with the surrounding
// meeting context the model should use for accuracy.
type ImproveRequest struct {
	Kind    string
	Text    string
	Title   string
	Speaker string
	Context string // nearby transcript lines
}

// Improver rewrites a chunk or note. Implementations never modify the input;
// callers keep the original text when Improve fails.
type Improver interface {
	Improve(ctx context.Context, req ImproveRequest) (string, error)
}

// AnalyzeRequest asks for a meeting analysis. With SummaryOnly set only the
// Summary field of the result is meaningful.
type AnalyzeRequest struct {
	Title       string
	Transcript  string
	Notes       []string
	SummaryOnly bool
}

// Analyzer produces a MeetingAnalysis from a transcript.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalyzeRequest) (model.MeetingAnalysis, error)
}

// Disabled satisfies Improver and Analyzer when no model is configured.
type Disabled struct{}

func (Disabled) Improve(context.Context, ImproveRequest) (string, error) {
	return "", ErrDisabled
}

func (Disabled) Analyze(context.Context, AnalyzeRequest) (model.MeetingAnalysis, error) {
	return model.MeetingAnalysis{}, ErrDisabled
}
