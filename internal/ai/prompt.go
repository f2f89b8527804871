package ai

import (
	"fmt"
	"strings"

	"github.com/cbroglie/mustache"
)

// DefaultImprovePrompt is the mustache template for improvement requests.
const DefaultImprovePrompt = `improve this {{kind}} considering the context:

meeting title: {{#title}}{{{title}}}{{/title}}{{^title}}unknown{{/title}}

transcription context:
{{#speaker}}[{{{speaker}}}]: {{/speaker}}{{{context}}}

{{kind}} to improve:
{{{text}}}`

// DefaultAnalyzePrompt is the mustache template for analysis requests.
const DefaultAnalyzePrompt = `meeting title: {{#title}}{{{title}}}{{/title}}{{^title}}unknown{{/title}}
{{#hasNotes}}

notes taken during the meeting:
{{#notes}}
- {{{.}}}
{{/notes}}
{{/hasNotes}}

transcript:
{{{transcript}}}`

const improveInstructions = `you are me, improving my meeting notes and transcript.
return only the improved text, no preamble.
fix transcription errors using the context, keep the original meaning.
for notes: a single concise sentence in lowercase, focused on the key point or action item.
preserve any markdown formatting.`

const analyzeInstructions = `you analyze meeting transcripts.
extract concrete facts, notable events in order, the flow of topics, decisions and action items,
and a short summary. use short bullet-style strings. do not invent content that is not in the transcript.`

const summaryInstructions = `you summarize meeting transcripts.
return a short summary as bullet-style strings. do not invent content that is not in the transcript.`

// Prompts renders the user-facing part of each request.
type Prompts struct {
	Improve string
	Analyze string
}

// DefaultPrompts returns the built-in templates.
func DefaultPrompts() Prompts {
	return Prompts{Improve: DefaultImprovePrompt, Analyze: DefaultAnalyzePrompt}
}

func (p Prompts) withDefaults() Prompts {
	if strings.TrimSpace(p.Improve) == "" {
		p.Improve = DefaultImprovePrompt
	}
	if strings.TrimSpace(p.Analyze) == "" {
		p.Analyze = DefaultAnalyzePrompt
	}
	return p
}

// RenderImprove fills the improve template from req.
func (p Prompts) RenderImprove(req ImproveRequest) (string, error) {
	kind := req.Kind
	if kind == "" {
		kind = KindChunk
	}
	out, err := mustache.Render(p.withDefaults().Improve, map[string]any{
		"kind":    kind,
		"text":    req.Text,
		"title":   req.Title,
		"speaker": req.Speaker,
		"context": req.Context,
	})
	if err != nil {
		return "", fmt.Errorf("render improve prompt: %w", err)
	}
	return out, nil
}

// RenderAnalyze fills the analyze template from req.
func (p Prompts) RenderAnalyze(req AnalyzeRequest) (string, error) {
	out, err := mustache.Render(p.withDefaults().Analyze, map[string]any{
		"title":      req.Title,
		"transcript": req.Transcript,
		"notes":      req.Notes,
		"hasNotes":   len(req.Notes) > 0,
	})
	if err != nil {
		return "", fmt.Errorf("render analyze prompt: %w", err)
	}
	return out, nil
}
