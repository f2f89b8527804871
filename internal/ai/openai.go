package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/rcliao/live-meeting/internal/model"
)

// Settings configures the OpenAI-compatible client.
type Settings struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Prompts     Prompts
	Logger      *slog.Logger

	// RetryWaits lists the pauses between attempts; nil uses DefaultRetryWaits.
	RetryWaits []time.Duration
}

// DefaultRetryWaits are the pauses after a rate-limited or failed call.
var DefaultRetryWaits = []time.Duration{5 * time.Second, 30 * time.Second}

// OpenAI implements Improver and Analyzer over the Responses API of any
// OpenAI-compatible endpoint.
type OpenAI struct {
	client   openai.Client
	settings Settings
	log      *slog.Logger
}

// NewOpenAI returns a client for s. It fails when no model is configured.
func NewOpenAI(s Settings) (*OpenAI, error) {
	if strings.TrimSpace(s.Model) == "" {
		return nil, ErrDisabled
	}
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if s.APIKey != "" {
		opts = append(opts, option.WithAPIKey(s.APIKey))
	}
	if s.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(s.BaseURL))
	}
	if s.RetryWaits == nil {
		s.RetryWaits = DefaultRetryWaits
	}
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	return &OpenAI{
		client:   openai.NewClient(opts...),
		settings: s,
		log:      log.With("component", "ai", "model", s.Model),
	}, nil
}

// Improve asks the model for a rewritten version of req.Text.
func (o *OpenAI) Improve(ctx context.Context, req ImproveRequest) (string, error) {
	input, err := o.settings.Prompts.RenderImprove(req)
	if err != nil {
		return "", err
	}
	maxTokens := int64(len(req.Text)*2 + 64)
	params := responses.ResponseNewParams{
		Model:           o.settings.Model,
		MaxOutputTokens: openai.Int(maxTokens),
		Instructions:    openai.String(improveInstructions),
		Temperature:     openai.Float(o.settings.Temperature),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(input, responses.EasyInputMessageRoleUser),
			},
		},
	}

	start := time.Now()
	resp, err := o.call(ctx, params)
	if err != nil {
		return "", fmt.Errorf("improve %s: %w", req.Kind, err)
	}
	out := strings.TrimSpace(resp.OutputText())
	if out == "" {
		return "", fmt.Errorf("improve %s: %w", req.Kind, io.ErrUnexpectedEOF)
	}
	o.log.Debug("improved text", "kind", req.Kind, "elapsed", time.Since(start))
	return out, nil
}

var (
	analysisSchema = GenerateSchema[model.MeetingAnalysis]()
	summarySchema  = GenerateSchema[summaryOnly]()
)

type summaryOnly struct {
	Summary []string `json:"summary" jsonschema:"required,description=Short summary bullet points"`
}

// Analyze asks the model for a structured analysis of the transcript.
func (o *OpenAI) Analyze(ctx context.Context, req AnalyzeRequest) (model.MeetingAnalysis, error) {
	input, err := o.settings.Prompts.RenderAnalyze(req)
	if err != nil {
		return model.MeetingAnalysis{}, err
	}

	name, schema, instructions := "MeetingAnalysis", analysisSchema, analyzeInstructions
	if req.SummaryOnly {
		name, schema, instructions = "MeetingSummary", summarySchema, summaryInstructions
	}
	params := responses.ResponseNewParams{
		Model:           o.settings.Model,
		MaxOutputTokens: openai.Int(4000),
		Instructions:    openai.String(instructions),
		Temperature:     openai.Float(o.settings.Temperature),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(input, responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:        name,
					Schema:      schema,
					Strict:      openai.Bool(true),
					Description: openai.String("Meeting analysis JSON"),
					Type:        "json_schema",
				},
			},
		},
	}

	resp, err := o.call(ctx, params)
	if err != nil {
		return model.MeetingAnalysis{}, fmt.Errorf("analyze: %w", err)
	}
	var out model.MeetingAnalysis
	if err := DecodeModelJSON(resp.OutputText(), &out); err != nil {
		return model.MeetingAnalysis{}, fmt.Errorf("unmarshal analysis: %w", err)
	}
	return out, nil
}

func (o *OpenAI) call(ctx context.Context, params responses.ResponseNewParams) (*responses.Response, error) {
	var resp *responses.Response
	err := Retry(ctx, o.settings.RetryWaits, func() error {
		r, err := o.client.Responses.New(ctx, params)
		if err != nil {
			o.log.Warn("model call failed", "err", err)
			return err
		}
		resp = r
		return nil
	})
	return resp, err
}

// Retry runs fn, waiting waits[i] after the i-th retryable failure.
// Rate-limit and server errors are retried; anything else returns at once.
func Retry(ctx context.Context, waits []time.Duration, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt >= len(waits) || !retryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waits[attempt]):
		}
	}
}

func retryable(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "429") ||
		strings.Contains(s, "rate limit") ||
		strings.Contains(s, "too many requests") ||
		strings.Contains(s, "internal server error") ||
		strings.Contains(s, "server_error")
}

// DecodeModelJSON unmarshals model output, falling back to the first
// top-level JSON object when the model wrapped it in prose.
func DecodeModelJSON(outputText string, v any) error {
	s := strings.TrimSpace(outputText)
	if s == "" {
		return io.ErrUnexpectedEOF
	}
	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end <= start {
		return fmt.Errorf("no JSON object found in model output (len=%d)", len(s))
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return fmt.Errorf("unmarshal extracted JSON: %w", err)
	}
	return nil
}
