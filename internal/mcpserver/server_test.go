package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rcliao/live-meeting/internal/kv"
	"github.com/rcliao/live-meeting/internal/model"
	"github.com/rcliao/live-meeting/internal/session"
)

func newTestRepo(t *testing.T) *session.Repository {
	t.Helper()
	ctx := context.Background()
	start := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	now := start
	repo := session.NewRepository(kv.NewMemoryStore(), session.Options{Now: func() time.Time {
		now = now.Add(time.Hour)
		return now
	}})
	for _, title := range []string{"older", "newer"} {
		if _, err := repo.EnsureActive(ctx); err != nil {
			t.Fatal(err)
		}
		repo.SetTitle(ctx, title)
		repo.OnNewChunk(ctx, model.TranscriptionChunk{ID: 1, Timestamp: now, Text: "hello " + title, Speaker: "speaker_1"})
		if _, err := repo.Archive(ctx); err != nil {
			t.Fatal(err)
		}
	}
	return repo
}

func call(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content = %T", res.Content[0])
	}
	return text.Text, res.IsError
}

func TestListArchivedMeetings(t *testing.T) {
	repo := newTestRepo(t)
	out, isErr := call(t, makeListArchivedHandler(repo), map[string]any{"limit": 1})
	if isErr {
		t.Fatal(out)
	}
	var got struct {
		Meetings []MeetingSummary `json:"meetings"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Meetings) != 1 || got.Meetings[0].Title != "newer" {
		t.Errorf("meetings = %+v", got.Meetings)
	}

	out, isErr = call(t, makeListArchivedHandler(repo), map[string]any{"since": "2030-01-01T00:00:00Z"})
	if isErr || !strings.Contains(out, `"meetings":[]`) {
		t.Errorf("since filter: %s", out)
	}

	if _, isErr := call(t, makeListArchivedHandler(repo), map[string]any{"since": "yesterday"}); !isErr {
		t.Error("expected an error result for a bad since")
	}
}

func TestGetMeeting(t *testing.T) {
	repo := newTestRepo(t)
	recs, _ := repo.ListArchived(context.Background())

	out, isErr := call(t, makeGetMeetingHandler(repo), map[string]any{"id": recs[0].ID, "transcript": true})
	if isErr {
		t.Fatal(out)
	}
	var d MeetingDetail
	if err := json.Unmarshal([]byte(out), &d); err != nil {
		t.Fatal(err)
	}
	if !d.Archived || !strings.Contains(d.Transcript, "speaker_1: hello newer") {
		t.Errorf("detail = %+v", d)
	}

	if _, isErr := call(t, makeGetMeetingHandler(repo), map[string]any{"id": "live-meeting-missing"}); !isErr {
		t.Error("expected an error result for a missing meeting")
	}
}
