// Package mcpserver exposes stored meetings to MCP clients over stdio.
// All tools are read-only.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rcliao/live-meeting/internal/model"
	"github.com/rcliao/live-meeting/internal/session"
)

// ListArchivedArgs are the arguments of list_archived_meetings.
type ListArchivedArgs struct {
	Limit int    `json:"limit,omitempty"`
	Since string `json:"since,omitempty"`
}

// GetMeetingArgs are the arguments of get_meeting.
type GetMeetingArgs struct {
	ID         string `json:"id"`
	Transcript bool   `json:"transcript,omitempty"`
}

// MeetingSummary is one row of list_archived_meetings.
type MeetingSummary struct {
	ID         string     `json:"id"`
	Title      string     `json:"title,omitempty"`
	StartTime  time.Time  `json:"startTime"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	ChunkCount int        `json:"chunkCount"`
	NoteCount  int        `json:"noteCount"`
	Summary    []string   `json:"summary,omitempty"`
}

// MeetingDetail is the get_meeting result.
type MeetingDetail struct {
	MeetingSummary
	Notes      []model.Note           `json:"notes"`
	Analysis   *model.MeetingAnalysis `json:"analysis,omitempty"`
	Transcript string                 `json:"transcript,omitempty"`
	Archived   bool                   `json:"archived"`
}

// New builds the MCP server with its tools registered.
func New(repo *session.Repository, version string) *server.MCPServer {
	s := server.NewMCPServer("live-meeting", version)

	listTool := mcp.NewTool("list_archived_meetings",
		mcp.WithDescription("List archived meetings, newest first, with title, times and summary"),
		mcp.WithNumber("limit",
			mcp.Description("Max meetings to return (default: 20)")),
		mcp.WithString("since",
			mcp.Description("Only meetings that started at or after this time (RFC 3339, e.g. 2025-01-08T10:00:00Z)")),
	)
	s.AddTool(listTool, makeListArchivedHandler(repo))

	getTool := mcp.NewTool("get_meeting",
		mcp.WithDescription("Get one meeting by id with notes, analysis and optionally the full transcript"),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Meeting id, e.g. live-meeting-2025-01-08T10:00:00Z")),
		mcp.WithBoolean("transcript",
			mcp.Description("Include the transcript with edits and speaker names applied")),
	)
	s.AddTool(getTool, makeGetMeetingHandler(repo))

	return s
}

// Serve runs the server on stdin/stdout until the client disconnects.
func Serve(repo *session.Repository, version string) error {
	return server.ServeStdio(New(repo, version))
}

func decodeArgs(req mcp.CallToolRequest, v any) error {
	b, err := json.Marshal(req.Params.Arguments)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func summarize(rec *model.SessionRecord) MeetingSummary {
	s := MeetingSummary{
		ID:         rec.ID,
		Title:      rec.Title,
		StartTime:  rec.StartTime,
		EndTime:    rec.EndTime,
		ChunkCount: len(rec.Chunks),
		NoteCount:  len(rec.Notes),
	}
	if rec.Analysis != nil {
		s.Summary = rec.Analysis.Summary
	}
	return s
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

func makeListArchivedHandler(repo *session.Repository) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args ListArchivedArgs
		if err := decodeArgs(req, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		limit := args.Limit
		if limit <= 0 {
			limit = 20
		}
		var since time.Time
		if args.Since != "" {
			t, err := time.Parse(time.RFC3339, args.Since)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid since: %v", err)), nil
			}
			since = t
		}

		recs, err := repo.ListArchived(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
		}
		out := []MeetingSummary{}
		for _, rec := range recs {
			if rec.StartTime.Before(since) {
				continue
			}
			out = append(out, summarize(rec))
			if len(out) >= limit {
				break
			}
		}
		return jsonResult(map[string]any{"meetings": out})
	}
}

func makeGetMeetingHandler(repo *session.Repository) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args GetMeetingArgs
		if err := decodeArgs(req, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		if args.ID == "" {
			return mcp.NewToolResultError("id is required"), nil
		}
		rec, err := repo.Get(ctx, args.ID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("get meeting: %v", err)), nil
		}
		d := MeetingDetail{
			MeetingSummary: summarize(rec),
			Notes:          rec.Notes,
			Analysis:       rec.Analysis,
			Archived:       rec.IsArchived,
		}
		if args.Transcript {
			d.Transcript = session.Transcript(session.Project(rec))
		}
		return jsonResult(d)
	}
}
