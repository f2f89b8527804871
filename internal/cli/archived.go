package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rcliao/live-meeting/internal/model"
	"github.com/rcliao/live-meeting/internal/session"
	"github.com/spf13/cobra"
)

// meetingRow is the listing shape of one record.
type meetingRow struct {
	ID        string     `json:"id"`
	Title     string     `json:"title,omitempty"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Chunks    int        `json:"chunks"`
	Notes     int        `json:"notes"`
	Archived  bool       `json:"archived"`
	Summary   []string   `json:"summary,omitempty"`
}

func summarize(rec *model.SessionRecord) meetingRow {
	row := meetingRow{
		ID:        rec.ID,
		Title:     rec.Title,
		StartTime: rec.StartTime,
		EndTime:   rec.EndTime,
		Chunks:    len(rec.Chunks),
		Notes:     len(rec.Notes),
		Archived:  rec.IsArchived,
	}
	if rec.Analysis != nil {
		row.Summary = rec.Analysis.Summary
	}
	return row
}

func init() {
	archivedCmd := &cobra.Command{
		Use:   "archived",
		Short: "Browse and manage archived meetings",
	}

	lsCmd := &cobra.Command{
		Use:   "ls",
		Short: "List archived meetings, newest first",
		Run:   runArchivedLs,
	}
	lsCmd.Flags().String("since", "", `Only meetings started after this time ("yesterday", "last monday", 2025-01-08)`)
	lsCmd.Flags().IntP("limit", "l", 0, "Max meetings to list (0 = all)")

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one stored meeting",
		Args:  cobra.ExactArgs(1),
		Run:   runArchivedShow,
	}
	showCmd.Flags().Bool("transcript", false, "Print the transcript instead of the record")

	rmCmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete an archived meeting",
		Args:  cobra.ExactArgs(1),
		Run:   runArchivedRm,
	}

	updateCmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit the metadata of a stored meeting",
		Args:  cobra.ExactArgs(1),
		Run:   runArchivedUpdate,
	}
	updateCmd.Flags().String("title", "", "Title")
	updateCmd.Flags().String("agenda", "", "Agenda")
	updateCmd.Flags().String("organizer", "", "Organizer")
	updateCmd.Flags().String("recurrence", "", "Recurrence, e.g. weekly")
	updateCmd.Flags().StringSlice("participants", nil, "Participants who attended")
	updateCmd.Flags().StringSlice("invited", nil, "Participants invited")
	updateCmd.Flags().String("start", "", "Start time")
	updateCmd.Flags().String("end", "", "End time")

	archivedCmd.AddCommand(lsCmd, showCmd, rmCmd, updateCmd)
	RootCmd.AddCommand(archivedCmd)
}

func runArchivedLs(cmd *cobra.Command, args []string) {
	sinceStr, _ := cmd.Flags().GetString("since")
	limit, _ := cmd.Flags().GetInt("limit")

	var since time.Time
	if sinceStr != "" {
		t, ok := parseDate(sinceStr, time.Now())
		if !ok {
			exitErr("parse --since", fmt.Errorf("unrecognized date %q", sinceStr))
		}
		since = t
	}

	repo, s := openRepo(cmd.Context())
	defer s.Close()

	recs, err := repo.ListArchived(cmd.Context())
	if err != nil {
		exitErr("list", err)
	}

	rows := []meetingRow{}
	for _, rec := range recs {
		if rec.StartTime.Before(since) {
			continue
		}
		rows = append(rows, summarize(rec))
		if limit > 0 && len(rows) >= limit {
			break
		}
	}

	if !textOutput() {
		printJSON(rows)
		return
	}
	for _, r := range rows {
		title := r.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%-45s  %-16s  %4d chunks  %s\n", r.ID, humanize.Time(r.StartTime), r.Chunks, title)
	}
}

func runArchivedShow(cmd *cobra.Command, args []string) {
	transcript, _ := cmd.Flags().GetBool("transcript")

	repo, s := openRepo(cmd.Context())
	defer s.Close()

	rec, err := repo.Get(cmd.Context(), args[0])
	if err != nil {
		exitErr("get", err)
	}
	if transcript {
		fmt.Print(session.Transcript(session.Project(rec)))
		return
	}
	printJSON(rec)
}

func runArchivedRm(cmd *cobra.Command, args []string) {
	repo, s := openRepo(cmd.Context())
	defer s.Close()

	rec, err := repo.Get(cmd.Context(), args[0])
	if errors.Is(err, session.ErrNotFound) {
		fmt.Println(`{"ok":true,"deleted":false}`)
		return
	}
	if err != nil {
		exitErr("get", err)
	}
	if !rec.IsArchived {
		exitErr("delete", fmt.Errorf("%s is the live meeting; use end or clear", rec.ID))
	}
	if err := repo.DeleteArchived(cmd.Context(), rec.StartTime); err != nil {
		exitErr("delete", err)
	}
	fmt.Println(`{"ok":true,"deleted":true}`)
}

func runArchivedUpdate(cmd *cobra.Command, args []string) {
	flags := cmd.Flags()
	var p session.Patch
	str := func(name string) *string {
		if !flags.Changed(name) {
			return nil
		}
		v, _ := flags.GetString(name)
		return &v
	}
	list := func(name string) *[]string {
		if !flags.Changed(name) {
			return nil
		}
		v, _ := flags.GetStringSlice(name)
		return &v
	}
	timeFlag := func(name string) *time.Time {
		if !flags.Changed(name) {
			return nil
		}
		v, _ := flags.GetString(name)
		t, ok := parseDate(v, time.Now())
		if !ok {
			exitErr("parse --"+name, fmt.Errorf("unrecognized date %q", v))
		}
		t = t.UTC()
		return &t
	}
	p.Title = str("title")
	p.Agenda = str("agenda")
	p.Organizer = str("organizer")
	p.Recurrence = str("recurrence")
	p.Participants = list("participants")
	p.ParticipantsInvited = list("invited")
	p.StartTime = timeFlag("start")
	p.EndTime = timeFlag("end")

	repo, s := openRepo(cmd.Context())
	defer s.Close()

	rec, err := repo.UpdateRecord(cmd.Context(), args[0], p)
	if err != nil {
		exitErr("update", err)
	}
	if rec == nil {
		exitErr("update", fmt.Errorf("meeting %s: %w", args[0], session.ErrNotFound))
	}
	printJSON(summarize(rec))
}
