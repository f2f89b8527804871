package cli

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rcliao/live-meeting/internal/meeting"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the live meeting",
		Run:   runShow,
	}

	RootCmd.AddCommand(cmd)
}

func runShow(cmd *cobra.Command, args []string) {
	f, s := openFacade(cmd.Context())
	defer s.Close()

	v := f.View()
	if !textOutput() {
		printJSON(v)
		return
	}
	printView(v)
}

func printView(v meeting.View) {
	title := v.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Printf("%s  %s\n", title, v.ID)
	fmt.Printf("started %s, %d segments, %d notes\n", humanize.Time(v.StartTime), len(v.Segments), len(v.Notes))
	if v.Warning != "" {
		fmt.Printf("warning: %s\n", v.Warning)
	}
	if len(v.Segments) > 0 {
		fmt.Println()
	}
	for _, seg := range v.Segments {
		mark := " "
		switch {
		case seg.ImprovementError != "":
			mark = "!"
		case seg.Improvement == "pending":
			mark = "~"
		case seg.Edited:
			mark = "*"
		}
		fmt.Printf("%4d%s [%s] %s: %s\n", seg.ChunkID, mark, seg.Timestamp.Local().Format("15:04:05"), seg.Speaker, strings.TrimSpace(seg.Text))
	}
	if len(v.Notes) > 0 {
		fmt.Println("\nnotes:")
	}
	for _, n := range v.Notes {
		fmt.Printf("  %s  %s\n", n.ID, n.Text)
	}
	if v.Analysis != nil && len(v.Analysis.Summary) > 0 {
		fmt.Println("\nsummary:")
		for _, line := range v.Analysis.Summary {
			fmt.Printf("  - %s\n", line)
		}
	}
}
