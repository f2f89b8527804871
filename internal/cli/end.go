package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	endCmd := &cobra.Command{
		Use:   "end",
		Short: "End and archive the live meeting",
		Run:   runEnd,
	}
	endCmd.Flags().Bool("next", false, "Start a new empty meeting right away")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard the live meeting and start an empty one",
		Run:   runClear,
	}

	RootCmd.AddCommand(endCmd, clearCmd)
}

func runEnd(cmd *cobra.Command, args []string) {
	next, _ := cmd.Flags().GetBool("next")

	f, s := openFacade(cmd.Context())
	defer s.Close()

	rec, err := f.EndMeeting(cmd.Context())
	if err != nil {
		exitErr("end meeting", err)
	}
	if next {
		if _, err := f.StartNext(cmd.Context()); err != nil {
			exitErr("start next meeting", err)
		}
	}
	if textOutput() {
		fmt.Printf("archived %s (%d chunks, %d notes, started %s)\n",
			rec.ID, len(rec.Chunks), len(rec.Notes), humanize.Time(rec.StartTime))
		return
	}
	printJSON(summarize(rec))
}

func runClear(cmd *cobra.Command, args []string) {
	f, s := openFacade(cmd.Context())
	defer s.Close()

	if err := f.Clear(cmd.Context()); err != nil {
		exitErr("clear", err)
	}
	printJSON(map[string]any{"ok": true, "id": f.View().ID})
}
