package cli

import (
	"errors"
	"fmt"

	"github.com/rcliao/live-meeting/internal/ai"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Generate facts, decisions and a summary for a meeting",
		Long:  "Generate the analysis of the live meeting, or of a stored meeting with --id. --summary-only regenerates the summary and keeps the other fields.",
		Run:   runAnalyze,
	}
	cmd.Flags().String("id", "", "Meeting id (default: the live meeting)")
	cmd.Flags().Bool("summary-only", false, "Only regenerate the summary")

	RootCmd.AddCommand(cmd)
}

func runAnalyze(cmd *cobra.Command, args []string) {
	id, _ := cmd.Flags().GetString("id")
	summaryOnly, _ := cmd.Flags().GetBool("summary-only")

	f, s := openFacade(cmd.Context())
	defer s.Close()

	a, err := f.Analyze(cmd.Context(), id, summaryOnly)
	if errors.Is(err, ai.ErrDisabled) {
		exitErr("analyze", fmt.Errorf("%w: set ai.model in %s", err, getConfigPath()))
	}
	if err != nil {
		exitErr("analyze", err)
	}
	if !textOutput() {
		printJSON(a)
		return
	}
	sections := []struct {
		name  string
		lines []string
	}{
		{"facts", a.Facts},
		{"events", a.Events},
		{"flow", a.Flow},
		{"decisions", a.Decisions},
		{"summary", a.Summary},
	}
	for _, sec := range sections {
		if len(sec.lines) == 0 {
			continue
		}
		fmt.Printf("%s:\n", sec.name)
		for _, line := range sec.lines {
			fmt.Printf("  - %s\n", line)
		}
	}
}
