package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/rcliao/live-meeting/internal/kv"
	"github.com/rcliao/live-meeting/internal/session"
	"github.com/spf13/cobra"
)

type statsOutput struct {
	session.Stats
	Backend   string `json:"backend"`
	Path      string `json:"path,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	Size      string `json:"size,omitempty"`
}

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	repo, s := openRepo(cmd.Context())
	defer s.Close()

	st, err := repo.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}
	out := statsOutput{Stats: st, Backend: cfg.Backend}
	if sq, ok := s.(*kv.SQLiteStore); ok {
		ks, err := sq.Stats(cmd.Context())
		if err != nil {
			exitErr("stats", err)
		}
		out.Path = ks.Path
		out.SizeBytes = ks.SizeBytes
		out.Size = humanize.Bytes(uint64(ks.SizeBytes))
	}

	if !textOutput() {
		printJSON(out)
		return
	}
	fmt.Printf("backend:  %s\n", out.Backend)
	if out.Path != "" {
		fmt.Printf("path:     %s (%s)\n", out.Path, out.Size)
	}
	fmt.Printf("meetings: %d (%d active, %d archived)\n", out.Records, out.Active, out.Archived)
	fmt.Printf("chunks:   %s\n", humanize.Comma(int64(out.Chunks)))
	fmt.Printf("notes:    %s\n", humanize.Comma(int64(out.Notes)))
	fmt.Printf("edits:    %s\n", humanize.Comma(int64(out.Edits)))
}
