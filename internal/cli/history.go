package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rcliao/live-meeting/internal/history"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Group every stored chunk into meetings by pauses",
		Long:  "Collect the chunks of all stored records and split them wherever the pause reaches the gap threshold. Short meetings are dropped.",
		Run:   runHistory,
	}
	cmd.Flags().Duration("gap", 0, "Pause that starts a new meeting (default from config)")
	cmd.Flags().Int("min-chars", -1, "Drop meetings with fewer transcript characters (default from config)")

	RootCmd.AddCommand(cmd)
}

func runHistory(cmd *cobra.Command, args []string) {
	gap, _ := cmd.Flags().GetDuration("gap")
	minChars, _ := cmd.Flags().GetInt("min-chars")

	repo, s := openRepo(cmd.Context())
	defer s.Close()

	recs, err := repo.ListAll(cmd.Context())
	if err != nil {
		exitErr("list", err)
	}

	opts := cfg.HistoryOptions()
	if gap > 0 {
		opts.GapThreshold = gap
	}
	if minChars >= 0 {
		opts.MinChars = minChars
	}
	chunks, speakers := history.Collect(recs)
	opts.Speakers = speakers
	meetings := history.Group(chunks, opts)

	if !textOutput() {
		printJSON(meetings)
		return
	}
	for _, m := range meetings {
		fmt.Printf("#%d  %s  (%s, %s)  %v\n", m.Group, m.Start.Local().Format("2006-01-02 15:04"),
			humanize.Time(m.Start), m.Duration().Round(time.Second), m.DeviceNames)
		fmt.Println(m.Transcription)
		fmt.Println()
	}
}
