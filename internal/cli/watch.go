package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rcliao/live-meeting/internal/config"
	"github.com/rcliao/live-meeting/internal/meeting"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the live meeting every time it changes",
		Long:  "Follow the database file and print the live meeting view after every change, one JSON object per line.",
		Run:   runWatch,
	}
	cmd.Flags().Duration("debounce", meeting.DefaultDebounce, "Wait this long for a burst of writes to settle")

	RootCmd.AddCommand(cmd)
}

func runWatch(cmd *cobra.Command, args []string) {
	debounce, _ := cmd.Flags().GetDuration("debounce")
	if cfg.Backend != config.BackendSQLite {
		exitErr("watch", fmt.Errorf("only the sqlite backend can be watched, not %q", cfg.Backend))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f, s := openFacade(ctx)
	defer s.Close()

	emit := func(v meeting.View) {
		if textOutput() {
			printView(v)
			fmt.Println()
			return
		}
		b, _ := json.Marshal(v)
		fmt.Println(string(b))
	}
	emit(f.View())
	f.OnChange(emit)

	if err := f.Watch(ctx, cfg.DBPath, debounce); err != nil {
		exitErr("watch", err)
	}
}
