package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rcliao/live-meeting/internal/config"
	"github.com/rcliao/live-meeting/internal/meeting"
	"github.com/rcliao/live-meeting/internal/transcribe"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Feed a transcription stream into the live meeting",
		Long: `Read newline-delimited JSON transcription events and merge them into the live meeting.
Events come from stdin unless --addr or --unix names a stream server.
Ingestion stops when the meeting is ended, from this process or another one.`,
		Run: runIngest,
	}
	cmd.Flags().String("addr", "", "TCP address of the transcription stream (host:port)")
	cmd.Flags().String("unix", "", "Unix socket of the transcription stream")
	cmd.Flags().Duration("reconnect", 0, "Reconnect after this pause when the stream ends (0 = exit)")
	cmd.Flags().Bool("watch", true, "Reload when another process changes the database (sqlite only)")

	RootCmd.AddCommand(cmd)
}

func runIngest(cmd *cobra.Command, args []string) {
	addr, _ := cmd.Flags().GetString("addr")
	sock, _ := cmd.Flags().GetString("unix")
	reconnect, _ := cmd.Flags().GetDuration("reconnect")
	watch, _ := cmd.Flags().GetBool("watch")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f, s := openFacade(ctx)
	defer s.Close()
	log := slog.Default().With("component", "ingest")

	if watch && cfg.Backend == config.BackendSQLite {
		go func() {
			if err := f.Watch(ctx, cfg.DBPath, meeting.DefaultDebounce); err != nil {
				log.Warn("watch stopped", "err", err)
			}
		}()
	}

	network, target := "", ""
	switch {
	case addr != "":
		network, target = "tcp", addr
	case sock != "":
		network, target = "unix", sock
	}

	for {
		opts := transcribe.StreamOptions{LastID: f.LastChunkID(), Logger: slog.Default()}
		var src *transcribe.Stream
		if network == "" {
			src = transcribe.NewStream(io.NopCloser(os.Stdin), opts)
		} else {
			var err error
			src, err = transcribe.Dial(ctx, network, target, opts)
			if err != nil {
				if reconnect <= 0 || ctx.Err() != nil {
					exitErr("connect", err)
				}
				log.Warn("connect failed, retrying", "addr", target, "in", reconnect, "err", err)
				if !sleep(ctx, reconnect) {
					return
				}
				continue
			}
			log.Info("connected", "addr", target)
		}

		err := f.Ingest(ctx, src)
		src.Close()
		switch {
		case err == nil:
			printJSON(map[string]any{"ok": true, "ended": true})
			return
		case errors.Is(err, context.Canceled):
			return
		case errors.Is(err, transcribe.ErrPaused):
			if network == "" || reconnect <= 0 {
				printJSON(map[string]any{"ok": true, "paused": true, "lastChunkId": f.LastChunkID()})
				return
			}
			log.Info("stream paused, reconnecting", "in", reconnect)
			if !sleep(ctx, reconnect) {
				return
			}
		default:
			exitErr("ingest", err)
		}
	}
}


func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
