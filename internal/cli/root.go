// Package cli implements the live-meeting CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/rcliao/live-meeting/internal/ai"
	"github.com/rcliao/live-meeting/internal/config"
	"github.com/rcliao/live-meeting/internal/kv"
	"github.com/rcliao/live-meeting/internal/logging"
	"github.com/rcliao/live-meeting/internal/meeting"
	"github.com/rcliao/live-meeting/internal/session"
	"github.com/spf13/cobra"
)

// Version is stamped at build time.
var Version = "dev"

var (
	dbPath     string
	configPath string
	formatFlag string
	logLevel   string

	cfg *config.Config
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "live-meeting",
	Short: "Live meeting transcripts, notes and analysis",
	Long:  "Keeps one live meeting record in sync with a transcription stream, your edits and AI improvements. SQLite-backed, single binary.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		c, err := config.Load(getConfigPath())
		if err != nil {
			exitErr("load config", err)
		}
		if dbPath != "" {
			c.DBPath = dbPath
		}
		level := c.LogLevel
		if logLevel != "" {
			level = logLevel
		}
		if err := logging.Init(os.Stderr, level, c.LogFormat); err != nil {
			exitErr("init logging", err)
		}
		cfg = c
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $LIVE_MEETING_DB or ~/.live-meeting/meetings.db)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $LIVE_MEETING_CONFIG or ~/.config/live-meeting/config.toml)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error (default from config)")
	RootCmd.Version = Version
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

func textOutput() bool {
	return formatFlag == "text"
}

func openKV(ctx context.Context) (kv.Store, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		return kv.NewRedisStore(ctx, cfg.RedisURL, "")
	case config.BackendMemory:
		slog.Warn("memory backend: nothing is kept after this command exits")
		return kv.NewMemoryStore(), nil
	default:
		return kv.NewSQLiteStore(cfg.DBPath)
	}
}

func openRepo(ctx context.Context) (*session.Repository, kv.Store) {
	store, err := openKV(ctx)
	if err != nil {
		exitErr("open store", err)
	}
	repo := session.NewRepository(store, session.Options{
		Merge:  cfg.MergeOptions(),
		Logger: slog.Default(),
	})
	return repo, store
}

func newAI() (ai.Improver, ai.Analyzer) {
	prompts := ai.DefaultPrompts()
	if cfg.AI.ImprovePrompt != "" {
		prompts.Improve = cfg.AI.ImprovePrompt
	}
	if cfg.AI.AnalyzePrompt != "" {
		prompts.Analyze = cfg.AI.AnalyzePrompt
	}
	client, err := ai.NewOpenAI(ai.Settings{
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey(),
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		Prompts:     prompts,
		Logger:      slog.Default(),
	})
	if err != nil {
		slog.Debug("ai disabled", "err", err)
		return ai.Disabled{}, ai.Disabled{}
	}
	return client, client
}

// openFacade opens the store and loads the live meeting, creating an empty
// one when none is active.
func openFacade(ctx context.Context) (*meeting.Facade, kv.Store) {
	repo, store := openRepo(ctx)
	improver, analyzer := newAI()
	f := meeting.New(repo, meeting.Options{
		Improver: improver,
		Analyzer: analyzer,
		Logger:   slog.Default(),
	})
	if _, err := f.ReloadData(ctx); err != nil {
		store.Close()
		exitErr("load meeting", err)
	}
	return f, store
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func printOK() {
	fmt.Println(`{"ok":true}`)
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
