// Command tsubuyaki is the terminal client of the tsubuyaki chat server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tsubuyaki/internal/chat"
	"tsubuyaki/internal/client"
	"tsubuyaki/internal/config"
	"tsubuyaki/internal/model"
	"tsubuyaki/internal/tui"
)

var (
	configPath   string
	baseURL      string
	username     string
	pollInterval time.Duration
	pauseRefresh bool
	watch        bool
	logFile      string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "tsubuyaki",
	Short: "Terminal chat client",
	Long: `tsubuyaki shows the shared message list and lets you post, edit and
delete messages. Without a subcommand it starts the interactive screen.`,
	SilenceUsage: true,
	RunE:         runChat,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", config.DefaultClientConfigPath(), "config file (YAML)")
	flags.StringVar(&baseURL, "base-url", "", "server base URL")
	flags.StringVarP(&username, "username", "u", "", "name to post as")
	flags.DurationVar(&pollInterval, "poll-interval", 0, "how often to refresh the list")
	flags.BoolVar(&pauseRefresh, "pause-refresh", false, "skip refreshes while a change is in flight")
	flags.BoolVarP(&watch, "watch", "w", false, "refresh on server push events")
	flags.StringVar(&logFile, "log-file", "", "write logs to this file")
	flags.BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(listCmd, showCmd, postCmd, editCmd, deleteCmd, suggestCmd, uploadCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig merges the config file, environment and flags
func loadConfig(cmd *cobra.Command) (config.ClientConfig, error) {
	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("base-url") {
		cfg.BaseURL = baseURL
	}
	if flags.Changed("username") {
		cfg.Username = username
	}
	if flags.Changed("poll-interval") {
		cfg.PollInterval = pollInterval
	}
	if flags.Changed("pause-refresh") {
		cfg.PauseRefresh = pauseRefresh
	}
	if flags.Changed("watch") {
		cfg.Watch = watch
	}
	if flags.Changed("log-file") {
		cfg.LogFile = logFile
	}
	return cfg, cfg.Validate()
}

// setupLogger points the global logger at w. The interactive screen owns
// stdout, so it logs to a file or nowhere.
func setupLogger(w io.Writer) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

func openLog(path string) (io.Writer, func(), error) {
	if path == "" {
		return io.Discard, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func newStore(cfg config.ClientConfig) (*client.Client, *chat.Store) {
	c := client.New(cfg.BaseURL, nil)
	opts := []chat.Option{chat.WithUsername(cfg.Username)}
	if cfg.PauseRefresh {
		opts = append(opts, chat.WithRefreshPausedWhileMutating())
	}
	return c, chat.NewStore(c, opts...)
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	w, closeLog, err := openLog(cfg.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()
	setupLogger(w)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c, store := newStore(cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return store.Run(gctx, cfg.PollInterval)
	})
	if cfg.Watch {
		g.Go(func() error {
			err := c.Watch(gctx, func(ev model.Event) {
				log.Debug().Str("type", ev.Type).Int64("id", ev.ID).Msg("[watch] event")
				store.Poke(gctx)
			})
			if err != nil {
				// ポーリングは続くので致命的ではない
				log.Warn().Err(err).Msg("[watch] disconnected")
			}
			return nil
		})
	}

	m := tui.New(ctx, store, chat.Commands)
	defer m.Close()

	_, runErr := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	cancel()
	if err := g.Wait(); err != nil {
		return err
	}
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return runErr
	}
	return nil
}
