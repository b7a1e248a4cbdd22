package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/citasulsa/citas/internal/config"
	"github.com/citasulsa/citas/internal/domain/scheduling"
	"github.com/citasulsa/citas/internal/platform/backend"
	"github.com/citasulsa/citas/internal/platform/session"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "citas",
		Short:        "Visitor appointment availability for the university",
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(slotsCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(bookCmd())
	rootCmd.AddCommand(rescheduleCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(listCmd())
	return rootCmd
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	logger := zerolog.New(out).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// cliApp is what every client-side command needs: config, a backend client,
// the stored session and a service bound to both.
type cliApp struct {
	cfg    *config.Config
	logger zerolog.Logger
	client *backend.Client
	store  *session.Store
	loc    *time.Location
}

func newCLIApp(cmd *cobra.Command) (*cliApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	// The CLI writes results to stdout; logs go to stderr and stay quiet
	// unless LOG_LEVEL asks for more.
	if cfg.LogLevel == "info" {
		cfg.LogLevel = "warn"
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())
	return &cliApp{
		cfg:    cfg,
		logger: logger,
		client: backend.NewClient(backend.Config{BaseURL: cfg.BackendURL, Timeout: cfg.BackendTimeout}, logger),
		store:  session.NewStore(cfg.SessionFile),
		loc:    loc,
	}, nil
}

// signedIn loads the stored session. An expired session is removed so the
// next command asks for a fresh login straight away.
func (a *cliApp) signedIn() (*session.Context, error) {
	sess, err := a.store.Load()
	if errors.Is(err, session.ErrNoSession) {
		return nil, fmt.Errorf("not signed in, run `citas login` first")
	}
	if err != nil {
		return nil, err
	}
	if !sess.Authenticated(time.Now()) {
		_ = a.store.Clear()
		return nil, fmt.Errorf("%w: run `citas login`", scheduling.ErrAuthExpired)
	}
	return sess, nil
}

func (a *cliApp) service() *scheduling.Service {
	return scheduling.NewService(a.client, a.client, a.client, a.loc,
		scheduling.WithLogger(a.logger),
		scheduling.WithAuthExpiredHook(func() {
			if err := a.store.Clear(); err != nil {
				a.logger.Warn().Err(err).Msg("clear session")
			}
		}),
	)
}
