// Package main provides castctl, the command-line client for castboard: it
// signs in, uploads and manages media, and runs a display.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/castboard/castboard/internal/client"
	"github.com/castboard/castboard/internal/config"
	"github.com/castboard/castboard/internal/database"
	"github.com/castboard/castboard/internal/resilience"
)

// Version is set at compile time via ldflags.
var Version = "dev"

// Environment variables read by castctl.
const (
	envAPIURL   = "CASTBOARD_API_URL"
	envStateDir = "CASTBOARD_STATE_DIR"
)

var (
	apiURL   string
	stateDir string
	verbose  bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "castctl",
	Short:        "castboard command-line client",
	Version:      Version,
	SilenceUsage: true,
}

func init() {
	defaultURL := os.Getenv(envAPIURL)
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api", defaultURL, "castboard API base URL")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", os.Getenv(envStateDir), "directory for the session and display state (default: user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log requests and reconnects")

	rootCmd.AddCommand(authCmd, devicesCmd, mediaCmd, displayCmd, migrateCmd)
}

func newLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func statePath(name string) (string, error) {
	dir := stateDir
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("locating config directory: %w", err)
		}
		dir = filepath.Join(base, "castboard")
	}
	return filepath.Join(dir, name), nil
}

// app is the client and its persisted session for one command.
type app struct {
	client *client.Client
	tokens *client.FileTokenStore
	logger zerolog.Logger
}

// newApp creates a client with the stored session loaded.
func newApp() (*app, error) {
	path, err := statePath("session.toml")
	if err != nil {
		return nil, err
	}
	store := client.NewFileTokenStore(path)
	tokens, err := store.Load()
	if err != nil {
		return nil, err
	}

	logger := newLogger()
	c := client.NewClient(client.ClientConfig{
		BaseURL:  apiURL,
		Registry: resilience.NewRegistry(),
		Logger:   logger,
	})
	c.SetTokens(tokens)
	return &app{client: c, tokens: store, logger: logger}, nil
}

// save persists the client's session, which may have been refreshed.
func (a *app) save() error {
	t := a.client.Tokens()
	if t.AccessToken == "" {
		return a.tokens.Clear()
	}
	return a.tokens.Save(t)
}

// requireSession fails early when no session is stored.
func (a *app) requireSession() error {
	if !a.client.SignedIn() {
		return fmt.Errorf("not signed in: run castctl auth signin")
	}
	return nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long:  "Apply the embedded SQL migrations to the database configured by CASTBOARD_CONFIG and DB_* variables.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := newLogger().Level(zerolog.InfoLevel)
		return database.Migrate(cfg.DatabaseConfig(), logger)
	},
}
