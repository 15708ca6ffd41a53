package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/castboard/castboard/internal/display"
	"github.com/castboard/castboard/internal/media"
)

var (
	displayCode      string
	displayHeartbeat time.Duration
)

var displayCmd = &cobra.Command{
	Use:   "display",
	Short: "Run this machine as a display",
}

func newCodeStore() (*display.FileCodeStore, error) {
	path, err := statePath("display.toml")
	if err != nil {
		return nil, err
	}
	return display.NewFileCodeStore(path), nil
}

var displayRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Show the newest media of the registered device until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		if err := a.requireSession(); err != nil {
			return err
		}
		defer a.save() //nolint:errcheck // a failed save only costs a later refresh

		codes, err := newCodeStore()
		if err != nil {
			return err
		}
		if displayCode != "" {
			if err := codes.Save(displayCode); err != nil {
				return err
			}
		}

		session := display.NewSession(display.SessionConfig{
			API:               a.client,
			Codes:             codes,
			OnChange:          newScreen(cmd.OutOrStdout()).render,
			HeartbeatInterval: displayHeartbeat,
			Logger:            a.logger,
		})
		return session.Run(cmd.Context())
	},
}

var displayLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Mark the display offline and forget its device code",
	RunE: func(cmd *cobra.Command, args []string) error {
		codes, err := newCodeStore()
		if err != nil {
			return err
		}
		code, err := codes.Load()
		if err != nil {
			return err
		}
		if code == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "No device registered.")
			return nil
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.save() //nolint:errcheck // a failed save only costs a later refresh

		if a.client.SignedIn() {
			if err := a.client.LogoutDevice(cmd.Context(), code); err != nil {
				a.logger.Warn().Err(err).Str("device_code", code).Msg("failed to mark device offline")
			}
		}
		if err := codes.Clear(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Logged out of %s.\n", code)
		return nil
	},
}

var displayCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check API access and the media of the registered device",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		if err := a.requireSession(); err != nil {
			return err
		}
		defer a.save() //nolint:errcheck // a failed save only costs a later refresh

		out := cmd.OutOrStdout()
		access, err := a.client.CheckAccess(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "access ok for %s at %s\n", access.UserID, access.CheckedAt.Format(time.RFC3339))

		code := displayCode
		if code == "" {
			codes, err := newCodeStore()
			if err != nil {
				return err
			}
			if code, err = codes.Load(); err != nil {
				return err
			}
		}
		if code == "" {
			return media.ErrMissingDevice
		}

		diag, err := a.client.CheckMedia(cmd.Context(), code)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %d items, %d expired\n", diag.DeviceCode, diag.Count, diag.Expired)
		for _, item := range diag.Items {
			fmt.Fprintf(out, "  %s  %s  %s\n", item.ID, item.Title, item.FileURL)
		}
		return nil
	},
}

func init() {
	displayRunCmd.Flags().StringVar(&displayCode, "code", "", "device code to register (default: the stored code)")
	displayRunCmd.Flags().DurationVar(&displayHeartbeat, "heartbeat", time.Minute, "interval of online status reports")
	displayCheckCmd.Flags().StringVar(&displayCode, "code", "", "device code to check (default: the stored code)")

	displayCmd.AddCommand(displayRunCmd, displayLogoutCmd, displayCheckCmd)
}

// screen prints what a display shows whenever it changes.
type screen struct {
	out io.Writer

	mu      sync.Mutex
	current string
	message string
}

func newScreen(out io.Writer) *screen {
	return &screen{out: out}
}

func (s *screen) render(st display.State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.Error != s.message {
		s.message = st.Error
		if st.Error != "" {
			fmt.Fprintf(s.out, "! %s\n", st.Error)
		}
	}

	shown := ""
	if st.Current != nil {
		shown = st.Current.ID + " " + st.Current.FileURL
	}
	if shown == s.current {
		return
	}
	s.current = shown
	switch {
	case st.Current == nil:
		fmt.Fprintln(s.out, "showing nothing")
	default:
		fmt.Fprintf(s.out, "showing %q (%s) %s\n", st.Current.Title, st.Current.FileType, st.Current.FileURL)
	}
}
