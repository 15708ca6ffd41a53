package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/castboard/castboard/internal/dashboard"
)

var (
	mediaDevice    string
	mediaTitle     string
	mediaExpiresIn time.Duration
	mediaExpiresAt string
)

var mediaCmd = &cobra.Command{
	Use:   "media",
	Short: "Upload and manage media",
}

// newDashboard signs in from the stored session and loads the device
// selected by --device, or the first device.
func newDashboard(cmd *cobra.Command, onChange func(dashboard.State)) (*app, *dashboard.Dashboard, error) {
	a, err := newApp()
	if err != nil {
		return nil, nil, err
	}
	if err := a.requireSession(); err != nil {
		return nil, nil, err
	}

	d := dashboard.New(dashboard.Config{
		API:      a.client,
		OnChange: onChange,
		Logger:   a.logger,
	})
	if err := d.Load(cmd.Context()); err != nil {
		return nil, nil, stateError(d, err)
	}
	if mediaDevice != "" && d.State().SelectedDevice != mediaDevice {
		if err := d.SelectDevice(cmd.Context(), mediaDevice); err != nil {
			return nil, nil, stateError(d, err)
		}
	}
	return a, d, nil
}

// stateError prefers the message the dashboard shows over err.
func stateError(d *dashboard.Dashboard, err error) error {
	if msg := d.State().Error; msg != "" {
		return errors.New(msg)
	}
	return err
}

var mediaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List media of a device",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, d, err := newDashboard(cmd, nil)
		if err != nil {
			return err
		}
		defer a.save() //nolint:errcheck // a failed save only costs a later refresh

		d.Tick()
		st := d.State()
		if st.SelectedDevice == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "No devices registered.")
			return nil
		}
		if len(st.Items) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No media on %s.\n", st.SelectedDevice)
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tTYPE\tEXPIRES IN\tURL")
		for _, item := range st.Items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", item.ID, item.Title, item.FileType, d.Countdown(item), item.FileURL)
		}
		return w.Flush()
	},
}

var mediaUploadCmd = &cobra.Command{
	Use:   "upload FILE",
	Short: "Upload an image or video to a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		expiresAt, err := uploadExpiration()
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return err
		}
		contentType, err := detectContentType(f)
		if err != nil {
			return err
		}

		title := mediaTitle
		if title == "" {
			title = filepath.Base(args[0])
		}

		out := cmd.ErrOrStderr()
		var lastPct atomic.Int64
		lastPct.Store(-1)
		a, d, err := newDashboard(cmd, func(st dashboard.State) {
			pct := int64(st.Progress)
			if st.Uploading && lastPct.Swap(pct) != pct {
				fmt.Fprintf(out, "\ruploading %3d%%", pct)
			}
		})
		if err != nil {
			return err
		}
		defer a.save() //nolint:errcheck // a failed save only costs a later refresh

		item, err := d.Upload(cmd.Context(), dashboard.UploadRequest{
			Title:       title,
			FileName:    filepath.Base(args[0]),
			ContentType: contentType,
			Size:        info.Size(),
			Body:        f,
			ExpiresAt:   expiresAt,
		})
		if lastPct.Load() >= 0 {
			fmt.Fprintln(out)
		}
		if err != nil {
			return stateError(d, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s to %s (expires in %s).\n", item.ID, item.DeviceCode, d.Countdown(item))
		return nil
	},
}

var mediaExpireCmd = &cobra.Command{
	Use:   "expire ID",
	Short: "Expire a media item now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mediaRemove(cmd, args[0], (*dashboard.Dashboard).Expire, "Expired")
	},
}

var mediaDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a media item's file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mediaRemove(cmd, args[0], (*dashboard.Dashboard).Delete, "Deleted")
	},
}

func mediaRemove(cmd *cobra.Command, id string, fn func(*dashboard.Dashboard, context.Context, string) error, verb string) error {
	a, d, err := newDashboard(cmd, nil)
	if err != nil {
		return err
	}
	defer a.save() //nolint:errcheck // a failed save only costs a later refresh

	if err := fn(d, cmd.Context(), id); err != nil {
		return stateError(d, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s.\n", verb, id)
	return nil
}

func init() {
	mediaCmd.PersistentFlags().StringVar(&mediaDevice, "device", "", "device code (default: first device)")

	mediaUploadCmd.Flags().StringVar(&mediaTitle, "title", "", "title shown on the dashboard (default: file name)")
	mediaUploadCmd.Flags().DurationVar(&mediaExpiresIn, "expires-in", 0, "time until the media expires, e.g. 24h")
	mediaUploadCmd.Flags().StringVar(&mediaExpiresAt, "expires-at", "", "expiration time in RFC 3339 format")
	mediaUploadCmd.MarkFlagsMutuallyExclusive("expires-in", "expires-at")

	mediaCmd.AddCommand(mediaListCmd, mediaUploadCmd, mediaExpireCmd, mediaDeleteCmd)
}

// uploadExpiration returns the zero time when neither flag is set; the
// dashboard reports the missing expiration.
func uploadExpiration() (time.Time, error) {
	switch {
	case mediaExpiresAt != "":
		t, err := time.Parse(time.RFC3339, mediaExpiresAt)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --expires-at: %w", err)
		}
		return t, nil
	case mediaExpiresIn != 0:
		return time.Now().Add(mediaExpiresIn), nil
	default:
		return time.Time{}, nil
	}
}

// detectContentType uses the file extension, falling back to sniffing
// the first bytes. f is rewound.
func detectContentType(f *os.File) (string, error) {
	if ct := mime.TypeByExtension(filepath.Ext(f.Name())); ct != "" {
		return ct, nil
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return http.DetectContentType(head[:n]), nil
}
