// Package dashboard holds the client-side state of the media uploader: the
// selected device, its media list, and upload progress.
package dashboard

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/castboard/castboard/internal/blob"
	"github.com/castboard/castboard/internal/clock"
	"github.com/castboard/castboard/internal/device"
	"github.com/castboard/castboard/internal/failure"
	"github.com/castboard/castboard/internal/media"
)

// Messages shown on the dashboard.
const (
	MessageLoadDevicesFailed = "Failed to load devices."
	MessageLoadMediaFailed   = "Failed to load your media items."
	MessageUploadFailed      = "Failed to upload file. Please try again."
	MessageMetadataFailed    = "File uploaded but failed to save metadata. Please try again."
	MessageExpireFailed      = "Failed to process expired media."
	MessageDeleteFailed      = "Failed to delete item. Please try again."
)

var (
	// ErrUploadInProgress is returned when an upload is started while
	// another one is running.
	ErrUploadInProgress = errors.New("an upload is already in progress")

	ErrMissingExpiration = errors.New("please set an expiration date and time for your media")
)

// API is the part of the castboard API the dashboard uses.
type API interface {
	ListDevices(ctx context.Context) ([]*device.Device, error)
	ListMedia(ctx context.Context, deviceCode string) ([]*media.Item, error)
	UploadMedia(ctx context.Context, in media.UploadInput, progress func(blob.Progress)) (*media.Item, error)
	ExpireMedia(ctx context.Context, id string) (*media.Item, error)
	DeleteMedia(ctx context.Context, id string) (*media.Item, error)
}

// State is a snapshot of the dashboard.
type State struct {
	Devices        []*device.Device
	SelectedDevice string

	// Items is the media of the selected device, newest first.
	Items   []*media.Item
	Loading bool

	Uploading bool
	// Progress is the upload progress in percent.
	Progress int

	Error string
}

// UploadRequest is a file to upload to the selected device.
type UploadRequest struct {
	Title       string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
	ExpiresAt   time.Time
}

// Config holds configuration for a Dashboard.
type Config struct {
	API   API
	Clock clock.Clock

	// OnChange, if set, is called with the new state after every change.
	OnChange func(State)

	Logger zerolog.Logger
}

// Dashboard is the uploader's view of their devices and media.
type Dashboard struct {
	api      API
	clock    clock.Clock
	onChange func(State)
	logger   zerolog.Logger

	mu    sync.Mutex
	state State
}

// New creates a new Dashboard.
func New(cfg Config) *Dashboard {
	c := cfg.Clock
	if c == nil {
		c = clock.Real{}
	}
	return &Dashboard{
		api:      cfg.API,
		clock:    c,
		onChange: cfg.OnChange,
		logger:   cfg.Logger,
	}
}

// State returns a snapshot of the dashboard.
func (d *Dashboard) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshot()
}

func (d *Dashboard) snapshot() State {
	st := d.state
	st.Devices = append([]*device.Device(nil), d.state.Devices...)
	st.Items = append([]*media.Item(nil), d.state.Items...)
	return st
}

func (d *Dashboard) update(fn func(st *State)) {
	d.mu.Lock()
	fn(&d.state)
	st := d.snapshot()
	d.mu.Unlock()

	if d.onChange != nil {
		d.onChange(st)
	}
}

// Load fetches the user's devices, keeps the selection if the device still
// exists or selects the first one, and loads its media.
func (d *Dashboard) Load(ctx context.Context) error {
	devices, err := d.api.ListDevices(ctx)
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to load devices")
		d.update(func(st *State) { st.Error = MessageLoadDevicesFailed })
		return err
	}

	var selected string
	d.update(func(st *State) {
		st.Devices = devices
		if !hasDevice(devices, st.SelectedDevice) {
			st.SelectedDevice = ""
			if len(devices) > 0 {
				st.SelectedDevice = devices[0].Code
			}
		}
		if st.SelectedDevice == "" {
			st.Items = nil
		}
		selected = st.SelectedDevice
	})

	if selected == "" {
		return nil
	}
	return d.Refresh(ctx)
}

// SelectDevice switches to code and loads its media.
func (d *Dashboard) SelectDevice(ctx context.Context, code string) error {
	d.update(func(st *State) {
		if st.SelectedDevice != code {
			st.Items = nil
		}
		st.SelectedDevice = code
	})
	return d.Refresh(ctx)
}

// Refresh reloads the media of the selected device.
func (d *Dashboard) Refresh(ctx context.Context) error {
	code := d.State().SelectedDevice
	if code == "" {
		return media.ErrMissingDevice
	}

	d.update(func(st *State) { st.Loading = true })
	items, err := d.api.ListMedia(ctx, code)
	if err != nil {
		d.logger.Error().Err(err).Str("device_code", code).Msg("failed to load media")
		d.update(func(st *State) {
			st.Loading = false
			st.Error = MessageLoadMediaFailed
		})
		return err
	}

	d.update(func(st *State) {
		st.Loading = false
		if st.SelectedDevice == code {
			st.Items = items
		}
	})
	return nil
}

// Upload validates req against the selected device and the current time,
// sends it, and reloads the list.
func (d *Dashboard) Upload(ctx context.Context, req UploadRequest) (*media.Item, error) {
	var (
		in      media.UploadInput
		invalid error
		busy    bool
	)
	d.update(func(st *State) {
		if st.Uploading {
			busy = true
			return
		}
		in = media.UploadInput{
			Title:       req.Title,
			FileName:    req.FileName,
			ContentType: req.ContentType,
			Size:        req.Size,
			Body:        req.Body,
			DeviceCode:  st.SelectedDevice,
			ExpiresAt:   req.ExpiresAt,
		}
		invalid = validate(in, d.clock.Now())
		if invalid != nil {
			st.Error = errorMessage(invalid)
			return
		}
		st.Error = ""
		st.Uploading = true
		st.Progress = 0
	})
	if busy {
		return nil, ErrUploadInProgress
	}
	if invalid != nil {
		return nil, invalid
	}

	item, err := d.api.UploadMedia(ctx, in, func(p blob.Progress) {
		d.update(func(st *State) {
			if pct := p.Percent(); pct > st.Progress {
				st.Progress = pct
			}
		})
	})
	if err != nil {
		d.logger.Error().Err(err).Str("device_code", in.DeviceCode).Msg("upload failed")
		d.update(func(st *State) {
			st.Uploading = false
			st.Error = uploadErrorMessage(err)
		})
		return nil, err
	}

	d.logger.Info().Str("media_id", item.ID).Str("device_code", in.DeviceCode).Msg("media uploaded")
	d.update(func(st *State) {
		st.Uploading = false
		st.Progress = 0
	})
	// A failed reload is reported through State.Error.
	_ = d.Refresh(ctx)
	return item, nil
}

// Expire expires an item now. The local list shows the expired shape
// immediately and is rolled back if the server rejects the change.
func (d *Dashboard) Expire(ctx context.Context, id string) error {
	return d.expireWith(ctx, id, d.api.ExpireMedia, MessageExpireFailed)
}

// Delete removes an item's file. The item stays in the list in its
// expired shape.
func (d *Dashboard) Delete(ctx context.Context, id string) error {
	return d.expireWith(ctx, id, d.api.DeleteMedia, MessageDeleteFailed)
}

func (d *Dashboard) expireWith(ctx context.Context, id string, call func(context.Context, string) (*media.Item, error), failMessage string) error {
	var previous *media.Item
	now := d.clock.Now()
	d.update(func(st *State) {
		for i, item := range st.Items {
			if item.ID == id {
				previous = item
				st.Items[i] = media.AsExpired(item, now)
			}
		}
	})

	confirmed, err := call(ctx, id)
	if err != nil {
		d.logger.Error().Err(err).Str("media_id", id).Msg("expire failed")
		d.update(func(st *State) {
			if previous != nil {
				replaceItem(st.Items, previous)
			}
			st.Error = failMessage
		})
		return err
	}

	d.update(func(st *State) { replaceItem(st.Items, confirmed) })
	return nil
}

// Tick applies expiry to items whose countdown has run out. It returns the
// number of items that changed.
func (d *Dashboard) Tick() int {
	now := d.clock.Now()
	changed := 0
	d.update(func(st *State) {
		for i, item := range st.Items {
			if !item.Expired && media.IsExpired(item, now) {
				st.Items[i] = media.View(item, now)
				changed++
			}
		}
	})
	return changed
}

// Countdown returns the time left before item expires, as shown next to it.
func (d *Dashboard) Countdown(item *media.Item) string {
	if item.Expired {
		return "Expired"
	}
	return media.Countdown(item.ExpiresAt, d.clock.Now())
}

func validate(in media.UploadInput, now time.Time) error {
	if in.Body == nil {
		return media.ErrMissingFile
	}
	if in.ExpiresAt.IsZero() {
		if _, err := media.ValidateUpload(in, in.ExpiresAt.Add(-time.Second)); err != nil {
			return err
		}
		return ErrMissingExpiration
	}
	_, err := media.ValidateUpload(in, now)
	return err
}

// errorMessage turns a validation error into the sentence shown to the user.
func errorMessage(err error) string {
	msg := err.Error()
	return strings.ToUpper(msg[:1]) + msg[1:] + "."
}

func uploadErrorMessage(err error) string {
	ferr := failure.Wrap(err)
	switch {
	case strings.Contains(ferr.Error(), media.ErrMetadataFailed.Error()):
		return MessageMetadataFailed
	case ferr.Kind == failure.KindOffline:
		return failure.MessageOffline
	default:
		return MessageUploadFailed
	}
}

func replaceItem(items []*media.Item, item *media.Item) {
	for i := range items {
		if items[i].ID == item.ID {
			items[i] = item
		}
	}
}

func hasDevice(devices []*device.Device, code string) bool {
	for _, d := range devices {
		if d.Code == code {
			return true
		}
	}
	return false
}
