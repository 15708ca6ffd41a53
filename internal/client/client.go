// Package client provides a client for the castboard HTTP API, used by the
// display and dashboard.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/castboard/castboard/internal/api/models"
	"github.com/castboard/castboard/internal/auth"
	"github.com/castboard/castboard/internal/device"
	"github.com/castboard/castboard/internal/failure"
	"github.com/castboard/castboard/internal/media"
	"github.com/castboard/castboard/internal/resilience"
)

// Client names in the resilience registry.
const (
	APIClientName    = "castboard-api"
	UploadClientName = "castboard-upload"
)

// ErrNotSignedIn is returned by calls that need a session when none is set.
var ErrNotSignedIn = failure.New(failure.KindAuth, "You must be signed in", nil)

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the API client.
type ClientConfig struct {
	// BaseURL is the API base URL, e.g. https://api.castboard.dev.
	BaseURL string

	// HTTPClient runs JSON calls. If nil, a resilient client with retries
	// is created.
	HTTPClient HTTPDoer

	// UploadClient runs uploads. If nil, a resilient client without a
	// request timeout is created.
	UploadClient HTTPDoer

	// Registry, if set, tracks the health of the default clients.
	Registry *resilience.Registry

	// Dialer opens media streams. Default: websocket.DefaultDialer.
	Dialer *websocket.Dialer

	Logger zerolog.Logger
}

// Tokens is a session issued by the API.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	User         *auth.User
}

// Client is a castboard API client. It keeps the current session and
// refreshes the access token once when a call is rejected with 401.
type Client struct {
	baseURL string
	http    HTTPDoer
	uploads HTTPDoer
	dialer  *websocket.Dialer
	logger  zerolog.Logger

	mu     sync.RWMutex
	tokens Tokens
}

// NewClient creates a new API client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		c := resilience.DefaultClientConfig(APIClientName)
		c.Registry = cfg.Registry
		httpClient = resilience.NewClient(c)
	}

	uploadClient := cfg.UploadClient
	if uploadClient == nil {
		c := resilience.DefaultClientConfig(UploadClientName)
		c.NoTimeout = true
		c.Timeout = 0
		c.Registry = cfg.Registry
		uploadClient = resilience.NewClient(c)
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http:    httpClient,
		uploads: uploadClient,
		dialer:  dialer,
		logger:  cfg.Logger,
	}
}

// SetTokens replaces the current session.
func (c *Client) SetTokens(t Tokens) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = t
}

// Tokens returns the current session.
func (c *Client) Tokens() Tokens {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens
}

// SignedIn reports whether a session is set.
func (c *Client) SignedIn() bool {
	return c.Tokens().AccessToken != ""
}

// SignUp creates an account and keeps the returned session.
func (c *Client) SignUp(ctx context.Context, email, password string) (*auth.User, error) {
	return c.authenticate(ctx, "/v1/auth/signup", email, password)
}

// SignIn signs in with email and password and keeps the returned session.
func (c *Client) SignIn(ctx context.Context, email, password string) (*auth.User, error) {
	return c.authenticate(ctx, "/v1/auth/signin", email, password)
}

func (c *Client) authenticate(ctx context.Context, path, email, password string) (*auth.User, error) {
	var resp auth.TokenResponse
	body := auth.CredentialsRequest{Email: email, Password: password}
	if err := c.call(ctx, http.MethodPost, path, body, &resp, false); err != nil {
		return nil, err
	}
	c.SetTokens(Tokens{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken, User: resp.User})
	return resp.User, nil
}

// Refresh exchanges the refresh token for a new session.
func (c *Client) Refresh(ctx context.Context) error {
	current := c.Tokens()
	if current.RefreshToken == "" {
		return ErrNotSignedIn
	}

	var resp auth.TokenResponse
	body := auth.RefreshTokenRequest{RefreshToken: current.RefreshToken}
	if err := c.call(ctx, http.MethodPost, "/v1/auth/refresh", body, &resp, false); err != nil {
		return err
	}

	refresh := resp.RefreshToken
	if refresh == "" {
		refresh = current.RefreshToken
	}
	c.SetTokens(Tokens{AccessToken: resp.AccessToken, RefreshToken: refresh, User: resp.User})
	return nil
}

// SignOut revokes the refresh token and clears the session.
func (c *Client) SignOut(ctx context.Context) error {
	current := c.Tokens()
	defer c.SetTokens(Tokens{})
	if current.RefreshToken == "" {
		return nil
	}
	return c.call(ctx, http.MethodPost, "/v1/auth/logout", auth.RefreshTokenRequest{RefreshToken: current.RefreshToken}, nil, false)
}

// RegisterDevice registers or reconnects a display. Failures are reported
// in the result flags; the error is only set when no result could be read.
func (c *Client) RegisterDevice(ctx context.Context, code string) (device.RegistrationResult, error) {
	if !c.SignedIn() {
		return device.RegistrationResult{Message: failure.MessageAuth, IsAuthError: true}, nil
	}

	var reg models.Registration
	err := c.call(ctx, http.MethodPost, "/v1/devices", models.RegisterDeviceRequest{Code: code}, &reg, true)
	if err == nil {
		return reg.ToResult(), nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Registration != nil {
		return apiErr.Registration.ToResult(), nil
	}

	ferr := failure.Wrap(err)
	result := device.RegistrationResult{Message: ferr.Message}
	switch ferr.Kind {
	case failure.KindOffline:
		result.IsOffline = true
	case failure.KindRuleIssue:
		result.IsRuleIssue = true
	case failure.KindAuth:
		result.IsAuthError = true
		result.Message = failure.MessageAuth
	default:
		result.Message = "Failed to register device: " + ferr.Message
	}
	return result, nil
}

// SetDeviceStatus reports the presence of a display.
func (c *Client) SetDeviceStatus(ctx context.Context, code string, status device.Status) error {
	return c.call(ctx, http.MethodPut, "/v1/devices/"+url.PathEscape(code)+"/status",
		models.DeviceStatusRequest{Status: string(status)}, nil, true)
}

// LogoutDevice marks a display offline.
func (c *Client) LogoutDevice(ctx context.Context, code string) error {
	return c.call(ctx, http.MethodPost, "/v1/devices/"+url.PathEscape(code)+"/logout", nil, nil, true)
}

// ListDevices returns the caller's devices.
func (c *Client) ListDevices(ctx context.Context) ([]*device.Device, error) {
	var list models.DeviceList
	if err := c.call(ctx, http.MethodGet, "/v1/devices", nil, &list, true); err != nil {
		return nil, err
	}
	out := make([]*device.Device, 0, len(list.Items))
	for _, d := range list.Items {
		out = append(out, d.ToDevice())
	}
	return out, nil
}

// ListMedia returns the caller's uploads for a device, newest first.
func (c *Client) ListMedia(ctx context.Context, deviceCode string) ([]*media.Item, error) {
	var list models.MediaList
	path := "/v1/media?deviceCode=" + url.QueryEscape(deviceCode)
	if err := c.call(ctx, http.MethodGet, path, nil, &list, true); err != nil {
		return nil, err
	}
	return models.ToItems(list.Items), nil
}

// ExpireMedia expires an item now and returns it in its expired shape.
func (c *Client) ExpireMedia(ctx context.Context, id string) (*media.Item, error) {
	return c.mediaCall(ctx, http.MethodPost, "/v1/media/"+url.PathEscape(id)+"/expire")
}

// DeleteMedia removes an item's file and returns it in its expired shape.
func (c *Client) DeleteMedia(ctx context.Context, id string) (*media.Item, error) {
	return c.mediaCall(ctx, http.MethodDelete, "/v1/media/"+url.PathEscape(id))
}

func (c *Client) mediaCall(ctx context.Context, method, path string) (*media.Item, error) {
	var m models.Media
	if err := c.call(ctx, method, path, nil, &m, true); err != nil {
		return nil, err
	}
	return m.ToItem(), nil
}

// CheckAccess runs the server-side access probe as the caller.
func (c *Client) CheckAccess(ctx context.Context) (*device.Access, error) {
	var probe models.AccessProbe
	if err := c.call(ctx, http.MethodGet, "/v1/diagnostics/access", nil, &probe, true); err != nil {
		return nil, err
	}
	return &device.Access{UserID: probe.UserID, CheckedAt: probe.CheckedAt.Time()}, nil
}

// CheckMedia returns what a display with code would currently show.
func (c *Client) CheckMedia(ctx context.Context, code string) (*models.MediaDiagnostics, error) {
	var diag models.MediaDiagnostics
	path := "/v1/diagnostics/media?deviceCode=" + url.QueryEscape(code)
	if err := c.call(ctx, http.MethodGet, path, nil, &diag, true); err != nil {
		return nil, err
	}
	return &diag, nil
}

// call sends a JSON request and decodes a JSON response into out. With
// authed set, a 401 triggers one token refresh and retry.
func (c *Client) call(ctx context.Context, method, path string, in, out interface{}, authed bool) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = b
	}

	newReq := func() (*http.Request, error) {
		var body io.Reader = http.NoBody
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
			req.GetBody = func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(payload)), nil
			}
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	return c.send(ctx, c.http, newReq, out, authed)
}

// send runs the request built by newReq, refreshing the session once on 401.
func (c *Client) send(ctx context.Context, doer HTTPDoer, newReq func() (*http.Request, error), out interface{}, authed bool) error {
	for attempt := 0; ; attempt++ {
		req, err := newReq()
		if err != nil {
			return err
		}
		if authed {
			token := c.Tokens().AccessToken
			if token == "" {
				return ErrNotSignedIn
			}
			req.Header.Set("Authorization", "Bearer "+token)
		}

		err = c.do(doer, req, out)

		var apiErr *APIError
		if authed && attempt == 0 && errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized &&
			c.Tokens().RefreshToken != "" {
			if rerr := c.Refresh(ctx); rerr != nil {
				c.logger.Debug().Err(rerr).Msg("token refresh failed")
				return err
			}
			continue
		}
		return err
	}
}

func (c *Client) do(doer HTTPDoer, req *http.Request, out interface{}) error {
	resp, err := doer.Do(req)
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return failure.New(failure.KindOffline, failure.MessageOffline, err)
		}
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	return readAPIError(resp)
}

// APIError is a non-2xx response from the API. It unwraps to a
// failure.StatusError so it classifies by status.
type APIError struct {
	StatusCode int
	Problem    *models.Problem

	// Registration is set when a registration attempt was rejected with
	// its tagged outcome.
	Registration *models.Registration
}

func (e *APIError) Error() string {
	return e.status().Error()
}

func (e *APIError) Unwrap() error {
	return e.status()
}

func (e *APIError) status() *failure.StatusError {
	s := &failure.StatusError{StatusCode: e.StatusCode}
	switch {
	case e.Problem != nil && e.Problem.Detail != "":
		s.Detail = e.Problem.Detail
	case e.Problem != nil:
		s.Detail = e.Problem.Title
	case e.Registration != nil:
		s.Detail = e.Registration.Message
	}
	return s
}

// FieldErrors returns the validation errors of a 400 problem.
func (e *APIError) FieldErrors() []models.FieldError {
	if e.Problem == nil {
		return nil
	}
	return e.Problem.Errors
}

func readAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil || len(body) == 0 {
		return apiErr
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mediaType {
	case "application/problem+json":
		var p models.Problem
		if json.Unmarshal(body, &p) == nil {
			apiErr.Problem = &p
		}
	case "application/json":
		var reg models.Registration
		if json.Unmarshal(body, &reg) == nil && reg.Message != "" {
			apiErr.Registration = &reg
		}
	}
	return apiErr
}

// streamURL converts the base URL to a websocket URL for path.
func (c *Client) streamURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	return u.String(), nil
}
