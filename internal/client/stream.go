package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/castboard/castboard/internal/api/models"
	"github.com/castboard/castboard/internal/failure"
	"github.com/castboard/castboard/internal/media"
)

// Stream timings. The server pings well inside streamReadWait.
const (
	streamReadWait  = 90 * time.Second
	streamWriteWait = 10 * time.Second
)

// ErrStreamClosed is delivered when the server closes a media stream.
var ErrStreamClosed = errors.New("media stream closed")

// Subscribe opens the live media stream of a device and calls onUpdate with
// every state the server sends. Connection loss is delivered once as an
// offline update, after which the subscription ends; callers reconnect by
// subscribing again. After the returned Unsubscribe returns no further
// callback runs.
func (c *Client) Subscribe(ctx context.Context, code string, onUpdate func(media.Update)) (media.Unsubscribe, error) {
	if strings.TrimSpace(code) == "" {
		return nil, media.ErrMissingDevice
	}
	if onUpdate == nil {
		return nil, errors.New("onUpdate callback is required")
	}

	conn, err := c.dial(ctx, code)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		c.readStream(ctx, conn, code, onUpdate)
	}()
	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(streamWriteWait))
		_ = conn.Close()
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}, nil
}

func (c *Client) dial(ctx context.Context, code string) (*websocket.Conn, error) {
	token := c.Tokens().AccessToken
	if token == "" {
		return nil, ErrNotSignedIn
	}

	target, err := c.streamURL("/v1/devices/" + url.PathEscape(code) + "/media/stream")
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := c.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			apiErr := readAPIError(resp)
			return nil, failure.Wrap(apiErr)
		}
		return nil, failure.Wrap(fmt.Errorf("dial media stream: %w", err))
	}
	return conn, nil
}

// readStream reads events until the connection fails or ctx is cancelled.
func (c *Client) readStream(ctx context.Context, conn *websocket.Conn, code string, onUpdate func(media.Update)) {
	_ = conn.SetReadDeadline(time.Now().Add(streamReadWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(streamReadWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(streamWriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		var event models.StreamEvent
		err := conn.ReadJSON(&event)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Debug().Err(err).Str("device_code", code).Msg("media stream ended")
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = ErrStreamClosed
			}
			onUpdate(media.Update{Err: failure.New(failure.KindOffline, failure.MessageOffline, err)})
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(streamReadWait))
		onUpdate(event.ToUpdate())
	}
}
