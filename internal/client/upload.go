package client

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/castboard/castboard/internal/api/models"
	"github.com/castboard/castboard/internal/blob"
	"github.com/castboard/castboard/internal/media"
)

// UploadMedia streams in as a multipart upload. progress, if set, is called
// as the file body is sent. The body is not replayable, so the request is
// not retried.
func (c *Client) UploadMedia(ctx context.Context, in media.UploadInput, progress func(blob.Progress)) (*media.Item, error) {
	token := c.Tokens().AccessToken
	if token == "" {
		return nil, ErrNotSignedIn
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeUploadForm(mw, in, progress))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/media", pr)
	if err != nil {
		_ = pr.Close()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	var m models.Media
	err = c.do(c.uploads, req, &m)
	_ = pr.Close()
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("media_id", m.ID).
		Str("device_code", m.DeviceCode).
		Msg("media uploaded")
	return m.ToItem(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeUploadForm(mw *multipart.Writer, in media.UploadInput, progress func(blob.Progress)) error {
	fields := []struct{ name, value string }{
		{"title", in.Title},
		{"deviceCode", in.DeviceCode},
		{"expiresAt", in.ExpiresAt.UTC().Format(time.RFC3339)},
	}
	for _, f := range fields {
		if err := mw.WriteField(f.name, f.value); err != nil {
			return fmt.Errorf("write field %s: %w", f.name, err)
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(in.FileName)))
	h.Set("Content-Type", in.ContentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}

	body := in.Body
	if body == nil {
		body = http.NoBody
	}
	if _, err := io.Copy(part, blob.NewProgressReader(body, in.Size, progress)); err != nil {
		return fmt.Errorf("write file part: %w", err)
	}
	return mw.Close()
}
