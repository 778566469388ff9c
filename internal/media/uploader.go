package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrUploadFailed wraps any transport or remote failure while storing
// an image attachment.
var ErrUploadFailed = errors.New("media upload failed")

// Uploader stores an inline image payload and returns a durable URL
// the message row can reference.
type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

// HTTPUploader posts raw image bytes to an external media service.
type HTTPUploader struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPUploader(baseURL, apiKey string) *HTTPUploader {
	return &HTTPUploader{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type uploadResponse struct {
	URL string `json:"url"`
}

func (u *HTTPUploader) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrUploadFailed)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/upload", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	req.Header.Set("Content-Type", contentType)
	if u.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+u.apiKey)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrUploadFailed, resp.StatusCode, body)
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUploadFailed, err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("%w: response missing url", ErrUploadFailed)
	}
	return out.URL, nil
}

// NewUploader returns the HTTP uploader when a base URL is configured
// and a disabled uploader otherwise, so image sends fail loudly
// instead of silently storing dangling references.
func NewUploader(baseURL, apiKey string) Uploader {
	if baseURL == "" {
		log.Printf("media uploader disabled: no upload URL configured")
		return noopUploader{}
	}
	return NewHTTPUploader(baseURL, apiKey)
}

type noopUploader struct{}

func (noopUploader) Upload(context.Context, []byte, string) (string, error) {
	return "", fmt.Errorf("%w: uploader not configured", ErrUploadFailed)
}
