package asset

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Transport opens a byte stream for a URL.
type Transport interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// HTTPTransport streams response bodies from an http.Client.
type HTTPTransport struct {
	Client *http.Client
}

// NewHTTPTransport returns a transport that keeps connections alive across
// assets and never decodes Content-Encoding itself: the body must reach the
// codec exactly as served. No timeout is set.
func NewHTTPTransport() *HTTPTransport {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DisableCompression = true
	return &HTTPTransport{Client: &http.Client{Transport: tr}}
}

func (t *HTTPTransport) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}
	return resp.Body, nil
}
