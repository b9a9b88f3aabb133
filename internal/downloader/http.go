package downloader

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const maxCoverBytes = 5 << 20

var sharedTransport = &http.Transport{
	Proxy:               http.ProxyFromEnvironment,
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	TLSHandshakeTimeout:   10 * time.Second,
	ResponseHeaderTimeout: 15 * time.Second,
	IdleConnTimeout:       90 * time.Second,
}

// CloseIdleConnections releases pooled connections of the shared transport.
func CloseIdleConnections() {
	sharedTransport.CloseIdleConnections()
}

// consistentTransport fills in browser-like defaults for headers the caller
// left empty. The caller's request is never modified.
type consistentTransport struct {
	base      http.RoundTripper
	userAgent string
	referer   string
}

func (t *consistentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	if clone.Header.Get("User-Agent") == "" {
		clone.Header.Set("User-Agent", t.userAgent)
	}
	if clone.Header.Get("Accept-Language") == "" {
		clone.Header.Set("Accept-Language", "en-US,en;q=0.9")
	}
	if clone.Header.Get("Accept") == "" {
		clone.Header.Set("Accept", "*/*")
	}
	if t.referer != "" && clone.Header.Get("Referer") == "" {
		clone.Header.Set("Referer", t.referer)
	}
	return t.base.RoundTrip(clone)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	var transport http.RoundTripper = &consistentTransport{
		base:      sharedTransport,
		userAgent: desktopUserAgent,
		referer:   tiktokReferer,
	}
	transport = newRetryTransport(transport, defaultRetryConfig)
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// fetchImage downloads a small image (thumbnail) and returns its bytes and
// content type.
func fetchImage(ctx context.Context, client *http.Client, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating image request: %w", err)
	}
	req.Header.Set("Accept", "image/avif,image/webp,image/jpeg,image/*;q=0.8")
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetching image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetching image: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCoverBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading image: %w", err)
	}
	if len(data) > maxCoverBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", maxCoverBytes)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}
