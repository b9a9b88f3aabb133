package downloader

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsistentTransportFillsDefaultsWithoutMutating(t *testing.T) {
	var got http.Header
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = r.Header.Clone()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport := &consistentTransport{base: http.DefaultTransport, userAgent: "TestAgent/1.0", referer: tiktokReferer}
	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := transport.RoundTrip(req)
			if assert.NoError(t, err) {
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "TestAgent/1.0", got.Get("User-Agent"))
	assert.Equal(t, "en-US,en;q=0.9", got.Get("Accept-Language"))
	assert.Equal(t, "*/*", got.Get("Accept"))
	assert.Equal(t, tiktokReferer, got.Get("Referer"))
	assert.Empty(t, req.Header.Get("User-Agent"))
	assert.Empty(t, req.Header.Get("Referer"))
}

func TestConsistentTransportPreservesCallerHeaders(t *testing.T) {
	var ua string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
	}))
	defer server.Close()

	transport := &consistentTransport{base: http.DefaultTransport, userAgent: "TestAgent/1.0"}
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	req.Header.Set("User-Agent", "CustomAgent/2.0")
	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "CustomAgent/2.0", ua)
}

func TestFetchImage(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cover.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write([]byte("jpeg-bytes"))
		case "/untyped":
			w.Header()["Content-Type"] = nil
			w.Write(png)
		case "/huge":
			w.Write(bytes.Repeat([]byte{0}, maxCoverBytes+10))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()
	client := server.Client()
	ctx := context.Background()

	data, contentType, err := fetchImage(ctx, client, server.URL+"/cover.jpg")
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))
	assert.Equal(t, "image/jpeg", contentType)

	_, contentType, err = fetchImage(ctx, client, server.URL+"/untyped")
	require.NoError(t, err)
	assert.Equal(t, "image/png", contentType)

	_, _, err = fetchImage(ctx, client, server.URL+"/huge")
	assert.Error(t, err)

	_, _, err = fetchImage(ctx, client, server.URL+"/missing")
	assert.Error(t, err)
}
