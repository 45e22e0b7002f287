package fetcher_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"link-embed/internal/domain/entity"
	"link-embed/internal/infra/fetcher"
	"link-embed/internal/resilience/circuitbreaker"
	"link-embed/internal/resilience/retry"
)

// testConfig returns a configuration usable against httptest servers on 127.0.0.1.
func testConfig() fetcher.Config {
	cfg := fetcher.DefaultConfig()
	cfg.DenyPrivateIPs = false // Disable SSRF protection for local test server
	cfg.RequestsPerSecond = 0
	cfg.RetryAttempts = 1
	cfg.Timeout = 2 * time.Second
	return cfg
}

// pinnedTransport sends every request to addr regardless of the URL host,
// so public-looking hostnames can be served by a local test server.
func pinnedTransport(addr string) *http.Transport {
	dialer := &net.Dialer{Timeout: time.Second}
	return &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
	}
}

func TestGet_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != fetcher.DefaultUserAgent {
			t.Errorf("expected User-Agent=%q, got %q", fetcher.DefaultUserAgent, r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>Hello</title></head><body>こんにちは</body></html>`))
	}))
	defer server.Close()

	f := fetcher.New(testConfig())
	page, err := f.Get(context.Background(), server.URL)
	require.NoError(t, err)

	assert.Contains(t, page.HTML, "<title>Hello</title>")
	assert.Contains(t, page.HTML, "こんにちは")
	assert.Equal(t, server.URL, page.FinalURL)
	assert.Equal(t, http.StatusOK, page.StatusCode)
}

func TestGet_DecodesDeclaredCharset(t *testing.T) {
	// "テスト" in Shift_JIS
	sjis := []byte{0x83, 0x65, 0x83, 0x58, 0x83, 0x67}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=Shift_JIS")
		_, _ = w.Write([]byte("<html><head><title>"))
		_, _ = w.Write(sjis)
		_, _ = w.Write([]byte("</title></head></html>"))
	}))
	defer server.Close()

	page, err := fetcher.New(testConfig()).Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Contains(t, page.HTML, "<title>テスト</title>")
}

func TestGet_SuccessfulRedirect(t *testing.T) {
	finalServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title>Final Destination</title></head></html>`))
	}))
	defer finalServer.Close()

	initialServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, finalServer.URL+"/landing", http.StatusFound)
	}))
	defer initialServer.Close()

	page, err := fetcher.New(testConfig()).Get(context.Background(), initialServer.URL)
	require.NoError(t, err)

	assert.Contains(t, page.HTML, "Final Destination")
	assert.Equal(t, finalServer.URL+"/landing", page.FinalURL)
}

func TestGet_TooManyRedirects(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Redirect(w, r, r.URL.String(), http.StatusFound)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.MaxRedirects = 5
	_, err := fetcher.New(cfg).Get(context.Background(), server.URL)

	require.Error(t, err)
	assert.True(t, errors.Is(err, entity.ErrFetch))
	assert.True(t, errors.Is(err, fetcher.ErrTooManyRedirects))
	assert.Equal(t, int32(6), hits.Load(), "initial request plus five followed redirects")
}

func TestGet_RedirectToPrivateAddressIsBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://169.254.169.254/latest/meta-data/", http.StatusFound)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.DenyPrivateIPs = true
	f := fetcher.New(cfg, fetcher.WithTransport(pinnedTransport(server.Listener.Addr().String())))

	_, err := f.Get(context.Background(), "http://public.example.com/start")
	require.Error(t, err)

	kind, ok := entity.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, entity.KindFetchError, kind)
	assert.True(t, errors.Is(err, entity.ErrBlockedHost), "the redirect rejection must be preserved as the cause")
}

func TestGet_RedirectToFileSchemeIsBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "file:///etc/passwd")
		w.WriteHeader(http.StatusMovedPermanently)
	}))
	defer server.Close()

	_, err := fetcher.New(testConfig()).Get(context.Background(), server.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, entity.ErrFetch))
}

func TestGet_HTTPError(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{name: "not found", status: http.StatusNotFound},
		{name: "forbidden", status: http.StatusForbidden},
		{name: "server error", status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := fetcher.New(testConfig()).Get(context.Background(), server.URL)
			require.Error(t, err)

			var pe *entity.PreviewError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, entity.KindFetchError, pe.Kind)
			assert.Equal(t, tt.status, pe.UpstreamStatus)
			assert.Equal(t, http.StatusBadRequest, pe.Status)
		})
	}
}

func TestGet_DefaultConfigDoesNotRetry(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`<title>ok</title>`))
	}))
	defer server.Close()

	cfg := fetcher.DefaultConfig()
	cfg.DenyPrivateIPs = false
	cfg.RequestsPerSecond = 0
	f := fetcher.New(cfg)

	_, err := f.Get(context.Background(), server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrFetch)
	assert.Equal(t, int32(1), hits.Load())

	// 次のリクエストで改めて取得する
	page, err := f.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Contains(t, page.HTML, "ok")
	assert.Equal(t, int32(2), hits.Load())
}

func TestGet_RetriesServerErrorsWhenEnabled(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`<title>ok</title>`))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.RetryAttempts = 2
	f := fetcher.New(cfg, fetcher.WithRetryConfig(retry.Config{
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1,
	}))

	page, err := f.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Contains(t, page.HTML, "ok")
	assert.Equal(t, int32(2), hits.Load())
}

func TestGet_BodyTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 4096)))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.MaxBodySize = 1024
	_, err := fetcher.New(cfg).Get(context.Background(), server.URL)

	require.Error(t, err)
	assert.True(t, errors.Is(err, fetcher.ErrBodyTooLarge))
	assert.True(t, errors.Is(err, entity.ErrFetch))
}

func TestGet_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Timeout = 100 * time.Millisecond
	_, err := fetcher.New(cfg).Get(context.Background(), server.URL)

	require.Error(t, err)
	assert.True(t, errors.Is(err, fetcher.ErrTimeout))
}

func TestGet_InvalidURL(t *testing.T) {
	f := fetcher.New(fetcher.DefaultConfig())

	tests := []struct {
		name string
		url  string
		want entity.ErrorKind
	}{
		{name: "ftp scheme", url: "ftp://example.com/file", want: entity.KindInvalidScheme},
		{name: "loopback", url: "http://127.0.0.1/", want: entity.KindBlockedHost},
		{name: "private", url: "http://192.168.0.10/", want: entity.KindPrivateIPBlocked},
		{name: "no host", url: "http:///path", want: entity.KindInvalidURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Get(context.Background(), tt.url)
			kind, ok := entity.KindOf(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, tt.want, kind)
		})
	}
}

func TestGet_CircuitBreakerOpensPerHost(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	f := fetcher.New(testConfig(), fetcher.WithBreakerConfig(func(host string) circuitbreaker.Config {
		cfg := circuitbreaker.PageFetchConfig(host)
		cfg.MinRequests = 3
		cfg.FailureThreshold = 1.0
		return cfg
	}))

	for i := 0; i < 3; i++ {
		_, err := f.Get(context.Background(), server.URL)
		require.Error(t, err)
	}
	before := hits.Load()

	_, err := f.Get(context.Background(), server.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, circuitbreaker.ErrOpenState))
	assert.Contains(t, err.Error(), "temporarily unavailable")
	assert.Equal(t, before, hits.Load(), "no request may reach the host while its circuit is open")
}

func TestGet_NotFoundDoesNotOpenCircuit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := fetcher.New(testConfig(), fetcher.WithBreakerConfig(func(host string) circuitbreaker.Config {
		cfg := circuitbreaker.PageFetchConfig(host)
		cfg.MinRequests = 1
		cfg.FailureThreshold = 0.1
		return cfg
	}))

	for i := 0; i < 5; i++ {
		_, err := f.Get(context.Background(), server.URL)
		require.Error(t, err)
		assert.False(t, errors.Is(err, circuitbreaker.ErrOpenState), "request %d", i)
	}
}

func TestGet_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := fetcher.New(testConfig()).Get(ctx, server.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, entity.ErrFetch))
}
