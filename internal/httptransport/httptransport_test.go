package httptransport_test

import (
	"bytes"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jp-673/isktreon/internal/httptransport"
)

func captureLog(t *testing.T, level slog.Level) *bytes.Buffer {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	old := slog.SetLogLoggerLevel(level)
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		slog.SetLogLoggerLevel(old)
	})
	return &buf
}

func TestClient(t *testing.T) {
	t.Run("should set user agent", func(t *testing.T) {
		// given
		var got string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.Header.Get("User-Agent")
		}))
		defer srv.Close()
		c := httptransport.New(httptransport.Params{UserAgent: "isktreon-test"})
		// when
		r, err := c.Get(srv.URL)
		// then
		require.NoError(t, err)
		r.Body.Close()
		assert.Equal(t, "isktreon-test", got)
	})
	t.Run("should retry on 502", func(t *testing.T) {
		// given
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Write([]byte("ok"))
		}))
		defer srv.Close()
		c := httptransport.New(httptransport.Params{MaxRetries: 2})
		// when
		r, err := c.Get(srv.URL)
		// then
		require.NoError(t, err)
		defer r.Body.Close()
		assert.Equal(t, http.StatusOK, r.StatusCode)
		assert.EqualValues(t, 2, calls.Load())
	})
	t.Run("should not retry when disabled", func(t *testing.T) {
		// given
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()
		c := httptransport.New(httptransport.Params{MaxRetries: -1})
		// when
		_, err := c.Get(srv.URL)
		// then
		assert.Error(t, err)
		assert.EqualValues(t, 1, calls.Load())
	})
	t.Run("should return client errors without retrying", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()
		c := httptransport.New(httptransport.Params{})
		r, err := c.Get(srv.URL)
		require.NoError(t, err)
		r.Body.Close()
		assert.Equal(t, http.StatusNotFound, r.StatusCode)
		assert.EqualValues(t, 1, calls.Load())
	})
	t.Run("should serve cacheable responses from cache", func(t *testing.T) {
		// given
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Header().Set("Cache-Control", "max-age=3600")
			w.Write([]byte("alpha"))
		}))
		defer srv.Close()
		c := httptransport.New(httptransport.Params{Cache: true, Timeout: 5 * time.Second})
		// when
		for range 2 {
			r, err := c.Get(srv.URL)
			require.NoError(t, err)
			b, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			r.Body.Close()
			assert.Equal(t, "alpha", string(b))
		}
		// then
		assert.EqualValues(t, 1, calls.Load())
	})
}

func TestLogging(t *testing.T) {
	t.Run("should log response details when log level is DEBUG", func(t *testing.T) {
		// given
		buf := captureLog(t, slog.LevelDebug)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("dummy", "alpha")
			w.Write([]byte("orange"))
		}))
		defer srv.Close()
		c := httptransport.New(httptransport.Params{})
		// when
		r, err := c.Get(srv.URL)
		// then
		require.NoError(t, err)
		r.Body.Close()
		assert.Regexp(t, `DEBUG HTTP response method=GET .*status="200 OK".*Dummy:\[alpha\].*body=orange`, buf.String())
	})
	t.Run("should not log response details when log level is INFO and no HTTP error", func(t *testing.T) {
		buf := captureLog(t, slog.LevelInfo)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("orange"))
		}))
		defer srv.Close()
		c := httptransport.New(httptransport.Params{})
		r, err := c.Get(srv.URL)
		require.NoError(t, err)
		r.Body.Close()
		assert.NotContains(t, buf.String(), "HTTP response")
	})
	t.Run("should log warning with body for HTTP errors", func(t *testing.T) {
		buf := captureLog(t, slog.LevelInfo)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("missing"))
		}))
		defer srv.Close()
		c := httptransport.New(httptransport.Params{})
		r, err := c.Get(srv.URL)
		require.NoError(t, err)
		r.Body.Close()
		assert.Regexp(t, `WARN HTTP response method=GET .*status="404 Not Found" body=missing`, buf.String())
	})
	t.Run("should redact response body for token URL", func(t *testing.T) {
		// given
		buf := captureLog(t, slog.LevelDebug)
		mux := http.NewServeMux()
		mux.HandleFunc("/v2/oauth/token", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"secret-token"}`))
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()
		c := httptransport.New(httptransport.Params{RedactedURLs: []string{httptransport.TokenURLSuffix}})
		// when
		r, err := c.Post(srv.URL+"/v2/oauth/token", "application/x-www-form-urlencoded", nil)
		// then
		require.NoError(t, err)
		b, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		r.Body.Close()
		assert.Contains(t, string(b), "secret-token")
		assert.NotContains(t, buf.String(), "secret-token")
		assert.Contains(t, buf.String(), "redacted:true")
	})
	t.Run("should redact response body for configured token URL", func(t *testing.T) {
		// given
		buf := captureLog(t, slog.LevelDebug)
		mux := http.NewServeMux()
		mux.HandleFunc("/sso/token", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"secret-token"}`))
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()
		tokenURL := srv.URL + "/sso/token"
		c := httptransport.New(httptransport.Params{RedactedURLs: []string{httptransport.TokenURLSuffix, tokenURL}})
		// when
		r, err := c.Post(tokenURL, "application/x-www-form-urlencoded", nil)
		// then
		require.NoError(t, err)
		r.Body.Close()
		assert.NotContains(t, buf.String(), "secret-token")
		assert.Contains(t, buf.String(), "redacted:true")
	})
	t.Run("should not redact everything when a redacted URL is empty", func(t *testing.T) {
		// given
		buf := captureLog(t, slog.LevelDebug)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("public"))
		}))
		defer srv.Close()
		c := httptransport.New(httptransport.Params{RedactedURLs: []string{""}})
		// when
		r, err := c.Get(srv.URL)
		// then
		require.NoError(t, err)
		r.Body.Close()
		assert.Contains(t, buf.String(), "body=public")
	})
	t.Run("should never log authorization headers", func(t *testing.T) {
		buf := captureLog(t, slog.LevelDebug)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer srv.Close()
		c := httptransport.New(httptransport.Params{})
		req, err := http.NewRequest("GET", srv.URL, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer secret-token")
		r, err := c.Do(req)
		require.NoError(t, err)
		r.Body.Close()
		assert.NotContains(t, buf.String(), "secret-token")
		assert.Contains(t, buf.String(), "Authorization:[REDACTED]")
	})
}
