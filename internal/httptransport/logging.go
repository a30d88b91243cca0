package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	headerContentTypeKey  = "Content-Type"
	headerContentTypeJSON = "application/json"
	redacted              = "REDACTED"
)

// logRequest logs the details of every request attempt when log level is DEBUG.
// Authorization headers are never logged.
func logRequest(_ retryablehttp.Logger, req *http.Request, attempt int) {
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	h := req.Header.Clone()
	if h.Get("Authorization") != "" {
		h.Set("Authorization", redacted)
	}
	slog.Debug("HTTP request", "method", req.Method, "url", req.URL, "attempt", attempt, "header", h)
}

// newResponseLogger returns a callback for retryablehttp.
// It logs all HTTP errors and also the complete response when log level is DEBUG.
func newResponseLogger(redactedURLs []string) retryablehttp.ResponseLogHook {
	return func(_ retryablehttp.Logger, r *http.Response) {
		isDebug := slog.Default().Enabled(context.Background(), slog.LevelDebug)
		isHTTPError := r.StatusCode >= 400
		if !isDebug && !isHTTPError {
			return
		}
		var level slog.Level
		if isHTTPError {
			level = slog.LevelWarn
		} else {
			level = slog.LevelDebug
		}
		data, err := extractBodyForLog(r, redactedURLs)
		if err != nil {
			slog.Error("Failed to extract response body", "error", err)
			data = nil
		}
		args := []any{
			"method", r.Request.Method,
			"url", r.Request.URL,
			"status", statusText(r),
		}
		if isDebug {
			args = append(args, "header", r.Header)
		}
		args = append(args, "body", data)
		slog.Log(context.Background(), level, "HTTP response", args...)
	}
}

func extractBodyForLog(r *http.Response, redactedURLs []string) (any, error) {
	var parts []string
	for s := range strings.SplitSeq(r.Header.Get(headerContentTypeKey), ";") {
		parts = append(parts, strings.TrimSpace(s))
	}
	isJSON := slices.Contains(parts, headerContentTypeJSON)
	if r.Request != nil && isRedacted(r.Request.URL.String(), redactedURLs) {
		if !isJSON {
			return redacted, nil
		}
		return map[string]bool{"redacted": true}, nil
	}
	body, err := copyResponseBody(r)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	if !isJSON {
		return string(body), nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func isRedacted(url string, redactedURLs []string) bool {
	return slices.ContainsFunc(redactedURLs, func(x string) bool {
		return x != "" && strings.Contains(url, x)
	})
}

// copyResponseBody returns a copy of the response body r. It preserves the body.
func copyResponseBody(r *http.Response) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body))
	return body, nil
}

// statusText returns the status code of a response with adding information.
func statusText(r *http.Response) string {
	var s string
	if r.StatusCode == 420 {
		s = "Error Limited"
	} else {
		s = http.StatusText(r.StatusCode)
	}
	return fmt.Sprintf("%d %s", r.StatusCode, s)
}
