// Package httptransport provides the HTTP clients used for talking to EVE Online services.
//
// Clients retry on transient errors unless disabled and log their traffic with slog.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gohugoio/httpcache"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	maxRetriesDefault   = 3
	retryWaitMinDefault = 200 * time.Millisecond
	retryWaitMaxDefault = 2 * time.Second
	timeoutDefault      = 15 * time.Second
)

// TokenURLSuffix identifies the SSO token endpoint. Response bodies from it are never logged.
const TokenURLSuffix = "/v2/oauth/token"

// Params configures a new HTTP client.
type Params struct {
	// Cache enables in-memory caching of responses which allow it.
	Cache bool
	// MaxRetries is the maximum number of retries. A negative value disables retries.
	MaxRetries int
	// Response bodies of URLs containing one of these strings are redacted in logs.
	RedactedURLs []string
	// Timeout is the overall time limit of a request including all retries.
	Timeout time.Duration
	// Transport is the underlying transport. Defaults to [http.DefaultTransport].
	Transport http.RoundTripper
	// UserAgent is set on all requests which do not already specify one.
	UserAgent string
}

// New returns a new HTTP client configured according to arg.
func New(arg Params) *http.Client {
	rhc := retryablehttp.NewClient()
	rhc.Logger = slog.Default()
	rhc.RetryWaitMin = retryWaitMinDefault
	rhc.RetryWaitMax = retryWaitMaxDefault
	switch {
	case arg.MaxRetries < 0:
		rhc.RetryMax = 0
	case arg.MaxRetries == 0:
		rhc.RetryMax = maxRetriesDefault
	default:
		rhc.RetryMax = arg.MaxRetries
	}
	rhc.RequestLogHook = logRequest
	rhc.ResponseLogHook = newResponseLogger(arg.RedactedURLs)
	base := arg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	rhc.HTTPClient = &http.Client{
		Transport: userAgentTransport{base: base, userAgent: arg.UserAgent},
	}
	c := rhc.StandardClient()
	if arg.Cache {
		t := httpcache.NewMemoryCacheTransport()
		t.Transport = c.Transport
		t.MarkCachedResponses = true
		c.Transport = t
	}
	if arg.Timeout > 0 {
		c.Timeout = arg.Timeout
	} else {
		c.Timeout = timeoutDefault
	}
	return c
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent == "" || req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	req2 := req.Clone(req.Context())
	req2.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req2)
}
