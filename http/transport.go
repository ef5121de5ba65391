package http

import (
	"log/slog"
	"net/http"
)

// Transport is an http.RoundTripper that waits on a RateLimiter before each
// request and feeds 429 responses back into it.
type Transport struct {
	// Base is the underlying transport. Nil uses http.DefaultTransport.
	Base    http.RoundTripper
	Limiter *RateLimiter
	Logger  *slog.Logger
}

// NewClient returns an *http.Client whose requests are paced by limiter.
func NewClient(limiter *RateLimiter, logger *slog.Logger) *http.Client {
	return &http.Client{Transport: &Transport{Limiter: limiter, Logger: logger}}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	target := req.URL.String()
	if err := t.Limiter.Wait(req.Context(), target); err != nil {
		// RoundTrippers must close the body on every path.
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}

	resp, err := t.base().RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		t.Limiter.RecordThrottle(target)
		if t.Logger != nil {
			t.Logger.Warn("request throttled",
				"component", "http",
				"host", req.URL.Host,
				"limit_rps", t.Limiter.Limit(target))
		}
	} else {
		t.Limiter.RecordSuccess(target)
	}
	return resp, nil
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}
