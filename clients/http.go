package clients

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	xerrors "github.com/vidmod/vidmod-api/errors"
	"github.com/vidmod/vidmod-api/metrics"
)

const maxErrorBodyBytes = 2000

func newRetryableClient(timeout time.Duration) *http.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: timeout}
	return client.StandardClient()
}

// observeExternalCall records how long one call to an external backend took.
func observeExternalCall(service string, start time.Time) {
	metrics.Metrics.ExternalCallDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())
}

// checkStatus translates a non-2xx response into the service error taxonomy
// so callers can decide between retrying and failing.
func checkStatus(resp *http.Response, service string) error {
	if resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	msg := fmt.Sprintf("%s returned %d: %s", service, resp.StatusCode, string(body))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return xerrors.RateLimited(msg, nil)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return xerrors.InputError(msg, nil)
	default:
		return xerrors.Backend(msg, nil)
	}
}

// stripMarkdownFences unwraps JSON that an analyzer model emitted inside a
// ```json code block.
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, "```json"); idx >= 0 {
		s = s[idx+len("```json"):]
	} else if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
	} else {
		return s
	}
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
