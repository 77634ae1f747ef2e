package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Request outcomes reported to a RequestRecorder.
const (
	OutcomeOK      = "ok"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// RequestRecorder receives one observation per upstream request.
type RequestRecorder interface {
	SourceRequest(outcome string)
}

// WaitFunc blocks for d, returning early with an error if ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

var (
	errUnexpected   = errors.New("unexpected status code")
	errNoHTTPClient = errors.New("http client not configured")
)

type nopRecorder struct{}

func (nopRecorder) SourceRequest(string) {}

// doRequest executes a single request. There are no retries: a failed window
// is the caller's decision to skip or abort.
func doRequest(
	ctx context.Context,
	client *http.Client,
	userAgent string,
	buildRequest func() (*http.Request, error),
) (*http.Response, error) {
	if client == nil {
		return nil, errNoHTTPClient
	}

	req, err := buildRequest()
	if err != nil {
		return nil, err
	}

	// Ensure the request obeys context cancellation.
	req = req.WithContext(ctx)
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	req.Header.Set("Accept", "application/json")

	return client.Do(req)
}

// checkStatus reports any non-2xx response as errUnexpected.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %d", errUnexpected, resp.StatusCode)
	}
	return nil
}

// contextWait is the default WaitFunc.
func contextWait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
