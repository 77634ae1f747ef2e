package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/i474232898/cvc-collector/internal/speed"
)

const (
	// DefaultBaseURL is the public CVC graph endpoint.
	DefaultBaseURL = "http://akashabyronbay.com/abbcvcs/"

	// DefaultDelay is the pause after every request.
	DefaultDelay = time.Second
)

// ClientConfig holds the settings for a Client.
type ClientConfig struct {
	HTTPClient *http.Client
	BaseURL    string
	Delay      time.Duration
	UserAgent  string
	Recorder   RequestRecorder
	Logger     *slog.Logger
}

// Client implements speed.Source against the Aussie Broadband CVC graphs.
type Client struct {
	name       string
	baseURL    string
	delay      time.Duration
	userAgent  string
	httpClient *http.Client
	recorder   RequestRecorder
	wait       WaitFunc
	logger     *slog.Logger
}

// Option configures optional Client behaviour.
type Option func(*Client)

// WithWaitFunc replaces the delay between requests. Tests use it to avoid
// real sleeps.
func WithWaitFunc(fn WaitFunc) Option {
	return func(c *Client) {
		c.wait = fn
	}
}

// NewClient creates a Client. Zero values in cfg fall back to the defaults.
func NewClient(cfg ClientConfig, opts ...Option) *Client {
	c := &Client{
		name:       "akashabyronbay",
		baseURL:    cfg.BaseURL,
		delay:      cfg.Delay,
		userAgent:  cfg.UserAgent,
		httpClient: cfg.HTTPClient,
		recorder:   cfg.Recorder,
		wait:       contextWait,
		logger:     cfg.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.delay <= 0 {
		c.delay = DefaultDelay
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.recorder == nil {
		c.recorder = nopRecorder{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name identifies the source in logs.
func (c *Client) Name() string {
	return c.name
}

// Fetch requests every window in order and yields the day payloads of each
// successful response. A window answered with a non-2xx status is skipped.
// Transport and decoding failures are yielded as errors and end the sequence.
// Every completed request is followed by the configured delay.
func (c *Client) Fetch(ctx context.Context, windows iter.Seq[speed.QueryWindow], stations []string) iter.Seq2[[]speed.DayPayload, error] {
	return func(yield func([]speed.DayPayload, error) bool) {
		for w := range windows {
			batch, ok, err := c.fetchWindow(ctx, w, stations)
			if err != nil {
				yield(nil, err)
				return
			}
			if ok && !yield(batch, nil) {
				return
			}

			if err := c.wait(ctx, c.delay); err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

func (c *Client) fetchWindow(ctx context.Context, w speed.QueryWindow, stations []string) ([]speed.DayPayload, bool, error) {
	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("cvcs[]", strings.Join(stations, ","))
		values.Set("numberofdays", strconv.Itoa(w.SpanDays))
		values.Set("priortodate", w.PriorTo())
		values.Set("json", "")

		u := fmt.Sprintf("%s?%s", c.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := doRequest(ctx, c.httpClient, c.userAgent, buildRequest)
	if err != nil {
		c.recorder.SourceRequest(OutcomeError)
		return nil, false, fmt.Errorf("request window priortodate=%s: %w", w.PriorTo(), err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		c.recorder.SourceRequest(OutcomeSkipped)
		c.logger.WarnContext(ctx, "source: skipping window",
			"source", c.name,
			"priortodate", w.PriorTo(),
			"numberofdays", w.SpanDays,
			"error", err,
		)
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, false, nil
	}

	var payload []speed.DayPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.recorder.SourceRequest(OutcomeError)
		return nil, false, fmt.Errorf("decode window priortodate=%s: %w", w.PriorTo(), err)
	}

	c.recorder.SourceRequest(OutcomeOK)
	c.logger.DebugContext(ctx, "source: window fetched",
		"priortodate", w.PriorTo(),
		"numberofdays", w.SpanDays,
		"payloads", len(payload),
	)
	return payload, true, nil
}
