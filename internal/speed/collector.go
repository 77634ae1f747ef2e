package speed

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CollectorConfig holds the dependencies and settings for a Collector.
type CollectorConfig struct {
	Source       Source
	Store        Store
	Recorder     Recorder
	Database     string
	Stations     []string
	LookbackDays int
	Now          func() time.Time
	Logger       *slog.Logger
}

// Collector runs ingestion cycles: windows -> source -> points -> store.
type Collector struct {
	source       Source
	store        Store
	recorder     Recorder
	database     string
	stations     []string
	lookbackDays int
	now          func() time.Time
	logger       *slog.Logger

	mu      sync.RWMutex
	status  map[string]*StationStatus
	last    *CycleReport
	lastErr error
	cycles  int
}

// NewCollector creates a new Collector.
func NewCollector(cfg CollectorConfig) *Collector {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	status := make(map[string]*StationStatus, len(cfg.Stations))
	for _, slug := range cfg.Stations {
		status[slug] = &StationStatus{Slug: slug}
	}

	return &Collector{
		source:       cfg.Source,
		store:        cfg.Store,
		recorder:     recorder,
		database:     cfg.Database,
		stations:     cfg.Stations,
		lookbackDays: cfg.LookbackDays,
		now:          now,
		logger:       logger,
		status:       status,
	}
}

// Prepare makes sure the target database exists. It is safe to call more than once.
func (c *Collector) Prepare(ctx context.Context) error {
	if err := c.store.EnsureDatabase(ctx, c.database); err != nil {
		return fmt.Errorf("ensure database %q: %w", c.database, err)
	}
	c.logger.InfoContext(ctx, "database ready", "database", c.database)
	return nil
}

// RunCycle walks the full lookback window once, writing each day's points
// to the store as soon as they are mapped. The first fetch, mapping or store
// error aborts the cycle and is returned.
func (c *Collector) RunCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{ID: uuid.New(), Started: c.now()}
	logger := c.logger.With("cycle", report.ID.String())

	logger.InfoContext(ctx, "cycle started",
		"stations", c.stations,
		"lookback_days", c.lookbackDays,
	)

	windows := func(yield func(QueryWindow) bool) {
		for w := range GenerateWindows(report.Started, c.lookbackDays) {
			report.Windows++
			if !yield(w) {
				return
			}
		}
	}

	err := c.ingest(ctx, logger, windows, &report)
	report.Finished = c.now()
	c.finish(report, err)

	if err != nil {
		logger.ErrorContext(ctx, "cycle failed",
			"error", err,
			"points_before_error", report.Points,
		)
		return report, err
	}

	logger.InfoContext(ctx, "cycle complete",
		"windows", report.Windows,
		"batches", report.Batches,
		"payloads", report.Payloads,
		"points", report.Points,
		"duration", report.Duration().String(),
	)
	return report, nil
}

func (c *Collector) ingest(ctx context.Context, logger *slog.Logger, windows iter.Seq[QueryWindow], report *CycleReport) error {
	for batch, err := range c.source.Fetch(ctx, windows, c.stations) {
		if err != nil {
			return fmt.Errorf("fetch: %w", err)
		}
		report.Batches++

		for _, day := range batch {
			points, err := MapPayload(day)
			if err != nil {
				return fmt.Errorf("map payload slug=%s date=%s: %w", day.Slug, day.Date, err)
			}

			if len(points) > 0 {
				if err := c.store.WritePoints(ctx, c.database, points); err != nil {
					return fmt.Errorf("write points slug=%s date=%s: %w", day.Slug, day.Date, err)
				}
			}

			report.Payloads++
			report.Points += len(points)
			c.recordWrite(day.Slug, points)

			logger.InfoContext(ctx, fmt.Sprintf("wrote %d data points", len(points)),
				"cvc", day.Slug,
				"date", day.Date,
			)
		}
	}
	return nil
}

func (c *Collector) recordWrite(slug string, points []Point) {
	c.recorder.PointsWritten(slug, len(points))

	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.status[slug]
	if !ok {
		st = &StationStatus{Slug: slug}
		c.status[slug] = st
	}
	st.Points += len(points)
	st.LastWrite = c.now()
	for _, p := range points {
		if p.Time.After(st.LastPoint) {
			st.LastPoint = p.Time
		}
	}
}

func (c *Collector) finish(report CycleReport, err error) {
	c.recorder.CycleFinished(report, err)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cycles++
	c.last = &report
	c.lastErr = err
}

// Status is a point-in-time view of the collector for the status API.
type Status struct {
	Cycles       int             `json:"cycles"`
	LookbackDays int             `json:"lookbackDays"`
	Database     string          `json:"database"`
	LastCycle    *CycleReport    `json:"lastCycle,omitempty"`
	LastError    string          `json:"lastError,omitempty"`
	Stations     []StationStatus `json:"stations"`
}

// Status returns a copy of the collector's current state. Configured stations
// come first in configuration order, followed by any other slug the source
// returned.
func (c *Collector) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Status{
		Cycles:       c.cycles,
		LookbackDays: c.lookbackDays,
		Database:     c.database,
		Stations:     make([]StationStatus, 0, len(c.status)),
	}
	if c.last != nil {
		last := *c.last
		s.LastCycle = &last
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}

	seen := make(map[string]bool, len(c.stations))
	for _, slug := range c.stations {
		seen[slug] = true
		s.Stations = append(s.Stations, *c.status[slug])
	}
	var extra []string
	for slug := range c.status {
		if !seen[slug] {
			extra = append(extra, slug)
		}
	}
	sort.Strings(extra)
	for _, slug := range extra {
		s.Stations = append(s.Stations, *c.status[slug])
	}
	return s
}

// Station returns the status of one station and whether it is known.
func (c *Collector) Station(slug string) (StationStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st, ok := c.status[slug]
	if !ok {
		return StationStatus{}, false
	}
	return *st, true
}
