package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	ihttp "github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"

	"github.com/i474232898/cvc-collector/internal/common"
	"github.com/i474232898/cvc-collector/internal/speed"
)

// InfluxConfig holds the connection settings for an InfluxStore.
type InfluxConfig struct {
	URL     string
	Token   string
	Org     string
	Timeout time.Duration
	Logger  *slog.Logger
}

// InfluxStore writes points to InfluxDB 2.x. A database maps to a bucket in
// the configured organization.
type InfluxStore struct {
	client influxdb2.Client
	org    string
	logger *slog.Logger

	mu      sync.Mutex
	writers map[string]api.WriteAPIBlocking
}

// NewInfluxStore creates a client for the given server. It does not contact
// the server; call Ping to verify connectivity.
func NewInfluxStore(cfg InfluxConfig) *InfluxStore {
	opts := influxdb2.DefaultOptions()
	if cfg.Timeout > 0 {
		opts.SetHTTPRequestTimeout(uint(cfg.Timeout.Seconds()))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &InfluxStore{
		client:  influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts),
		org:     cfg.Org,
		logger:  logger,
		writers: make(map[string]api.WriteAPIBlocking),
	}
}

// Ping checks the server's health endpoint.
func (s *InfluxStore) Ping(ctx context.Context) error {
	health, err := s.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("influxdb health: %w", err)
	}
	if health.Status != domain.HealthCheckStatusPass {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("influxdb health check failed: %s %s", health.Status, msg)
	}

	s.logger.Info("connected to influxdb", "url", s.client.ServerURL())
	return nil
}

// EnsureDatabase creates the bucket if it does not already exist.
func (s *InfluxStore) EnsureDatabase(ctx context.Context, name string) error {
	buckets := s.client.BucketsAPI()

	_, err := buckets.FindBucketByName(ctx, name)
	if err == nil {
		s.logger.InfoContext(ctx, "bucket already exists", "bucket", name)
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("find bucket %q: %w", name, err)
	}

	org, err := s.client.OrganizationsAPI().FindOrganizationByName(ctx, s.org)
	if err != nil {
		return fmt.Errorf("find organization %q: %w", s.org, err)
	}
	if org == nil {
		return fmt.Errorf("organization %q not found", s.org)
	}

	if _, err := buckets.CreateBucketWithName(ctx, org, name); err != nil {
		return fmt.Errorf("create bucket %q: %w", name, err)
	}

	s.logger.InfoContext(ctx, "bucket created", "bucket", name, "org", s.org)
	return nil
}

// WritePoints writes points to the database in a single blocking request.
func (s *InfluxStore) WritePoints(ctx context.Context, database string, points []speed.Point) error {
	if len(points) == 0 {
		return nil
	}

	batch := make([]*write.Point, 0, len(points))
	for _, p := range points {
		batch = append(batch, influxdb2.NewPoint(p.Measurement, p.Tags(), p.Fields(), p.Time))
	}

	if err := s.writer(database).WritePoint(ctx, batch...); err != nil {
		return fmt.Errorf("error writing to InfluxDB: %w", err)
	}
	return nil
}

// Close releases the client's resources.
func (s *InfluxStore) Close() {
	s.client.Close()
}

func (s *InfluxStore) writer(database string) api.WriteAPIBlocking {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.writers[database]
	if !ok {
		w = s.client.WriteAPIBlocking(s.org, database)
		s.writers[database] = w
	}
	return w
}

func isNotFound(err error) bool {
	var httpErr *ihttp.Error
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
		return true
	}
	return common.HasAny(strings.ToLower(err.Error()), "not found")
}
