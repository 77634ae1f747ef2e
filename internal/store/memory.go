package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/i474232898/cvc-collector/internal/speed"
)

var (
	// ErrNotFound is returned when no points are available for a given station.
	ErrNotFound = errors.New("no points for station")

	// ErrNoDatabase is returned when writing to a database that was never ensured.
	ErrNoDatabase = errors.New("database does not exist")
)

// PointHistory holds the points written for one station, in write order.
type PointHistory struct {
	Points []speed.Point
}

// MemoryStore is a concurrency-safe in-memory implementation of speed.Store.
// It backs dry runs and tests.
type MemoryStore struct {
	mu sync.RWMutex

	// key: database, then station slug
	data map[string]map[string]*PointHistory

	// retention: max number of points per station (0 = unlimited)
	maxHistory int
}

// NewMemoryStore creates a new MemoryStore.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]map[string]*PointHistory),
		maxHistory: maxHistory,
	}
}

// EnsureDatabase creates the database if it does not exist yet.
func (s *MemoryStore) EnsureDatabase(_ context.Context, name string) error {
	if name == "" {
		return errors.New("database name is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[name]; !ok {
		s.data[name] = make(map[string]*PointHistory)
	}
	return nil
}

// WritePoints appends points to their stations' histories and enforces retention.
func (s *MemoryStore) WritePoints(_ context.Context, database string, points []speed.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stations, ok := s.data[database]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoDatabase, database)
	}

	for _, p := range points {
		history, ok := stations[p.StationID]
		if !ok {
			history = &PointHistory{}
			stations[p.StationID] = history
		}
		history.Points = append(history.Points, p)

		// Enforce retention by count.
		if s.maxHistory > 0 && len(history.Points) > s.maxHistory {
			over := len(history.Points) - s.maxHistory
			history.Points = history.Points[over:]
		}
	}
	return nil
}

// Count returns how many points are held for a station.
func (s *MemoryStore) Count(database, station string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[database][station]
	if !ok {
		return 0
	}
	return len(history.Points)
}

// GetLatest returns the most recently written point for a station.
func (s *MemoryStore) GetLatest(database, station string) (speed.Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[database][station]
	if !ok || len(history.Points) == 0 {
		return speed.Point{}, ErrNotFound
	}
	return history.Points[len(history.Points)-1], nil
}

// GetRange returns all points for a station between from and to (inclusive), in write order.
func (s *MemoryStore) GetRange(database, station string, from, to time.Time) ([]speed.Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[database][station]
	if !ok || len(history.Points) == 0 {
		return nil, ErrNotFound
	}

	var result []speed.Point
	for _, p := range history.Points {
		if !p.Time.Before(from) && !p.Time.After(to) {
			result = append(result, p)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}

// Close is a no-op; it lets MemoryStore stand in wherever a closable store is expected.
func (s *MemoryStore) Close() {}
