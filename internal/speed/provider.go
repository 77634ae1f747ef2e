package speed

import (
	"context"
	"iter"
)

// Source abstracts the upstream CVC graph feed. Fetch issues one request per
// window and yields the decoded day payloads of each successful response.
// A yielded error ends the sequence.
type Source interface {
	Fetch(ctx context.Context, windows iter.Seq[QueryWindow], stations []string) iter.Seq2[[]DayPayload, error]
}

// Store is the contract the InfluxDB store (and the in-memory store) must satisfy.
type Store interface {
	EnsureDatabase(ctx context.Context, name string) error
	WritePoints(ctx context.Context, database string, points []Point) error
}

// Recorder receives collector observations. It is implemented by the metrics package.
type Recorder interface {
	PointsWritten(station string, n int)
	CycleFinished(report CycleReport, err error)
}

type nopRecorder struct{}

func (nopRecorder) PointsWritten(string, int) {}
func (nopRecorder) CycleFinished(CycleReport, error) {}
