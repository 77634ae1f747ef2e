package speed_test

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/cvc-collector/internal/speed"
	"github.com/i474232898/cvc-collector/internal/store"
)

// fakeSource answers each window from a map keyed by PriorTo and records the
// windows it was asked for.
type fakeSource struct {
	batches  map[string][]speed.DayPayload
	failAt   string
	err      error
	requests []speed.QueryWindow
}

func (f *fakeSource) Fetch(_ context.Context, windows iter.Seq[speed.QueryWindow], _ []string) iter.Seq2[[]speed.DayPayload, error] {
	return func(yield func([]speed.DayPayload, error) bool) {
		for w := range windows {
			f.requests = append(f.requests, w)
			if w.PriorTo() == f.failAt {
				yield(nil, f.err)
				return
			}
			batch, ok := f.batches[w.PriorTo()]
			if !ok {
				continue
			}
			if !yield(batch, nil) {
				return
			}
		}
	}
}

// recordingStore wraps a MemoryStore and keeps every write call in order.
type recordingStore struct {
	*store.MemoryStore
	writes   [][]speed.Point
	failSlug string
}

func (r *recordingStore) WritePoints(ctx context.Context, database string, points []speed.Point) error {
	if len(points) > 0 && points[0].StationID == r.failSlug {
		return errors.New("write rejected")
	}
	r.writes = append(r.writes, points)
	return r.MemoryStore.WritePoints(ctx, database, points)
}

type fakeRecorder struct {
	points  map[string]int
	reports []speed.CycleReport
	errs    []error
}

func (f *fakeRecorder) PointsWritten(station string, n int) {
	if f.points == nil {
		f.points = make(map[string]int)
	}
	f.points[station] += n
}

func (f *fakeRecorder) CycleFinished(report speed.CycleReport, err error) {
	f.reports = append(f.reports, report)
	f.errs = append(f.errs, err)
}

func payload(slug, date string, n int) speed.DayPayload {
	p := speed.DayPayload{Slug: slug, Date: date, Timezone: "UTC", Capacity: 1000}
	for i := 0; i < n; i++ {
		down, up := float64(50+i), float64(10+i)
		p.Download = append(p.Download, &down)
		p.Upload = append(p.Upload, &up)
	}
	return p
}

func fixedNow() time.Time {
	return time.Date(2023, 3, 1, 9, 30, 0, 0, time.UTC)
}

func newCollector(t *testing.T, src speed.Source, st speed.Store, rec speed.Recorder, lookback int) *speed.Collector {
	t.Helper()
	c := speed.NewCollector(speed.CollectorConfig{
		Source:       src,
		Store:        st,
		Recorder:     rec,
		Database:     "aussiebb",
		Stations:     []string{"station-A", "station-B"},
		LookbackDays: lookback,
		Now:          fixedNow,
	})
	require.NoError(t, c.Prepare(context.Background()))
	return c
}

func TestRunCycle_WritesEveryPayloadInWindowOrder(t *testing.T) {
	src := &fakeSource{batches: map[string][]speed.DayPayload{
		"2023.03.01": {payload("station-A", "2023-02-28", 2), payload("station-B", "2023-02-28", 3)},
		"2022.12.31": {payload("station-A", "2022-12-30", 1)},
	}}
	st := &recordingStore{MemoryStore: store.NewMemoryStore(0)}
	rec := &fakeRecorder{}
	c := newCollector(t, src, st, rec, 65)

	report, err := c.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, src.requests, 3)
	assert.Equal(t, "2023.03.01", src.requests[0].PriorTo())
	assert.Equal(t, "2023.01.30", src.requests[1].PriorTo())
	assert.Equal(t, "2022.12.31", src.requests[2].PriorTo())
	assert.Equal(t, 5, src.requests[2].SpanDays)

	// One write per payload, in the order the source returned them.
	require.Len(t, st.writes, 3)
	assert.Equal(t, "station-A", st.writes[0][0].StationID)
	assert.Equal(t, "station-B", st.writes[1][0].StationID)
	assert.Len(t, st.writes[1], 3)
	assert.Equal(t, "station-A", st.writes[2][0].StationID)

	assert.Equal(t, 3, report.Windows)
	assert.Equal(t, 2, report.Batches)
	assert.Equal(t, 3, report.Payloads)
	assert.Equal(t, 6, report.Points)
	assert.NotEqual(t, [16]byte{}, [16]byte(report.ID))

	assert.Equal(t, 3, st.Count("aussiebb", "station-A"))
	assert.Equal(t, 3, st.Count("aussiebb", "station-B"))

	assert.Equal(t, map[string]int{"station-A": 3, "station-B": 3}, rec.points)
	require.Len(t, rec.reports, 1)
	assert.NoError(t, rec.errs[0])

	status := c.Status()
	assert.Equal(t, 1, status.Cycles)
	assert.Empty(t, status.LastError)
	require.Len(t, status.Stations, 2)
	assert.Equal(t, "station-A", status.Stations[0].Slug)
	assert.Equal(t, 3, status.Stations[0].Points)
	assert.Equal(t, time.Date(2023, 2, 28, 0, 5, 0, 0, time.UTC), status.Stations[0].LastPoint)

	st2, ok := c.Station("station-B")
	require.True(t, ok)
	assert.Equal(t, 3, st2.Points)

	_, ok = c.Station("station-Z")
	assert.False(t, ok)
}

func TestRunCycle_SourceErrorStopsCycle(t *testing.T) {
	src := &fakeSource{
		batches: map[string][]speed.DayPayload{
			"2023.03.01": {payload("station-A", "2023-02-28", 2)},
			"2022.12.31": {payload("station-A", "2022-12-30", 2)},
		},
		failAt: "2023.01.30",
		err:    errors.New("decode window: unexpected EOF"),
	}
	st := &recordingStore{MemoryStore: store.NewMemoryStore(0)}
	rec := &fakeRecorder{}
	c := newCollector(t, src, st, rec, 65)

	report, err := c.RunCycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, src.err)

	// The first window was written before the failure; the third was never requested.
	assert.Len(t, src.requests, 2)
	assert.Len(t, st.writes, 1)
	assert.Equal(t, 2, report.Points)

	require.Len(t, rec.errs, 1)
	assert.Error(t, rec.errs[0])
	assert.NotEmpty(t, c.Status().LastError)
}

func TestRunCycle_MalformedPayloadIsFatal(t *testing.T) {
	bad := payload("station-B", "not-a-date", 2)
	src := &fakeSource{batches: map[string][]speed.DayPayload{
		"2023.03.01": {payload("station-A", "2023-02-28", 2), bad, payload("station-A", "2023-02-27", 2)},
	}}
	st := &recordingStore{MemoryStore: store.NewMemoryStore(0)}
	c := newCollector(t, src, st, nil, 10)

	_, err := c.RunCycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, speed.ErrInvalidDate)
	assert.Contains(t, err.Error(), "slug=station-B")
	assert.Len(t, st.writes, 1)
}

func TestRunCycle_StoreErrorIsFatal(t *testing.T) {
	src := &fakeSource{batches: map[string][]speed.DayPayload{
		"2023.03.01": {payload("station-A", "2023-02-28", 2), payload("station-B", "2023-02-28", 2)},
	}}
	st := &recordingStore{MemoryStore: store.NewMemoryStore(0), failSlug: "station-B"}
	c := newCollector(t, src, st, nil, 10)

	_, err := c.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write points slug=station-B")
	assert.Equal(t, 2, st.Count("aussiebb", "station-A"))
}

func TestRunCycle_SkippedWindowsWriteNothing(t *testing.T) {
	src := &fakeSource{batches: map[string][]speed.DayPayload{}}
	st := &recordingStore{MemoryStore: store.NewMemoryStore(0)}
	c := newCollector(t, src, st, nil, 45)

	report, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Windows)
	assert.Zero(t, report.Batches)
	assert.Zero(t, report.Points)
	assert.Empty(t, st.writes)
}

func TestPrepare_StoreFailure(t *testing.T) {
	c := speed.NewCollector(speed.CollectorConfig{
		Source: &fakeSource{},
		Store:  store.NewMemoryStore(0),
	})

	err := c.Prepare(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ensure database")
}
