package speed

import (
	"time"

	"github.com/google/uuid"
)

const (
	// Measurement is the InfluxDB measurement every speed point is written to.
	Measurement = "aussiebb.speed"

	// StationTag is the tag key carrying the CVC slug.
	StationTag = "cvc"

	// MaxSpanDays is the largest numberofdays the upstream source answers in one request.
	MaxSpanDays = 30

	// SampleInterval is the spacing between samples inside one day payload.
	SampleInterval = 5 * time.Minute

	// PriorToLayout is the date format the upstream source expects for priortodate.
	PriorToLayout = "2006.01.02"
)

// QueryWindow is one bounded request to the upstream source: SpanDays days
// ending at Anchor.
type QueryWindow struct {
	Anchor   time.Time `json:"anchor"`
	SpanDays int       `json:"spanDays"`
}

// PriorTo renders the anchor date the way the source expects it.
func (w QueryWindow) PriorTo() string {
	return w.Anchor.Format(PriorToLayout)
}

// DayPayload is a single station's measurements for one local day, as
// returned by the upstream source. A nil sample is a gap the source reported
// as null.
type DayPayload struct {
	Slug     string     `json:"slug"`
	Date     string     `json:"date"`
	Timezone string     `json:"timezone"`
	Capacity float64    `json:"cvc"`
	Download []*float64 `json:"download"`
	Upload   []*float64 `json:"upload"`
}

// Point is a single speed sample ready to be handed to a Store. A nil Upload
// or Download means the source had no reading for that slot.
type Point struct {
	Measurement string    `json:"measurement"`
	StationID   string    `json:"stationId"`
	Time        time.Time `json:"time"`
	Upload      *float64  `json:"upload,omitempty"`
	Download    *float64  `json:"download,omitempty"`
	Capacity    float64   `json:"capacity"`
}

// Tags returns the point's tag set.
func (p Point) Tags() map[string]string {
	return map[string]string{StationTag: p.StationID}
}

// Fields returns the point's field set. Missing readings are left out
// rather than written as zero.
func (p Point) Fields() map[string]interface{} {
	fields := map[string]interface{}{
		"capacity": p.Capacity,
	}
	if p.Upload != nil {
		fields["upload"] = *p.Upload
	}
	if p.Download != nil {
		fields["download"] = *p.Download
	}
	return fields
}

// CycleReport summarises one ingestion cycle.
type CycleReport struct {
	ID       uuid.UUID `json:"id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Windows  int       `json:"windows"`
	Batches  int       `json:"batches"`
	Payloads int       `json:"payloads"`
	Points   int       `json:"points"`
}

// Duration is how long the cycle ran.
func (r CycleReport) Duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// StationStatus tracks what has been written for one configured CVC.
type StationStatus struct {
	Slug      string    `json:"slug"`
	Points    int       `json:"points"`
	LastPoint time.Time `json:"lastPoint,omitempty"`
	LastWrite time.Time `json:"lastWrite,omitempty"`
}
