package speed

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // payload timezones are IANA names
)

var (
	ErrInvalidDate     = errors.New("invalid payload date")
	ErrInvalidTimezone = errors.New("invalid payload timezone")
)

var dateLayouts = []string{"2006-01-02", "2006.01.02", "2006/01/02"}

var offsetLayouts = []string{"-07:00", "-0700", "-07"}

// MapPayload turns one day payload into points spaced SampleInterval apart
// from local midnight. Download and upload samples are paired by index; when
// the two series differ in length only the overlap is mapped. A null sample
// leaves that field unset on the point.
func MapPayload(p DayPayload) ([]Point, error) {
	base, err := Midnight(p.Date, p.Timezone)
	if err != nil {
		return nil, err
	}

	n := min(len(p.Download), len(p.Upload))
	points := make([]Point, 0, n)
	for i := 0; i < n; i++ {
		points = append(points, Point{
			Measurement: Measurement,
			StationID:   p.Slug,
			Time:        base.Add(time.Duration(i) * SampleInterval),
			Upload:      sample(p.Upload[i]),
			Download:    sample(p.Download[i]),
			Capacity:    p.Capacity,
		})
	}
	return points, nil
}

// sample copies a reading so points never share memory with the payload.
func sample(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

// Midnight returns 00:00 of date in the given timezone. The timezone may be
// an IANA name or a numeric UTC offset.
func Midnight(date, timezone string) (time.Time, error) {
	loc, err := location(timezone)
	if err != nil {
		return time.Time{}, err
	}

	date = strings.TrimSpace(date)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, date, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
}

func location(timezone string) (*time.Location, error) {
	tz := strings.TrimSpace(timezone)
	switch tz {
	case "":
		return nil, fmt.Errorf("%w: empty", ErrInvalidTimezone)
	case "Z", "z":
		return time.UTC, nil
	}

	if strings.HasPrefix(tz, "+") || strings.HasPrefix(tz, "-") {
		for _, layout := range offsetLayouts {
			if t, err := time.Parse(layout, tz); err == nil {
				_, offset := t.Zone()
				return time.FixedZone(tz, offset), nil
			}
		}
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, tz)
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTimezone, tz, err)
	}
	return loc, nil
}
