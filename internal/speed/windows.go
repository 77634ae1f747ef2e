package speed

import (
	"iter"
	"time"
)

// GenerateWindows splits a lookback of lookbackDays ending at anchor into
// windows the upstream source will answer. Windows are produced most recent
// first, each anchored MaxSpanDays before the previous one, and the last one
// only spans the remaining days.
//
// The returned sequence is pure: ranging over it twice yields the same windows.
func GenerateWindows(anchor time.Time, lookbackDays int) iter.Seq[QueryWindow] {
	day := time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, anchor.Location())

	return func(yield func(QueryWindow) bool) {
		if lookbackDays <= MaxSpanDays {
			yield(QueryWindow{Anchor: day, SpanDays: lookbackDays})
			return
		}

		for offset := 0; offset < lookbackDays; offset += MaxSpanDays {
			w := QueryWindow{
				Anchor:   day.AddDate(0, 0, -offset),
				SpanDays: min(MaxSpanDays, lookbackDays-offset),
			}
			if !yield(w) {
				return
			}
		}
	}
}
