package domain

import (
	"sort"
	"time"
)

const dateLayout = "2006-01-02"

// GroupByDay buckets slot start times by calendar date in each timestamp's own
// offset. Dates and the times within a date are ascending.
func GroupByDay(starts []time.Time) []DaySlots {
	byDate := make(map[string][]time.Time)
	for _, t := range starts {
		key := t.Format(dateLayout)
		byDate[key] = append(byDate[key], t)
	}

	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	out := make([]DaySlots, 0, len(dates))
	for _, d := range dates {
		times := byDate[d]
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
		out = append(out, DaySlots{Date: d, Times: times})
	}
	return out
}

// HasAvailability reports whether at least one day carries a slot.
func (o AvailabilityOffer) HasAvailability() bool {
	for _, d := range o.Availability {
		if len(d.Times) > 0 {
			return true
		}
	}
	return false
}
