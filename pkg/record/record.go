// Package record defines the flat hourly observation and the operations
// that build, merge and summarize record sets.
package record

import (
	"sort"
	"time"
)

// Column order of every tabular export.
var Columns = []string{"Timestamp", "Temperature", "Humidity", "Wind Speed", "Precipitation", "Pressure"}

// WeatherRecord is one hourly observation in canonical units
// (°C, %, m/s, mm, hPa). A nil field means the station did not report it.
type WeatherRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	Temperature   *float64  `json:"temperature"`
	Humidity      *float64  `json:"humidity"`
	WindSpeed     *float64  `json:"wind_speed"`
	Precipitation *float64  `json:"precipitation"`
	Pressure      *float64  `json:"pressure"`
}

// Float returns a pointer to v. Handy for building records in code and tests.
func Float(v float64) *float64 {
	return &v
}

// Merge returns the union of existing and every fetched set, keyed by
// timestamp instant and sorted ascending. On duplicates the later set wins,
// and within a set the later element wins. Inputs are not modified.
func Merge(existing []WeatherRecord, fetched ...[]WeatherRecord) []WeatherRecord {
	total := len(existing)
	for _, f := range fetched {
		total += len(f)
	}

	index := make(map[int64]int, total)
	merged := make([]WeatherRecord, 0, total)

	add := func(r WeatherRecord) {
		key := r.Timestamp.UnixNano()
		if i, ok := index[key]; ok {
			merged[i] = r
			return
		}
		index[key] = len(merged)
		merged = append(merged, r)
	}

	for _, r := range existing {
		add(r)
	}
	for _, f := range fetched {
		for _, r := range f {
			add(r)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return merged
}

// Last returns the newest timestamp in records.
func Last(records []WeatherRecord) (time.Time, bool) {
	if len(records) == 0 {
		return time.Time{}, false
	}
	last := records[0].Timestamp
	for _, r := range records[1:] {
		if r.Timestamp.After(last) {
			last = r.Timestamp
		}
	}
	return last, true
}

// IsSorted reports whether records are strictly ascending by timestamp,
// which also implies unique timestamps.
func IsSorted(records []WeatherRecord) bool {
	for i := 1; i < len(records); i++ {
		if !records[i-1].Timestamp.Before(records[i].Timestamp) {
			return false
		}
	}
	return true
}
