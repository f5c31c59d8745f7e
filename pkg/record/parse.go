package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrMalformedResponse is returned when a history page has an unrecognized
// top-level shape. Field-level gaps never produce this error.
var ErrMalformedResponse = errors.New("malformed history response")

// timestampLayouts are tried in order when parsing hourly timestamps.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z07:00",
}

// ParsePage flattens one history response body into records.
//
// Accepted shapes:
//
//	[ {"hourly": [ {...}, ... ]}, ... ]
//	{"records": [ {"hourly": [ ... ]}, ... ]}
//
// A day object without an "hourly" list but with its own timestamp is
// treated as a single observation. Entries without a parseable timestamp
// are dropped.
func ParsePage(body []byte) ([]WeatherRecord, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}

	var days []map[string]json.RawMessage
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &days); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	case '{':
		var wrapper struct {
			Records *[]map[string]json.RawMessage `json:"records"`
		}
		if err := json.Unmarshal(body, &wrapper); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if wrapper.Records == nil {
			return nil, fmt.Errorf("%w: object without records", ErrMalformedResponse)
		}
		days = *wrapper.Records
	default:
		return nil, fmt.Errorf("%w: unexpected %q", ErrMalformedResponse, body[0])
	}

	var out []WeatherRecord
	for _, day := range days {
		rawHourly, ok := day["hourly"]
		if !ok {
			if r, ok := parseHourly(day); ok {
				out = append(out, r)
			} else {
				log.Debug().Msg("Skipping day object without hourly data")
			}
			continue
		}

		var hourly []map[string]json.RawMessage
		if err := json.Unmarshal(rawHourly, &hourly); err != nil {
			log.Debug().Err(err).Msg("Skipping day object with unreadable hourly list")
			continue
		}
		for _, h := range hourly {
			r, ok := parseHourly(h)
			if !ok {
				log.Debug().Msg("Dropping hourly entry without timestamp")
				continue
			}
			out = append(out, r)
		}
	}

	return out, nil
}

func parseHourly(h map[string]json.RawMessage) (WeatherRecord, bool) {
	ts, ok := parseTimestamp(h["timestamp"])
	if !ok {
		return WeatherRecord{}, false
	}

	precip := number(h["precipitation"])
	if precip == nil {
		precip = number(h["precipitation_accumulated"])
	}

	return WeatherRecord{
		Timestamp:     ts,
		Temperature:   number(h["temperature"]),
		Humidity:      number(h["humidity"]),
		WindSpeed:     number(h["wind_speed"]),
		Precipitation: precip,
		Pressure:      number(h["pressure"]),
	}, true
}

// ParseTimestamp parses a timezone-aware timestamp in any accepted layout.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 {
		return time.Time{}, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, false
	}
	ts, err := ParseTimestamp(s)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// number decodes a JSON number or numeric string; anything else is nil.
func number(raw json.RawMessage) *float64 {
	if len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return &v
		}
	}
	return nil
}
