package record

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hour int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(hour) * time.Hour)
}

func rec(hour int, temp float64) WeatherRecord {
	return WeatherRecord{Timestamp: at(hour), Temperature: Float(temp)}
}

func TestMerge_DedupLastWriteWins(t *testing.T) {
	existing := []WeatherRecord{rec(0, 1), rec(1, 2), rec(2, 3)}
	fetched := []WeatherRecord{rec(2, 30), rec(3, 4)}

	merged := Merge(existing, fetched)

	require.Len(t, merged, 4)
	assert.True(t, IsSorted(merged))
	assert.Equal(t, 30.0, *merged[2].Temperature, "later fetch must win")
	assert.Equal(t, 3.0, *existing[2].Temperature, "inputs must not be modified")
}

func TestMerge_SameInstantDifferentZones(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	existing := []WeatherRecord{{Timestamp: at(5), Temperature: Float(1)}}
	fetched := []WeatherRecord{{Timestamp: at(5).In(est), Temperature: Float(2)}}

	merged := Merge(existing, fetched)

	require.Len(t, merged, 1)
	assert.Equal(t, 2.0, *merged[0].Temperature)
}

func TestMerge_LaterSetWinsAcrossSets(t *testing.T) {
	first := []WeatherRecord{rec(1, 10)}
	second := []WeatherRecord{rec(1, 20)}

	merged := Merge(nil, first, second)

	require.Len(t, merged, 1)
	assert.Equal(t, 20.0, *merged[0].Temperature)
}

func TestMerge_EmptyFetchReturnsExistingSorted(t *testing.T) {
	existing := []WeatherRecord{rec(3, 3), rec(1, 1), rec(2, 2)}

	merged := Merge(existing, nil)

	require.Len(t, merged, 3)
	assert.True(t, IsSorted(merged))
	assert.Equal(t, at(1), merged[0].Timestamp)
}

func TestMerge_Idempotent(t *testing.T) {
	existing := []WeatherRecord{rec(0, 1), rec(1, 2)}
	fetched := []WeatherRecord{rec(1, 5), rec(2, 6)}

	once := Merge(existing, fetched)
	twice := Merge(once, fetched)

	assert.Equal(t, once, twice)
}

func TestLast(t *testing.T) {
	_, ok := Last(nil)
	assert.False(t, ok)

	last, ok := Last([]WeatherRecord{rec(4, 0), rec(9, 0), rec(2, 0)})
	assert.True(t, ok)
	assert.Equal(t, at(9), last)
}

func TestParsePage_DayArray(t *testing.T) {
	body := []byte(`[
		{"date": "2024-01-01", "hourly": [
			{"timestamp": "2024-01-01T00:00:00-05:00", "temperature": 6.5, "humidity": 70,
			 "wind_speed": 0, "precipitation": 0, "pressure": 1009.7},
			{"timestamp": "2024-01-01T01:00:00-05:00", "temperature": 6.3, "humidity": 75,
			 "wind_speed": 1.2, "precipitation_accumulated": 0.1, "pressure": 1008.2, "icon": "rain"}
		]},
		{"date": "2024-01-02", "hourly": []}
	]`)

	records, err := ParsePage(body)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, 6.5, *records[0].Temperature)
	assert.Equal(t, 0.0, *records[0].WindSpeed)
	assert.Equal(t, 0.1, *records[1].Precipitation, "falls back to precipitation_accumulated")
	assert.True(t, records[0].Timestamp.Equal(time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)))
}

func TestParsePage_RecordsObject(t *testing.T) {
	body := []byte(`{"records": [{"hourly": [{"timestamp": "2024-01-01T00:00:00Z", "temperature": 1}]}]}`)

	records, err := ParsePage(body)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1.0, *records[0].Temperature)
}

func TestParsePage_MissingFieldsBecomeNil(t *testing.T) {
	body := []byte(`[{"hourly": [
		{"timestamp": "2024-01-01T00:00:00Z", "temperature": null, "humidity": "71", "pressure": "n/a"},
		{"temperature": 4},
		{"timestamp": "not-a-time", "temperature": 4}
	]}]`)

	records, err := ParsePage(body)
	require.NoError(t, err)
	require.Len(t, records, 1, "entries without a usable timestamp are dropped")

	r := records[0]
	assert.Nil(t, r.Temperature)
	assert.Nil(t, r.WindSpeed)
	assert.Nil(t, r.Pressure)
	require.NotNil(t, r.Humidity)
	assert.Equal(t, 71.0, *r.Humidity)
}

func TestParsePage_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty", body: ""},
		{name: "scalar", body: `42`},
		{name: "object without records", body: `{"error": "nope"}`},
		{name: "broken json", body: `[{"hourly": [`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePage([]byte(tt.body))
			if !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("ParsePage(%q) error = %v, want ErrMalformedResponse", tt.body, err)
			}
		})
	}
}

func TestParsePage_EmptyArray(t *testing.T) {
	records, err := ParsePage([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSummarize(t *testing.T) {
	records := []WeatherRecord{
		{Timestamp: at(0), Temperature: Float(2), Precipitation: Float(0.5)},
		{Timestamp: at(1), Temperature: nil, Precipitation: Float(1.5)},
		{Timestamp: at(2), Temperature: Float(6)},
	}

	s := Summarize(records)

	assert.Equal(t, 3, s.Records)
	assert.Equal(t, at(0), s.First)
	assert.Equal(t, at(2), s.Last)
	assert.Equal(t, 4.0, *s.AvgTemperature)
	assert.Equal(t, 2.0, *s.MinTemperature)
	assert.Equal(t, 6.0, *s.MaxTemperature)
	assert.InDelta(t, 2.0, s.TotalPrecipitation, 1e-9)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, 0, s.Records)
	assert.Nil(t, s.AvgTemperature)
}
