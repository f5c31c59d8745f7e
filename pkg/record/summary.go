package record

import "time"

// Summary describes a record set for logs and the CLI report.
type Summary struct {
	Records            int
	First              time.Time
	Last               time.Time
	AvgTemperature     *float64
	MinTemperature     *float64
	MaxTemperature     *float64
	TotalPrecipitation float64
}

// Summarize computes a Summary. Nil temperatures are ignored; a set with no
// temperature readings leaves the temperature fields nil.
func Summarize(records []WeatherRecord) Summary {
	s := Summary{Records: len(records)}
	if len(records) == 0 {
		return s
	}

	s.First = records[0].Timestamp
	s.Last = records[0].Timestamp

	var sum float64
	var n int
	for _, r := range records {
		if r.Timestamp.Before(s.First) {
			s.First = r.Timestamp
		}
		if r.Timestamp.After(s.Last) {
			s.Last = r.Timestamp
		}
		if r.Precipitation != nil {
			s.TotalPrecipitation += *r.Precipitation
		}
		if r.Temperature == nil {
			continue
		}
		t := *r.Temperature
		sum += t
		n++
		if s.MinTemperature == nil || t < *s.MinTemperature {
			s.MinTemperature = Float(t)
		}
		if s.MaxTemperature == nil || t > *s.MaxTemperature {
			s.MaxTemperature = Float(t)
		}
	}
	if n > 0 {
		s.AvgTemperature = Float(sum / float64(n))
	}
	return s
}
