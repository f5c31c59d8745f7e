// Package units converts canonical record values (°C, m/s, mm, hPa) into
// the units a user asked to see. Records are always stored canonical.
package units

import (
	"fmt"

	"github.com/Sternrassler/wxm-history/pkg/record"
)

const (
	msToMph = 2.2369362921
	mmPerIn = 25.4
)

// Temperature units.
const (
	Celsius    = "C"
	Fahrenheit = "F"
)

// Wind speed units.
const (
	MetersPerSecond = "m/s"
	MilesPerHour    = "mph"
)

// Precipitation units.
const (
	Millimeters = "mm"
	Inches      = "in"
)

// Pressure units.
const (
	Hectopascal = "hPa"
	Millibar    = "mb"
)

// Units selects the display unit per quantity.
type Units struct {
	Temperature   string `json:"temp_unit"`
	WindSpeed     string `json:"wind_unit"`
	Precipitation string `json:"precip_unit"`
	Pressure      string `json:"pressure_unit"`
}

// Canonical returns the storage units.
func Canonical() Units {
	return Units{
		Temperature:   Celsius,
		WindSpeed:     MetersPerSecond,
		Precipitation: Millimeters,
		Pressure:      Hectopascal,
	}
}

// Validate rejects unknown unit names.
func (u Units) Validate() error {
	switch u.Temperature {
	case Celsius, Fahrenheit:
	default:
		return fmt.Errorf("unknown temperature unit %q", u.Temperature)
	}
	switch u.WindSpeed {
	case MetersPerSecond, MilesPerHour:
	default:
		return fmt.Errorf("unknown wind unit %q", u.WindSpeed)
	}
	switch u.Precipitation {
	case Millimeters, Inches:
	default:
		return fmt.Errorf("unknown precipitation unit %q", u.Precipitation)
	}
	switch u.Pressure {
	case Hectopascal, Millibar:
	default:
		return fmt.Errorf("unknown pressure unit %q", u.Pressure)
	}
	return nil
}

// ConvertTemperature converts v between "C" and "F".
// Returns v unchanged if from == to or if the units are unrecognised.
func ConvertTemperature(v float64, from, to string) float64 {
	switch {
	case from == to:
		return v
	case from == Celsius && to == Fahrenheit:
		return v*9/5 + 32
	case from == Fahrenheit && to == Celsius:
		return (v - 32) * 5 / 9
	}
	return v
}

// ConvertWindSpeed converts v between "m/s" and "mph".
func ConvertWindSpeed(v float64, from, to string) float64 {
	switch {
	case from == to:
		return v
	case from == MetersPerSecond && to == MilesPerHour:
		return v * msToMph
	case from == MilesPerHour && to == MetersPerSecond:
		return v / msToMph
	}
	return v
}

// ConvertPrecipitation converts v between "mm" and "in".
func ConvertPrecipitation(v float64, from, to string) float64 {
	switch {
	case from == to:
		return v
	case from == Millimeters && to == Inches:
		return v / mmPerIn
	case from == Inches && to == Millimeters:
		return v * mmPerIn
	}
	return v
}

// ConvertPressure converts v between "hPa" and "mb". The two are equal;
// only the label differs.
func ConvertPressure(v float64, _, _ string) float64 {
	return v
}

// Apply returns a copy of r with every value converted from canonical units
// to u. Nil values stay nil.
func Apply(r record.WeatherRecord, u Units) record.WeatherRecord {
	c := Canonical()
	out := record.WeatherRecord{Timestamp: r.Timestamp}
	out.Temperature = convert(r.Temperature, func(v float64) float64 {
		return ConvertTemperature(v, c.Temperature, u.Temperature)
	})
	out.Humidity = convert(r.Humidity, func(v float64) float64 { return v })
	out.WindSpeed = convert(r.WindSpeed, func(v float64) float64 {
		return ConvertWindSpeed(v, c.WindSpeed, u.WindSpeed)
	})
	out.Precipitation = convert(r.Precipitation, func(v float64) float64 {
		return ConvertPrecipitation(v, c.Precipitation, u.Precipitation)
	})
	out.Pressure = convert(r.Pressure, func(v float64) float64 {
		return ConvertPressure(v, c.Pressure, u.Pressure)
	})
	return out
}

// Labels returns column headers annotated with the units, in record.Columns order.
func (u Units) Labels() []string {
	return []string{
		"Timestamp",
		"Temperature (°" + u.Temperature + ")",
		"Humidity (%)",
		"Wind Speed (" + u.WindSpeed + ")",
		"Precipitation (" + u.Precipitation + ")",
		"Pressure (" + u.Pressure + ")",
	}
}

func convert(v *float64, fn func(float64) float64) *float64 {
	if v == nil {
		return nil
	}
	return record.Float(fn(*v))
}
