package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sternrassler/wxm-history/pkg/record"
	"github.com/Sternrassler/wxm-history/pkg/units"
	"github.com/xuri/excelize/v2"
)

// Sheet names of the workbook.
const (
	SheetWeather = "Weather"
	SheetDisplay = "Display"
	SheetSummary = "Summary"
)

// ExcelWriter exports records to an xlsx workbook: canonical values on the
// Weather sheet, values in the configured units on the Display sheet.
type ExcelWriter struct {
	Path  string
	Units units.Units
}

// NewExcelWriter returns a writer for path.
func NewExcelWriter(path string, u units.Units) *ExcelWriter {
	return &ExcelWriter{Path: path, Units: u}
}

// Write replaces the workbook with records.
func (w *ExcelWriter) Write(records []record.WeatherRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetWeather); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeSheet(f, SheetWeather, units.Canonical().Labels(), records, func(r record.WeatherRecord) record.WeatherRecord {
		return r
	}); err != nil {
		return err
	}

	if _, err := f.NewSheet(SheetDisplay); err != nil {
		return fmt.Errorf("create sheet %s: %w", SheetDisplay, err)
	}
	if err := writeSheet(f, SheetDisplay, w.Units.Labels(), records, func(r record.WeatherRecord) record.WeatherRecord {
		return units.Apply(r, w.Units)
	}); err != nil {
		return err
	}

	if _, err := f.NewSheet(SheetSummary); err != nil {
		return fmt.Errorf("create sheet %s: %w", SheetSummary, err)
	}
	if err := writeSummary(f, record.Summarize(records), w.Units); err != nil {
		return err
	}

	return saveWorkbook(f, w.Path)
}

func writeSheet(f *excelize.File, sheet string, header []string, records []record.WeatherRecord, conv func(record.WeatherRecord) record.WeatherRecord) error {
	row := make([]interface{}, len(header))
	for i, h := range header {
		row[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &row); err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}

	for i, r := range records {
		r = conv(r)
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []interface{}{
			r.Timestamp.UTC().Format(time.RFC3339),
			cellValue(r.Temperature),
			cellValue(r.Humidity),
			cellValue(r.WindSpeed),
			cellValue(r.Precipitation),
			cellValue(r.Pressure),
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+2, err)
		}
	}
	return nil
}

func writeSummary(f *excelize.File, s record.Summary, u units.Units) error {
	temp := func(v *float64) interface{} {
		if v == nil {
			return nil
		}
		return units.ConvertTemperature(*v, units.Celsius, u.Temperature)
	}

	rows := [][]interface{}{
		{"Records", s.Records},
		{"First", formatTime(s.First)},
		{"Last", formatTime(s.Last)},
		{"Average Temperature (°" + u.Temperature + ")", temp(s.AvgTemperature)},
		{"Min Temperature (°" + u.Temperature + ")", temp(s.MinTemperature)},
		{"Max Temperature (°" + u.Temperature + ")", temp(s.MaxTemperature)},
		{"Total Precipitation (" + u.Precipitation + ")", units.ConvertPrecipitation(s.TotalPrecipitation, units.Millimeters, u.Precipitation)},
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetSummary, cell, &rows[i]); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	return nil
}

func saveWorkbook(f *excelize.File, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	ext := filepath.Ext(path)
	tmp, err := os.CreateTemp(dir, "."+strings.TrimSuffix(filepath.Base(path), ext)+".*"+ext)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	if err := f.SaveAs(tmp.Name()); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func cellValue(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
