package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/wxm-history/pkg/record"
)

// CSVStore keeps records in one CSV file with record.Columns as header.
// Timestamps are written in UTC RFC3339 with fractional seconds when
// present; empty cells are missing values.
type CSVStore struct {
	Path string
}

// NewCSVStore returns a store for path.
func NewCSVStore(path string) *CSVStore {
	return &CSVStore{Path: path}
}

var _ Store = (*CSVStore)(nil)

// Load reads the file. A missing file is an empty set.
func (s *CSVStore) Load(ctx context.Context) ([]record.WeatherRecord, error) {
	f, err := os.Open(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.Path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(record.Columns)

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if err := checkHeader(header); err != nil {
		return nil, err
	}

	var records []record.WeatherRecord
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", s.Path, err)
		}

		rec, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", s.Path, line, err)
		}
		records = append(records, rec)
	}

	return record.Merge(records), nil
}

// Save replaces the file atomically with records.
func (s *CSVStore) Save(ctx context.Context, records []record.WeatherRecord) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.Path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(record.Columns); err != nil {
		tmp.Close()
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			tmp.Close()
			return err
		}
		if err := w.Write(formatRow(r)); err != nil {
			tmp.Close()
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("replace %s: %w", s.Path, err)
	}
	return nil
}

func checkHeader(header []string) error {
	for i, col := range record.Columns {
		if !strings.EqualFold(strings.TrimSpace(header[i]), col) {
			return fmt.Errorf("%w: column %d is %q, want %q", ErrInvalidHeader, i+1, header[i], col)
		}
	}
	return nil
}

func formatRow(r record.WeatherRecord) []string {
	return []string{
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		formatValue(r.Temperature),
		formatValue(r.Humidity),
		formatValue(r.WindSpeed),
		formatValue(r.Precipitation),
		formatValue(r.Pressure),
	}
}

func formatValue(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func parseRow(row []string) (record.WeatherRecord, error) {
	ts, err := record.ParseTimestamp(strings.TrimSpace(row[0]))
	if err != nil {
		return record.WeatherRecord{}, err
	}

	values := make([]*float64, len(row)-1)
	for i, cell := range row[1:] {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return record.WeatherRecord{}, fmt.Errorf("column %s: %w", record.Columns[i+1], err)
		}
		values[i] = record.Float(v)
	}

	return record.WeatherRecord{
		Timestamp:     ts,
		Temperature:   values[0],
		Humidity:      values[1],
		WindSpeed:     values[2],
		Precipitation: values[3],
		Pressure:      values[4],
	}, nil
}
