// Package store persists merged record sets.
//
// CSVStore is the primary store the pipeline reads existing records from.
// SQLStore mirrors the same contract on a database. ExcelWriter and
// RawWriter are export only.
package store

import (
	"context"
	"errors"

	"github.com/Sternrassler/wxm-history/pkg/record"
)

// Default file names inside the output directory.
const (
	DefaultCSVName   = "weather_data.csv"
	DefaultExcelName = "weather_data.xlsx"
	DefaultRawDir    = "raw"
)

// ErrInvalidHeader is returned when a CSV file does not start with the
// expected column header.
var ErrInvalidHeader = errors.New("store: unexpected csv header")

// Store loads and saves a full record set.
type Store interface {
	// Load returns every persisted record, ascending by timestamp.
	// A store that does not exist yet yields an empty set.
	Load(ctx context.Context) ([]record.WeatherRecord, error)

	// Save persists records. Existing rows with the same timestamp are replaced.
	Save(ctx context.Context, records []record.WeatherRecord) error
}
