package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/wxm-history/pkg/record"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const upsertBatchSize = 500

// RecordModel is the database row of one hourly observation.
type RecordModel struct {
	DeviceID      string    `gorm:"primaryKey;size:64"`
	Timestamp     time.Time `gorm:"primaryKey"`
	Temperature   *float64
	Humidity      *float64
	WindSpeed     *float64
	Precipitation *float64
	Pressure      *float64
	UpdatedAt     time.Time
}

// TableName implements gorm's tabler.
func (RecordModel) TableName() string {
	return "weather_records"
}

// SQLStore keeps records of one device in a SQL table.
type SQLStore struct {
	db       *gorm.DB
	deviceID string
}

var _ Store = (*SQLStore)(nil)

// Open connects to dsn and migrates the schema. postgres:// URLs and
// key=value DSNs containing host= use Postgres; anything else is a SQLite path.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(dialector(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&RecordModel{}); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func dialector(dsn string) gorm.Dialector {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"), strings.Contains(dsn, "host="):
		return postgres.Open(dsn)
	default:
		return sqlite.Open(strings.TrimPrefix(dsn, "sqlite://"))
	}
}

// NewSQLStore returns a store for deviceID on db.
func NewSQLStore(db *gorm.DB, deviceID string) *SQLStore {
	return &SQLStore{db: db, deviceID: deviceID}
}

// Load returns the device's records ascending by timestamp.
func (s *SQLStore) Load(ctx context.Context) ([]record.WeatherRecord, error) {
	var models []RecordModel
	result := s.db.WithContext(ctx).
		Where("device_id = ?", s.deviceID).
		Order("timestamp asc").
		Find(&models)
	if result.Error != nil {
		return nil, fmt.Errorf("load records: %w", result.Error)
	}

	records := make([]record.WeatherRecord, len(models))
	for i, m := range models {
		records[i] = m.toRecord()
	}
	return records, nil
}

// Save upserts records keyed by (device, timestamp).
func (s *SQLStore) Save(ctx context.Context, records []record.WeatherRecord) error {
	if len(records) == 0 {
		return nil
	}

	models := make([]RecordModel, len(records))
	for i, r := range records {
		models[i] = s.toModel(r)
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(&models, upsertBatchSize)
	if result.Error != nil {
		return fmt.Errorf("upsert records: %w", result.Error)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLStore) toModel(r record.WeatherRecord) RecordModel {
	return RecordModel{
		DeviceID:      s.deviceID,
		Timestamp:     r.Timestamp.UTC(),
		Temperature:   r.Temperature,
		Humidity:      r.Humidity,
		WindSpeed:     r.WindSpeed,
		Precipitation: r.Precipitation,
		Pressure:      r.Pressure,
	}
}

func (m RecordModel) toRecord() record.WeatherRecord {
	return record.WeatherRecord{
		Timestamp:     m.Timestamp.UTC(),
		Temperature:   m.Temperature,
		Humidity:      m.Humidity,
		WindSpeed:     m.WindSpeed,
		Precipitation: m.Precipitation,
		Pressure:      m.Pressure,
	}
}
