// Package gormstorage implements storage.Backend on GORM. It is used for both
// the sqlite and postgres storage types; the dialect comes with the injected DB.
package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eternity-ar/arcoord/internal/storage/kv"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionValue is one durable session entry, e.g. the cached device position.
type SessionValue struct {
	Key       string         `gorm:"primaryKey;size:191"`
	Value     datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time
}

// MetricCounter is one persisted counter total.
type MetricCounter struct {
	Counter string `gorm:"primaryKey;size:64"`
	Key     string `gorm:"primaryKey;size:191"`
	Value   int64  `gorm:"not null;default:0"`
}

// Models lists every table the backend migrates.
var Models = []any{&SessionValue{}, &MetricCounter{}}

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB     *gorm.DB
	Logger zerolog.Logger
}

// Backend implements storage.Backend using GORM.
type Backend struct {
	deps Dependencies
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	return &Backend{deps: deps}
}

// Init runs schema migration.
func (b *Backend) Init(ctx context.Context) error {
	if b.deps.DB == nil {
		return errors.New("gorm backend has no database")
	}
	b.deps.Logger.Info().Str("dialect", b.deps.DB.Name()).Msg("Migrating schema")
	if err := b.deps.DB.WithContext(ctx).AutoMigrate(Models...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	b.deps.Logger.Info().Msg("Database setup complete")
	return nil
}

// Close releases the underlying connection pool.
func (b *Backend) Close() error {
	if b.deps.DB == nil {
		return nil
	}
	sqlDB, err := b.deps.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	return sqlDB.Close()
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var row SessionValue
	err := b.deps.DB.WithContext(ctx).Where(&SessionValue{Key: key}).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return []byte(row.Value), true, nil
}

func (b *Backend) Set(ctx context.Context, key string, value []byte) error {
	if err := kv.Validate(value); err != nil {
		return err
	}
	row := SessionValue{Key: key, Value: datatypes.JSON(value), UpdatedAt: time.Now()}
	err := b.deps.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := b.deps.DB.WithContext(ctx).Where(&SessionValue{Key: key}).Delete(&SessionValue{}).Error; err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (b *Backend) IncrementCounter(ctx context.Context, counter, key string, delta int64) (int64, error) {
	var total int64
	err := b.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "counter"}, {Name: "key"}},
			DoUpdates: clause.Assignments(map[string]any{
				"value": gorm.Expr("metric_counters.value + excluded.value"),
			}),
		}).Create(&MetricCounter{Counter: counter, Key: key, Value: delta}).Error
		if err != nil {
			return err
		}
		var row MetricCounter
		if err := tx.Where(&MetricCounter{Counter: counter, Key: key}).Take(&row).Error; err != nil {
			return err
		}
		total = row.Value
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment %s/%s: %w", counter, key, err)
	}
	return total, nil
}

func (b *Backend) Counters(ctx context.Context, counter string) (map[string]int64, error) {
	var rows []MetricCounter
	if err := b.deps.DB.WithContext(ctx).Where(&MetricCounter{Counter: counter}).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("counters %s: %w", counter, err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}
