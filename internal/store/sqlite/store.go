package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/MrSnakeDoc/hubcache/internal/domain"
	"github.com/MrSnakeDoc/hubcache/internal/logger"
)

// DBFileName is the name of the database file inside the data directory.
const DBFileName = "hub.db"

// insertBatchSize bounds the rows per INSERT statement.
const insertBatchSize = 100

// Store is the local copy of the service catalog.
type Store struct {
	db     *gorm.DB
	path   string
	logger logger.Logger
}

// Open creates dir if needed and opens (or creates) the database inside it.
//
// Write transactions start with BEGIN IMMEDIATE (_txlock=immediate) so a
// replace takes the write lock up front; WAL lets readers keep reading the
// last committed dataset while a replace is in flight.
func Open(ctx context.Context, dir string, log logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, DBFileName)
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite at %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sqlite db instance: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&serviceRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate service table: %w", err)
	}

	log.Info("local store opened", logger.String("path", path))

	return &Store{db: db, path: path, logger: log}, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SelectByAlias returns the service registered under alias, or nil.
func (s *Store) SelectByAlias(ctx context.Context, alias string) (*domain.StoredService, error) {
	return s.take(ctx, s.db.WithContext(ctx).Where("alias = ?", alias))
}

// SelectByOwnerAndName returns the service owner/name, or nil.
func (s *Store) SelectByOwnerAndName(ctx context.Context, owner, name string) (*domain.StoredService, error) {
	return s.take(ctx, s.db.WithContext(ctx).Where("username = ? AND name = ?", owner, name))
}

func (s *Store) take(_ context.Context, q *gorm.DB) (*domain.StoredService, error) {
	var row serviceRow
	if err := q.Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to select service: %w", domain.ErrStoreFailure, err)
	}
	return row.toStored(), nil
}

// Names returns, per stored service in insertion order, its alias (when set)
// followed by "owner/name".
func (s *Store) Names(ctx context.Context) ([]string, error) {
	var rows []serviceRow
	err := s.db.WithContext(ctx).
		Select("name", "alias", "username").
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list service names: %w", domain.ErrStoreFailure, err)
	}

	names := make([]string, 0, len(rows)*2)
	for _, r := range rows {
		if r.Alias != nil && *r.Alias != "" {
			names = append(names, *r.Alias)
		}
		names = append(names, domain.QualifiedName(r.Username, r.Name))
	}
	return names, nil
}

// Count returns the number of stored services.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&serviceRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("%w: failed to count services: %w", domain.ErrStoreFailure, err)
	}
	return n, nil
}

// ReplaceAll deletes every stored service and inserts payloads, in one
// transaction. On error nothing is committed and the previous dataset stays.
func (s *Store) ReplaceAll(ctx context.Context, payloads []domain.ServicePayload) error {
	rows := make([]serviceRow, 0, len(payloads))
	for _, p := range payloads {
		stored, err := domain.NewStoredService(p)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrStoreFailure, err)
		}
		rows = append(rows, rowFromStored(stored))
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&serviceRow{}).Error; err != nil {
			return fmt.Errorf("failed to delete services: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(&rows, insertBatchSize).Error; err != nil {
			return fmt.Errorf("failed to insert services: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreFailure, err)
	}

	s.logger.Debug("local store replaced", logger.Int("count", len(rows)))
	return nil
}

// Payloads returns the raw payload of every stored service in insertion order.
func (s *Store) Payloads(ctx context.Context) ([]domain.ServicePayload, error) {
	var rows []serviceRow
	if err := s.db.WithContext(ctx).Select("raw_data").Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: failed to read payloads: %w", domain.ErrStoreFailure, err)
	}

	payloads := make([]domain.ServicePayload, 0, len(rows))
	for _, r := range rows {
		p, err := domain.ParsePayload([]byte(r.RawData))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrStoreFailure, err)
		}
		payloads = append(payloads, p)
	}
	return payloads, nil
}
