package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/D10S0VSkY-OSS/kiboserve/internal/database"
	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNotFound is returned (wrapped) when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// DefaultListLimit is applied when a list call passes a non-positive limit.
const DefaultListLimit = 50

// txRetries bounds how often a transaction is replayed after a transient
// failure such as SQLITE_BUSY or a deadlock.
const txRetries = 3

// Transactor runs a transaction and replays it on transient failures.
// *database.PoolManager implements it.
type Transactor interface {
	WithTransactionRetry(ctx context.Context, maxRetries int, fn database.TransactionFunc) error
}

// Store is the gorm-backed persistence layer for every studio entity.
type Store struct {
	db     *gorm.DB
	txr    Transactor
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTransactor routes Transaction through t.
func WithTransactor(t Transactor) Option {
	return func(s *Store) { s.txr = t }
}

// New creates a Store on top of an opened gorm connection.
func New(db *gorm.DB, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		db:     db,
		logger: logger.With(zap.String("component", "studio_store")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Migrate creates or updates the tables of every entity.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(studio.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	s.logger.Info("studio schema migrated", zap.Int("tables", len(studio.Models())))
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Transaction runs fn with a Store bound to a single transaction. With a
// Transactor configured, fn may run more than once.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	body := func(tx *gorm.DB) error {
		return fn(&Store{db: tx, logger: s.logger})
	}
	if s.txr != nil {
		return s.txr.WithTransactionRetry(ctx, txRetries, body)
	}
	return s.db.WithContext(ctx).Transaction(body)
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// first loads one row by primary key, mapping gorm's not-found to ErrNotFound.
func first[T any](ctx context.Context, s *Store, what, column, id string) (*T, error) {
	var out T
	err := s.conn(ctx).Where(column+" = ?", id).Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", what, id, err)
	}
	return &out, nil
}

// deleteByID deletes one row by primary key and reports ErrNotFound when absent.
func deleteByID[T any](tx *gorm.DB, what, column, id string) error {
	res := tx.Where(column+" = ?", id).Delete(new(T))
	if res.Error != nil {
		return fmt.Errorf("delete %s %s: %w", what, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
