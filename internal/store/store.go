// Package store provides storage backends for Palabra.
//
// It holds the per-phone-number learner profile and the two append-only
// vocabulary logs (learned and suggested). An in-memory store backs tests and
// DSN-less runs; SQLStore persists to SQLite or PostgreSQL.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/BTreeMap/Palabra/internal/models"
)

// Error variables returned by Store implementations.
var (
	// ErrNotFound is returned when the user record does not exist.
	ErrNotFound = errors.New("user not found")
	// ErrStageConflict is returned when an update's ExpectStage does not match the stored stage.
	ErrStageConflict = errors.New("stored onboarding stage does not match expected stage")
	// ErrStageRegression is returned when an update would move the stage backwards.
	ErrStageRegression = errors.New("onboarding stage cannot move backwards")
)

// Store is the durable gateway for learner state. All methods may fail.
type Store interface {
	DedupRepo

	// GetOrCreateUser returns the profile for phone, creating a NOT_STARTED record if absent.
	GetOrCreateUser(ctx context.Context, phone string) (*models.UserProfile, error)
	// UpdateUser applies a partial update. See ErrNotFound, ErrStageConflict, ErrStageRegression.
	UpdateUser(ctx context.Context, phone string, update models.ProfileUpdate) error
	// AppendLearned records a learned term. It returns false if the pair already exists.
	AppendLearned(ctx context.Context, phone, term string) (bool, error)
	// AppendSuggested records a suggestion batch.
	AppendSuggested(ctx context.Context, phone, text string) error
	// ListLearned returns learned terms in insertion order.
	ListLearned(ctx context.Context, phone string) ([]string, error)
	// ListSuggested returns suggestion batches in insertion order.
	ListSuggested(ctx context.Context, phone string) ([]string, error)
	// DeleteUser removes the profile and both vocabulary logs.
	DeleteUser(ctx context.Context, phone string) error
	// ListCompletedUsers returns every profile that finished onboarding.
	ListCompletedUsers(ctx context.Context) ([]models.UserProfile, error)
	// Close releases backend resources.
	Close() error
}

// Opts holds configuration for the SQL stores.
type Opts struct {
	DSN    string
	Driver string // "sqlite3" or "postgres"
}

// Option defines a configuration option for the store.
type Option func(*Opts)

// WithSQLiteDSN selects the SQLite backend with the given database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = DriverSQLite
	}
}

// WithPostgresDSN selects the PostgreSQL backend with the given connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = DriverPostgres
	}
}

// Driver names as registered with database/sql.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// DetectDSNType returns DriverPostgres for PostgreSQL URLs or key/value DSNs
// and DriverSQLite for anything else.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DriverPostgres
	}
	if strings.HasPrefix(dsn, "file:") {
		return DriverSQLite
	}
	for _, key := range []string{"host=", "dbname=", "user="} {
		if strings.Contains(dsn, key) {
			return DriverPostgres
		}
	}
	return DriverSQLite
}

// Open builds the store described by opts. With no DSN it returns an InMemoryStore.
func Open(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		return NewInMemoryStore(), nil
	case cfg.Driver == DriverPostgres:
		return NewPostgresStore(opts...)
	default:
		return NewSQLiteStore(opts...)
	}
}
