// Package store persists protocol snapshots and the event outbox.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pulse-cli/internal/config"
	"github.com/sells-group/pulse-cli/internal/model"
)

// UpdateFunc derives the next state from current, which is nil before the
// first write. Returning a nil snapshot leaves the stored state untouched.
type UpdateFunc func(current *model.Snapshot) (*model.Snapshot, []model.Event, error)

// Store defines the persistence interface for protocol state. Update and
// Commit are the only write paths for state and each applies atomically.
type Store interface {
	// LoadSnapshot returns the persisted state, or nil before the first
	// Commit.
	LoadSnapshot(ctx context.Context) (*model.Snapshot, error)

	// Commit replaces the persisted state with snap and appends events to
	// the outbox in the same transaction.
	Commit(ctx context.Context, snap *model.Snapshot, events []model.Event) error

	// Update loads the state, applies fn and writes the result while holding
	// the backend's write lock, so concurrent callers never overwrite each
	// other. An error from fn rolls everything back and is returned as is.
	Update(ctx context.Context, fn UpdateFunc) error

	// Outbox
	PendingEvents(ctx context.Context, limit int) ([]model.Event, error)
	MarkPublished(ctx context.Context, ids []string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the backend named by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "pulse.db"
		}
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	default:
		return nil, eris.Errorf("store: unsupported driver %q", cfg.Driver)
	}
}
