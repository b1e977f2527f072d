// Package store persists fitted model snapshots.
package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/copyleftdev/surrogate/internal/config"
	"github.com/copyleftdev/surrogate/internal/optimization/bayesian"
)

// Model is a stored snapshot with its metadata.
type Model struct {
	ID        string             `json:"id"`
	Name      string             `json:"name,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	Snapshot  *bayesian.Snapshot `json:"snapshot"`
}

// Info summarizes a stored model without its training rows.
type Info struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Kernel    string    `json:"kernel"`
	Rows      int       `json:"rows"`
	Dim       int       `json:"dim"`
}

// Info summarizes m.
func (m *Model) Info() Info {
	return Info{
		ID:        m.ID,
		Name:      m.Name,
		CreatedAt: m.CreatedAt,
		Kernel:    m.Snapshot.Kernel.Type,
		Rows:      len(m.Snapshot.Rows),
		Dim:       m.Snapshot.Dim,
	}
}

// Store saves and loads model snapshots. Implementations are safe for
// concurrent use. Get returns an independent copy.
type Store interface {
	// Put inserts or replaces the model with m.ID.
	Put(ctx context.Context, m *Model) error
	Get(ctx context.Context, id string) (*Model, error)
	Delete(ctx context.Context, id string) error
	// List returns every model, oldest first.
	List(ctx context.Context) ([]Info, error)
	Close() error
}

// New opens the store selected by cfg.
func New(cfg config.Database) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(cfg.DSN, cfg.MaxConns)
	}
	return nil, errors.Newf("unknown database type %q", cfg.Type)
}

func validate(m *Model) error {
	if m == nil || m.ID == "" {
		return errors.New("model id is required")
	}
	if m.Snapshot == nil {
		return errors.Newf("model %s has no snapshot", m.ID)
	}
	return nil
}
