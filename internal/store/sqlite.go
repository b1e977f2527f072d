package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	apperrors "github.com/copyleftdev/surrogate/internal/errors"
	"github.com/copyleftdev/surrogate/internal/optimization/bayesian"
)

const schema = `
CREATE TABLE IF NOT EXISTS models (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	kernel     TEXT NOT NULL,
	rows       INTEGER NOT NULL,
	dim        INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	snapshot   BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_models_created ON models(created_at, id);
`

// SQLite stores snapshots as JSON blobs in a SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed creates) the database at dsn.
func OpenSQLite(dsn string, maxConns int) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening sqlite")
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating schema")
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Put(ctx context.Context, m *Model) error {
	if err := validate(m); err != nil {
		return err
	}
	b, err := bayesian.MarshalSnapshot(m.Snapshot)
	if err != nil {
		return err
	}
	info := m.Info()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO models (id, name, kernel, rows, dim, created_at, snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kernel = excluded.kernel,
			rows = excluded.rows,
			dim = excluded.dim,
			created_at = excluded.created_at,
			snapshot = excluded.snapshot`,
		info.ID, info.Name, info.Kernel, info.Rows, info.Dim, info.CreatedAt.UnixNano(), b)
	return errors.Wrapf(err, "saving model %s", m.ID)
}

func (s *SQLite) Get(ctx context.Context, id string) (*Model, error) {
	var (
		m       = Model{ID: id}
		created int64
		blob    []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT name, created_at, snapshot FROM models WHERE id = ?`, id,
	).Scan(&m.Name, &created, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(apperrors.ErrNotFound, "model %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading model %s", id)
	}

	if m.Snapshot, err = bayesian.UnmarshalSnapshot(blob); err != nil {
		return nil, err
	}
	m.CreatedAt = time.Unix(0, created).UTC()
	return &m, nil
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM models WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "deleting model %s", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(apperrors.ErrNotFound, "model %s", id)
	}
	return nil
}

func (s *SQLite) List(ctx context.Context) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, kernel, rows, dim, created_at FROM models ORDER BY created_at, id`)
	if err != nil {
		return nil, errors.Wrap(err, "listing models")
	}
	defer rows.Close()

	out := []Info{}
	for rows.Next() {
		var (
			info    Info
			created int64
		)
		if err := rows.Scan(&info.ID, &info.Name, &info.Kernel, &info.Rows, &info.Dim, &created); err != nil {
			return nil, errors.Wrap(err, "scanning model")
		}
		info.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, info)
	}
	return out, errors.Wrap(rows.Err(), "listing models")
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
