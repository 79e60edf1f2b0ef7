package persistence

import (
	"context"
	"database/sql"

	"github.com/petrijr/procflow/pkg/api"
)

// PostgresBackend is a Backend backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresBackend struct {
	db *sql.DB
}

var _ Backend = (*PostgresBackend)(nil)

// NewPostgresBackend initializes the required schema in the given database
// and returns a new PostgresBackend.
func NewPostgresBackend(db *sql.DB) (*PostgresBackend, error) {
	s := &PostgresBackend{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresBackend) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS process_instances (
			process_id      TEXT NOT NULL,
			id              TEXT NOT NULL,
			process_version TEXT NOT NULL DEFAULT '',
			status          INTEGER NOT NULL,
			business_key    TEXT NOT NULL DEFAULT '',
			version         BIGINT NOT NULL,
			data            BYTEA,
			PRIMARY KEY (process_id, id)
		);
	`)
	return err
}

func (s *PostgresBackend) Insert(ctx context.Context, rec Record) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO process_instances (process_id, id, process_version, status, business_key, version, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (process_id, id) DO NOTHING
	`,
		rec.ProcessID,
		rec.ID,
		rec.ProcessVersion,
		int(rec.Status),
		rec.BusinessKey,
		rec.Version,
		rec.Data,
	)
	if err != nil {
		return err
	}
	return duplicateIfUnaffected(res)
}

func (s *PostgresBackend) Update(ctx context.Context, rec Record, expected int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE process_instances
		SET process_version = $1,
		    status          = $2,
		    business_key    = $3,
		    version         = $4,
		    data            = $5
		WHERE process_id = $6 AND id = $7 AND version = $8
	`,
		rec.ProcessVersion,
		int(rec.Status),
		rec.BusinessKey,
		rec.Version,
		rec.Data,
		rec.ProcessID,
		rec.ID,
		expected,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	ok, err := s.Exists(ctx, rec.ProcessID, rec.ID)
	if err != nil {
		return err
	}
	if !ok {
		return api.ErrInstanceNotFound
	}
	return api.ErrVersionConflict
}

func (s *PostgresBackend) Get(ctx context.Context, processID, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT process_id, id, process_version, status, business_key, version, data
		FROM process_instances
		WHERE process_id = $1 AND id = $2
	`,
		processID, id,
	)
	return scanRecord(row)
}

func (s *PostgresBackend) Exists(ctx context.Context, processID, id string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM process_instances WHERE process_id = $1 AND id = $2)`,
		processID, id,
	).Scan(&ok)
	return ok, err
}

func (s *PostgresBackend) Delete(ctx context.Context, processID, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM process_instances WHERE process_id = $1 AND id = $2`,
		processID, id,
	)
	return err
}

func (s *PostgresBackend) List(ctx context.Context, processID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT process_id, id, process_version, status, business_key, version, data
		FROM process_instances
		WHERE process_id = $1
		ORDER BY id
	`,
		processID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}
