package persistence

import (
	"context"
	"database/sql"
	"errors"

	"github.com/petrijr/procflow/pkg/api"
)

// SQLiteBackend is a Backend backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteBackend struct {
	db *sql.DB
}

var _ Backend = (*SQLiteBackend)(nil)

// NewSQLiteBackend initializes the required schema in the given database
// and returns a new SQLiteBackend.
func NewSQLiteBackend(db *sql.DB) (*SQLiteBackend, error) {
	s := &SQLiteBackend{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteBackend) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS process_instances (
			process_id TEXT NOT NULL,
			id TEXT NOT NULL,
			process_version TEXT NOT NULL DEFAULT '',
			status INTEGER NOT NULL,
			business_key TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL,
			data BLOB,
			PRIMARY KEY (process_id, id)
		);`,
	)
	return err
}

func (s *SQLiteBackend) Insert(ctx context.Context, rec Record) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO process_instances (process_id, id, process_version, status, business_key, version, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (process_id, id) DO NOTHING`,
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

func (s *SQLiteBackend) Update(ctx context.Context, rec Record, expected int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE process_instances
		SET process_version = ?, status = ?, business_key = ?, version = ?, data = ?
		WHERE process_id = ? AND id = ? AND version = ?`,
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
	return s.missingOrConflict(ctx, rec.ProcessID, rec.ID)
}

func (s *SQLiteBackend) missingOrConflict(ctx context.Context, processID, id string) error {
	ok, err := s.Exists(ctx, processID, id)
	if err != nil {
		return err
	}
	if !ok {
		return api.ErrInstanceNotFound
	}
	return api.ErrVersionConflict
}

func (s *SQLiteBackend) Get(ctx context.Context, processID, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT process_id, id, process_version, status, business_key, version, data
		FROM process_instances
		WHERE process_id = ? AND id = ?`,
		processID, id,
	)
	return scanRecord(row)
}

func (s *SQLiteBackend) Exists(ctx context.Context, processID, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM process_instances WHERE process_id = ? AND id = ?`,
		processID, id,
	).Scan(&n)
	return n > 0, err
}

func (s *SQLiteBackend) Delete(ctx context.Context, processID, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM process_instances WHERE process_id = ? AND id = ?`,
		processID, id,
	)
	return err
}

func (s *SQLiteBackend) List(ctx context.Context, processID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT process_id, id, process_version, status, business_key, version, data
		FROM process_instances
		WHERE process_id = ?
		ORDER BY id`,
		processID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var status int
	if err := row.Scan(&rec.ProcessID, &rec.ID, &rec.ProcessVersion, &status, &rec.BusinessKey, &rec.Version, &rec.Data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, api.ErrInstanceNotFound
		}
		return Record{}, err
	}
	rec.Status = api.Status(status)
	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func duplicateIfUnaffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return api.ErrDuplicateInstance
	}
	return nil
}
