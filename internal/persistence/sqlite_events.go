package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/petrijr/procflow/pkg/api"
)

// SQLiteEventStore stores process events in SQLite.
type SQLiteEventStore struct {
	db *sql.DB
}

var _ EventStore = (*SQLiteEventStore)(nil)

func NewSQLiteEventStore(db *sql.DB) (*SQLiteEventStore, error) {
	s := &SQLiteEventStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteEventStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS process_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			instance_id TEXT NOT NULL,
			at INTEGER NOT NULL,
			type TEXT NOT NULL,
			process_id TEXT NOT NULL DEFAULT '',
			process_version TEXT NOT NULL DEFAULT '',
			business_key TEXT NOT NULL DEFAULT '',
			status INTEGER NOT NULL DEFAULT 0,
			node_id TEXT NOT NULL DEFAULT '',
			node_name TEXT NOT NULL DEFAULT '',
			node_instance_id TEXT NOT NULL DEFAULT '',
			work_item_id TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_process_events_instance_id ON process_events(instance_id, id);
	`)
	return err
}

func (s *SQLiteEventStore) AppendEvent(ctx context.Context, ev api.ProcessEvent) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO process_events (instance_id, at, type, process_id, process_version, business_key,
			status, node_id, node_name, node_instance_id, work_item_id, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.InstanceID,
		at.UnixNano(),
		string(ev.Type),
		ev.ProcessID,
		ev.ProcessVersion,
		ev.BusinessKey,
		int(ev.Status),
		ev.NodeID,
		ev.NodeName,
		ev.NodeInstanceID,
		ev.WorkItemID,
		ev.Detail,
	)
	return err
}

func (s *SQLiteEventStore) ListEvents(ctx context.Context, instanceID string) ([]api.ProcessEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_id, at, type, process_id, process_version, business_key,
			status, node_id, node_name, node_instance_id, work_item_id, detail
		FROM process_events
		WHERE instance_id = ?
		ORDER BY id ASC`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.ProcessEvent
	for rows.Next() {
		var (
			ev     api.ProcessEvent
			atN    int64
			typ    string
			status int
		)
		if err := rows.Scan(&ev.InstanceID, &atN, &typ, &ev.ProcessID, &ev.ProcessVersion, &ev.BusinessKey,
			&status, &ev.NodeID, &ev.NodeName, &ev.NodeInstanceID, &ev.WorkItemID, &ev.Detail); err != nil {
			return nil, err
		}
		ev.At = time.Unix(0, atN)
		ev.Type = api.EventType(typ)
		ev.Status = api.Status(status)
		out = append(out, ev)
	}
	return out, rows.Err()
}
