package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"go.uber.org/zap"
)

// SQLiteRecorder appends records to an audit_records table.
type SQLiteRecorder struct {
	logger *zap.Logger
	db     *sql.DB
	insert *sql.Stmt
}

// NewSQLiteRecorder opens (or creates) the database at path with WAL enabled.
func NewSQLiteRecorder(logger *zap.Logger, path string) (*SQLiteRecorder, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// one writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	schema := []string{`
		CREATE TABLE IF NOT EXISTS audit_records (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			symbol TEXT NOT NULL,
			ref_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_audit_kind ON audit_records(kind, seq);",
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create audit table: %w", err)
		}
	}

	insert, err := db.Prepare(
		"INSERT INTO audit_records (id, kind, symbol, ref_id, ts, payload) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}

	logger.Named("storage").Info("SQLite audit recorder opened", zap.String("path", path))
	return &SQLiteRecorder{logger: logger.Named("storage"), db: db, insert: insert}, nil
}

// Record inserts rec. Record IDs are unique; a repeated ID is an error.
func (s *SQLiteRecorder) Record(ctx context.Context, rec Record) error {
	_, err := s.insert.ExecContext(ctx,
		rec.ID, string(rec.Kind), rec.Symbol, rec.RefID, rec.Timestamp.UnixNano(), []byte(rec.Payload))
	if err != nil {
		return fmt.Errorf("failed to insert %s record: %w", rec.Kind, err)
	}
	return nil
}

// Recent returns up to limit records of kind, newest first. An empty kind
// matches everything.
func (s *SQLiteRecorder) Recent(ctx context.Context, kind RecordKind, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, symbol, ref_id, ts, payload FROM audit_records
		WHERE ? = '' OR kind = ?
		ORDER BY seq DESC LIMIT ?`, string(kind), string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r       Record
			k       string
			ts      int64
			payload []byte
		)
		if err := rows.Scan(&r.ID, &k, &r.Symbol, &r.RefID, &ts, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		r.Kind = RecordKind(k)
		r.Timestamp = time.Unix(0, ts).UTC()
		r.Payload = payload
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of stored records.
func (s *SQLiteRecorder) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_records").Scan(&n)
	return n, err
}

func (s *SQLiteRecorder) Close() error {
	s.insert.Close()
	return s.db.Close()
}
