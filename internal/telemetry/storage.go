// Package telemetry persists per-request audit records to SQLite, optionally
// encrypted with SQLCipher. It implements the pipeline's audit sink.
package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	_ "github.com/mutecomm/go-sqlcipher/v4" // SQLCipher driver for encrypted SQLite

	"github.com/gateline/gateline/internal/fileutil"
	"github.com/gateline/gateline/internal/logger"
	"github.com/gateline/gateline/internal/pipeline"
)

var log = logger.New("telemetry")

// minEncryptionKeyLength guards against trivially weak SQLCipher keys.
const minEncryptionKeyLength = 16

const schema = `
CREATE TABLE IF NOT EXISTS audit_records (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id  TEXT NOT NULL,
	stage       TEXT NOT NULL,
	accepted    INTEGER NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	preview     TEXT NOT NULL DEFAULT '',
	duration_us INTEGER NOT NULL,
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_records(created_at);
CREATE INDEX IF NOT EXISTS idx_audit_stage ON audit_records(stage);
`

// Storage is a SQLite-backed audit sink.
type Storage struct {
	conn      *sql.DB
	encrypted bool
}

// AggregateStats summarizes stored audit records.
type AggregateStats struct {
	Total    int64            `json:"total_requests"`
	Accepted int64            `json:"accepted_requests"`
	ByStage  map[string]int64 `json:"by_stage"`
}

// NewStorage opens (or creates) the audit database. A non-empty
// encryptionKey turns on SQLCipher encryption.
func NewStorage(dbPath, encryptionKey string) (*Storage, error) {
	if err := fileutil.SecureMkdirAll(filepath.Dir(dbPath)); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("_busy_timeout", "5000")
	params.Set("_journal_mode", "WAL")

	if encryptionKey != "" {
		if len(encryptionKey) < minEncryptionKeyLength {
			return nil, fmt.Errorf("encryption key must be at least %d characters", minEncryptionKeyLength)
		}
		// Key passed via DSN parameter, never via PRAGMA string building.
		params.Set("_pragma_key", encryptionKey)
	}

	conn, err := sql.Open("sqlite3", dbPath+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	// SQLite allows one writer; a single connection serializes access at
	// the Go level and avoids SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	encrypted := false
	if encryptionKey != "" {
		var one int
		if err := conn.QueryRowContext(context.Background(), "SELECT 1").Scan(&one); err != nil {
			conn.Close()
			return nil, fmt.Errorf("encryption key verification failed: %w", err)
		}
		encrypted = true
		log.Info("Audit database encryption enabled")
	}

	if _, err := conn.ExecContext(context.Background(), schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize audit schema: %w", err)
	}

	return &Storage{conn: conn, encrypted: encrypted}, nil
}

// IsEncrypted reports whether the database is SQLCipher-encrypted.
func (s *Storage) IsEncrypted() bool {
	return s.encrypted
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.conn.Close()
}

// Store persists one pipeline audit record. It satisfies pipeline.Sink.
func (s *Storage) Store(r pipeline.Record) error {
	_, err := s.conn.ExecContext(context.Background(), `
		INSERT INTO audit_records
			(request_id, stage, accepted, reason, preview, duration_us, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.RequestID, string(r.Stage), boolToInt(r.Accepted), r.Reason, r.Preview,
		r.Duration.Microseconds(), r.When.UTC())
	if err != nil {
		return fmt.Errorf("store audit record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Storage) Recent(limit int) ([]pipeline.Record, error) {
	rows, err := s.conn.QueryContext(context.Background(), `
		SELECT request_id, stage, accepted, reason, preview, duration_us, created_at
		FROM audit_records ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Record
	for rows.Next() {
		var r pipeline.Record
		var stage string
		var accepted int
		var durationUS int64
		var created time.Time
		if err := rows.Scan(&r.RequestID, &stage, &accepted, &r.Reason, &r.Preview,
			&durationUS, &created); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		r.Stage = pipeline.Stage(stage)
		r.Accepted = accepted != 0
		r.Duration = time.Duration(durationUS) * time.Microsecond
		r.When = created
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats aggregates stored records by outcome and stage.
func (s *Storage) Stats() (AggregateStats, error) {
	stats := AggregateStats{ByStage: make(map[string]int64)}

	err := s.conn.QueryRowContext(context.Background(), `
		SELECT COUNT(*), COALESCE(SUM(accepted), 0) FROM audit_records`).
		Scan(&stats.Total, &stats.Accepted)
	if err != nil {
		return stats, fmt.Errorf("aggregate audit records: %w", err)
	}

	rows, err := s.conn.QueryContext(context.Background(), `
		SELECT stage, COUNT(*) FROM audit_records GROUP BY stage`)
	if err != nil {
		return stats, fmt.Errorf("aggregate stages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var stage string
		var count int64
		if err := rows.Scan(&stage, &count); err != nil {
			return stats, fmt.Errorf("scan stage count: %w", err)
		}
		stats.ByStage[stage] = count
	}
	return stats, rows.Err()
}

// Prune deletes records older than the retention window.
func (s *Storage) Prune(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.conn.ExecContext(context.Background(),
		`DELETE FROM audit_records WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune audit records: %w", err)
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
