package agent

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Results written to the apply ledger.
const (
	ResultApplied    = "applied"
	ResultFailed     = "failed"
	ResultRolledBack = "rolled_back"
)

// Recorder receives one entry per apply attempt.
type Recorder interface {
	Record(ctx context.Context, configHash, result, detail string) error
}

// ApplyRecord is one row of the apply ledger.
type ApplyRecord struct {
	ConfigHash string
	Result     string
	Detail     string
	Time       time.Time
}

// History is a local sqlite ledger of apply attempts.
type History struct {
	db *sql.DB
}

// OpenHistory opens (creating if needed) the ledger at path.
func OpenHistory(ctx context.Context, path string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history mkdir: %w", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history open: %w", err)
	}
	db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS apply_ops(config_hash TEXT, result TEXT, detail TEXT, ts INTEGER); CREATE INDEX IF NOT EXISTS idx_apply_ops_ts ON apply_ops(ts);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history schema: %w", err)
	}
	return &History{db: db}, nil
}

func (h *History) Record(ctx context.Context, configHash, result, detail string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := h.db.ExecContext(ctx, `INSERT INTO apply_ops(config_hash, result, detail, ts) VALUES(?,?,?,?)`,
		configHash, result, detail, time.Now().UnixNano())
	return err
}

// Recent returns up to limit entries, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]ApplyRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.QueryContext(ctx, `SELECT config_hash, result, detail, ts FROM apply_ops ORDER BY ts DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ApplyRecord
	for rows.Next() {
		var r ApplyRecord
		var ts int64
		if err := rows.Scan(&r.ConfigHash, &r.Result, &r.Detail, &ts); err != nil {
			return nil, err
		}
		r.Time = time.Unix(0, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (h *History) Close() error { return h.db.Close() }

// hashConfig identifies a rendered config in the ledger without storing the
// private key it contains.
func hashConfig(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}
