// Package history keeps an optional log of detected IP changes in a SQL
// database so operators can review how often their ISP rotates addresses.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"ipwatch/internal/config"
	"ipwatch/internal/types"
)

// ChangeRecord is one persisted change row
type ChangeRecord struct {
	ID         int64               `json:"id"`
	EventID    string              `json:"event_id"`
	Machine    string              `json:"machine"`
	Source     types.AddressSource `json:"source"`
	Old        string              `json:"old,omitempty"`
	New        string              `json:"new"`
	FirstRun   bool                `json:"first_run"`
	DetectedAt time.Time           `json:"detected_at"`
}

// Store records change events in sqlite, mysql or postgres
type Store struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

// Open opens the history database and ensures the schema exists
func Open(cfg *config.HistoryConfig, logger *zap.Logger) (*Store, error) {
	driverName, dsn, err := driverDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{
		db:     db,
		driver: cfg.Driver,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}

	return s, nil
}

// driverDSN maps the config driver to an sql driver name and DSN
func driverDSN(cfg *config.HistoryConfig) (string, string, error) {
	switch cfg.Driver {
	case "sqlite":
		if dir := filepath.Dir(cfg.DSN); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return "", "", fmt.Errorf("failed to create history directory: %w", err)
			}
		}
		return "sqlite3", cfg.DSN + "?_journal_mode=WAL&_busy_timeout=5000", nil
	case "mysql":
		dsn := cfg.DSN
		if !strings.Contains(dsn, "parseTime") {
			if strings.Contains(dsn, "?") {
				dsn += "&parseTime=true"
			} else {
				dsn += "?parseTime=true"
			}
		}
		return "mysql", dsn, nil
	case "postgres":
		return "postgres", cfg.DSN, nil
	default:
		return "", "", fmt.Errorf("unsupported history driver: %s", cfg.Driver)
	}
}

// init creates the ip_changes table if it does not exist
func (s *Store) init(ctx context.Context) error {
	var schema string
	switch s.driver {
	case "mysql":
		schema = `CREATE TABLE IF NOT EXISTS ip_changes (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			event_id VARCHAR(64) NOT NULL,
			machine VARCHAR(255) NOT NULL,
			source VARCHAR(16) NOT NULL,
			old_addr VARCHAR(64),
			new_addr VARCHAR(64) NOT NULL,
			first_run BOOLEAN NOT NULL DEFAULT FALSE,
			detected_at TIMESTAMP NOT NULL,
			INDEX idx_ip_changes_detected_at (detected_at)
		) ENGINE=InnoDB`
	case "postgres":
		schema = `CREATE TABLE IF NOT EXISTS ip_changes (
			id BIGSERIAL PRIMARY KEY,
			event_id VARCHAR(64) NOT NULL,
			machine VARCHAR(255) NOT NULL,
			source VARCHAR(16) NOT NULL,
			old_addr VARCHAR(64),
			new_addr VARCHAR(64) NOT NULL,
			first_run BOOLEAN NOT NULL DEFAULT FALSE,
			detected_at TIMESTAMP NOT NULL
		)`
	default: // sqlite
		schema = `CREATE TABLE IF NOT EXISTS ip_changes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL,
			machine TEXT NOT NULL,
			source TEXT NOT NULL,
			old_addr TEXT,
			new_addr TEXT NOT NULL,
			first_run INTEGER NOT NULL DEFAULT 0,
			detected_at TIMESTAMP NOT NULL
		)`
	}

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	if s.driver != "mysql" {
		index := `CREATE INDEX IF NOT EXISTS idx_ip_changes_detected_at ON ip_changes (detected_at)`
		if _, err := s.db.ExecContext(ctx, index); err != nil {
			return err
		}
	}

	return nil
}

// Record persists every change in the event inside one transaction
func (s *Store) Record(ctx context.Context, event *types.ChangeEvent) error {
	changes := make([]*types.Change, 0, 2)
	if event.Changes.External != nil {
		changes = append(changes, event.Changes.External)
	}
	if event.Changes.Local != nil {
		changes = append(changes, event.Changes.Local)
	}
	if len(changes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := s.bind(`INSERT INTO ip_changes
		(event_id, machine, source, old_addr, new_addr, first_run, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)

	for _, change := range changes {
		if _, err := tx.ExecContext(ctx, query,
			event.EventID, event.Machine, string(change.Source),
			change.Old, change.New, event.Changes.FirstRun, event.Timestamp.UTC()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert change row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit changes: %w", err)
	}

	s.logger.Debug("Recorded IP changes",
		zap.String("event_id", event.EventID),
		zap.Int("rows", len(changes)))
	return nil
}

// Recent returns the most recent change rows, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]ChangeRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := s.bind(`SELECT id, event_id, machine, source, old_addr, new_addr, first_run, detected_at
		FROM ip_changes ORDER BY detected_at DESC, id DESC LIMIT ?`)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []ChangeRecord
	for rows.Next() {
		var r ChangeRecord
		var source string
		var old sql.NullString
		if err := rows.Scan(&r.ID, &r.EventID, &r.Machine, &source, &old, &r.New, &r.FirstRun, &r.DetectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan change row: %w", err)
		}
		r.Source = types.AddressSource(source)
		r.Old = old.String
		records = append(records, r)
	}

	return records, rows.Err()
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// bind rewrites ? placeholders to $n for postgres
func (s *Store) bind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}
