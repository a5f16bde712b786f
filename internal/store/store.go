// Package store provides SQLite-backed persistence for the upgrade dashboard.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/playsafesec/upgradeboard/internal/models"
)

// ErrReportNotFound is returned when a report id does not exist.
var ErrReportNotFound = errors.New("report not found")

// Store provides access to the dashboard SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		key TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pdr (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		data BLOB NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pdr_timestamp ON pdr(timestamp);
	CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Snapshot Operations ---

// SaveSnapshot upserts the blob stored under key.
func (s *Store) SaveSnapshot(key string, data []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO snapshots (key, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		key, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the blob stored under key, or nil when absent.
func (s *Store) LoadSnapshot(key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM snapshots WHERE key = ?`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return data, nil
}

// DeleteSnapshot removes key. Deleting a missing key is not an error.
func (s *Store) DeleteSnapshot(key string) error {
	if _, err := s.db.Exec(`DELETE FROM snapshots WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// --- PDR Operations ---

// WritePDR writes a Process Decision Record.
func (s *Store) WritePDR(action, inputsHash, outcome, details string) (*models.PDREntry, error) {
	pdr := &models.PDREntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO pdr (id, action, inputs_hash, outcome, details, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		pdr.ID, pdr.Action, pdr.InputsHash, pdr.Outcome, pdr.Details, pdr.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pdr: %w", err)
	}
	return pdr, nil
}

// ListPDR returns the most recent records first. limit <= 0 means no limit.
func (s *Store) ListPDR(limit int) ([]models.PDREntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT id, action, inputs_hash, outcome, details, timestamp FROM pdr ORDER BY timestamp DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pdr: %w", err)
	}
	defer rows.Close()

	var entries []models.PDREntry
	for rows.Next() {
		var e models.PDREntry
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pdr: %w", err)
		}
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Report Operations ---

// SaveReport archives an exported report.
func (s *Store) SaveReport(filename string, data []byte) (*models.StoredReport, error) {
	r := &models.StoredReport{
		ID:        uuid.New().String(),
		Filename:  filename,
		CreatedAt: time.Now().UTC(),
		Data:      data,
	}
	_, err := s.db.Exec(
		`INSERT INTO reports (id, filename, data, created_at) VALUES (?, ?, ?, ?)`,
		r.ID, r.Filename, r.Data, r.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert report: %w", err)
	}
	return r, nil
}

// ListReports returns archived reports newest first, without their data.
func (s *Store) ListReports() ([]models.StoredReport, error) {
	rows, err := s.db.Query(`SELECT id, filename, created_at FROM reports ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	var reports []models.StoredReport
	for rows.Next() {
		var r models.StoredReport
		if err := rows.Scan(&r.ID, &r.Filename, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// GetReport returns a report including its data.
func (s *Store) GetReport(id string) (*models.StoredReport, error) {
	var r models.StoredReport
	err := s.db.QueryRow(
		`SELECT id, filename, data, created_at FROM reports WHERE id = ?`, id,
	).Scan(&r.ID, &r.Filename, &r.Data, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return &r, nil
}
