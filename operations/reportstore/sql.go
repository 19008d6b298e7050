package reportstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/smartcontractkit/operations-runner/operations"
)

const schemaRunReports = `
	CREATE TABLE IF NOT EXISTS run_reports (
		id          TEXT PRIMARY KEY,
		started_at  BIGINT,
		body        TEXT
	);`

// SQLStore keeps reports in the run_reports table. The report body is stored as JSON.
type SQLStore struct {
	db *sql.DB
}

var _ Store = (*SQLStore)(nil)

// OpenPostgres connects to the Postgres database at dsn and prepares the schema.
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	store, err := NewSQLStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// NewSQLStore creates a SQLStore on an open database and creates the table if it does not exist.
// The store owns db and closes it on Close.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	if _, err := db.Exec(schemaRunReports); err != nil {
		return nil, fmt.Errorf("failed to create run reports schema: %w", err)
	}

	return &SQLStore{db: db}, nil
}

// AddReport inserts the report. A report ID can only be stored once.
func (s *SQLStore) AddReport(report operations.RunReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report %s: %w", report.ID, err)
	}

	return s.withTransaction(func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRow(`SELECT id FROM run_reports WHERE id = $1`, report.ID).Scan(&existing)
		switch {
		case err == nil:
			return fmt.Errorf("report_id %s: %w", report.ID, ErrReportExists)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to look up report %s: %w", report.ID, err)
		}

		_, err = tx.Exec(
			`INSERT INTO run_reports (id, started_at, body) VALUES ($1, $2, $3)`,
			report.ID, report.StartedAt.UnixNano(), string(body),
		)
		if err != nil {
			return fmt.Errorf("failed to insert report %s: %w", report.ID, err)
		}

		return nil
	})
}

// GetReport returns the report with the given ID.
func (s *SQLStore) GetReport(id string) (operations.RunReport, error) {
	var body string
	err := s.db.QueryRow(`SELECT body FROM run_reports WHERE id = $1`, id).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return operations.RunReport{}, fmt.Errorf("report_id %s: %w", id, operations.ErrReportNotFound)
		}

		return operations.RunReport{}, fmt.Errorf("failed to query report %s: %w", id, err)
	}

	return decodeReport(body)
}

// GetReports returns every report ordered by start time.
func (s *SQLStore) GetReports() ([]operations.RunReport, error) {
	rows, err := s.db.Query(`SELECT body FROM run_reports ORDER BY started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var reports []operations.RunReport
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		report, err := decodeReport(body)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}

	return reports, rows.Err()
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) withTransaction(fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	var txerr error
	defer func() {
		if r := recover(); r != nil {
			// rollback before re-panicking
			_ = tx.Rollback()
			panic(r)
		} else if txerr != nil {
			err = errors.Join(txerr, tx.Rollback())
		} else {
			err = tx.Commit()
		}
	}()

	txerr = fn(tx)

	return txerr
}

func decodeReport(body string) (operations.RunReport, error) {
	var report operations.RunReport
	if err := json.Unmarshal([]byte(body), &report); err != nil {
		return operations.RunReport{}, fmt.Errorf("failed to decode report: %w", err)
	}

	return report, nil
}
