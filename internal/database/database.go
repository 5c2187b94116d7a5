package database

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/franckalain/nutriratio/internal/models"
	"github.com/franckalain/nutriratio/internal/ratio"
)

//go:embed schema.sql
var schemaFS embed.FS

// ErrNotFound is returned when a keyed row does not exist
var ErrNotFound = errors.New("not found")

// DB interface defines the methods our database should implement
type DB interface {
	SaveScan(ctx context.Context, scan *models.ScanRecord) error
	GetScan(ctx context.Context, id string) (*models.ScanRecord, error)
	UpdateScan(ctx context.Context, scan *models.ScanRecord) error
	DeleteScan(ctx context.Context, id string) error
	DeleteScansBefore(ctx context.Context, before time.Time) (int64, error)
	ListScansBetween(ctx context.Context, start, end time.Time) ([]*models.ScanRecord, error)
	GetRecentScans(ctx context.Context, limit int) ([]*models.ScanRecord, error)

	SaveValidationReport(ctx context.Context, report *models.ValidationReport) error
	GetValidationReport(ctx context.Context, scanID string) (*models.ValidationReport, error)

	SaveDailyIntake(ctx context.Context, intake *models.DailyIntake) error
	GetDailyIntake(ctx context.Context, date string) (*models.DailyIntake, error)

	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error

	Close() error
}

// SQLiteDB implements the DB interface
type SQLiteDB struct {
	db  *sql.DB
	log logrus.FieldLogger
}

// NewSQLiteDB creates a new SQLite database connection
func NewSQLiteDB(dbPath string, log logrus.FieldLogger) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// one connection: sqlite has a single writer and pragmas are per connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("error enabling foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("error enabling WAL mode: %w", err)
	}

	if err := initializeSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing schema: %w", err)
	}
	log.WithField("path", dbPath).Info("database schema initialized")

	return &SQLiteDB{db: db, log: log}, nil
}

func initializeSchema(db *sql.DB) error {
	schemaBytes, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("error reading schema file: %w", err)
	}
	if _, err := db.Exec(string(schemaBytes)); err != nil {
		return fmt.Errorf("error executing schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

const scanColumns = `id, name, captured_at, ratio_carb, ratio_protein, ratio_fat, image_ref,
	reading, classified, raw, status, advice, data_source, created_at, updated_at`

// SaveScan inserts a new scan record
func (s *SQLiteDB) SaveScan(ctx context.Context, scan *models.ScanRecord) error {
	reading, err := json.Marshal(scan.Reading)
	if err != nil {
		return fmt.Errorf("error encoding reading: %w", err)
	}
	classified, err := json.Marshal(scan.Classified)
	if err != nil {
		return fmt.Errorf("error encoding classified data: %w", err)
	}
	raw, err := json.Marshal(scan.Raw)
	if err != nil {
		return fmt.Errorf("error encoding raw payload: %w", err)
	}

	now := time.Now()
	if scan.CreatedAt.IsZero() {
		scan.CreatedAt = now
	}
	if scan.UpdatedAt.IsZero() {
		scan.UpdatedAt = scan.CreatedAt
	}

	query := `INSERT INTO scans (` + scanColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		scan.ID, scan.Name, scan.CapturedAt.UnixNano(),
		scan.Ratio.Carb(), scan.Ratio.Protein(), scan.Ratio.Fat(), scan.ImageRef,
		string(reading), string(classified), string(raw),
		string(scan.Status), scan.Advice, scan.DataSource,
		scan.CreatedAt.UnixNano(), scan.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("error saving scan %s: %w", scan.ID, err)
	}
	return nil
}

// GetScan retrieves a scan by id
func (s *SQLiteDB) GetScan(ctx context.Context, id string) (*models.ScanRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scans WHERE id = ?`, id)
	scan, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scan %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return scan, nil
}

// UpdateScan writes the user-editable fields (name, reading) of a scan
func (s *SQLiteDB) UpdateScan(ctx context.Context, scan *models.ScanRecord) error {
	reading, err := json.Marshal(scan.Reading)
	if err != nil {
		return fmt.Errorf("error encoding reading: %w", err)
	}
	scan.UpdatedAt = time.Now()

	res, err := s.db.ExecContext(ctx,
		`UPDATE scans SET name = ?, reading = ?, updated_at = ? WHERE id = ?`,
		scan.Name, string(reading), scan.UpdatedAt.UnixNano(), scan.ID)
	if err != nil {
		return fmt.Errorf("error updating scan %s: %w", scan.ID, err)
	}
	return expectRow(res, "scan "+scan.ID)
}

// DeleteScan removes a scan and its validation report
func (s *SQLiteDB) DeleteScan(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scans WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("error deleting scan %s: %w", id, err)
	}
	return expectRow(res, "scan "+id)
}

// DeleteScansBefore removes every scan captured before the given time
func (s *SQLiteDB) DeleteScansBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scans WHERE captured_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("error deleting scans: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	s.log.WithFields(logrus.Fields{"before": before, "deleted": n}).Info("old scans removed")
	return n, nil
}

// ListScansBetween returns scans captured in [start, end), oldest first
func (s *SQLiteDB) ListScansBetween(ctx context.Context, start, end time.Time) ([]*models.ScanRecord, error) {
	return s.queryScans(ctx,
		`SELECT `+scanColumns+` FROM scans WHERE captured_at >= ? AND captured_at < ? ORDER BY captured_at, id`,
		start.UnixNano(), end.UnixNano())
}

// GetRecentScans returns the most recent scans, newest first
func (s *SQLiteDB) GetRecentScans(ctx context.Context, limit int) ([]*models.ScanRecord, error) {
	return s.queryScans(ctx,
		`SELECT `+scanColumns+` FROM scans ORDER BY captured_at DESC, id LIMIT ?`, limit)
}

func (s *SQLiteDB) queryScans(ctx context.Context, query string, args ...any) ([]*models.ScanRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*models.ScanRecord
	for rows.Next() {
		scan, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, scan)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.ScanRecord, error) {
	var (
		scan                     models.ScanRecord
		capturedAt, created, upd int64
		carb, protein, fat       int
		reading, classified, raw string
		status                   string
	)
	err := row.Scan(
		&scan.ID, &scan.Name, &capturedAt, &carb, &protein, &fat, &scan.ImageRef,
		&reading, &classified, &raw, &status, &scan.Advice, &scan.DataSource,
		&created, &upd,
	)
	if err != nil {
		return nil, err
	}

	triple, err := ratio.NewTriple(carb, protein, fat)
	if err != nil {
		return nil, fmt.Errorf("scan %s has a corrupt ratio: %w", scan.ID, err)
	}
	scan.Ratio = triple
	if err := json.Unmarshal([]byte(reading), &scan.Reading); err != nil {
		return nil, fmt.Errorf("scan %s has a corrupt reading: %w", scan.ID, err)
	}
	if err := json.Unmarshal([]byte(classified), &scan.Classified); err != nil {
		return nil, fmt.Errorf("scan %s has corrupt classified data: %w", scan.ID, err)
	}
	if err := json.Unmarshal([]byte(raw), &scan.Raw); err != nil {
		return nil, fmt.Errorf("scan %s has a corrupt raw payload: %w", scan.ID, err)
	}
	scan.Status = models.ValidationStatus(status)
	scan.CapturedAt = time.Unix(0, capturedAt)
	scan.CreatedAt = time.Unix(0, created)
	scan.UpdatedAt = time.Unix(0, upd)
	return &scan, nil
}

// SaveValidationReport stores the report for a scan, replacing any earlier one
func (s *SQLiteDB) SaveValidationReport(ctx context.Context, report *models.ValidationReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("error encoding report: %w", err)
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO validation_reports (id, scan_id, status, report, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scan_id) DO UPDATE SET
			id = excluded.id,
			status = excluded.status,
			report = excluded.report,
			created_at = excluded.created_at
	`
	_, err = s.db.ExecContext(ctx, query,
		report.ID, report.ScanID, string(report.Status), string(body), report.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("error saving report for scan %s: %w", report.ScanID, err)
	}
	return nil
}

// GetValidationReport retrieves the report stored for a scan
func (s *SQLiteDB) GetValidationReport(ctx context.Context, scanID string) (*models.ValidationReport, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT report FROM validation_reports WHERE scan_id = ?`, scanID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report for scan %s: %w", scanID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var report models.ValidationReport
	if err := json.Unmarshal([]byte(body), &report); err != nil {
		return nil, fmt.Errorf("report for scan %s is corrupt: %w", scanID, err)
	}
	return &report, nil
}

// SaveDailyIntake writes the summary row for a date
func (s *SQLiteDB) SaveDailyIntake(ctx context.Context, in *models.DailyIntake) error {
	query := `
		INSERT INTO daily_intake (
			date, total_calories, carb_calories, protein_calories, fat_calories,
			carb_grams, protein_grams, fat_grams, ratio_carb, ratio_protein, ratio_fat,
			has_estimated_data, scan_count, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			total_calories = excluded.total_calories,
			carb_calories = excluded.carb_calories,
			protein_calories = excluded.protein_calories,
			fat_calories = excluded.fat_calories,
			carb_grams = excluded.carb_grams,
			protein_grams = excluded.protein_grams,
			fat_grams = excluded.fat_grams,
			ratio_carb = excluded.ratio_carb,
			ratio_protein = excluded.ratio_protein,
			ratio_fat = excluded.ratio_fat,
			has_estimated_data = excluded.has_estimated_data,
			scan_count = excluded.scan_count,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		in.Date, in.TotalCalories, in.CarbCalories, in.ProteinCalories, in.FatCalories,
		in.CarbGrams, in.ProteinGrams, in.FatGrams,
		in.Ratio.Carb(), in.Ratio.Protein(), in.Ratio.Fat(),
		in.HasEstimatedData, in.ScanCount, in.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("error saving daily intake %s: %w", in.Date, err)
	}
	return nil
}

// GetDailyIntake retrieves the stored summary for a date
func (s *SQLiteDB) GetDailyIntake(ctx context.Context, date string) (*models.DailyIntake, error) {
	query := `
		SELECT date, total_calories, carb_calories, protein_calories, fat_calories,
			carb_grams, protein_grams, fat_grams, ratio_carb, ratio_protein, ratio_fat,
			has_estimated_data, scan_count, updated_at
		FROM daily_intake WHERE date = ?
	`
	var (
		in                 models.DailyIntake
		carb, protein, fat int
		updatedAt          int64
	)
	err := s.db.QueryRowContext(ctx, query, date).Scan(
		&in.Date, &in.TotalCalories, &in.CarbCalories, &in.ProteinCalories, &in.FatCalories,
		&in.CarbGrams, &in.ProteinGrams, &in.FatGrams, &carb, &protein, &fat,
		&in.HasEstimatedData, &in.ScanCount, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("daily intake %s: %w", date, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	triple, err := ratio.NewTriple(carb, protein, fat)
	if err != nil {
		return nil, fmt.Errorf("daily intake %s has a corrupt ratio: %w", date, err)
	}
	in.Ratio = triple
	in.UpdatedAt = time.Unix(0, updatedAt)
	return &in, nil
}

// GetSetting returns a setting value and whether it exists
func (s *SQLiteDB) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetSetting creates or replaces a setting
func (s *SQLiteDB) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("error saving setting %s: %w", key, err)
	}
	return nil
}

func expectRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
