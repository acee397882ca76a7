package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDB implements the Database interface using SQLite
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB creates a new SQLite database instance
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %v", err)
	}

	if err := initTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %v", err)
	}

	return &SQLiteDB{db: db}, nil
}

func initTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS recordings (
			id TEXT PRIMARY KEY,
			stream_id TEXT NOT NULL,
			local_path TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			size_bytes INTEGER DEFAULT 0,
			status TEXT NOT NULL,
			upload_url TEXT,
			error_message TEXT
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_recordings_status ON recordings (status)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_recordings_stream ON recordings (stream_id)
	`)
	return err
}

// CreateRecording inserts a new recording row
func (s *SQLiteDB) CreateRecording(rec Recording) error {
	_, err := s.db.Exec(`
		INSERT INTO recordings (
			id, stream_id, local_path, started_at, finished_at,
			size_bytes, status, upload_url, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.StreamID,
		rec.LocalPath,
		rec.StartedAt,
		rec.FinishedAt,
		rec.SizeBytes,
		rec.Status,
		rec.UploadURL,
		rec.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to create recording: %v", err)
	}
	return nil
}

func (s *SQLiteDB) scanRecording(row *sql.Row) (*Recording, error) {
	var rec Recording
	var finishedAt sql.NullTime
	var uploadURL, errorMessage sql.NullString

	err := row.Scan(
		&rec.ID, &rec.StreamID, &rec.LocalPath, &rec.StartedAt,
		&finishedAt, &rec.SizeBytes, &rec.Status, &uploadURL, &errorMessage,
	)
	if err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		rec.FinishedAt = &finishedAt.Time
	}
	rec.UploadURL = uploadURL.String
	rec.ErrorMessage = errorMessage.String
	return &rec, nil
}

const recordingColumns = `id, stream_id, local_path, started_at, finished_at, size_bytes, status, upload_url, error_message`

// GetRecording retrieves a recording by its ID
func (s *SQLiteDB) GetRecording(id string) (*Recording, error) {
	row := s.db.QueryRow(`SELECT `+recordingColumns+` FROM recordings WHERE id = ?`, id)
	rec, err := s.scanRecording(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("recording not found: %s", id)
	}
	return rec, err
}

// GetRecordingByPath retrieves the most recent recording for a local path
func (s *SQLiteDB) GetRecordingByPath(path string) (*Recording, error) {
	row := s.db.QueryRow(`
		SELECT `+recordingColumns+` FROM recordings
		WHERE local_path = ? ORDER BY started_at DESC LIMIT 1
	`, path)
	rec, err := s.scanRecording(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("recording not found for path: %s", path)
	}
	return rec, err
}

// FinishRecording marks a recording finalized with its on-disk size
func (s *SQLiteDB) FinishRecording(id string, finishedAt time.Time, sizeBytes int64) error {
	_, err := s.db.Exec(`
		UPDATE recordings SET finished_at = ?, size_bytes = ?, status = ? WHERE id = ?
	`, finishedAt, sizeBytes, StatusReady, id)
	if err != nil {
		return fmt.Errorf("failed to finish recording: %v", err)
	}
	return nil
}

// UpdateRecordingStatus updates status and error message
func (s *SQLiteDB) UpdateRecordingStatus(id string, status RecordingStatus, errorMsg string) error {
	_, err := s.db.Exec(`
		UPDATE recordings SET status = ?, error_message = ? WHERE id = ?
	`, status, errorMsg, id)
	if err != nil {
		return fmt.Errorf("failed to update recording status: %v", err)
	}
	return nil
}

// SetUploadURL stores the public URL after a successful upload
func (s *SQLiteDB) SetUploadURL(id, url string) error {
	_, err := s.db.Exec(`
		UPDATE recordings SET upload_url = ?, status = ? WHERE id = ?
	`, url, StatusUploaded, id)
	if err != nil {
		return fmt.Errorf("failed to set upload url: %v", err)
	}
	return nil
}

func (s *SQLiteDB) listQuery(query string, args ...interface{}) ([]Recording, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %v", err)
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		var rec Recording
		var finishedAt sql.NullTime
		var uploadURL, errorMessage sql.NullString
		if err := rows.Scan(
			&rec.ID, &rec.StreamID, &rec.LocalPath, &rec.StartedAt,
			&finishedAt, &rec.SizeBytes, &rec.Status, &uploadURL, &errorMessage,
		); err != nil {
			return nil, err
		}
		if finishedAt.Valid {
			rec.FinishedAt = &finishedAt.Time
		}
		rec.UploadURL = uploadURL.String
		rec.ErrorMessage = errorMessage.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListRecordings returns recordings newest first
func (s *SQLiteDB) ListRecordings(limit, offset int) ([]Recording, error) {
	return s.listQuery(`
		SELECT `+recordingColumns+` FROM recordings
		ORDER BY started_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
}

// ListRecordingsByStatus returns recordings with the given status, newest first
func (s *SQLiteDB) ListRecordingsByStatus(status RecordingStatus, limit, offset int) ([]Recording, error) {
	return s.listQuery(`
		SELECT `+recordingColumns+` FROM recordings
		WHERE status = ? ORDER BY started_at DESC LIMIT ? OFFSET ?
	`, status, limit, offset)
}

// ListExpired returns non-deleted recordings started before the cutoff
func (s *SQLiteDB) ListExpired(before time.Time) ([]Recording, error) {
	return s.listQuery(`
		SELECT `+recordingColumns+` FROM recordings
		WHERE status != ? AND started_at < ? ORDER BY started_at ASC
	`, StatusDeleted, before)
}

// DeleteRecording removes a row from the index
func (s *SQLiteDB) DeleteRecording(id string) error {
	_, err := s.db.Exec(`DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete recording: %v", err)
	}
	return nil
}

// GetDB exposes the underlying handle for maintenance jobs
func (s *SQLiteDB) GetDB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
