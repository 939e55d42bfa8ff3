package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no job record matches.
var ErrNotFound = errors.New("job record not found")

// JobRecord is the persisted state of one transcription job.
type JobRecord struct {
	JobID          string        `json:"job_id"`
	RequestName    string        `json:"request_name"`
	SourceType     string        `json:"source_type"`
	UserID         string        `json:"user_id,omitempty"`
	Status         string        `json:"status"`
	Stage          string        `json:"stage"`
	Reason         string        `json:"reason,omitempty"`
	SubtitlePath   string        `json:"subtitle_path,omitempty"`
	DocumentPath   string        `json:"document_path,omitempty"`
	TranscriptPath string        `json:"transcript_path,omitempty"`
	GDriveURL      string        `json:"gdrive_url,omitempty"`
	Duration       time.Duration `json:"duration"`
	LineCount      int           `json:"line_count"`
	SpeakerCount   int           `json:"speaker_count"`
	LowConfidence  int           `json:"low_confidence"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// MetadataDB handles SQLite database operations
type MetadataDB struct {
	db *sql.DB
}

// NewMetadataDB creates a new metadata database
func NewMetadataDB(dbPath string) (*MetadataDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Workers write concurrently; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS jobs (
		job_id TEXT PRIMARY KEY,
		request_name TEXT NOT NULL,
		source_type TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		stage TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		subtitle_path TEXT NOT NULL DEFAULT '',
		document_path TEXT NOT NULL DEFAULT '',
		transcript_path TEXT NOT NULL DEFAULT '',
		gdrive_url TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		line_count INTEGER NOT NULL DEFAULT 0,
		speaker_count INTEGER NOT NULL DEFAULT 0,
		low_confidence INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &MetadataDB{db: db}, nil
}

// SaveJob inserts or updates a job record. CreatedAt of an existing record
// is kept.
func (mdb *MetadataDB) SaveJob(rec JobRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}

	query := `
	INSERT INTO jobs (job_id, request_name, source_type, user_id, status, stage, reason,
		subtitle_path, document_path, transcript_path, gdrive_url,
		duration_ms, line_count, speaker_count, low_confidence, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(job_id) DO UPDATE SET
		request_name = excluded.request_name,
		source_type = excluded.source_type,
		user_id = excluded.user_id,
		status = excluded.status,
		stage = excluded.stage,
		reason = excluded.reason,
		subtitle_path = excluded.subtitle_path,
		document_path = excluded.document_path,
		transcript_path = excluded.transcript_path,
		gdrive_url = excluded.gdrive_url,
		duration_ms = excluded.duration_ms,
		line_count = excluded.line_count,
		speaker_count = excluded.speaker_count,
		low_confidence = excluded.low_confidence,
		updated_at = excluded.updated_at
	`

	_, err := mdb.db.Exec(query,
		rec.JobID, rec.RequestName, rec.SourceType, rec.UserID, rec.Status, rec.Stage, rec.Reason,
		rec.SubtitlePath, rec.DocumentPath, rec.TranscriptPath, rec.GDriveURL,
		rec.Duration.Milliseconds(), rec.LineCount, rec.SpeakerCount, rec.LowConfidence,
		rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", rec.JobID, err)
	}
	return nil
}

const jobColumns = `job_id, request_name, source_type, user_id, status, stage, reason,
	subtitle_path, document_path, transcript_path, gdrive_url,
	duration_ms, line_count, speaker_count, low_confidence, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (JobRecord, error) {
	var (
		rec                  JobRecord
		durationMS           int64
		createdAt, updatedAt int64
	)
	err := row.Scan(&rec.JobID, &rec.RequestName, &rec.SourceType, &rec.UserID, &rec.Status, &rec.Stage, &rec.Reason,
		&rec.SubtitlePath, &rec.DocumentPath, &rec.TranscriptPath, &rec.GDriveURL,
		&durationMS, &rec.LineCount, &rec.SpeakerCount, &rec.LowConfidence, &createdAt, &updatedAt)
	if err != nil {
		return JobRecord{}, err
	}
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.UpdatedAt = time.UnixMilli(updatedAt)
	return rec, nil
}

// GetJob retrieves a job record by job ID
func (mdb *MetadataDB) GetJob(jobID string) (JobRecord, error) {
	row := mdb.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, jobID)
	rec, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return JobRecord{}, ErrNotFound
	}
	if err != nil {
		return JobRecord{}, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return rec, nil
}

// ListJobs returns the most recent job records, newest first.
func (mdb *MetadataDB) ListJobs(limit int) ([]JobRecord, error) {
	rows, err := mdb.db.Query(`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, job_id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, rec)
	}
	return jobs, rows.Err()
}

// MarkInterrupted fails every job still pending, e.g. after a restart lost
// its in-memory state. It returns the number of records changed.
func (mdb *MetadataDB) MarkInterrupted(reason string) (int64, error) {
	res, err := mdb.db.Exec(`UPDATE jobs SET status = 'failed', reason = ?, updated_at = ? WHERE status = 'pending'`,
		reason, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted jobs: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection
func (mdb *MetadataDB) Close() error {
	return mdb.db.Close()
}
