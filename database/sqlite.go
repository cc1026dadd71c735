package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDB implements the Database interface using SQLite
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB creates a new SQLite database instance
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %v", err)
	}
	// Concurrent workers share one writer connection.
	db.SetMaxOpenConns(1)

	// Create tables if they don't exist
	err = initTables(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %v", err)
	}

	return &SQLiteDB{db: db}, nil
}

// initTables creates the necessary tables if they don't exist
func initTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			run_id TEXT,
			order_pk INTEGER DEFAULT 0,
			bucket TEXT,
			order_name TEXT,
			source TEXT,
			status TEXT NOT NULL,
			attempts INTEGER DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			finished_at TIMESTAMP,
			error_message TEXT,
			raw_json TEXT
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS publications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL REFERENCES jobs(id),
			order_pk INTEGER DEFAULT 0,
			video_id TEXT NOT NULL,
			video_url TEXT NOT NULL,
			video_file_name TEXT,
			position INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			UNIQUE (job_id, position)
		)
	`)
	if err != nil {
		return err
	}

	// Check if run_id column exists, if not add it
	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('jobs') WHERE name='run_id'`).Scan(&count)
	if err != nil {
		return err
	}
	if count == 0 {
		if _, err = db.Exec(`ALTER TABLE jobs ADD COLUMN run_id TEXT`); err != nil {
			return err
		}
		log.Println("Added run_id column to jobs table")
	}

	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status)`,
		`CREATE INDEX IF NOT EXISTS idx_publications_job ON publications (job_id)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateJob inserts a job record. An existing record with the same ID is left untouched.
func (s *SQLiteDB) CreateJob(job JobRecord) error {
	if job.Status == "" {
		job.Status = StatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO jobs (
			id, run_id, order_pk, bucket, order_name, source, status, attempts,
			created_at, error_message, raw_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID,
		job.RunID,
		job.OrderPK,
		job.Bucket,
		job.OrderName,
		job.Source,
		job.Status,
		job.Attempts,
		job.CreatedAt,
		job.ErrorMessage,
		job.RawJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %v", err)
	}
	return nil
}

const jobColumns = `
	id, run_id, order_pk, bucket, order_name, source, status, attempts,
	created_at, started_at, finished_at, error_message, raw_json`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*JobRecord, error) {
	var job JobRecord
	var startedAt, finishedAt sql.NullTime
	var runID, bucket, orderName, source, errorMessage, rawJSON sql.NullString

	err := row.Scan(
		&job.ID,
		&runID,
		&job.OrderPK,
		&bucket,
		&orderName,
		&source,
		&job.Status,
		&job.Attempts,
		&job.CreatedAt,
		&startedAt,
		&finishedAt,
		&errorMessage,
		&rawJSON,
	)
	if err != nil {
		return nil, err
	}

	// Convert SQL nullable types to Go types
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		job.FinishedAt = &finishedAt.Time
	}
	job.RunID = runID.String
	job.Bucket = bucket.String
	job.OrderName = orderName.String
	job.Source = source.String
	job.ErrorMessage = errorMessage.String
	job.RawJSON = rawJSON.String
	return &job, nil
}

// GetJob retrieves a job by its ID. It returns nil when the job is unknown.
func (s *SQLiteDB) GetJob(id string) (*JobRecord, error) {
	job, err := scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %v", err)
	}
	return job, nil
}

// ListJobs retrieves jobs, newest first
func (s *SQLiteDB) ListJobs(limit, offset int) ([]JobRecord, error) {
	rows, err := s.db.Query(`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %v", err)
	}
	return collectJobs(rows)
}

// GetJobsByStatus retrieves jobs in the given status, newest first
func (s *SQLiteDB) GetJobsByStatus(status JobStatus, limit, offset int) ([]JobRecord, error) {
	rows, err := s.db.Query(`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get jobs by status: %v", err)
	}
	return collectJobs(rows)
}

func collectJobs(rows *sql.Rows) ([]JobRecord, error) {
	defer rows.Close()
	var jobs []JobRecord
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %v", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %v", err)
	}
	return jobs, nil
}

// StartJobRun marks a job as running under a new run ID
func (s *SQLiteDB) StartJobRun(id, runID string) error {
	res, err := s.db.Exec(`
		UPDATE jobs
		SET status = ?, run_id = ?, attempts = attempts + 1, started_at = ?, finished_at = NULL, error_message = ''
		WHERE id = ?
	`, StatusRunning, runID, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to start job run: %v", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s not found", id)
	}
	return nil
}

// UpdateJobStatus updates the status of a job. Terminal statuses record the finish time.
func (s *SQLiteDB) UpdateJobStatus(id string, status JobStatus, errorMsg string) error {
	var finishedAt interface{}
	if status.Terminal() || status == StatusInterrupted {
		finishedAt = time.Now()
	}
	_, err := s.db.Exec(`
		UPDATE jobs SET status = ?, error_message = ?, finished_at = COALESCE(?, finished_at) WHERE id = ?
	`, status, errorMsg, finishedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update job status: %v", err)
	}
	return nil
}

// RecordPublications stores the published artifacts of a job in one transaction
func (s *SQLiteDB) RecordPublications(jobID string, pubs []Publication) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO publications (job_id, order_pk, video_id, video_url, video_file_name, position, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare publication insert: %v", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, p := range pubs {
		if _, err := stmt.Exec(jobID, p.OrderPK, p.VideoID, p.VideoURL, p.VideoFileName, p.Position, now); err != nil {
			return fmt.Errorf("failed to record publication %s: %v", p.VideoID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit publications: %v", err)
	}
	return nil
}

// GetPublications retrieves the publications of a job in artifact order
func (s *SQLiteDB) GetPublications(jobID string) ([]Publication, error) {
	rows, err := s.db.Query(`
		SELECT id, job_id, order_pk, video_id, video_url, video_file_name, position, created_at
		FROM publications WHERE job_id = ? ORDER BY position
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get publications: %v", err)
	}
	defer rows.Close()

	var pubs []Publication
	for rows.Next() {
		var p Publication
		var fileName sql.NullString
		if err := rows.Scan(&p.ID, &p.JobID, &p.OrderPK, &p.VideoID, &p.VideoURL, &fileName, &p.Position, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan publication row: %v", err)
		}
		p.VideoFileName = fileName.String
		pubs = append(pubs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating publication rows: %v", err)
	}
	return pubs, nil
}

// HasPublications reports whether a job already published anything
func (s *SQLiteDB) HasPublications(jobID string) (bool, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM publications WHERE job_id = ?`, jobID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count publications: %v", err)
	}
	return count > 0, nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
