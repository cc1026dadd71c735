package database

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestSQLiteDB tests SQLite database operations
func TestSQLiteDB(t *testing.T) {
	// Create temporary directory for test database
	tempDir, err := os.MkdirTemp("", "vpe-db-test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(tempDir)

	dbPath := filepath.Join(tempDir, "test.db")
	db, err := NewSQLiteDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create SQLite database: %v", err)
	}
	defer db.Close()

	testCreateAndGetJob(t, db)
	testJobLifecycle(t, db)
	testGetJobsByStatus(t, db)
	testPublications(t, db)
}

func testCreateAndGetJob(t *testing.T, db *SQLiteDB) {
	job := JobRecord{
		ID:        "job-1",
		OrderPK:   42,
		Bucket:    "in00120304005",
		OrderName: "p07030921n0542",
		Source:    "stored",
		RawJSON:   `{"use_stored":true}`,
	}
	if err := db.CreateJob(job); err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}

	retrieved, err := db.GetJob("job-1")
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if retrieved == nil {
		t.Fatal("Retrieved job is nil")
	}
	if retrieved.Status != StatusQueued {
		t.Errorf("Expected status %s, got %s", StatusQueued, retrieved.Status)
	}
	if retrieved.Bucket != job.Bucket || retrieved.OrderName != job.OrderName || retrieved.OrderPK != 42 {
		t.Errorf("Job fields mismatch: %+v", retrieved)
	}
	if retrieved.StartedAt != nil || retrieved.FinishedAt != nil {
		t.Error("New job should not have start or finish times")
	}

	// A redelivered job must not reset the stored record.
	job.Bucket = "other"
	if err := db.CreateJob(job); err != nil {
		t.Fatalf("Duplicate create should be ignored, got: %v", err)
	}
	retrieved, _ = db.GetJob("job-1")
	if retrieved.Bucket != "in00120304005" {
		t.Errorf("Existing job was overwritten: %s", retrieved.Bucket)
	}

	missing, err := db.GetJob("nope")
	if err != nil || missing != nil {
		t.Errorf("Expected nil for unknown job, got %+v, %v", missing, err)
	}
}

func testJobLifecycle(t *testing.T, db *SQLiteDB) {
	if err := db.StartJobRun("job-1", "run-a"); err != nil {
		t.Fatalf("Failed to start job run: %v", err)
	}
	job, _ := db.GetJob("job-1")
	if job.Status != StatusRunning || job.RunID != "run-a" || job.Attempts != 1 {
		t.Errorf("Unexpected running job: %+v", job)
	}
	if job.StartedAt == nil {
		t.Error("StartedAt should be set")
	}

	if err := db.UpdateJobStatus("job-1", StatusFailed, "source not found"); err != nil {
		t.Fatalf("Failed to update job status: %v", err)
	}
	job, _ = db.GetJob("job-1")
	if job.Status != StatusFailed || job.ErrorMessage != "source not found" || job.FinishedAt == nil {
		t.Errorf("Unexpected failed job: %+v", job)
	}

	if err := db.StartJobRun("job-1", "run-b"); err != nil {
		t.Fatalf("Failed to restart job: %v", err)
	}
	job, _ = db.GetJob("job-1")
	if job.Attempts != 2 || job.RunID != "run-b" || job.FinishedAt != nil || job.ErrorMessage != "" {
		t.Errorf("Restart did not reset the run: %+v", job)
	}

	if err := db.StartJobRun("unknown", "run-c"); err == nil {
		t.Error("Expected error when starting an unknown job")
	}
}

func testGetJobsByStatus(t *testing.T, db *SQLiteDB) {
	for i, id := range []string{"job-2", "job-3"} {
		if err := db.CreateJob(JobRecord{ID: id, CreatedAt: time.Now().Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("Failed to create %s: %v", id, err)
		}
	}

	queued, err := db.GetJobsByStatus(StatusQueued, 10, 0)
	if err != nil {
		t.Fatalf("Failed to get jobs by status: %v", err)
	}
	if len(queued) != 2 {
		t.Fatalf("Expected 2 queued jobs, got %d", len(queued))
	}
	if queued[0].ID != "job-3" {
		t.Errorf("Expected newest job first, got %s", queued[0].ID)
	}

	all, err := db.ListJobs(10, 0)
	if err != nil {
		t.Fatalf("Failed to list jobs: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 jobs, got %d", len(all))
	}
}

func testPublications(t *testing.T, db *SQLiteDB) {
	has, err := db.HasPublications("job-2")
	if err != nil || has {
		t.Fatalf("Expected no publications, got %v, %v", has, err)
	}

	pubs := []Publication{
		{OrderPK: 7, VideoID: "clip_1", VideoURL: "https://b/clip_1.mp4", VideoFileName: "clip_1.mp4", Position: 0},
		{OrderPK: 7, VideoID: "clip_2", VideoURL: "https://b/clip_2.mp4", VideoFileName: "clip_2.mp4", Position: 1},
	}
	if err := db.RecordPublications("job-2", pubs); err != nil {
		t.Fatalf("Failed to record publications: %v", err)
	}

	got, err := db.GetPublications("job-2")
	if err != nil {
		t.Fatalf("Failed to get publications: %v", err)
	}
	if len(got) != 2 || got[0].VideoID != "clip_1" || got[1].VideoURL != "https://b/clip_2.mp4" {
		t.Errorf("Unexpected publications: %+v", got)
	}
	if got[0].JobID != "job-2" {
		t.Errorf("Expected job id job-2, got %s", got[0].JobID)
	}

	has, _ = db.HasPublications("job-2")
	if !has {
		t.Error("Expected publications after recording")
	}

	// Duplicate positions roll the whole batch back.
	if err := db.RecordPublications("job-3", []Publication{
		{VideoID: "a", VideoURL: "u", Position: 0},
		{VideoID: "b", VideoURL: "u", Position: 0},
	}); err == nil {
		t.Error("Expected error for duplicate positions")
	}
	if has, _ := db.HasPublications("job-3"); has {
		t.Error("Failed batch must not leave rows behind")
	}
}
