package cron

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"vpe/database"
)

func TestSweepWorkspace(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	old := now.Add(-48 * time.Hour)

	// stale: every file is old
	stale := filepath.Join(root, "stale")
	mustWrite(t, filepath.Join(stale, "segments", "seg_1.mp4"), old)
	setTime(t, filepath.Join(stale, "segments"), old)
	setTime(t, stale, old)

	// active: an old directory with a fresh segment deep inside
	active := filepath.Join(root, "active")
	mustWrite(t, filepath.Join(active, "segments", "seg_1.mp4"), old)
	mustWrite(t, filepath.Join(active, "segments", "seg_2.mp4"), now)
	setTime(t, active, old)

	// loose files in the root are left alone
	mustWrite(t, filepath.Join(root, "note.txt"), old)

	removed, err := SweepWorkspace(root, 24*time.Hour, now)
	if err != nil {
		t.Fatalf("SweepWorkspace failed: %v", err)
	}
	if len(removed) != 1 || removed[0] != stale {
		t.Errorf("Expected only %s to be removed, got %v", stale, removed)
	}
	if _, err := os.Stat(active); err != nil {
		t.Error("Active directory was removed")
	}
	if _, err := os.Stat(filepath.Join(root, "note.txt")); err != nil {
		t.Error("Loose file was removed")
	}
}

func TestSweepWorkspaceMissingRoot(t *testing.T) {
	removed, err := SweepWorkspace(filepath.Join(t.TempDir(), "missing"), time.Hour, time.Now())
	if err != nil || len(removed) != 0 {
		t.Errorf("Expected no-op for missing root, got %v, %v", removed, err)
	}
}

func TestMarkStaleJobs(t *testing.T) {
	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	for _, id := range []string{"stuck", "fresh"} {
		if err := db.CreateJob(database.JobRecord{ID: id}); err != nil {
			t.Fatal(err)
		}
		if err := db.StartJobRun(id, "run-"+id); err != nil {
			t.Fatal(err)
		}
	}

	// Judge "stuck" from two days in the future so only the age threshold differs.
	if n := MarkStaleJobs(db, 24*time.Hour, time.Now().Add(48*time.Hour)); n != 2 {
		t.Errorf("Expected both jobs to be stale two days later, got %d", n)
	}
	if n := MarkStaleJobs(db, 24*time.Hour, time.Now()); n != 0 {
		t.Errorf("Expected no running jobs left, got %d", n)
	}
	job, _ := db.GetJob("stuck")
	if job.Status != database.StatusInterrupted || job.FinishedAt == nil {
		t.Errorf("Unexpected job state: %+v", job)
	}
}

func TestMarkStaleJobsKeepsRecent(t *testing.T) {
	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	if err := db.CreateJob(database.JobRecord{ID: "recent"}); err != nil {
		t.Fatal(err)
	}
	if err := db.StartJobRun("recent", "run"); err != nil {
		t.Fatal(err)
	}
	if n := MarkStaleJobs(db, time.Hour, time.Now()); n != 0 {
		t.Errorf("Expected recent job to be kept, got %d marked", n)
	}
}

func mustWrite(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	setTime(t, path, mtime)
}

func setTime(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	mc := NewMaintenanceCron(nil, nil, nil, t.TempDir(), time.Hour)
	if err := mc.Start(Schedules{Sweep: "not a schedule"}); err == nil {
		mc.Stop()
		t.Fatal("Expected error for invalid sweep schedule")
	}

	mc = NewMaintenanceCron(nil, nil, nil, t.TempDir(), time.Hour)
	if err := mc.Start(Schedules{Sweep: "0 0 * * * *", Resource: "bad"}); err != nil {
		t.Fatalf("Resource schedule must be ignored without a monitor: %v", err)
	}
	mc.Stop()
}
