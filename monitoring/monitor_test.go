package monitoring

import "testing"

func TestSnapshot(t *testing.T) {
	m, err := NewMonitor(t.TempDir())
	if err != nil {
		t.Fatalf("NewMonitor failed: %v", err)
	}
	usage, err := m.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if usage.NumGoroutines < 1 {
		t.Errorf("Expected at least one goroutine, got %d", usage.NumGoroutines)
	}
	if usage.MemoryUsedMB <= 0 || usage.MemoryTotalMB <= 0 {
		t.Errorf("Expected memory figures, got %+v", usage)
	}
	if usage.DiskFreeGB <= 0 {
		t.Errorf("Expected free disk on the work root, got %v", usage.DiskFreeGB)
	}
}

func TestSnapshotMissingRoot(t *testing.T) {
	m, err := NewMonitor("/nonexistent/vpe/root")
	if err != nil {
		t.Fatalf("NewMonitor failed: %v", err)
	}
	if _, err := m.Snapshot(); err == nil {
		t.Error("Expected error for a missing work root")
	}
}
