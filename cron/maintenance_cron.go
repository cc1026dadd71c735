package cron

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"vpe/database"
	"vpe/metrics"
	"vpe/monitoring"
)

// MaintenanceCron runs the scheduled housekeeping of the worker
type MaintenanceCron struct {
	cron       *cron.Cron
	db         database.Database
	monitor    *monitoring.Monitor
	collector  *metrics.MetricsCollector
	workRoot   string
	maxAge     time.Duration
	metricsAge time.Duration
	isRunning  bool
}

// Schedules holds the cron specs (with seconds) of the maintenance jobs
type Schedules struct {
	Sweep    string
	Resource string
	// MetricsMaxAge bounds how long finished job metrics are kept; zero uses the sweep age
	MetricsMaxAge time.Duration
}

// NewMaintenanceCron creates a new maintenance cron
func NewMaintenanceCron(db database.Database, monitor *monitoring.Monitor, collector *metrics.MetricsCollector, workRoot string, maxAge time.Duration) *MaintenanceCron {
	return &MaintenanceCron{
		cron:      cron.New(cron.WithSeconds()),
		db:        db,
		monitor:   monitor,
		collector: collector,
		workRoot:  workRoot,
		maxAge:    maxAge,
	}
}

// Start schedules the maintenance jobs
func (mc *MaintenanceCron) Start(s Schedules) error {
	if mc.isRunning {
		log.Println("[cron] Maintenance cron is already running")
		return nil
	}

	mc.metricsAge = s.MetricsMaxAge
	if mc.metricsAge <= 0 {
		mc.metricsAge = mc.maxAge
	}

	_, err := mc.cron.AddFunc(s.Sweep, func() {
		mc.runSweep()
	})
	if err != nil {
		return err
	}

	if mc.monitor != nil {
		_, err = mc.cron.AddFunc(s.Resource, func() {
			mc.monitor.LogUsage()
		})
		if err != nil {
			return err
		}
	}

	mc.cron.Start()
	mc.isRunning = true
	log.Printf("[cron] Maintenance started - sweep: %q, resource report: %q, max age: %v", s.Sweep, s.Resource, mc.maxAge)
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (mc *MaintenanceCron) Stop() {
	if !mc.isRunning {
		return
	}
	ctx := mc.cron.Stop()
	<-ctx.Done()
	mc.isRunning = false
	log.Println("[cron] Maintenance stopped")
}

func (mc *MaintenanceCron) runSweep() {
	removed, err := SweepWorkspace(mc.workRoot, mc.maxAge, time.Now())
	if err != nil {
		log.Printf("[cron] Workspace sweep failed: %v", err)
	} else if len(removed) > 0 {
		log.Printf("[cron] Removed %d stale work directories", len(removed))
	}

	if mc.db != nil {
		if n := MarkStaleJobs(mc.db, mc.maxAge, time.Now()); n > 0 {
			log.Printf("[cron] Marked %d stale running jobs as interrupted", n)
		}
	}
	if mc.collector != nil {
		mc.collector.CleanupOldMetrics(mc.metricsAge)
	}
}

// SweepWorkspace removes work directories in which nothing changed for maxAge.
// These are left behind by processes that were killed mid-job.
func SweepWorkspace(root string, maxAge time.Duration, now time.Time) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var removed []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		latest, err := latestModTime(dir)
		if err != nil {
			log.Printf("[cron] Cannot inspect %s: %v", dir, err)
			continue
		}
		if now.Sub(latest) < maxAge {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("[cron] Failed to remove %s: %v", dir, err)
			continue
		}
		log.Printf("[cron] Removed stale work directory %s (last change %s)", entry.Name(), latest.Format(time.RFC3339))
		removed = append(removed, dir)
	}
	return removed, nil
}

func latestModTime(dir string) (time.Time, error) {
	var latest time.Time
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	return latest, err
}

// MarkStaleJobs flags jobs left in running status for longer than maxAge as interrupted
func MarkStaleJobs(db database.Database, maxAge time.Duration, now time.Time) int {
	jobs, err := db.GetJobsByStatus(database.StatusRunning, 1000, 0)
	if err != nil {
		log.Printf("[cron] Error getting running jobs: %v", err)
		return 0
	}

	marked := 0
	for _, job := range jobs {
		if job.StartedAt == nil || now.Sub(*job.StartedAt) < maxAge {
			continue
		}
		if err := db.UpdateJobStatus(job.ID, database.StatusInterrupted, "worker stopped without finishing"); err != nil {
			log.Printf("[cron] Error updating stale job %s: %v", job.ID, err)
			continue
		}
		marked++
	}
	return marked
}
