package metrics

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// Stage names used by the pipeline
const (
	StageAcquire  = "acquire"
	StageArchive  = "archive"
	StageSample   = "sample"
	StageMotion   = "motion"
	StageFace     = "face"
	StageCompress = "compress"
	StageTrim     = "trim"
	StagePublish  = "publish"
)

// stageTiming holds the timing of one stage
type stageTiming struct {
	start    time.Time
	duration time.Duration
	done     bool
}

// JobMetrics tracks timing for the stages of one job
type JobMetrics struct {
	JobID         string
	StartTime     time.Time
	TotalDuration time.Duration
	order         []string
	stages        map[string]*stageTiming
	now           func() time.Time
	mu            sync.Mutex
}

// NewJobMetrics creates a new metrics instance
func NewJobMetrics(jobID string) *JobMetrics {
	return newJobMetrics(jobID, time.Now)
}

func newJobMetrics(jobID string, now func() time.Time) *JobMetrics {
	return &JobMetrics{
		JobID:     jobID,
		StartTime: now(),
		stages:    make(map[string]*stageTiming),
		now:       now,
	}
}

// StartStage marks the start of a stage
func (m *JobMetrics) StartStage(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stages[stage]; !ok {
		m.order = append(m.order, stage)
	}
	m.stages[stage] = &stageTiming{start: m.now()}
	log.Printf("[Metrics] Job %s: Starting %s", m.JobID, stage)
}

// EndStage marks the end of a stage. Ending a stage that never started is a no-op.
func (m *JobMetrics) EndStage(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stages[stage]
	if !ok || st.done {
		return
	}
	st.duration = m.now().Sub(st.start)
	st.done = true
	log.Printf("[Metrics] Job %s: %s completed in %v", m.JobID, stage, st.duration)
}

// StageDuration returns the measured duration of a finished stage
func (m *JobMetrics) StageDuration(stage string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.stages[stage]; ok && st.done {
		return st.duration
	}
	return 0
}

// Finalize calculates total duration and logs summary
func (m *JobMetrics) Finalize() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalDuration = m.now().Sub(m.StartTime)

	parts := make([]string, 0, len(m.order))
	for _, name := range m.order {
		if st := m.stages[name]; st.done {
			parts = append(parts, fmt.Sprintf("%s: %v", name, st.duration))
		}
	}
	log.Printf("[Metrics] Job %s: Processing completed - Total: %v, %s", m.JobID, m.TotalDuration, strings.Join(parts, ", "))
	return m.TotalDuration
}

// GetSummary returns a formatted summary of all metrics
func (m *JobMetrics) GetSummary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Job Processing Metrics for %s:\n", m.JobID)
	fmt.Fprintf(&b, "  Total Duration: %v\n", m.TotalDuration)
	for _, name := range m.order {
		if st := m.stages[name]; st.done && st.duration > 0 {
			fmt.Fprintf(&b, "  %s: %v\n", name, st.duration)
		}
	}
	return b.String()
}

// MetricsCollector manages metrics for multiple jobs
type MetricsCollector struct {
	metrics map[string]*JobMetrics
	mu      sync.RWMutex
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics: make(map[string]*JobMetrics),
	}
}

// StartJob creates metrics for a new job
func (c *MetricsCollector) StartJob(jobID string) *JobMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	metrics := NewJobMetrics(jobID)
	c.metrics[jobID] = metrics
	return metrics
}

// GetMetrics retrieves metrics for a job
func (c *MetricsCollector) GetMetrics(jobID string) *JobMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.metrics[jobID]
}

// CleanupOldMetrics removes metrics older than the specified duration
func (c *MetricsCollector) CleanupOldMetrics(maxAge time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for jobID, metrics := range c.metrics {
		if now.Sub(metrics.StartTime) > maxAge {
			delete(c.metrics, jobID)
			log.Printf("[Metrics] Cleaned up old metrics for job %s", jobID)
		}
	}
}
