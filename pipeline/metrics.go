package pipeline

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/shopreel/errors"
)

// SystemMetrics reports pool and host resource usage for the daemon
// health endpoint.
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"`
	WorkersTotal  int     `json:"workers_total"`
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
	JobsPending   int     `json:"jobs_pending"`
	JobsActive    int     `json:"jobs_active"`
}

// getMemoryStats returns host memory usage in bytes.
func getMemoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// calculateSafeWorkerCount recommends a worker count for the available
// memory. A worker holds at most a source image, its transformed copy,
// and HTTP buffers, so the per-worker budget is small.
func calculateSafeWorkerCount(availableGB float64) int {
	const memoryPerWorkerGB = 0.25
	const memoryBufferGB = 1.0 // headroom for the OS and SQLite cache

	if availableGB <= memoryBufferGB {
		return 1
	}

	recommended := int((availableGB - memoryBufferGB) / memoryPerWorkerGB)
	if recommended < 1 {
		return 1
	}
	if recommended > 64 {
		return 64
	}
	return recommended
}

// GetSystemMetrics returns current pool and host resource usage.
func (wp *WorkerPool) GetSystemMetrics() SystemMetrics {
	total, available, err := getMemoryStats()

	var memUsedGB, memTotalGB, memPercent float64
	if err == nil && total > 0 {
		memTotalGB = float64(total) / 1024 / 1024 / 1024
		memUsedGB = float64(total-available) / 1024 / 1024 / 1024
		memPercent = (memUsedGB / memTotalGB) * 100
	}

	// Queue counts degrade to zero when the database is unavailable;
	// the health endpoint should not fail because of them.
	var pending, active int
	if stats, err := wp.queue.GetStats(); err == nil {
		pending = stats.Pending
		active = stats.AnalyzingSubject + stats.EditingImage + stats.OptimizingImage +
			stats.WritingScript + stats.SynthesizingVideo
	}

	wp.mu.Lock()
	activeWorkers := wp.activeWorkers
	wp.mu.Unlock()

	return SystemMetrics{
		WorkersActive: activeWorkers,
		WorkersTotal:  wp.workers,
		MemoryUsedGB:  memUsedGB,
		MemoryTotalGB: memTotalGB,
		MemoryPercent: memPercent,
		JobsPending:   pending,
		JobsActive:    active,
	}
}

// checkMemoryPressure warns when the configured worker count looks too
// high for the host. Returns "" when the count fits.
func (wp *WorkerPool) checkMemoryPressure() string {
	total, available, err := getMemoryStats()
	if err != nil {
		return ""
	}

	availableGB := float64(available) / 1024 / 1024 / 1024
	totalGB := float64(total) / 1024 / 1024 / 1024
	recommended := calculateSafeWorkerCount(availableGB)

	if wp.workers > recommended {
		return fmt.Sprintf(
			"worker count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB used)",
			wp.workers, recommended, totalGB-availableGB, totalGB)
	}
	return ""
}
