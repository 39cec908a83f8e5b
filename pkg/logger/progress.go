package logger

import (
	"sync"
	"time"
)

// ProgressTracker periodically logs how far an import batch has come.
// Jobs can run for minutes on large statements, so operators get a
// heartbeat without one log line per row.
type ProgressTracker struct {
	logger      Logger
	operation   string
	total       int64
	current     int64
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	mutex       sync.Mutex
}

// NewProgressTracker creates a tracker for an operation over total items.
// A zero interval defaults to five seconds.
func NewProgressTracker(log Logger, operation string, total int64, interval time.Duration) *ProgressTracker {
	if log == nil {
		log = GetGlobalLogger()
	}
	if interval == 0 {
		interval = 5 * time.Second
	}

	now := time.Now()
	return &ProgressTracker{
		logger:      log.WithComponent("progress"),
		operation:   operation,
		total:       total,
		startTime:   now,
		lastLogTime: now,
		logInterval: interval,
	}
}

// Increment advances the counter by one and logs at the configured interval.
func (p *ProgressTracker) Increment() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.current++
	now := time.Now()
	if now.Sub(p.lastLogTime) >= p.logInterval {
		p.logProgress(now)
		p.lastLogTime = now
	}
}

// Done logs the final count and elapsed time.
func (p *ProgressTracker) Done() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.logger.WithFields(Fields{
		"operation": p.operation,
		"processed": p.current,
		"total":     p.total,
		"elapsed":   time.Since(p.startTime).String(),
	}).Info("Operation completed")
}

func (p *ProgressTracker) logProgress(now time.Time) {
	fields := Fields{
		"operation": p.operation,
		"processed": p.current,
		"total":     p.total,
		"elapsed":   now.Sub(p.startTime).String(),
	}
	if p.total > 0 {
		fields["percent"] = float64(p.current) / float64(p.total) * 100
	}
	p.logger.WithFields(fields).Info("Operation in progress")
}
