package utils

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SlowStageThreshold marks a pipeline stage as slow in the logs
const SlowStageThreshold = 10 * time.Second

// StageTimer measures the stages of one unit of work
type StageTimer struct {
	mu      sync.Mutex
	start   time.Time
	current time.Time
	name    string
	stages  []StageDuration
	log     zerolog.Logger
}

// StageDuration is the time spent in one named stage
type StageDuration struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration"`
}

// NewStageTimer starts timing the work called name
func NewStageTimer(name string, log zerolog.Logger) *StageTimer {
	now := time.Now()
	return &StageTimer{
		start:   now,
		current: now,
		name:    name,
		log:     log,
	}
}

// Mark closes the current stage under the given name and starts the next
func (t *StageTimer) Mark(stage string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	d := now.Sub(t.current)
	t.current = now
	t.stages = append(t.stages, StageDuration{Stage: stage, Duration: d})

	if d > SlowStageThreshold {
		t.log.Warn().
			Str("operation", t.name).
			Str("stage", stage).
			Dur("duration", d).
			Msg("Slow stage detected")
	}
	return d
}

// Stages returns the recorded stages in order
func (t *StageTimer) Stages() []StageDuration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]StageDuration(nil), t.stages...)
}

// Stop logs the total and per-stage durations
func (t *StageTimer) Stop() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := time.Since(t.start)
	event := t.log.Debug().
		Str("operation", t.name).
		Dur("duration_ms", total)
	for _, s := range t.stages {
		event = event.Dur(s.Stage+"_ms", s.Duration)
	}
	event.Msg("Performance measurement")

	return total
}

// OperationTimer provides a defer-friendly way to measure operation duration
//
// Usage:
//
//	func RunBackup() {
//	    defer utils.OperationTimer("backup", log)()
//	}
func OperationTimer(operation string, log zerolog.Logger) func() {
	start := time.Now()

	return func() {
		duration := time.Since(start)

		log.Debug().
			Str("operation", operation).
			Dur("duration_ms", duration).
			Msg("Operation completed")

		if duration > 30*time.Second {
			log.Warn().
				Str("operation", operation).
				Dur("duration", duration).
				Msg("Slow operation detected")
		}
	}
}
