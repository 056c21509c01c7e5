package server

import (
	"net/http"
	"time"

	"github.com/aristath/tradeinbox/internal/database"
	"github.com/aristath/tradeinbox/internal/di"
	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/aristath/tradeinbox/internal/utils"
	"github.com/aristath/tradeinbox/internal/work"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemHandlers serves monitoring endpoints
type SystemHandlers struct {
	container   *di.Container
	startupTime time.Time
	log         zerolog.Logger
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(container *di.Container, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		container:   container,
		startupTime: time.Now(),
		log:         log.With().Str("component", "system_handlers").Logger(),
	}
}

// SystemStatus is the /api/system/status payload
type SystemStatus struct {
	Status         string                  `json:"status"`
	StartedAt      time.Time               `json:"started_at"`
	UptimeSeconds  int64                   `json:"uptime_seconds"`
	CPUPercent     float64                 `json:"cpu_percent"`
	RAMPercent     float64                 `json:"ram_percent"`
	Databases      []database.Stats        `json:"databases"`
	ReviewQueue    *domain.QueueStatistics `json:"review_queue,omitempty"`
	Work           work.Status             `json:"work"`
	SpoolPending   int                     `json:"spool_pending"`
	BackupsEnabled bool                    `json:"backups_enabled"`
	Warnings       []string                `json:"warnings,omitempty"`
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	c := h.container
	status := SystemStatus{
		Status:         "ok",
		StartedAt:      h.startupTime,
		UptimeSeconds:  int64(time.Since(h.startupTime).Seconds()),
		Databases:      h.databaseStats(),
		BackupsEnabled: c.BackupService != nil,
	}
	status.CPUPercent, status.RAMPercent = h.getSystemStats()

	if stats, err := c.ReviewQueue.GetQueueStatistics(r.Context()); err != nil {
		h.log.Warn().Err(err).Msg("Failed to read review queue statistics")
		status.Warnings = append(status.Warnings, "review queue statistics unavailable")
		status.Status = "degraded"
	} else {
		status.ReviewQueue = &stats
	}

	if c.WorkProcessor != nil {
		status.Work = c.WorkProcessor.Status()
		if len(status.Work.Exhausted) > 0 {
			status.Warnings = append(status.Warnings, "background work out of retries")
			status.Status = "degraded"
		}
	}
	if c.Spool != nil {
		status.SpoolPending = len(c.Spool.Pending())
	}

	utils.WriteJSON(w, http.StatusOK, status, h.log)
}

// HandleDatabaseStats handles GET /api/system/databases
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats := h.databaseStats()

	var total int64
	for _, s := range stats {
		total += s.SizeBytes + s.WALSizeBytes
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"databases":   stats,
		"total_bytes": total,
	}, h.log)
}

func (h *SystemHandlers) databaseStats() []database.Stats {
	stats := []database.Stats{}
	for _, db := range h.container.Databases() {
		s, err := db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to get database stats")
			continue
		}
		stats = append(stats, *s)
	}
	return stats
}

// getSystemStats samples CPU over 100ms so the request stays fast
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent := 0.0
	if samples, err := cpu.Percent(100*time.Millisecond, false); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	} else if len(samples) > 0 {
		cpuPercent = samples[0]
	}

	ramPercent := 0.0
	if memStat, err := mem.VirtualMemory(); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
	} else {
		ramPercent = memStat.UsedPercent
	}

	return cpuPercent, ramPercent
}
