package di

import (
	"fmt"

	"github.com/aristath/tradeinbox/internal/scheduler"
	"github.com/rs/zerolog"
)

// RegisterJobs adds the periodic jobs to sched
func RegisterJobs(container *Container, sched *scheduler.Scheduler, log zerolog.Logger) error {
	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{"0 * * * * *", scheduler.NewTriggerWorkJob(container.WorkProcessor)},
		{"@hourly", scheduler.NewWALStatusJob(container.Databases(), log)},
	}

	for _, j := range jobs {
		if err := sched.AddJob(j.schedule, j.job); err != nil {
			return fmt.Errorf("failed to register job %s: %w", j.job.Name(), err)
		}
	}
	return nil
}
