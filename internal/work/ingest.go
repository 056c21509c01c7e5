package work

import (
	"context"

	"github.com/aristath/tradeinbox/internal/spool"
)

// SpoolProcessor is the part of the spool the ingest work needs
type SpoolProcessor interface {
	Pending() []string
	ProcessFile(ctx context.Context, name string) (*spool.Outcome, error)
}

// RegisterIngestWorkTypes registers one high-priority item per spooled file
func RegisterIngestWorkTypes(registry *Registry, sp SpoolProcessor) {
	registry.Register(&WorkType{
		ID:           "ingest:spool",
		Priority:     PriorityHigh,
		FindSubjects: sp.Pending,
		Execute: func(ctx context.Context, subject string) error {
			_, err := sp.ProcessFile(ctx, subject)
			return err
		},
	})
}
