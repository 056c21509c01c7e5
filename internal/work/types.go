package work

import (
	"context"
	"strings"
	"time"
)

// WorkTimeout is the maximum duration a work item can run before being cancelled.
const WorkTimeout = 5 * time.Minute

// MaxRetries is the maximum number of times a failed work item will be retried.
const MaxRetries = 5

// Priority defines the execution priority of work types.
type Priority int

const (
	// PriorityLow is for housekeeping (cleanup, backups).
	PriorityLow Priority = iota
	// PriorityMedium is for periodic checks.
	PriorityMedium
	// PriorityHigh is for work a user is waiting on (spooled emails).
	PriorityHigh
)

// String returns a human-readable name for the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityMedium:
		return "Medium"
	case PriorityHigh:
		return "High"
	default:
		return "Unknown"
	}
}

// WorkType defines a type of work that can be executed.
// Work types are registered once and can generate multiple work items.
type WorkType struct {
	// ID is "category:name", e.g. "ingest:spool" or "maintenance:backup".
	ID string

	// DependsOn lists work type IDs that must have completed before this
	// work can run. Dependencies are scoped to the same subject.
	DependsOn []string

	// Interval is the minimum time between runs (0 = whenever FindSubjects
	// returns something).
	Interval time.Duration

	// Priority determines execution order when multiple work items are eligible.
	Priority Priority

	// FindSubjects returns subjects that need this work: []string{""} for
	// global work, nil when there is nothing to do.
	FindSubjects func() []string

	// Execute performs the work for one subject.
	Execute func(ctx context.Context, subject string) error
}

// WorkItem represents a specific unit of work to be executed.
type WorkItem struct {
	// ID is the type ID plus the subject, e.g. "ingest:spool:fill.eml".
	ID        string
	TypeID    string
	Subject   string
	Retries   int
	CreatedAt time.Time
}

// NewWorkItem creates a new work item from a work type and subject.
func NewWorkItem(workType *WorkType, subject string) *WorkItem {
	id := workType.ID
	if subject != "" {
		id = workType.ID + ":" + subject
	}

	return &WorkItem{
		ID:        id,
		TypeID:    workType.ID,
		Subject:   subject,
		CreatedAt: time.Now(),
	}
}

// ParseWorkID splits a full work ID into its type ID and subject. Type IDs
// have exactly two segments, so subjects may contain colons:
// "ingest:spool:a:b.eml" returns ("ingest:spool", "a:b.eml").
func ParseWorkID(id string) (typeID string, subject string) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) < 3 {
		return id, ""
	}
	return parts[0] + ":" + parts[1], parts[2]
}
