// Package events provides the in-process event bus used to publish pipeline activity.
package events

import "time"

// EventType identifies a kind of event
type EventType string

const (
	EmailProcessed     EventType = "EMAIL_PROCESSED"
	EmailFailed        EventType = "EMAIL_FAILED"
	TransactionCreated EventType = "TRANSACTION_CREATED"
	ReviewItemQueued   EventType = "REVIEW_ITEM_QUEUED"
	ReviewItemApproved EventType = "REVIEW_ITEM_APPROVED"
	ReviewItemRejected EventType = "REVIEW_ITEM_REJECTED"
	ReviewItemUpdated  EventType = "REVIEW_ITEM_UPDATED"
	ReviewCleanup      EventType = "REVIEW_CLEANUP"
	PortfolioCreated   EventType = "PORTFOLIO_CREATED"
	SourceSettingsSet  EventType = "SOURCE_SETTINGS_CHANGED"
	SpoolFileArrived   EventType = "SPOOL_FILE_ARRIVED"
	BackupCompleted    EventType = "BACKUP_COMPLETED"
	WorkCompleted      EventType = "WORK_COMPLETED"
	WorkFailed         EventType = "WORK_FAILED"
)

// AllEventTypes lists every event type streams subscribe to by default
var AllEventTypes = []EventType{
	EmailProcessed,
	EmailFailed,
	TransactionCreated,
	ReviewItemQueued,
	ReviewItemApproved,
	ReviewItemRejected,
	ReviewItemUpdated,
	ReviewCleanup,
	PortfolioCreated,
	SourceSettingsSet,
	SpoolFileArrived,
	BackupCompleted,
	WorkCompleted,
	WorkFailed,
}

// Event is one published occurrence
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Type      EventType              `json:"type"`
	Module    string                 `json:"module"`
}
