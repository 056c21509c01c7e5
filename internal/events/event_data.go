package events

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// EmailProcessedData contains data for EmailProcessed events
type EmailProcessedData struct {
	MessageID     string  `json:"message_id"`
	Source        string  `json:"source"`
	Symbol        string  `json:"symbol,omitempty"`
	Outcome       string  `json:"outcome"` // created, queued, skipped
	TransactionID string  `json:"transaction_id,omitempty"`
	ReviewItemID  string  `json:"review_item_id,omitempty"`
	Confidence    float64 `json:"confidence"`
	Warnings      int     `json:"warnings"`
}

// EventType returns the event type for EmailProcessedData
func (d *EmailProcessedData) EventType() EventType {
	return EmailProcessed
}

// EmailFailedData contains data for EmailFailed events
type EmailFailedData struct {
	MessageID string `json:"message_id"`
	Source    string `json:"source"`
	Kind      string `json:"kind"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
}

// EventType returns the event type for EmailFailedData
func (d *EmailFailedData) EventType() EventType {
	return EmailFailed
}

// TransactionCreatedData contains data for TransactionCreated events
type TransactionCreatedData struct {
	TransactionID string `json:"transaction_id"`
	PortfolioID   string `json:"portfolio_id"`
	Symbol        string `json:"symbol"`
	Type          string `json:"type"`
	Quantity      string `json:"quantity"`
	Price         string `json:"price"`
	MessageID     string `json:"message_id"`
}

// EventType returns the event type for TransactionCreatedData
func (d *TransactionCreatedData) EventType() EventType {
	return TransactionCreated
}

// ReviewItemData contains data for review queue events
type ReviewItemData struct {
	Type     EventType `json:"-"`
	ItemID   string    `json:"item_id"`
	Status   string    `json:"status"`
	Priority string    `json:"priority"`
	Symbol   string    `json:"symbol"`
	Actor    string    `json:"actor,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Version  int       `json:"version"`
}

// EventType returns the event type carried by the review data
func (d *ReviewItemData) EventType() EventType {
	return d.Type
}

// ReviewCleanupData contains data for ReviewCleanup events
type ReviewCleanupData struct {
	Deleted       int64 `json:"deleted"`
	RetentionDays int   `json:"retention_days"`
}

// EventType returns the event type for ReviewCleanupData
func (d *ReviewCleanupData) EventType() EventType {
	return ReviewCleanup
}

// PortfolioCreatedData contains data for PortfolioCreated events
type PortfolioCreatedData struct {
	PortfolioID string `json:"portfolio_id"`
	Name        string `json:"name"`
	Currency    string `json:"currency"`
}

// EventType returns the event type for PortfolioCreatedData
func (d *PortfolioCreatedData) EventType() EventType {
	return PortfolioCreated
}

// SourceSettingsData contains data for SourceSettingsSet events
type SourceSettingsData struct {
	Source            string `json:"source"`
	AutoInsertEnabled bool   `json:"auto_insert_enabled"`
	DuplicateGate     string `json:"duplicate_gate"`
}

// EventType returns the event type for SourceSettingsData
func (d *SourceSettingsData) EventType() EventType {
	return SourceSettingsSet
}

// SpoolFileData contains data for SpoolFileArrived events
type SpoolFileData struct {
	File string `json:"file"`
}

// EventType returns the event type for SpoolFileData
func (d *SpoolFileData) EventType() EventType {
	return SpoolFileArrived
}

// BackupCompletedData contains data for BackupCompleted events
type BackupCompletedData struct {
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
}

// EventType returns the event type for BackupCompletedData
func (d *BackupCompletedData) EventType() EventType {
	return BackupCompleted
}

// WorkData contains data for WorkCompleted and WorkFailed events
type WorkData struct {
	Error      string `json:"error,omitempty"`
	WorkID     string `json:"work_id"`
	WorkType   string `json:"work_type"`
	Subject    string `json:"subject,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Retries    int    `json:"retries,omitempty"`
}

// EventType returns WorkFailed when the work carries an error
func (d *WorkData) EventType() EventType {
	if d.Error != "" {
		return WorkFailed
	}
	return WorkCompleted
}
