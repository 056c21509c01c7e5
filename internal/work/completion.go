package work

import (
	"strings"
	"sync"
	"time"
)

// CompletionTracker records when each work type and subject last succeeded.
type CompletionTracker struct {
	completions map[string]time.Time // key: "typeID:subject"
	now         func() time.Time
	mu          sync.RWMutex
}

// NewCompletionTracker creates a new completion tracker.
func NewCompletionTracker() *CompletionTracker {
	return &CompletionTracker{
		completions: make(map[string]time.Time),
		now:         time.Now,
	}
}

func makeKey(typeID, subject string) string {
	if subject == "" {
		return typeID
	}
	return typeID + ":" + subject
}

// MarkCompleted records that a work item has been completed now.
func (t *CompletionTracker) MarkCompleted(item *WorkItem) {
	t.MarkCompletedAt(item, t.now())
}

// MarkCompletedAt records that a work item was completed at completedAt.
func (t *CompletionTracker) MarkCompletedAt(item *WorkItem, completedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.completions[makeKey(item.TypeID, item.Subject)] = completedAt
}

// GetCompletion returns when a work type/subject last completed.
func (t *CompletionTracker) GetCompletion(typeID, subject string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	completedAt, exists := t.completions[makeKey(typeID, subject)]
	return completedAt, exists
}

// IsStale reports whether the work is due: never completed, on-demand
// (zero interval), or last completed more than interval ago.
func (t *CompletionTracker) IsStale(typeID, subject string, interval time.Duration) bool {
	if interval == 0 {
		return true
	}

	completedAt, exists := t.GetCompletion(typeID, subject)
	if !exists {
		return true
	}
	return t.now().Sub(completedAt) > interval
}

// Clear removes the completion record for a specific work type/subject.
func (t *CompletionTracker) Clear(typeID, subject string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.completions, makeKey(typeID, subject))
}

// ClearByTypeID removes the records of every subject of typeID.
func (t *CompletionTracker) ClearByTypeID(typeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key := range t.completions {
		if key == typeID || strings.HasPrefix(key, typeID+":") {
			delete(t.completions, key)
		}
	}
}

// LastCompleted returns the most recent completion of any subject of typeID.
func (t *CompletionTracker) LastCompleted(typeID string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var last time.Time
	found := false
	for key, at := range t.completions {
		if key != typeID && !strings.HasPrefix(key, typeID+":") {
			continue
		}
		if !found || at.After(last) {
			last = at
			found = true
		}
	}
	return last, found
}
