package work

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	assert.Zero(t, r.Count())
	assert.Nil(t, r.Get("maintenance:health"))
	assert.False(t, r.Has("maintenance:health"))

	r.Register(&WorkType{ID: "maintenance:health", Priority: PriorityMedium})
	require.True(t, r.Has("maintenance:health"))
	assert.Equal(t, PriorityMedium, r.Get("maintenance:health").Priority)

	// Same ID replaces
	r.Register(&WorkType{ID: "maintenance:health", Priority: PriorityLow})
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, PriorityLow, r.Get("maintenance:health").Priority)
}

func TestRegistry_ByPriority(t *testing.T) {
	r := NewRegistry()
	r.Register(&WorkType{ID: "maintenance:vacuum", Priority: PriorityLow})
	r.Register(&WorkType{ID: "maintenance:backup", Priority: PriorityLow})
	r.Register(&WorkType{ID: "ingest:spool", Priority: PriorityHigh})
	r.Register(&WorkType{ID: "maintenance:health", Priority: PriorityMedium})

	var ids []string
	for _, wt := range r.ByPriority() {
		ids = append(ids, wt.ID)
	}
	assert.Equal(t, []string{"ingest:spool", "maintenance:health", "maintenance:backup", "maintenance:vacuum"}, ids)

	// The result is a copy
	ordered := r.ByPriority()
	ordered[0] = nil
	assert.NotNil(t, r.ByPriority()[0])

	// New registrations are picked up
	r.Register(&WorkType{ID: "maintenance:cache-cleanup", Priority: PriorityHigh})
	assert.Equal(t, "ingest:spool", r.ByPriority()[0].ID)
	assert.Equal(t, "maintenance:cache-cleanup", r.ByPriority()[1].ID)
}

func TestRegistry_IDs(t *testing.T) {
	r := NewRegistry()
	r.Register(&WorkType{ID: "b:two"})
	r.Register(&WorkType{ID: "a:one"})
	assert.Equal(t, []string{"a:one", "b:two"}, r.IDs())
}

func TestRegistry_GetDependencies(t *testing.T) {
	r := NewRegistry()
	r.Register(&WorkType{ID: "maintenance:health"})
	r.Register(&WorkType{ID: "maintenance:backup", DependsOn: []string{"maintenance:health", "maintenance:missing"}})

	deps := r.GetDependencies("maintenance:backup")
	require.Len(t, deps, 1)
	assert.Equal(t, "maintenance:health", deps[0].ID)

	assert.Empty(t, r.GetDependencies("maintenance:health"))
	assert.Nil(t, r.GetDependencies("unknown"))
}
