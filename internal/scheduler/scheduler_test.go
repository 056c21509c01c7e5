package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/tradeinbox/internal/database"
	testingpkg "github.com/aristath/tradeinbox/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTriggerer struct {
	calls atomic.Int32
}

func (c *countingTriggerer) Trigger() {
	c.calls.Add(1)
}

type failingJob struct{}

func (failingJob) Run() error   { return errors.New("boom") }
func (failingJob) Name() string { return "failing" }

func TestScheduler_AddJob(t *testing.T) {
	s := New(zerolog.Nop())
	trig := &countingTriggerer{}

	require.NoError(t, s.AddJob("@every 1s", NewTriggerWorkJob(trig)))
	assert.Error(t, s.AddJob("not a schedule", NewTriggerWorkJob(trig)))

	s.Start()
	require.Eventually(t, func() bool { return trig.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	s.Stop()
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(zerolog.Nop())
	trig := &countingTriggerer{}

	require.NoError(t, s.RunNow(NewTriggerWorkJob(trig)))
	assert.Equal(t, int32(1), trig.calls.Load())
	assert.EqualError(t, s.RunNow(failingJob{}), "boom")
}

func TestWALStatusJob_Run(t *testing.T) {
	ledger := testingpkg.NewTestDB(t, database.NameLedger)
	inbox := testingpkg.NewTestDB(t, database.NameInbox)

	job := NewWALStatusJob([]*database.DB{ledger, nil, inbox}, zerolog.Nop())
	assert.Equal(t, "wal_status", job.Name())
	assert.NoError(t, job.Run())
}
