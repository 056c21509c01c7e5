package events

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SubscribeAndEmit(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var received []*Event
	bus.Subscribe(TransactionCreated, func(event *Event) {
		received = append(received, event)
	})

	bus.Emit(TransactionCreated, "transactions", map[string]interface{}{"symbol": "AAPL"})
	bus.Emit(ReviewItemQueued, "review", nil)

	require.Len(t, received, 1)
	assert.Equal(t, TransactionCreated, received[0].Type)
	assert.Equal(t, "transactions", received[0].Module)
	assert.Equal(t, "AAPL", received[0].Data["symbol"])
	assert.False(t, received[0].Timestamp.IsZero())
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	count := 0
	unsubscribe := bus.Subscribe(EmailProcessed, func(event *Event) { count++ })

	bus.Emit(EmailProcessed, "ingest", nil)
	unsubscribe()
	bus.Emit(EmailProcessed, "ingest", nil)

	assert.Equal(t, 1, count)
}

func TestBus_SubscribeAllDefaultsToKnownTypes(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	seen := map[EventType]bool{}
	unsubscribe := bus.SubscribeAll(nil, func(event *Event) { seen[event.Type] = true })
	defer unsubscribe()

	for _, et := range AllEventTypes {
		bus.Emit(et, "test", nil)
	}
	assert.Len(t, seen, len(AllEventTypes))
}

func TestBus_EmitTyped(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var got *Event
	bus.Subscribe(ReviewItemApproved, func(event *Event) { got = event })

	bus.EmitTyped("review", &ReviewItemData{
		Type:    ReviewItemApproved,
		ItemID:  "item-1",
		Status:  "approved",
		Version: 2,
	})

	require.NotNil(t, got)
	assert.Equal(t, "item-1", got.Data["item_id"])
	assert.Equal(t, float64(2), got.Data["version"])
}

func TestBus_HandlerPanicIsContained(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	called := false
	bus.Subscribe(EmailFailed, func(event *Event) { panic("boom") })
	bus.Subscribe(EmailFailed, func(event *Event) { called = true })

	assert.NotPanics(t, func() { bus.Emit(EmailFailed, "ingest", nil) })
	assert.True(t, called)
}

func TestBus_NilBusDropsEvents(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() {
		bus.Emit(EmailProcessed, "ingest", nil)
		bus.EmitTyped("ingest", &EmailProcessedData{})
	})
}

func TestBus_ConcurrentEmit(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var mu sync.Mutex
	count := 0
	bus.Subscribe(EmailProcessed, func(event *Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Emit(EmailProcessed, "ingest", nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, count)
}
