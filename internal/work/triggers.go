package work

import "github.com/aristath/tradeinbox/internal/events"

// RegisterTriggers wakes the processor when a file lands in the spool. The
// returned func removes the subscription.
func RegisterTriggers(bus *events.Bus, processor *Processor) func() {
	if bus == nil {
		return func() {}
	}
	return bus.Subscribe(events.SpoolFileArrived, func(*events.Event) {
		processor.Trigger()
	})
}
