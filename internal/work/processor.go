package work

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aristath/tradeinbox/internal/events"
	"github.com/rs/zerolog"
)

// Processor executes work items one at a time, respecting dependencies,
// intervals and retries.
type Processor struct {
	registry   *Registry
	completion *CompletionTracker
	events     *events.Bus
	timeout    time.Duration
	log        zerolog.Logger

	trigger    chan struct{}
	done       chan struct{}
	stop       chan struct{}
	stopped    chan struct{}
	retryQueue []*WorkItem
	inFlight   map[string]bool
	exhausted  map[string]time.Time // when each item used up its retries
	mu         sync.Mutex
}

// NewProcessor creates a new work processor. bus may be nil.
func NewProcessor(registry *Registry, completion *CompletionTracker, bus *events.Bus, log zerolog.Logger) *Processor {
	return NewProcessorWithTimeout(registry, completion, bus, WorkTimeout, log)
}

// NewProcessorWithTimeout creates a processor with a custom per-item timeout.
func NewProcessorWithTimeout(registry *Registry, completion *CompletionTracker, bus *events.Bus, timeout time.Duration, log zerolog.Logger) *Processor {
	return &Processor{
		registry:   registry,
		completion: completion,
		events:     bus,
		timeout:    timeout,
		log:        log.With().Str("service", "work_processor").Logger(),
		trigger:    make(chan struct{}, 1),
		done:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
		retryQueue: make([]*WorkItem, 0),
		inFlight:   make(map[string]bool),
		exhausted:  make(map[string]time.Time),
	}
}

// Run starts the processor loop. It blocks until Stop is called.
func (p *Processor) Run() {
	defer close(p.stopped)

	for {
		select {
		case <-p.stop:
			return
		case <-p.trigger:
			p.processOne()
		case <-p.done:
			p.processOne()
		}
	}
}

// Stop stops the processor loop. Work already running finishes on its own.
func (p *Processor) Stop() {
	close(p.stop)
	<-p.stopped
}

// Trigger wakes up the processor to check for work. It never blocks.
func (p *Processor) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// ExhaustedCooldown is how long an item that ran out of retries is left
// alone before it becomes eligible again
const ExhaustedCooldown = time.Hour

// ErrUnknownWorkType is returned by ExecuteNow for unregistered IDs
var ErrUnknownWorkType = errors.New("unknown work type")

// ExecuteNow runs a work type synchronously, ignoring intervals and
// dependencies. A success clears any exhausted retry state for the item.
func (p *Processor) ExecuteNow(ctx context.Context, workTypeID, subject string) error {
	wt := p.registry.Get(workTypeID)
	if wt == nil {
		return fmt.Errorf("%w: %s", ErrUnknownWorkType, workTypeID)
	}

	item := NewWorkItem(wt, subject)
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.execute(ctx, item, wt); err != nil {
		return err
	}

	p.mu.Lock()
	delete(p.exhausted, item.ID)
	p.mu.Unlock()
	return nil
}

// processOne finds and starts the next eligible work item.
func (p *Processor) processOne() {
	p.mu.Lock()
	busy := len(p.inFlight) > 0
	p.mu.Unlock()
	if busy {
		return
	}

	item, wt := p.findNextWork()
	if item == nil {
		item, wt = p.popRetryQueue()
	}
	if item == nil {
		return
	}

	p.mu.Lock()
	p.inFlight[item.ID] = true
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.inFlight, item.ID)
			p.mu.Unlock()

			select {
			case p.done <- struct{}{}:
			default:
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if err := p.execute(ctx, item, wt); err != nil {
			p.retry(item)
		}
	}()
}

// execute runs one item, records its completion and publishes the outcome
func (p *Processor) execute(ctx context.Context, item *WorkItem, wt *WorkType) error {
	start := time.Now()
	err := wt.Execute(ctx, item.Subject)
	elapsed := time.Since(start)

	data := &events.WorkData{
		WorkID:     item.ID,
		WorkType:   item.TypeID,
		Subject:    item.Subject,
		DurationMS: elapsed.Milliseconds(),
		Retries:    item.Retries,
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", p.timeout, err)
		}
		p.log.Error().Err(err).Str("work", item.ID).Int("retries", item.Retries).Msg("Work failed")
		data.Error = err.Error()
		p.events.EmitTyped("work", data)
		return err
	}

	p.completion.MarkCompleted(item)
	p.log.Debug().Str("work", item.ID).Dur("duration", elapsed).Msg("Work completed")
	p.events.EmitTyped("work", data)
	return nil
}

func (p *Processor) retry(item *WorkItem) {
	item.Retries++
	if item.Retries >= MaxRetries {
		p.log.Warn().Str("work", item.ID).Int("retries", item.Retries).Msg("Max retries reached, giving up")
		p.mu.Lock()
		p.exhausted[item.ID] = time.Now()
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.retryQueue = append(p.retryQueue, item)
}

// findNextWork returns the first eligible item of the highest-priority type
func (p *Processor) findNextWork() (*WorkItem, *WorkType) {
	for _, wt := range p.registry.ByPriority() {
		subjects := wt.FindSubjects()
		for _, subject := range subjects {
			if wt.Interval > 0 && !p.completion.IsStale(wt.ID, subject, wt.Interval) {
				continue
			}
			if !p.dependenciesMet(wt, subject) {
				continue
			}
			item := NewWorkItem(wt, subject)
			if p.parked(item.ID) {
				continue
			}
			return item, wt
		}
	}
	return nil, nil
}

// parked reports items waiting in the retry queue or out of retries
func (p *Processor) parked(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if at, ok := p.exhausted[id]; ok {
		if time.Since(at) < ExhaustedCooldown {
			return true
		}
		delete(p.exhausted, id)
	}
	for _, queued := range p.retryQueue {
		if queued.ID == id {
			return true
		}
	}
	return false
}

func (p *Processor) dependenciesMet(wt *WorkType, subject string) bool {
	for _, depID := range wt.DependsOn {
		if _, ok := p.completion.GetCompletion(depID, subject); !ok {
			return false
		}
	}
	return true
}

func (p *Processor) popRetryQueue() (*WorkItem, *WorkType) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.retryQueue) > 0 {
		item := p.retryQueue[0]
		p.retryQueue = p.retryQueue[1:]
		if wt := p.registry.Get(item.TypeID); wt != nil {
			return item, wt
		}
	}
	return nil, nil
}

// Status is a snapshot of the processor queues
type Status struct {
	InFlight  []string `json:"in_flight"`
	Retrying  []string `json:"retrying"`
	Exhausted []string `json:"exhausted"`
}

// Status returns the current queue state
func (p *Processor) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Status{InFlight: []string{}, Retrying: []string{}, Exhausted: []string{}}
	for id := range p.inFlight {
		s.InFlight = append(s.InFlight, id)
	}
	for _, item := range p.retryQueue {
		s.Retrying = append(s.Retrying, item.ID)
	}
	for id := range p.exhausted {
		s.Exhausted = append(s.Exhausted, id)
	}
	sort.Strings(s.InFlight)
	sort.Strings(s.Exhausted)
	return s
}
