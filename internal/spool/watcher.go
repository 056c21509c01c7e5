package spool

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/aristath/tradeinbox/internal/events"
	"github.com/fsnotify/fsnotify"
)

// settleDelay lets writers finish before a new file is announced
const settleDelay = 250 * time.Millisecond

// Watch announces files arriving in incoming/ until ctx is done. Each
// arrival is published as SpoolFileArrived and passed to onArrive, which
// may be nil. Files already waiting are announced once at start.
func (s *Spool) Watch(ctx context.Context, onArrive func(name string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create spool watcher: %w", err)
	}
	if err := watcher.Add(s.Dir(DirIncoming)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch spool directory: %w", err)
	}

	for _, name := range s.Pending() {
		s.announce(name, onArrive)
	}

	go s.run(ctx, watcher, onArrive)
	return nil
}

func (s *Spool) run(ctx context.Context, watcher *fsnotify.Watcher, onArrive func(name string)) {
	pending := make(map[string]*time.Timer)
	arrived := make(chan string, 16)
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
		_ = watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if !isMessage(name) {
				continue
			}
			// Writes arrive in bursts; restart the timer on each one
			if t, ok := pending[name]; ok {
				t.Stop()
			}
			pending[name] = time.AfterFunc(settleDelay, func() {
				select {
				case arrived <- name:
				case <-ctx.Done():
				}
			})

		case name := <-arrived:
			delete(pending, name)
			s.announce(name, onArrive)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn().Err(err).Msg("Spool watcher error")
		}
	}
}

func (s *Spool) announce(name string, onArrive func(name string)) {
	s.log.Debug().Str("file", name).Msg("Spool file arrived")
	s.events.EmitTyped("spool", &events.SpoolFileData{File: name})
	if onArrive != nil {
		onArrive(name)
	}
}
