// Package spool feeds .eml files dropped into a directory through the
// ingest pipeline.
//
// Layout under the spool root:
//
//	incoming/   files waiting to be processed
//	processed/  files that were imported, queued or skipped
//	failed/     files that could not be decoded or hit a fatal error
//
// Every moved file gets a <name>.result.json sidecar with the outcome.
package spool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/aristath/tradeinbox/internal/events"
	"github.com/aristath/tradeinbox/internal/modules/ingest"
	"github.com/rs/zerolog"
)

// Subdirectories of the spool root
const (
	DirIncoming  = "incoming"
	DirProcessed = "processed"
	DirFailed    = "failed"
)

// Extension of spooled messages
const Extension = ".eml"

// Processor runs one email through the pipeline
type Processor interface {
	Process(ctx context.Context, raw domain.RawEmail) *ingest.EmailProcessingResult
}

// Spool owns a spool directory
type Spool struct {
	root      string
	processor Processor
	events    *events.Bus
	log       zerolog.Logger
}

// New creates the spool directories under root. bus may be nil.
func New(root string, processor Processor, bus *events.Bus, log zerolog.Logger) (*Spool, error) {
	for _, dir := range []string{DirIncoming, DirProcessed, DirFailed} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			return nil, fmt.Errorf("failed to create spool directory %s: %w", dir, err)
		}
	}
	return &Spool{
		root:      root,
		processor: processor,
		events:    bus,
		log:       log.With().Str("service", "spool").Logger(),
	}, nil
}

// Dir returns the path of a spool subdirectory
func (s *Spool) Dir(name string) string {
	return filepath.Join(s.root, name)
}

// Pending lists the message files waiting in incoming/, oldest name first
func (s *Spool) Pending() []string {
	entries, err := os.ReadDir(s.Dir(DirIncoming))
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list spool directory")
		return nil
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !isMessage(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

// Outcome is what happened to one spooled file
type Outcome struct {
	File   string                        `json:"file"`
	Moved  string                        `json:"moved"`
	Error  string                        `json:"error,omitempty"`
	Result *ingest.EmailProcessingResult `json:"result,omitempty"`
}

// ProcessFile decodes and processes one file from incoming/ and moves it to
// processed/ or failed/. Pipeline failures are part of the outcome; only
// filesystem problems are returned as errors, so the caller may retry.
func (s *Spool) ProcessFile(ctx context.Context, name string) (*Outcome, error) {
	if name != filepath.Base(name) || !isMessage(name) {
		return nil, fmt.Errorf("invalid spool file name %q", name)
	}
	path := filepath.Join(s.Dir(DirIncoming), name)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spool file %s: %w", name, err)
	}
	raw, decodeErr := Decode(f)
	_ = f.Close()

	outcome := &Outcome{File: name}
	target := DirProcessed
	switch {
	case decodeErr != nil:
		outcome.Error = decodeErr.Error()
		target = DirFailed
	default:
		if raw.ReceivedAt.IsZero() {
			if info, err := os.Stat(path); err == nil {
				raw.ReceivedAt = info.ModTime().UTC()
			}
		}
		outcome.Result = s.processor.Process(ctx, raw)
		if outcome.Result.Failed() {
			outcome.Error = outcome.Result.Errors[0].Error()
			target = DirFailed
		}
	}

	moved, err := s.move(name, target)
	if err != nil {
		return nil, err
	}
	outcome.Moved = moved
	s.writeSidecar(moved, outcome)

	s.log.Info().
		Str("file", name).
		Str("moved_to", target).
		Str("error", outcome.Error).
		Msg("Spool file handled")
	return outcome, nil
}

// move renames incoming/name into dir, suffixing the name on collision
func (s *Spool) move(name, dir string) (string, error) {
	src := filepath.Join(s.Dir(DirIncoming), name)
	dst := filepath.Join(s.Dir(dir), name)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		if _, err := os.Stat(dst); os.IsNotExist(err) {
			break
		}
		dst = filepath.Join(s.Dir(dir), fmt.Sprintf("%s.%d%s", base, i, ext))
	}
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("failed to move %s to %s: %w", name, dir, err)
	}
	return dst, nil
}

func (s *Spool) writeSidecar(moved string, outcome *Outcome) {
	data, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		s.log.Warn().Err(err).Str("file", outcome.File).Msg("Failed to encode spool outcome")
		return
	}
	sidecar := strings.TrimSuffix(moved, filepath.Ext(moved)) + ".result.json"
	if err := os.WriteFile(sidecar, data, 0644); err != nil {
		s.log.Warn().Err(err).Str("file", sidecar).Msg("Failed to write spool outcome")
	}
}

func isMessage(name string) bool {
	return strings.EqualFold(filepath.Ext(name), Extension) && !strings.HasPrefix(name, ".")
}
