package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a stored entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a state transition lost a race or the
	// entity is no longer in the required state
	ErrConflict = errors.New("conflict")
	// ErrAlreadyImported is returned by the final creation gate when the
	// email already produced a transaction
	ErrAlreadyImported = errors.New("email already imported")
)

// ErrorKind classifies pipeline failures
type ErrorKind string

const (
	KindParse               ErrorKind = "ParseError"
	KindValidation          ErrorKind = "ValidationError"
	KindPortfolioResolution ErrorKind = "PortfolioResolutionError"
	KindSymbolResolution    ErrorKind = "SymbolResolutionError"
	KindDuplicateDetection  ErrorKind = "DuplicateDetectionError"
	KindTransactionCreation ErrorKind = "TransactionCreationError"
	KindQueueWrite          ErrorKind = "QueueWriteError"
	KindConflict            ErrorKind = "ConflictError"
)

// Parse error codes
const (
	CodeUnrecognizedFormat    = "UNRECOGNIZED_FORMAT"
	CodeFieldExtractionFailed = "FIELD_EXTRACTION_FAILED"
	// CodeCancelled marks an email that was never attempted
	CodeCancelled             = "CANCELLED"
)

// PipelineError is a typed failure collected on a processing result
type PipelineError struct {
	Err     error     `json:"-"`
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message"`
	Stage   string    `json:"stage,omitempty"`
}

// NewPipelineError creates a PipelineError wrapping an optional cause
func NewPipelineError(kind ErrorKind, code, message string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Code: code, Message: message, Err: err}
}

func (e *PipelineError) Error() string {
	msg := string(e.Kind)
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// WithStage tags the error with the pipeline stage that produced it
func (e *PipelineError) WithStage(stage string) *PipelineError {
	e.Stage = stage
	return e
}

// Fatal reports whether the error ends processing of the email.
// Symbol and duplicate failures degrade to fallback data instead.
func (e *PipelineError) Fatal() bool {
	switch e.Kind {
	case KindSymbolResolution, KindDuplicateDetection:
		return false
	}
	return true
}

// AsPipelineError converts any error into a PipelineError of the given kind,
// keeping an existing PipelineError untouched.
func AsPipelineError(err error, kind ErrorKind, message string) *PipelineError {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, ErrConflict) {
		kind = KindConflict
	}
	return NewPipelineError(kind, "", message, err)
}

// ConflictError reports a review transition attempted on an item that is
// no longer pending or was modified concurrently.
type ConflictError struct {
	ItemID        string
	CurrentStatus ReviewStatus
}

func (e *ConflictError) Error() string {
	if e.CurrentStatus.Terminal() {
		return fmt.Sprintf("review item %s is already %s", e.ItemID, e.CurrentStatus)
	}
	return fmt.Sprintf("review item %s was modified concurrently", e.ItemID)
}

// Is lets errors.Is(err, ErrConflict) match
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
