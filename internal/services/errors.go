package services

import (
	"errors"
	"fmt"
)

// Error kinds. Source, embedding and summarization errors are recovered
// inside the component that hits them; persistence and configuration errors
// abort the run and reach the caller.
var (
	ErrSourceFetch   = errors.New("source fetch failed")
	ErrEmbedding     = errors.New("embedding failed")
	ErrSummarization = errors.New("summarization failed")
	ErrPersistence   = errors.New("persistence failed")
	ErrConfiguration = errors.New("configuration error")
)

// ProcessingError carries the kind of failure together with where it happened.
type ProcessingError struct {
	Kind      error
	ProjectID string
	Op        string
	Err       error
}

func (e *ProcessingError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: project %s: %v", e.Op, e.ProjectID, e.Kind)
	}
	return fmt.Sprintf("%s: project %s: %v: %v", e.Op, e.ProjectID, e.Kind, e.Err)
}

func (e *ProcessingError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newProcessingError(kind error, projectID, op string, err error) *ProcessingError {
	return &ProcessingError{Kind: kind, ProjectID: projectID, Op: op, Err: err}
}

// IsRetryable reports whether a failed run can simply be triggered again.
// Configuration errors need an operator first.
func IsRetryable(err error) bool {
	return err != nil && !errors.Is(err, ErrConfiguration)
}
