package agent

import (
	"errors"
	"fmt"
)

// ErrTaskInProgress is returned by RunTask when a task is already
// running. The engine executes one task at a time.
var ErrTaskInProgress = errors.New("a task is already running")

// QuotaExceededError signals that a provider rejected a request
// because its usage quota is exhausted. The loop treats it as a
// handover signal rather than a failure: the step is retried on the
// next provider in line.
type QuotaExceededError struct {
	Provider string
	Model    string
	Err      error
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s quota exceeded for model %s: %v", e.Provider, e.Model, e.Err)
}

func (e *QuotaExceededError) Unwrap() error {
	return e.Err
}

// IsQuotaExceeded reports whether err is, or wraps, a quota error.
func IsQuotaExceeded(err error) bool {
	var quota *QuotaExceededError
	return errors.As(err, &quota)
}

// ProviderUnavailableError signals that a provider could not be used
// at all, for example when no API keys are configured or the backend
// is unreachable.
type ProviderUnavailableError struct {
	Provider string
	Reason   string
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %s", e.Provider, e.Reason)
}
