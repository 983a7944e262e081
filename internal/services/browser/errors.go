package browser

import (
	"errors"
	"fmt"
)

// DriverError is a transient network/navigation failure carrying the step
// that failed. The orchestrator retries these with backoff.
type DriverError struct {
	Step string
	Err  error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("driver step %s failed: %v", e.Step, e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// ScrapeStructureError signals a DOM-structure mismatch: a selector that the
// scrape requires was absent beyond its wait timeout. This usually means the
// upstream page layout changed and retrying cannot help.
type ScrapeStructureError struct {
	Step     string
	Selector string
}

func (e *ScrapeStructureError) Error() string {
	return fmt.Sprintf("expected element %q not found during %s", e.Selector, e.Step)
}

// IsStructural reports whether the error is a non-retryable DOM mismatch
func IsStructural(err error) bool {
	var se *ScrapeStructureError
	return errors.As(err, &se)
}

// IsTransient reports whether the error is a retryable driver failure
func IsTransient(err error) bool {
	var de *DriverError
	return errors.As(err, &de) && !IsStructural(err)
}

func driverErr(step string, err error) error {
	if err == nil {
		return nil
	}
	return &DriverError{Step: step, Err: err}
}
