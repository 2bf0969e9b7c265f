// Package simerr defines the error taxonomy shared by the simulation packages.
package simerr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrConfiguration reports malformed or contradictory parameters: size
	// mismatches, an interpolation target not larger than its source, a crop
	// larger than the field. Never silently corrected.
	ErrConfiguration = errors.New("configuration error")

	// ErrNotFound reports a named plane or attribute missing from where it
	// was expected.
	ErrNotFound = errors.New("not found")

	// ErrCacheMismatch reports that a cached run's parameters differ from the
	// requested ones and the resolution policy refused to continue.
	ErrCacheMismatch = errors.New("cached run parameters differ")

	// ErrFieldsExist reports that a selective overwrite was refused because
	// the run directory already holds finalized field output.
	ErrFieldsExist = fmt.Errorf("%w: finalized field output exists", ErrCacheMismatch)
)

// Configf wraps ErrConfiguration with a formatted message.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// WorkerFailure reports timesteps whose results never arrived because the
// worker processing them failed. The run's other results are still valid.
type WorkerFailure struct {
	Missing []int
	Total   int
}

func (e *WorkerFailure) Error() string {
	missing := append([]int(nil), e.Missing...)
	sort.Ints(missing)
	parts := make([]string, 0, len(missing))
	for i, t := range missing {
		if i == 10 {
			parts = append(parts, fmt.Sprintf("... (%d more)", len(missing)-10))
			break
		}
		parts = append(parts, fmt.Sprint(t))
	}
	return fmt.Sprintf("worker failure: %d of %d timesteps missing [%s]",
		len(missing), e.Total, strings.Join(parts, ", "))
}
