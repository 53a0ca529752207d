package maintenance

import (
	"errors"
	"fmt"

	"github.com/faultwatch/faultwatch/internal/logstore"
)

var (
	// ErrNotFound is returned by manual operations on a stream the log
	// store does not know.
	ErrNotFound = logstore.ErrNotFound

	// ErrPartialCycle is returned by RunCycle when at least one stream failed
	// in an otherwise completed cycle.
	ErrPartialCycle = errors.New("maintenance: one or more streams failed")

	// ErrInvalidStream is returned for an empty stream name.
	ErrInvalidStream = errors.New("maintenance: stream name is required")

	// ErrInvalidLength is returned for a non-positive manual trim length.
	ErrInvalidLength = errors.New("maintenance: max length must be positive")
)

// ConfigError reports a rejected configuration value.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("maintenance: invalid config %s: %s", e.Field, e.Reason)
}
