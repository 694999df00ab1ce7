package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is matched by every TimeoutError
var ErrTimeout = errors.New("timed out")

// TimeoutError reports that a bounded wait elapsed. It always carries the bound.
type TimeoutError struct {
	Op    string
	Bound time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Bound)
}

// Is makes errors.Is(err, ErrTimeout) true for any TimeoutError
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}
