package relcache

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedQuery is returned when a predicate is combined with the
	// plain key-walk stream mode, which has no predicate evaluation. This is
	// a programmer error, surfaced immediately.
	ErrUnsupportedQuery = errors.New("relcache: unsupported query shape")

	// ErrNonNumeric is returned by UpdateCounter when the stored value does
	// not decode to an integer. Propagated, never coerced.
	ErrNonNumeric = errors.New("relcache: stored value is not an integer")
)

// CloseError reports which parts of shutdown failed. Close always attempts
// every stage, so more than one cause may be present.
type CloseError struct {
	SweeperErr error
	ClusterErr error
	StoreErr   error
}

func (e *CloseError) Error() string {
	switch {
	case e.ClusterErr != nil && e.StoreErr != nil:
		return fmt.Sprintf("close failed: cluster=%v; store=%v", e.ClusterErr, e.StoreErr)
	case e.SweeperErr != nil:
		return fmt.Sprintf("close: sweeper stop failed: %v", e.SweeperErr)
	case e.ClusterErr != nil:
		return fmt.Sprintf("close: cluster stop failed: %v", e.ClusterErr)
	case e.StoreErr != nil:
		return fmt.Sprintf("close: store close failed: %v", e.StoreErr)
	default:
		return "close: unknown error"
	}
}

func (e *CloseError) Unwrap() []error {
	errs := make([]error, 0, 3)
	if e.SweeperErr != nil {
		errs = append(errs, e.SweeperErr)
	}
	if e.ClusterErr != nil {
		errs = append(errs, e.ClusterErr)
	}
	if e.StoreErr != nil {
		errs = append(errs, e.StoreErr)
	}
	return errs
}

func (e *CloseError) any() bool {
	return e.SweeperErr != nil || e.ClusterErr != nil || e.StoreErr != nil
}
