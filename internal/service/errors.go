package service

import (
	"context"
	"errors"
	"fmt"

	"floor-dispatch-service/internal/store"
)

var (
	ErrAlreadyClaimed    = errors.New("order no longer available")
	ErrInvalidTransition = errors.New("invalid order transition")
	ErrStoreUnavailable  = errors.New("store unavailable, try again")
	ErrAuditWriteFailed  = errors.New("order updated but its audit record was not written")
	ErrGuardFailed       = errors.New("order no longer eligible for auto-reject")
	ErrOrderNotFound     = errors.New("order not found")
	ErrForbidden         = errors.New("forbidden")
	ErrRejectedByYou     = errors.New("order was rejected by this worker")
	ErrInvalidItems      = errors.New("invalid order items")
	ErrInvalidSeat       = errors.New("invalid seat")
	ErrConflict          = errors.New("order changed concurrently, try again")

	// errUnchanged aborts a mutation that would not change the order.
	errUnchanged = errors.New("unchanged")
)

// storeErr maps store failures onto the service taxonomy.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrOrderNotFound
	case errors.Is(err, store.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}
