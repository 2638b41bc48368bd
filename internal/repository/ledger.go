package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"floor-dispatch-service/internal/model"
	"floor-dispatch-service/internal/store"

	"github.com/cenkalti/backoff/v4"
	"github.com/facebookgo/clock"
)

const HistoryCollection = "order_modifications"

var ErrInvalidRecord = errors.New("invalid modification record")

// Ledger is the append-only audit trail of order modifications. It exposes
// no update or delete; corrections are new records.
type Ledger struct {
	store      store.Store
	log        *slog.Logger
	clock      clock.Clock
	attempts   int
	retryDelay time.Duration
}

type LedgerOptions struct {
	// Attempts bounds the writes per record, first try included.
	Attempts int
	// RetryDelay is the first pause between attempts; it doubles after each.
	RetryDelay time.Duration
	Clock      clock.Clock
}

func NewLedger(s store.Store, log *slog.Logger, opts LedgerOptions) *Ledger {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Ledger{store: s, log: log, clock: opts.Clock, attempts: opts.Attempts, retryDelay: opts.RetryDelay}
}

// Append writes rec, retrying transient failures. The returned error is the
// last failure once every attempt is spent.
func (l *Ledger) Append(ctx context.Context, rec model.ModificationRecord) (string, error) {
	if rec.OrderID == "" || rec.ModificationType == "" {
		return "", ErrInvalidRecord
	}
	rec.ID = ""

	attempt := 0
	var write backoff.OperationWithData[string] = func() (string, error) {
		attempt++
		id, err := l.store.Append(ctx, HistoryCollection, rec)
		if err != nil {
			l.log.Warn("audit append failed",
				"action", "audit_append_retry", "order_id", rec.OrderID,
				"attempt", attempt, "error", err)
		}
		return id, err
	}

	id, err := backoff.RetryNotifyWithTimerAndData(write, l.backOff(ctx), nil, &clockTimer{clock: l.clock})
	switch {
	case err == nil:
		return id, nil
	case ctx.Err() != nil:
		return "", fmt.Errorf("audit append: %w", ctx.Err())
	}
	return "", fmt.Errorf("audit append after %d attempts: %w", attempt, err)
}

func (l *Ledger) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(l.retryDelay),
		backoff.WithRandomizationFactor(0),
		backoff.WithMultiplier(2),
		backoff.WithMaxElapsedTime(0),
		backoff.WithClockProvider(l.clock),
	)
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(l.attempts-1)), ctx)
}

// clockTimer runs backoff's waits on the ledger's clock.
type clockTimer struct {
	clock clock.Clock
	timer *clock.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	t.Stop()
	t.timer = t.clock.Timer(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time { return t.timer.C }

// ForOrder returns the history of one order, oldest first.
func (l *Ledger) ForOrder(ctx context.Context, orderID string) ([]model.ModificationRecord, error) {
	snaps, err := l.store.Find(ctx, store.Query{
		Collection: HistoryCollection,
		Where:      []store.Cond{store.Eq("order_id", orderID)},
	})
	if err != nil {
		return nil, err
	}
	recs := l.decode(snaps)
	sortChronological(recs)
	return recs, nil
}

// GroupByOrder returns every history, most recently modified order first.
func (l *Ledger) GroupByOrder(ctx context.Context) ([]model.OrderHistory, error) {
	snaps, err := l.store.Find(ctx, store.Query{Collection: HistoryCollection})
	if err != nil {
		return nil, err
	}

	byOrder := make(map[string][]model.ModificationRecord)
	for _, rec := range l.decode(snaps) {
		byOrder[rec.OrderID] = append(byOrder[rec.OrderID], rec)
	}

	out := make([]model.OrderHistory, 0, len(byOrder))
	for id, recs := range byOrder {
		sortChronological(recs)
		out = append(out, model.OrderHistory{OrderID: id, Records: recs})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastModified(), out[j].LastModified()
		if !a.Equal(b) {
			return a.After(b)
		}
		return out[i].OrderID < out[j].OrderID
	})
	return out, nil
}

func (l *Ledger) decode(snaps []store.Snapshot) []model.ModificationRecord {
	out := make([]model.ModificationRecord, 0, len(snaps))
	for _, s := range snaps {
		var rec model.ModificationRecord
		if err := s.Decode(&rec); err != nil {
			l.log.Warn("skipping unreadable modification record",
				"action", "audit_decode_failed", "record_id", s.ID, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Records of one transition share a timestamp; the stable sort keeps them in
// write order.
func sortChronological(recs []model.ModificationRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].ModifiedAt.Before(recs[j].ModifiedAt)
	})
}
