package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"floor-dispatch-service/internal/model"
	"floor-dispatch-service/internal/repository"
	"floor-dispatch-service/internal/store"

	"github.com/facebookgo/clock"
)

// OrderStore is what the coordinator needs from the order repository.
type OrderStore interface {
	Create(ctx context.Context, o model.Order) (*model.Order, error)
	Get(ctx context.Context, id string) (*model.Order, error)
	ListLive(ctx context.Context) ([]model.Order, error)
	SubscribeLive(ctx context.Context) (*repository.OrderFeed, error)
	UpdateIf(ctx context.Context, id string, revision int64, fields store.Fields) (bool, error)
	MarkPaid(ctx context.Context, id string) error
}

type AuditLedger interface {
	Append(ctx context.Context, rec model.ModificationRecord) (string, error)
	ForOrder(ctx context.Context, orderID string) ([]model.ModificationRecord, error)
	GroupByOrder(ctx context.Context) ([]model.OrderHistory, error)
}

// A guarded write re-reads and re-checks this many times before giving up.
const maxWriteAttempts = 3

// Coordinator runs the claim state machine of single orders. Every write is
// conditional on the revision it read, so a transition whose precondition
// stopped holding is re-evaluated against the fresh document instead of
// clobbering it.
type Coordinator struct {
	orders          OrderStore
	ledger          AuditLedger
	events          Notifier
	clock           clock.Clock
	log             *slog.Logger
	autoRejectAfter time.Duration
}

type CoordinatorOptions struct {
	Events          Notifier
	Clock           clock.Clock
	AutoRejectAfter time.Duration
}

func NewCoordinator(orders OrderStore, ledger AuditLedger, log *slog.Logger, opts CoordinatorOptions) *Coordinator {
	c := &Coordinator{
		orders:          orders,
		ledger:          ledger,
		events:          opts.Events,
		clock:           opts.Clock,
		log:             log,
		autoRejectAfter: opts.AutoRejectAfter,
	}
	if c.events == nil {
		c.events = nopNotifier{}
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	return c
}

func (c *Coordinator) now() time.Time {
	return c.clock.Now().UTC().Truncate(time.Millisecond)
}

// PlaceOrder stores a new pending order and records its items.
func (c *Coordinator) PlaceOrder(ctx context.Context, seat model.Seat, items []model.OrderItem, by model.Worker) (*model.Order, error) {
	if err := seat.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSeat, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", ErrInvalidItems)
	}
	if err := model.ValidateItems(items); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidItems, err)
	}

	now := c.now()
	subtotal, total := Totals(items)
	o, err := c.orders.Create(ctx, model.Order{
		Seat:      seat,
		Items:     cloneItems(items),
		Status:    model.StatusPending,
		Subtotal:  subtotal,
		Total:     total,
		CreatedAt: now,
		UpdatedAt: now,
		Revision:  1,
	})
	if err != nil {
		return nil, storeErr(err)
	}

	auditErr := c.record(ctx, model.ModificationRecord{
		OrderID:          o.ID,
		ModifiedAt:       now,
		ModifiedBy:       by.ID,
		ModifiedByName:   by.Name,
		ModificationType: model.ModAdd,
		AddedItems:       cloneItems(items),
		Notes:            "order placed",
	})
	c.publish(ctx, Event{Type: EventOrderPlaced, OrderID: o.ID, WorkerID: by.ID, WorkerName: by.Name, Status: o.Status, At: now})
	return o, auditErr
}

// Claim gives w exclusive ownership of an unclaimed pending order and moves it
// to preparing. Losing a race returns ErrAlreadyClaimed with the winner's
// view of the order; claiming an order w already owns is a no-op.
func (c *Coordinator) Claim(ctx context.Context, orderID string, w model.Worker) (*model.Order, error) {
	m, err := c.mutate(ctx, orderID, func(cur model.Order, next *model.Order, now time.Time) ([]string, error) {
		switch {
		case cur.ClaimedBy == w.ID:
			return nil, errUnchanged
		case cur.Claimed():
			return nil, ErrAlreadyClaimed
		case cur.Status != model.StatusPending:
			return nil, fmt.Errorf("%w: cannot claim a %s order", ErrInvalidTransition, cur.Status)
		case cur.LastRejectedBy == w.ID && !w.Admin:
			return nil, ErrRejectedByYou
		}
		next.ClaimedBy = w.ID
		next.ClaimedByName = w.Name
		next.RejectionCount = 0
		next.LastRejectedBy = ""
		next.LastRejectedAt = nil
		next.HasNewItems = false
		next.Status = model.StatusPreparing
		return []string{
			repository.FieldClaimedBy, repository.FieldClaimedByName,
			repository.FieldRejectionCount, repository.FieldLastRejectedBy,
			repository.FieldLastRejectedAt, repository.FieldHasNewItems,
			repository.FieldStatus,
		}, nil
	})
	switch {
	case errors.Is(err, errUnchanged):
		return &m.after, nil
	case errors.Is(err, ErrAlreadyClaimed):
		c.log.Info("claim lost to another worker",
			"action", "claim_lost", "order_id", orderID, "worker_id", w.ID, "claimed_by", m.before.ClaimedBy)
		return &m.before, ErrAlreadyClaimed
	case err != nil:
		return nil, err
	}

	c.log.Info("order claimed", "action", "order_claimed", "order_id", orderID, "worker_id", w.ID)
	auditErr := c.record(ctx, model.ModificationRecord{
		OrderID:          orderID,
		ModifiedAt:       m.at,
		ModifiedBy:       w.ID,
		ModifiedByName:   w.Name,
		ModificationType: model.ModClaim,
	})
	c.publish(ctx, Event{Type: EventOrderClaimed, OrderID: orderID, WorkerID: w.ID, WorkerName: w.Name, Status: m.after.Status, At: m.at})
	return &m.after, auditErr
}

// Reject declines the offer of an unclaimed pending order. The order stays in
// the pool; w stops being offered it until someone else touches it.
func (c *Coordinator) Reject(ctx context.Context, orderID string, w model.Worker) (*model.Order, error) {
	m, err := c.mutate(ctx, orderID, func(cur model.Order, next *model.Order, now time.Time) ([]string, error) {
		switch {
		case cur.Claimed():
			return nil, ErrAlreadyClaimed
		case cur.Status != model.StatusPending:
			return nil, fmt.Errorf("%w: cannot reject a %s order", ErrInvalidTransition, cur.Status)
		case cur.LastRejectedBy == w.ID:
			return nil, errUnchanged
		}
		return applyRejection(next, w, now), nil
	})
	switch {
	case errors.Is(err, errUnchanged):
		return &m.after, nil
	case errors.Is(err, ErrAlreadyClaimed):
		return &m.before, ErrAlreadyClaimed
	case err != nil:
		return nil, err
	}

	c.log.Info("order rejected", "action", "order_rejected", "order_id", orderID,
		"worker_id", w.ID, "rejection_count", m.after.RejectionCount)
	auditErr := c.record(ctx, model.ModificationRecord{
		OrderID:          orderID,
		ModifiedAt:       m.at,
		ModifiedBy:       w.ID,
		ModifiedByName:   w.Name,
		ModificationType: model.ModReject,
	})
	c.publish(ctx, Event{Type: EventOrderRejected, OrderID: orderID, WorkerID: w.ID, WorkerName: w.Name, Status: m.after.Status, At: m.at})
	return &m.after, auditErr
}

// AutoReject rejects on behalf of w after its offer deadline passed. If the
// order was claimed, left the pool or was already rejected by w in the
// meantime it returns ErrGuardFailed and writes nothing.
func (c *Coordinator) AutoReject(ctx context.Context, orderID string, w model.Worker) (*model.Order, error) {
	m, err := c.mutate(ctx, orderID, func(cur model.Order, next *model.Order, now time.Time) ([]string, error) {
		switch {
		case cur.Claimed():
			return nil, fmt.Errorf("%w: claimed by %s", ErrGuardFailed, cur.ClaimedBy)
		case cur.Status != model.StatusPending:
			return nil, fmt.Errorf("%w: status is %s", ErrGuardFailed, cur.Status)
		case cur.LastRejectedBy == w.ID:
			return nil, fmt.Errorf("%w: already rejected by %s", ErrGuardFailed, w.ID)
		}
		return applyRejection(next, w, now), nil
	})
	if errors.Is(err, ErrOrderNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrGuardFailed, err)
	}
	if err != nil {
		return nil, err
	}

	c.log.Info("order auto-rejected", "action", "order_auto_rejected", "order_id", orderID,
		"worker_id", w.ID, "rejection_count", m.after.RejectionCount)
	auditErr := c.record(ctx, model.ModificationRecord{
		OrderID:          orderID,
		ModifiedAt:       m.at,
		ModifiedBy:       w.ID,
		ModifiedByName:   w.Name,
		ModificationType: model.ModAutoReject,
		Notes:            fmt.Sprintf("auto-rejected: not claimed within %s", c.autoRejectAfter),
	})
	c.publish(ctx, Event{Type: EventOrderAutoReject, OrderID: orderID, WorkerID: w.ID, WorkerName: w.Name, Status: m.after.Status, At: m.at})
	return &m.after, auditErr
}

func applyRejection(next *model.Order, w model.Worker, now time.Time) []string {
	at := now
	next.RejectionCount++
	next.LastRejectedBy = w.ID
	next.LastRejectedAt = &at
	return []string{repository.FieldRejectionCount, repository.FieldLastRejectedBy, repository.FieldLastRejectedAt}
}

// AdvanceStatus moves a claimed order one step along
// pending -> preparing -> ready -> delivered. Only the claimant, or an admin,
// may advance it.
func (c *Coordinator) AdvanceStatus(ctx context.Context, orderID string, w model.Worker, status model.Status) (*model.Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	m, err := c.mutate(ctx, orderID, func(cur model.Order, next *model.Order, now time.Time) ([]string, error) {
		switch {
		case !cur.Claimed():
			return nil, fmt.Errorf("%w: order must be claimed first", ErrInvalidTransition)
		case cur.ClaimedBy != w.ID && !w.Admin:
			return nil, ErrForbidden
		case !cur.Status.CanAdvanceTo(status):
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, status)
		}
		next.Status = status
		keys := []string{repository.FieldStatus}
		if status == model.StatusDelivered {
			at := now
			next.DeliveredAt = &at
			keys = append(keys, repository.FieldDeliveredAt)
		}
		return keys, nil
	})
	if errors.Is(err, ErrInvalidTransition) {
		c.log.Warn("status change refused", "action", "invalid_transition",
			"order_id", orderID, "worker_id", w.ID, "status", status, "error", err)
	}
	if err != nil {
		return nil, err
	}

	auditErr := c.record(ctx, model.ModificationRecord{
		OrderID:          orderID,
		ModifiedAt:       m.at,
		ModifiedBy:       w.ID,
		ModifiedByName:   w.Name,
		ModificationType: model.ModEdit,
		StatusChange:     &model.StatusChange{Before: m.before.Status, After: m.after.Status},
	})
	c.publish(ctx, Event{Type: EventStatusChanged, OrderID: orderID, WorkerID: w.ID, WorkerName: w.Name, Status: status, At: m.at})
	return &m.after, auditErr
}

// EditOrder replaces the item list and logs one record per non-empty change
// category: added, removed, quantity edited. Changes to names, prices or
// notes are stored without a record.
func (c *Coordinator) EditOrder(ctx context.Context, orderID string, w model.Worker, items []model.OrderItem) (*model.Order, error) {
	if err := model.ValidateItems(items); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidItems, err)
	}

	var diff ItemDiff
	m, err := c.mutate(ctx, orderID, func(cur model.Order, next *model.Order, now time.Time) ([]string, error) {
		switch {
		case !cur.Status.Live():
			return nil, fmt.Errorf("%w: cannot edit a %s order", ErrInvalidTransition, cur.Status)
		case cur.ClaimedBy != w.ID && !w.Admin:
			return nil, ErrForbidden
		}
		if slices.Equal(cur.Items, items) && !cur.HasNewItems {
			return nil, errUnchanged
		}
		diff = DiffItems(cur.Items, items)
		next.Items = cloneItems(items)
		next.Subtotal, next.Total = Totals(next.Items)
		next.HasNewItems = false
		return []string{repository.FieldItems, repository.FieldSubtotal, repository.FieldTotal, repository.FieldHasNewItems}, nil
	})
	if errors.Is(err, errUnchanged) {
		return &m.after, nil
	}
	if err != nil {
		return nil, err
	}
	if diff.Empty() {
		c.publish(ctx, Event{Type: EventOrderEdited, OrderID: orderID, WorkerID: w.ID, WorkerName: w.Name, Status: m.after.Status, At: m.at})
		return &m.after, nil
	}

	base := model.ModificationRecord{
		OrderID:        orderID,
		ModifiedAt:     m.at,
		ModifiedBy:     w.ID,
		ModifiedByName: w.Name,
	}
	var recs []model.ModificationRecord
	if len(diff.Added) > 0 {
		rec := base
		rec.ModificationType = model.ModAdd
		rec.AddedItems = diff.Added
		recs = append(recs, rec)
	}
	if len(diff.Removed) > 0 {
		rec := base
		rec.ModificationType = model.ModRemove
		rec.RemovedItems = diff.Removed
		recs = append(recs, rec)
	}
	if len(diff.Edited) > 0 {
		rec := base
		rec.ModificationType = model.ModEdit
		rec.EditedItems = diff.Edited
		recs = append(recs, rec)
	}

	c.log.Info("order edited", "action", "order_edited", "order_id", orderID, "worker_id", w.ID,
		"added", len(diff.Added), "removed", len(diff.Removed), "edited", len(diff.Edited))
	auditErr := c.record(ctx, recs...)
	c.publish(ctx, Event{Type: EventOrderEdited, OrderID: orderID, WorkerID: w.ID, WorkerName: w.Name, Status: m.after.Status, At: m.at})
	return &m.after, auditErr
}

// AppendItems merges items arriving from another channel into a live order.
// Orders already being handled are flagged so the claimant notices.
func (c *Coordinator) AppendItems(ctx context.Context, orderID string, by model.Worker, items []model.OrderItem) (*model.Order, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no items to add", ErrInvalidItems)
	}
	if err := model.ValidateItems(items); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidItems, err)
	}

	m, err := c.mutate(ctx, orderID, func(cur model.Order, next *model.Order, now time.Time) ([]string, error) {
		if !cur.Status.Live() {
			return nil, fmt.Errorf("%w: cannot add items to a %s order", ErrInvalidTransition, cur.Status)
		}
		next.Items = MergeItems(cur.Items, items)
		next.Subtotal, next.Total = Totals(next.Items)
		keys := []string{repository.FieldItems, repository.FieldSubtotal, repository.FieldTotal}
		if cur.Claimed() || cur.Status != model.StatusPending {
			next.HasNewItems = true
			keys = append(keys, repository.FieldHasNewItems)
		}
		return keys, nil
	})
	if err != nil {
		return nil, err
	}

	auditErr := c.record(ctx, model.ModificationRecord{
		OrderID:          orderID,
		ModifiedAt:       m.at,
		ModifiedBy:       by.ID,
		ModifiedByName:   by.Name,
		ModificationType: model.ModAdd,
		AddedItems:       cloneItems(items),
	})
	c.publish(ctx, Event{Type: EventItemsAdded, OrderID: orderID, WorkerID: by.ID, WorkerName: by.Name, Status: m.after.Status, At: m.at})
	return &m.after, auditErr
}

// AcknowledgeNewItems clears the new-items flag for the claimant.
func (c *Coordinator) AcknowledgeNewItems(ctx context.Context, orderID string, w model.Worker) (*model.Order, error) {
	m, err := c.mutate(ctx, orderID, func(cur model.Order, next *model.Order, now time.Time) ([]string, error) {
		switch {
		case cur.ClaimedBy != w.ID && !w.Admin:
			return nil, ErrForbidden
		case !cur.HasNewItems:
			return nil, errUnchanged
		}
		next.HasNewItems = false
		return []string{repository.FieldHasNewItems}, nil
	})
	if errors.Is(err, errUnchanged) {
		return &m.after, nil
	}
	if err != nil {
		return nil, err
	}
	return &m.after, nil
}

type mutation struct {
	before model.Order
	after  model.Order
	at     time.Time
}

type change func(cur model.Order, next *model.Order, now time.Time) ([]string, error)

// mutate reads the order, lets fn decide the change against that read and
// writes it conditionally on the read's revision. A lost race re-reads and
// asks fn again. On error the mutation carries the last read as before and
// after.
func (c *Coordinator) mutate(ctx context.Context, orderID string, fn change) (mutation, error) {
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		cur, err := c.orders.Get(ctx, orderID)
		if err != nil {
			return mutation{}, storeErr(err)
		}

		now := c.now()
		next := *cur
		next.Items = cloneItems(cur.Items)
		keys, err := fn(*cur, &next, now)
		if err != nil {
			return mutation{before: *cur, after: *cur, at: now}, err
		}

		next.UpdatedAt = now
		fields := fieldsOf(&next, keys...)
		fields[repository.FieldUpdatedAt] = now

		ok, err := c.orders.UpdateIf(ctx, orderID, cur.Revision, fields)
		if err != nil {
			return mutation{before: *cur, after: *cur, at: now}, storeErr(err)
		}
		if ok {
			next.Revision = cur.Revision + 1
			return mutation{before: *cur, after: next, at: now}, nil
		}
		c.log.Debug("order changed since read, re-evaluating",
			"action", "guard_reread", "order_id", orderID, "attempt", attempt)
	}
	return mutation{}, ErrConflict
}

func fieldsOf(o *model.Order, keys ...string) store.Fields {
	f := make(store.Fields, len(keys)+1)
	for _, k := range keys {
		switch k {
		case repository.FieldItems:
			f[k] = o.Items
		case repository.FieldStatus:
			f[k] = string(o.Status)
		case repository.FieldClaimedBy:
			f[k] = o.ClaimedBy
		case repository.FieldClaimedByName:
			f[k] = o.ClaimedByName
		case repository.FieldRejectionCount:
			f[k] = o.RejectionCount
		case repository.FieldLastRejectedBy:
			f[k] = o.LastRejectedBy
		case repository.FieldLastRejectedAt:
			f[k] = o.LastRejectedAt
		case repository.FieldHasNewItems:
			f[k] = o.HasNewItems
		case repository.FieldSubtotal:
			f[k] = o.Subtotal
		case repository.FieldTotal:
			f[k] = o.Total
		case repository.FieldDeliveredAt:
			f[k] = o.DeliveredAt
		}
	}
	return f
}

// record appends recs to the ledger. A failure after the state write is a
// divergence between order and history: it is reported and returned wrapped
// in ErrAuditWriteFailed, never rolled back.
func (c *Coordinator) record(ctx context.Context, recs ...model.ModificationRecord) error {
	ctx = context.WithoutCancel(ctx)

	var failed []error
	for _, rec := range recs {
		if _, err := c.ledger.Append(ctx, rec); err != nil {
			c.log.Error("order state changed but audit append failed",
				"action", "audit_divergence",
				"order_id", rec.OrderID,
				"modification_type", rec.ModificationType,
				"modified_by", rec.ModifiedBy,
				"modified_at", rec.ModifiedAt,
				"error", err)
			c.publish(ctx, Event{
				Type:     EventAuditDivergence,
				OrderID:  rec.OrderID,
				WorkerID: rec.ModifiedBy,
				Detail:   string(rec.ModificationType),
				At:       rec.ModifiedAt,
			})
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: %w", ErrAuditWriteFailed, errors.Join(failed...))
	}
	return nil
}

func (c *Coordinator) publish(ctx context.Context, ev Event) {
	if err := c.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		c.log.Warn("floor event not published",
			"action", "event_publish_failed", "order_id", ev.OrderID, "type", ev.Type, "error", err)
	}
}
