package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"floor-dispatch-service/internal/model"
	"floor-dispatch-service/internal/repository"
	"floor-dispatch-service/internal/timeout"

	"github.com/facebookgo/clock"
)

const expireTimeout = 10 * time.Second

// FloorService is the worker-facing side of the engine. Each worker on shift
// has its own session: a live feed of the floor's orders and a timer per
// order currently offered to them. Sessions never talk to each other; they
// only see each other's writes through the feed.
type FloorService struct {
	coord           *Coordinator
	orders          OrderStore
	ledger          AuditLedger
	clock           clock.Clock
	log             *slog.Logger
	autoRejectAfter time.Duration

	root context.Context
	stop context.CancelFunc

	mu     sync.Mutex
	shifts map[string]*shift
}

type FloorOptions struct {
	Events          Notifier
	Clock           clock.Clock
	AutoRejectAfter time.Duration
}

func NewFloorService(orders OrderStore, ledger AuditLedger, log *slog.Logger, opts FloorOptions) *FloorService {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	root, stop := context.WithCancel(context.Background())
	return &FloorService{
		coord: NewCoordinator(orders, ledger, log, CoordinatorOptions{
			Events:          opts.Events,
			Clock:           opts.Clock,
			AutoRejectAfter: opts.AutoRejectAfter,
		}),
		orders:          orders,
		ledger:          ledger,
		clock:           opts.Clock,
		log:             log,
		autoRejectAfter: opts.AutoRejectAfter,
		root:            root,
		stop:            stop,
		shifts:          make(map[string]*shift),
	}
}

func (f *FloorService) Coordinator() *Coordinator { return f.coord }

type shift struct {
	worker model.Worker
	timers *timeout.Scheduler
	cancel context.CancelFunc
	done   chan struct{}
	ready  chan struct{}
	once   sync.Once

	mu    sync.Mutex
	live  []model.Order
	armed map[string]int // order id -> rejection count when armed
	// the worker's own writes the feed has not shown yet
	unseen map[string]model.Order
}

type ArmedTimer struct {
	OrderID  string    `json:"orderId"`
	Deadline time.Time `json:"deadline"`
}

type ShiftInfo struct {
	Worker model.Worker `json:"worker"`
	Armed  []ArmedTimer `json:"armed"`
}

// StartShift starts w's session. Starting a shift that is already running
// returns the running one.
func (f *FloorService) StartShift(ctx context.Context, w model.Worker) (ShiftInfo, error) {
	if s := f.shift(w.ID); s != nil {
		return s.info(), nil
	}
	if err := f.root.Err(); err != nil {
		return ShiftInfo{}, fmt.Errorf("%w: floor service stopped", ErrStoreUnavailable)
	}

	sctx, cancel := context.WithCancel(f.root)
	feed, err := f.orders.SubscribeLive(sctx)
	if err != nil {
		cancel()
		return ShiftInfo{}, storeErr(err)
	}

	f.mu.Lock()
	if running, ok := f.shifts[w.ID]; ok {
		f.mu.Unlock()
		cancel()
		return running.info(), nil
	}
	if f.root.Err() != nil {
		f.mu.Unlock()
		cancel()
		return ShiftInfo{}, fmt.Errorf("%w: floor service stopped", ErrStoreUnavailable)
	}
	s := &shift{
		worker: w,
		timers: timeout.New(f.clock),
		cancel: cancel,
		done:   make(chan struct{}),
		ready:  make(chan struct{}),
		armed:  make(map[string]int),
		unseen: make(map[string]model.Order),
	}
	f.shifts[w.ID] = s
	f.mu.Unlock()

	go f.runShift(sctx, s, feed)

	f.log.Info("shift started", "action", "shift_started", "worker_id", w.ID)
	return s.info(), nil
}

// EndShift stops w's session and disarms its timers.
func (f *FloorService) EndShift(workerID string) bool {
	f.mu.Lock()
	s, ok := f.shifts[workerID]
	delete(f.shifts, workerID)
	f.mu.Unlock()
	if !ok {
		return false
	}
	s.cancel()
	<-s.done
	f.log.Info("shift ended", "action", "shift_ended", "worker_id", workerID)
	return true
}

func (f *FloorService) Shift(workerID string) (ShiftInfo, bool) {
	s := f.shift(workerID)
	if s == nil {
		return ShiftInfo{}, false
	}
	return s.info(), true
}

// WaitSynced blocks until w's session has seen its first snapshot.
func (f *FloorService) WaitSynced(ctx context.Context, workerID string) error {
	s := f.shift(workerID)
	if s == nil {
		return fmt.Errorf("no shift for worker %s", workerID)
	}
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends every shift.
func (f *FloorService) Close() {
	f.stop()
	f.mu.Lock()
	shifts := make([]*shift, 0, len(f.shifts))
	for id, s := range f.shifts {
		shifts = append(shifts, s)
		delete(f.shifts, id)
	}
	f.mu.Unlock()
	for _, s := range shifts {
		<-s.done
	}
}

func (f *FloorService) shift(workerID string) *shift {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shifts[workerID]
}

func (f *FloorService) runShift(ctx context.Context, s *shift, feed *repository.OrderFeed) {
	defer close(s.done)
	defer s.timers.DisarmAll()

	for orders := range feed.Orders() {
		f.observe(ctx, s, orders)
	}

	if err := feed.Err(); err != nil && ctx.Err() == nil {
		f.log.Error("order feed ended", "action", "shift_feed_failed", "worker_id", s.worker.ID, "error", err)
	}
	f.mu.Lock()
	if f.shifts[s.worker.ID] == s {
		delete(f.shifts, s.worker.ID)
	}
	f.mu.Unlock()
}

// observe reconciles the session's timers with a new snapshot: every order
// offered to the worker has a timer, nothing else does. A re-offer after
// someone else's rejection restarts the timer.
func (f *FloorService) observe(ctx context.Context, s *shift, orders []model.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.live = orders
	s.catchUp(orders)

	eligible := make(map[string]int)
	for _, o := range orders {
		if o.Offered() && o.LastRejectedBy != s.worker.ID {
			eligible[o.ID] = o.RejectionCount
		}
	}

	for id, gen := range eligible {
		if armedGen, ok := s.armed[id]; ok && armedGen == gen && s.timers.Armed(id) {
			continue
		}
		s.armed[id] = gen
		orderID := id
		s.timers.Arm(orderID, s.timers.Now().Add(f.autoRejectAfter), func() {
			f.expire(ctx, s.worker, orderID)
		})
	}
	for id := range s.armed {
		if _, ok := eligible[id]; !ok {
			s.timers.Disarm(id)
			delete(s.armed, id)
		}
	}

	s.once.Do(func() { close(s.ready) })
}

func (f *FloorService) expire(ctx context.Context, w model.Worker, orderID string) {
	ctx, cancel := context.WithTimeout(ctx, expireTimeout)
	defer cancel()

	o, err := f.coord.AutoReject(ctx, orderID, w)
	if applied(err) {
		f.noteWrite(w.ID, o)
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrGuardFailed):
		f.log.Debug("auto-reject skipped", "action", "auto_reject_noop", "order_id", orderID, "worker_id", w.ID, "reason", err)
	case errors.Is(err, ErrAuditWriteFailed):
		// already reported as a divergence
	default:
		f.log.Warn("auto-reject failed", "action", "auto_reject_failed", "order_id", orderID, "worker_id", w.ID, "error", err)
	}
}

func (s *shift) disarm(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.armed, orderID)
	s.timers.Disarm(orderID)
}

// wrote records an order state the worker just wrote.
func (s *shift) wrote(o model.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seen, ok := s.unseen[o.ID]; ok && seen.Revision >= o.Revision {
		return
	}
	s.unseen[o.ID] = o
}

// catchUp drops the writes orders already reflects. An order missing from
// the live set counts as caught up once the write took it out of service.
func (s *shift) catchUp(orders []model.Order) {
	if len(s.unseen) == 0 {
		return
	}
	revs := make(map[string]int64, len(orders))
	for _, o := range orders {
		revs[o.ID] = o.Revision
	}
	for id, w := range s.unseen {
		rev, ok := revs[id]
		if (ok && rev >= w.Revision) || (!ok && !w.Status.Live()) {
			delete(s.unseen, id)
		}
	}
}

// snapshot returns the last live set, unless it predates one of the
// worker's own writes.
func (s *shift) snapshot() ([]model.Order, bool) {
	select {
	case <-s.ready:
	default:
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.unseen) > 0 {
		return nil, false
	}
	out := make([]model.Order, len(s.live))
	copy(out, s.live)
	return out, true
}

func (s *shift) info() ShiftInfo {
	info := ShiftInfo{Worker: s.worker, Armed: []ArmedTimer{}}
	for _, id := range s.timers.Pending() {
		if d, ok := s.timers.Deadline(id); ok {
			info.Armed = append(info.Armed, ArmedTimer{OrderID: id, Deadline: d})
		}
	}
	return info
}

func (f *FloorService) disarmEverywhere(orderID string) {
	f.mu.Lock()
	shifts := make([]*shift, 0, len(f.shifts))
	for _, s := range f.shifts {
		shifts = append(shifts, s)
	}
	f.mu.Unlock()
	for _, s := range shifts {
		s.disarm(orderID)
	}
}

func (f *FloorService) disarmFor(workerID, orderID string) {
	if s := f.shift(workerID); s != nil {
		s.disarm(orderID)
	}
}

func (f *FloorService) noteWrite(workerID string, o *model.Order) {
	if o == nil {
		return
	}
	if s := f.shift(workerID); s != nil {
		s.wrote(*o)
	}
}

// applied reports whether an operation's state write went through, whether
// or not its audit record did.
func applied(err error) bool {
	return err == nil || errors.Is(err, ErrAuditWriteFailed)
}

func (f *FloorService) PlaceOrder(ctx context.Context, seat model.Seat, items []model.OrderItem, by model.Worker) (*model.Order, error) {
	return f.coord.PlaceOrder(ctx, seat, items, by)
}

func (f *FloorService) ClaimOrder(ctx context.Context, orderID string, w model.Worker) (*model.Order, error) {
	o, err := f.coord.Claim(ctx, orderID, w)
	if applied(err) {
		f.noteWrite(w.ID, o)
	}
	if applied(err) || errors.Is(err, ErrAlreadyClaimed) {
		f.disarmEverywhere(orderID)
	}
	return o, err
}

func (f *FloorService) RejectOrder(ctx context.Context, orderID string, w model.Worker) (*model.Order, error) {
	o, err := f.coord.Reject(ctx, orderID, w)
	switch {
	case applied(err):
		f.noteWrite(w.ID, o)
		f.disarmFor(w.ID, orderID)
	case errors.Is(err, ErrAlreadyClaimed):
		f.disarmEverywhere(orderID)
	}
	return o, err
}

// AdvanceOrderStatus advances the order and, on delivery, marks it paid.
func (f *FloorService) AdvanceOrderStatus(ctx context.Context, orderID string, w model.Worker, status model.Status) (*model.Order, error) {
	o, err := f.coord.AdvanceStatus(ctx, orderID, w, status)
	if applied(err) {
		f.noteWrite(w.ID, o)
	}
	if !applied(err) || status != model.StatusDelivered {
		return o, err
	}

	if payErr := f.orders.MarkPaid(ctx, orderID); payErr != nil {
		f.log.Error("delivered order not marked paid", "action", "mark_paid_failed", "order_id", orderID, "error", payErr)
		return o, errors.Join(err, fmt.Errorf("order delivered but not marked paid: %w", storeErr(payErr)))
	}
	o.IsPaid = true
	return o, err
}

func (f *FloorService) SubmitOrderEdit(ctx context.Context, orderID string, w model.Worker, items []model.OrderItem) (*model.Order, error) {
	o, err := f.coord.EditOrder(ctx, orderID, w, items)
	if applied(err) {
		f.noteWrite(w.ID, o)
	}
	return o, err
}

func (f *FloorService) AppendItems(ctx context.Context, orderID string, by model.Worker, items []model.OrderItem) (*model.Order, error) {
	return f.coord.AppendItems(ctx, orderID, by, items)
}

func (f *FloorService) AcknowledgeNewItems(ctx context.Context, orderID string, w model.Worker) (*model.Order, error) {
	o, err := f.coord.AcknowledgeNewItems(ctx, orderID, w)
	if applied(err) {
		f.noteWrite(w.ID, o)
	}
	return o, err
}

// GetAssignmentView partitions the live orders for w. It reads from w's
// session when one is running and its feed has caught up with w's own
// writes, and from the store otherwise. Only admins see orders other workers
// are handling.
func (f *FloorService) GetAssignmentView(ctx context.Context, w model.Worker) (AssignmentView, error) {
	var orders []model.Order
	if s := f.shift(w.ID); s != nil {
		orders, _ = s.snapshot()
	}
	if orders == nil {
		live, err := f.orders.ListLive(ctx)
		if err != nil {
			return AssignmentView{}, storeErr(err)
		}
		orders = live
	}

	v := Partition(orders, w.ID)
	if !w.Admin {
		v.OthersActive = []model.Order{}
	}
	return v, nil
}

// GetOrderHistory returns the order's records, oldest first.
func (f *FloorService) GetOrderHistory(ctx context.Context, orderID string) ([]model.ModificationRecord, error) {
	recs, err := f.ledger.ForOrder(ctx, orderID)
	if err != nil {
		return nil, storeErr(err)
	}
	if len(recs) == 0 {
		if _, err := f.orders.Get(ctx, orderID); err != nil {
			return nil, storeErr(err)
		}
	}
	return recs, nil
}

func (f *FloorService) GetHistoryByOrder(ctx context.Context) ([]model.OrderHistory, error) {
	hist, err := f.ledger.GroupByOrder(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	return hist, nil
}
