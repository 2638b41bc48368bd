package repository

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"floor-dispatch-service/internal/logger"
	"floor-dispatch-service/internal/model"
	"floor-dispatch-service/internal/store"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingAppends fails the first n appends.
type failingAppends struct {
	store.Store
	remaining atomic.Int32
	calls     atomic.Int32
}

func (f *failingAppends) Append(ctx context.Context, collection string, doc any) (string, error) {
	f.calls.Add(1)
	if f.remaining.Add(-1) >= 0 {
		return "", store.ErrUnavailable
	}
	return f.Store.Append(ctx, collection, doc)
}

var t0 = time.Date(2026, 5, 14, 19, 30, 0, 0, time.UTC)

func rec(orderID string, at time.Time, typ model.ModificationType) model.ModificationRecord {
	return model.ModificationRecord{OrderID: orderID, ModifiedAt: at, ModifiedBy: "w1", ModificationType: typ}
}

func TestLedgerAppendRetries(t *testing.T) {
	ctx := context.Background()
	fs := &failingAppends{Store: store.NewMemory()}
	fs.remaining.Store(2)
	l := NewLedger(fs, logger.Discard(), LedgerOptions{Attempts: 3, RetryDelay: time.Millisecond})

	id, err := l.Append(ctx, rec("o1", t0, model.ModClaim))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, int32(3), fs.calls.Load())

	recs, err := l.ForOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestLedgerAppendGivesUp(t *testing.T) {
	fs := &failingAppends{Store: store.NewMemory()}
	fs.remaining.Store(10)
	l := NewLedger(fs, logger.Discard(), LedgerOptions{Attempts: 3})

	_, err := l.Append(context.Background(), rec("o1", t0, model.ModClaim))
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.Equal(t, int32(3), fs.calls.Load())
}

func TestLedgerRetryWaitsOnClock(t *testing.T) {
	fs := &failingAppends{Store: store.NewMemory()}
	fs.remaining.Store(2)
	clk := clock.NewMock()
	l := NewLedger(fs, logger.Discard(), LedgerOptions{Attempts: 3, RetryDelay: time.Second, Clock: clk})

	done := make(chan error, 1)
	go func() {
		_, err := l.Append(context.Background(), rec("o1", t0, model.ModClaim))
		done <- err
	}()

	require.Eventually(t, func() bool { return fs.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), fs.calls.Load(), "second attempt before the clock moved")

	// first wait is one second, the second two
	require.Eventually(t, func() bool {
		select {
		case err := <-done:
			require.NoError(t, err)
			return true
		default:
			clk.Add(500 * time.Millisecond)
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), fs.calls.Load())
}

func TestLedgerAppendStopsOnCancel(t *testing.T) {
	fs := &failingAppends{Store: store.NewMemory()}
	fs.remaining.Store(10)
	clk := clock.NewMock()
	l := NewLedger(fs, logger.Discard(), LedgerOptions{Attempts: 5, RetryDelay: time.Minute, Clock: clk})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := l.Append(ctx, rec("o1", t0, model.ModClaim))
		done <- err
	}()
	require.Eventually(t, func() bool { return fs.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("append kept waiting after cancel")
	}
	assert.Equal(t, int32(1), fs.calls.Load())
}

func TestLedgerRejectsIncompleteRecord(t *testing.T) {
	l := NewLedger(store.NewMemory(), logger.Discard(), LedgerOptions{})
	_, err := l.Append(context.Background(), model.ModificationRecord{OrderID: "o1"})
	assert.True(t, errors.Is(err, ErrInvalidRecord))
}

func TestLedgerForOrderChronological(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(store.NewMemory(), logger.Discard(), LedgerOptions{})

	_, err := l.Append(ctx, rec("o1", t0.Add(2*time.Minute), model.ModEdit))
	require.NoError(t, err)
	_, err = l.Append(ctx, rec("o1", t0, model.ModAdd))
	require.NoError(t, err)
	_, err = l.Append(ctx, rec("o2", t0.Add(time.Minute), model.ModAdd))
	require.NoError(t, err)
	// same instant as the edit, written after it
	_, err = l.Append(ctx, rec("o1", t0.Add(2*time.Minute), model.ModRemove))
	require.NoError(t, err)

	recs, err := l.ForOrder(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, model.ModAdd, recs[0].ModificationType)
	assert.Equal(t, model.ModEdit, recs[1].ModificationType)
	assert.Equal(t, model.ModRemove, recs[2].ModificationType)
	for _, r := range recs {
		assert.NotEmpty(t, r.ID)
		assert.True(t, r.ModifiedAt.Location() == time.UTC)
	}
}

func TestLedgerGroupByOrder(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(store.NewMemory(), logger.Discard(), LedgerOptions{})

	for _, r := range []model.ModificationRecord{
		rec("old", t0, model.ModAdd),
		rec("new", t0.Add(time.Minute), model.ModAdd),
		rec("old", t0.Add(5*time.Minute), model.ModClaim),
		rec("mid", t0.Add(3*time.Minute), model.ModAdd),
	} {
		_, err := l.Append(ctx, r)
		require.NoError(t, err)
	}

	hist, err := l.GroupByOrder(ctx)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, "old", hist[0].OrderID)
	assert.Equal(t, "mid", hist[1].OrderID)
	assert.Equal(t, "new", hist[2].OrderID)
	assert.Len(t, hist[0].Records, 2)
	assert.Equal(t, model.ModAdd, hist[0].Records[0].ModificationType)
}
