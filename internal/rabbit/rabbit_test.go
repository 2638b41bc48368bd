package rabbit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"floor-dispatch-service/internal/dto"
	"floor-dispatch-service/internal/logger"
	"floor-dispatch-service/internal/model"
	"floor-dispatch-service/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIntake struct {
	placed   []model.Worker
	appended []string
	by       []model.Worker
	err      error
}

func (f *fakeIntake) PlaceOrder(_ context.Context, seat model.Seat, items []model.OrderItem, by model.Worker) (*model.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.placed = append(f.placed, by)
	return &model.Order{ID: "o1", Seat: seat, Items: items}, nil
}

func (f *fakeIntake) AppendItems(_ context.Context, orderID string, by model.Worker, items []model.OrderItem) (*model.Order, error) {
	if f.err != nil && !errors.Is(f.err, service.ErrAuditWriteFailed) {
		return nil, f.err
	}
	f.appended = append(f.appended, orderID)
	f.by = append(f.by, by)
	return &model.Order{ID: orderID, Items: items, HasNewItems: true}, f.err
}

func body(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestPlaceOrderConsumer(t *testing.T) {
	intake := &fakeIntake{}
	c := NewPlaceOrderConsumer(intake, logger.Discard())
	n := 3

	err := c.Handle(context.Background(), body(t, dto.Envelope[dto.PlacedOrderMessage]{
		CorrelationID: "c-1",
		Message: dto.PlacedOrderMessage{
			Seat:  dto.SeatDTO{RoomNumber: &n, Floor: "2"},
			Items: []dto.ItemDTO{{CatalogID: "club", Name: "Club sandwich", UnitPrice: 9, Quantity: 1}},
		},
	}))
	require.NoError(t, err)
	require.Len(t, intake.placed, 1)
	assert.Equal(t, "channel:order_placed", intake.placed[0].ID)

	err = c.Handle(context.Background(), []byte("{not json"))
	assert.ErrorIs(t, err, errMalformed)
	assert.Equal(t, discard, settle(err))
}

func TestItemsAddedConsumer(t *testing.T) {
	intake := &fakeIntake{}
	c := NewItemsAddedConsumer(intake, logger.Discard())

	err := c.Handle(context.Background(), body(t, dto.Envelope[dto.ItemsAddedMessage]{
		Message: dto.ItemsAddedMessage{
			OrderID: "o9",
			Source:  "tablet-9",
			Items:   []dto.ItemDTO{{CatalogID: "tea", Name: "Tea", UnitPrice: 2, Quantity: 1}},
		},
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"o9"}, intake.appended)
	assert.Equal(t, model.Worker{ID: "channel:tablet-9", Name: "tablet-9"}, intake.by[0])

	err = c.Handle(context.Background(), body(t, dto.Envelope[dto.ItemsAddedMessage]{}))
	assert.ErrorIs(t, err, errMalformed)
}

func TestItemsAddedAuditFailureIsAcked(t *testing.T) {
	intake := &fakeIntake{err: fmt.Errorf("%w: disk full", service.ErrAuditWriteFailed)}
	c := NewItemsAddedConsumer(intake, logger.Discard())

	err := c.Handle(context.Background(), body(t, dto.Envelope[dto.ItemsAddedMessage]{
		Message: dto.ItemsAddedMessage{OrderID: "o9", Items: []dto.ItemDTO{{CatalogID: "tea", Name: "Tea", Quantity: 1}}},
	}))
	assert.ErrorIs(t, err, service.ErrAuditWriteFailed)
	assert.Equal(t, ack, settle(err))
}

func TestSettle(t *testing.T) {
	assert.Equal(t, ack, settle(nil))
	assert.Equal(t, requeue, settle(fmt.Errorf("%w: timeout", service.ErrStoreUnavailable)))
	assert.Equal(t, requeue, settle(service.ErrConflict))
	assert.Equal(t, discard, settle(service.ErrInvalidItems))
	assert.Equal(t, discard, settle(service.ErrOrderNotFound))
}

type fakePublisher struct {
	exchange, key string
	body          []byte
}

func (p *fakePublisher) Publish(_ context.Context, exchange, key string, body []byte) error {
	p.exchange, p.key, p.body = exchange, key, body
	return nil
}

func TestEventPublisher(t *testing.T) {
	out := &fakePublisher{}
	p := NewEventPublisher(out)
	at := time.Date(2026, 5, 14, 21, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(), service.Event{
		Type:     service.EventOrderClaimed,
		OrderID:  "o1",
		WorkerID: "w-alice",
		Status:   model.StatusPreparing,
		At:       at,
	})
	require.NoError(t, err)
	assert.Equal(t, ExchangeFloorEvents, out.exchange)
	assert.Equal(t, "order_claimed", out.key)

	var env dto.Envelope[dto.FloorEventMessage]
	require.NoError(t, json.Unmarshal(out.body, &env))
	assert.NotEmpty(t, env.CorrelationID)
	assert.Equal(t, "o1", env.Message.OrderID)
	assert.Equal(t, "preparing", env.Message.Status)
	assert.True(t, at.Equal(env.Message.At))
}
