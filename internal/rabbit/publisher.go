package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"floor-dispatch-service/internal/dto"
	"floor-dispatch-service/internal/service"

	"github.com/google/uuid"
)

const publishTimeout = 5 * time.Second

type publisher interface {
	Publish(ctx context.Context, exchange, key string, body []byte) error
}

// EventPublisher puts floor events on the floor_events exchange.
type EventPublisher struct {
	out publisher
}

func NewEventPublisher(out publisher) *EventPublisher {
	return &EventPublisher{out: out}
}

func (p *EventPublisher) Publish(ctx context.Context, ev service.Event) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	body, err := json.Marshal(dto.Envelope[dto.FloorEventMessage]{
		CorrelationID: uuid.NewString(),
		Exchange:      ExchangeFloorEvents,
		RoutingKey:    string(ev.Type),
		Message: dto.FloorEventMessage{
			Type:       string(ev.Type),
			OrderID:    ev.OrderID,
			WorkerID:   ev.WorkerID,
			WorkerName: ev.WorkerName,
			Status:     string(ev.Status),
			Detail:     ev.Detail,
			At:         ev.At,
		},
	})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	if err := p.out.Publish(ctx, ExchangeFloorEvents, string(ev.Type), body); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}
	return nil
}
