package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"floor-dispatch-service/internal/dto"
	"floor-dispatch-service/internal/model"
)

// OrderIntake is the part of the floor service that messages feed.
type OrderIntake interface {
	PlaceOrder(ctx context.Context, seat model.Seat, items []model.OrderItem, by model.Worker) (*model.Order, error)
	AppendItems(ctx context.Context, orderID string, by model.Worker, items []model.OrderItem) (*model.Order, error)
}

type PlaceOrderConsumer struct {
	intake OrderIntake
	log    *slog.Logger
}

func NewPlaceOrderConsumer(intake OrderIntake, log *slog.Logger) *PlaceOrderConsumer {
	return &PlaceOrderConsumer{intake: intake, log: log}
}

func (c *PlaceOrderConsumer) Handle(ctx context.Context, body []byte) error {
	var event dto.Envelope[dto.PlacedOrderMessage]
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("%w: %w", errMalformed, err)
	}

	by := model.Worker{ID: event.Message.PlacedBy}
	if by.ID == "" {
		by.ID = channelActor(ExchangeOrderPlaced)
	}
	o, err := c.intake.PlaceOrder(ctx, event.Message.Seat.ToModel(), dto.ItemsToModel(event.Message.Items), by)
	if err != nil && o == nil {
		return err
	}

	c.log.Info("order placed from queue", "action", "order_placed_consumed",
		"order_id", o.ID, "correlation_id", event.CorrelationID)
	return err
}

func channelActor(source string) string {
	return "channel:" + source
}
