package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"floor-dispatch-service/internal/dto"
	"floor-dispatch-service/internal/model"
)

// ItemsAddedConsumer merges items ordered through another channel, such as a
// table tablet, into the live order.
type ItemsAddedConsumer struct {
	intake OrderIntake
	log    *slog.Logger
}

func NewItemsAddedConsumer(intake OrderIntake, log *slog.Logger) *ItemsAddedConsumer {
	return &ItemsAddedConsumer{intake: intake, log: log}
}

func (c *ItemsAddedConsumer) Handle(ctx context.Context, body []byte) error {
	var event dto.Envelope[dto.ItemsAddedMessage]
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("%w: %w", errMalformed, err)
	}
	if event.Message.OrderID == "" {
		return fmt.Errorf("%w: missing orderId", errMalformed)
	}

	source := event.Message.Source
	if source == "" {
		source = ExchangeItemsAdded
	}
	by := model.Worker{ID: channelActor(source), Name: source}

	o, err := c.intake.AppendItems(ctx, event.Message.OrderID, by, dto.ItemsToModel(event.Message.Items))
	if err != nil && o == nil {
		return err
	}
	c.log.Info("items added from queue", "action", "items_added_consumed",
		"order_id", o.ID, "source", source, "correlation_id", event.CorrelationID, "has_new_items", o.HasNewItems)
	return err
}
