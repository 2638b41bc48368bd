// setup.go
package rabbit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"floor-dispatch-service/internal/service"

	"github.com/rabbitmq/amqp091-go"
)

var errMalformed = errors.New("malformed message")

type Handler interface {
	Handle(ctx context.Context, body []byte) error
}

type disposition int

const (
	ack disposition = iota
	requeue
	discard
)

// settle decides what happens to a delivery given its handler's result.
// Writes that went through are acked even if their audit record did not.
// Transient store trouble is retried; anything else would fail again.
func settle(err error) disposition {
	switch {
	case err == nil, errors.Is(err, service.ErrAuditWriteFailed):
		return ack
	case errors.Is(err, service.ErrStoreUnavailable), errors.Is(err, service.ErrConflict):
		return requeue
	}
	return discard
}

// SetupConsumers starts consuming both intake queues until ctx ends.
func SetupConsumers(ctx context.Context, ch *amqp091.Channel, intake OrderIntake, log *slog.Logger) error {
	if err := ch.Qos(10, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	consumers := map[string]Handler{
		queueOrders: NewPlaceOrderConsumer(intake, log),
		queueItems:  NewItemsAddedConsumer(intake, log),
	}
	for queue, h := range consumers {
		msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %s: %w", queue, err)
		}
		go run(ctx, queue, msgs, h, log)
		log.Info("consuming queue", "action", "consumer_started", "queue", queue)
	}
	return nil
}

func run(ctx context.Context, queue string, msgs <-chan amqp091.Delivery, h Handler, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				log.Warn("delivery channel closed", "action", "consumer_stopped", "queue", queue)
				return
			}
			deliver(ctx, queue, d, h, log)
		}
	}
}

func deliver(ctx context.Context, queue string, d amqp091.Delivery, h Handler, log *slog.Logger) {
	err := h.Handle(ctx, d.Body)
	var settleErr error
	switch settle(err) {
	case ack:
		settleErr = d.Ack(false)
	case requeue:
		log.Warn("message requeued", "action", "message_requeued", "queue", queue, "error", err)
		settleErr = d.Nack(false, true)
	case discard:
		log.Error("message discarded", "action", "message_discarded", "queue", queue, "error", err)
		settleErr = d.Nack(false, false)
	}
	if settleErr != nil {
		log.Error("settle delivery", "action", "message_settle_failed", "queue", queue, "error", settleErr)
	}
}
