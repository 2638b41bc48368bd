package service

import (
	"context"
	"time"

	"floor-dispatch-service/internal/model"
)

type EventType string

const (
	EventOrderPlaced     EventType = "order_placed"
	EventOrderClaimed    EventType = "order_claimed"
	EventOrderRejected   EventType = "order_rejected"
	EventOrderAutoReject EventType = "order_auto_rejected"
	EventStatusChanged   EventType = "order_status_changed"
	EventOrderEdited     EventType = "order_edited"
	EventItemsAdded      EventType = "order_items_added"
	EventAuditDivergence EventType = "audit_divergence"
)

// Event is published after every accepted transition.
type Event struct {
	Type       EventType    `json:"type"`
	OrderID    string       `json:"orderId"`
	WorkerID   string       `json:"workerId,omitempty"`
	WorkerName string       `json:"workerName,omitempty"`
	Status     model.Status `json:"status,omitempty"`
	Detail     string       `json:"detail,omitempty"`
	At         time.Time    `json:"at"`
}

type Notifier interface {
	Publish(ctx context.Context, ev Event) error
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, Event) error { return nil }
