package dto

import "time"

// Envelope is the shape every message on the order exchanges shares.
type Envelope[T any] struct {
	CorrelationID string `json:"correlation_id"`
	Exchange      string `json:"exchange"`
	RoutingKey    string `json:"routing_key"`
	Message       T      `json:"message"`
}

// PlacedOrderMessage arrives on the order_placed exchange.
type PlacedOrderMessage struct {
	Seat     SeatDTO   `json:"seat"`
	Items    []ItemDTO `json:"items"`
	PlacedBy string    `json:"placedBy"`
}

// ItemsAddedMessage arrives on the order_items_added exchange.
type ItemsAddedMessage struct {
	OrderID string    `json:"orderId"`
	Items   []ItemDTO `json:"items"`
	Source  string    `json:"source"`
}

// FloorEventMessage is what this service publishes on floor_events.
type FloorEventMessage struct {
	Type       string    `json:"type"`
	OrderID    string    `json:"orderId"`
	WorkerID   string    `json:"workerId,omitempty"`
	WorkerName string    `json:"workerName,omitempty"`
	Status     string    `json:"status,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}
