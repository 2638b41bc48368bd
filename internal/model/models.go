// models.go
package model

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusDelivered Status = "delivered"
)

// LiveStatuses are the statuses of orders still on the floor.
var LiveStatuses = []Status{StatusPending, StatusPreparing, StatusReady}

// Allowed forward transitions. Claimed-pending orders advance to preparing.
var transitions = map[Status]Status{
	StatusPending:   StatusPreparing,
	StatusPreparing: StatusReady,
	StatusReady:     StatusDelivered,
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPreparing, StatusReady, StatusDelivered:
		return true
	}
	return false
}

// CanAdvanceTo reports whether next is the single permitted successor of s.
func (s Status) CanAdvanceTo(next Status) bool {
	want, ok := transitions[s]
	return ok && want == next
}

func (s Status) Live() bool {
	return s == StatusPending || s == StatusPreparing || s == StatusReady
}

type Order struct {
	ID             string      `bson:"_id,omitempty" json:"id"`
	Seat           Seat        `bson:"seat" json:"seat"`
	Items          []OrderItem `bson:"items" json:"items"`
	Status         Status      `bson:"status" json:"status"`
	ClaimedBy      string      `bson:"claimed_by" json:"claimedBy,omitempty"`
	ClaimedByName  string      `bson:"claimed_by_name" json:"claimedByName,omitempty"`
	RejectionCount int         `bson:"rejection_count" json:"rejectionCount"`
	LastRejectedBy string      `bson:"last_rejected_by" json:"lastRejectedBy,omitempty"`
	LastRejectedAt *time.Time  `bson:"last_rejected_at" json:"lastRejectedAt,omitempty"`
	HasNewItems    bool        `bson:"has_new_items" json:"hasNewItems"`
	Subtotal       float64     `bson:"subtotal" json:"subtotal"`
	Total          float64     `bson:"total" json:"total"`
	IsPaid         bool        `bson:"is_paid" json:"isPaid"`
	CreatedAt      time.Time   `bson:"created_at" json:"createdAt"`
	UpdatedAt      time.Time   `bson:"updated_at" json:"updatedAt"`
	DeliveredAt    *time.Time  `bson:"delivered_at" json:"deliveredAt,omitempty"`

	// Bumped on every write; conditional updates compare against it.
	Revision int64 `bson:"revision" json:"revision"`
}

// Seat is either a table or a room on a given floor, never both.
type Seat struct {
	TableNumber *int   `bson:"table_number" json:"tableNumber,omitempty"`
	RoomNumber  *int   `bson:"room_number" json:"roomNumber,omitempty"`
	Floor       string `bson:"floor" json:"floor"`
}

// OrderItem carries name and price snapshots taken when the item was ordered.
type OrderItem struct {
	CatalogID string  `bson:"catalog_id" json:"catalogId"`
	Name      string  `bson:"name" json:"name"`
	UnitPrice float64 `bson:"unit_price" json:"unitPrice"`
	Quantity  int     `bson:"quantity" json:"quantity"`
	Note      string  `bson:"note,omitempty" json:"note,omitempty"`
}

type Worker struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Admin bool   `json:"admin"`
}

func (o *Order) Claimed() bool { return o.ClaimedBy != "" }

// Offered reports whether the order is unclaimed and waiting in the pool.
func (o *Order) Offered() bool {
	return o.ClaimedBy == "" && o.Status == StatusPending
}

var (
	ErrInvalidSeat   = errors.New("seat must have exactly one of table or room number")
	ErrInvalidStatus = errors.New("unknown order status")
	ErrInvalidItem   = errors.New("invalid order item")
	ErrMissingID     = errors.New("order id is empty")
)

func (s Seat) Validate() error {
	if (s.TableNumber == nil) == (s.RoomNumber == nil) {
		return ErrInvalidSeat
	}
	return nil
}

func (it OrderItem) Validate() error {
	if it.CatalogID == "" {
		return fmt.Errorf("%w: catalog id is empty", ErrInvalidItem)
	}
	if it.Quantity <= 0 {
		return fmt.Errorf("%w: %s has quantity %d", ErrInvalidItem, it.CatalogID, it.Quantity)
	}
	if it.UnitPrice < 0 {
		return fmt.Errorf("%w: %s has negative price", ErrInvalidItem, it.CatalogID)
	}
	return nil
}

// ValidateItems checks every item and rejects repeated catalog ids.
func ValidateItems(items []OrderItem) error {
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if err := it.Validate(); err != nil {
			return err
		}
		if seen[it.CatalogID] {
			return fmt.Errorf("%w: %s listed twice", ErrInvalidItem, it.CatalogID)
		}
		seen[it.CatalogID] = true
	}
	return nil
}

// Validate is applied to every document read from the store before it is
// handed to the coordinator.
func (o *Order) Validate() error {
	if o.ID == "" {
		return ErrMissingID
	}
	if !o.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, o.Status)
	}
	if err := o.Seat.Validate(); err != nil {
		return err
	}
	if err := ValidateItems(o.Items); err != nil {
		return err
	}
	if o.RejectionCount < 0 {
		return fmt.Errorf("order %s: negative rejection count", o.ID)
	}
	if o.Status == StatusDelivered && o.DeliveredAt == nil {
		return fmt.Errorf("order %s: delivered without delivery time", o.ID)
	}
	return nil
}
