package model

import "time"

type ModificationType string

const (
	ModAdd        ModificationType = "add"
	ModRemove     ModificationType = "remove"
	ModEdit       ModificationType = "edit"
	ModClaim      ModificationType = "claim"
	ModReject     ModificationType = "reject"
	ModAutoReject ModificationType = "auto-reject"
)

// ModificationRecord is an immutable audit entry. The history of an order is
// its records ordered by ModifiedAt.
type ModificationRecord struct {
	ID               string           `bson:"_id,omitempty" json:"id"`
	OrderID          string           `bson:"order_id" json:"orderId"`
	ModifiedAt       time.Time        `bson:"modified_at" json:"modifiedAt"`
	ModifiedBy       string           `bson:"modified_by" json:"modifiedBy"`
	ModifiedByName   string           `bson:"modified_by_name" json:"modifiedByName"`
	ModificationType ModificationType `bson:"modification_type" json:"modificationType"`
	AddedItems       []OrderItem      `bson:"added_items,omitempty" json:"addedItems,omitempty"`
	RemovedItems     []OrderItem      `bson:"removed_items,omitempty" json:"removedItems,omitempty"`
	EditedItems      []ItemEdit       `bson:"edited_items,omitempty" json:"editedItems,omitempty"`
	StatusChange     *StatusChange    `bson:"status_change,omitempty" json:"statusChange,omitempty"`
	Notes            string           `bson:"notes,omitempty" json:"notes,omitempty"`
}

type ItemEdit struct {
	Before OrderItem `bson:"before" json:"before"`
	After  OrderItem `bson:"after" json:"after"`
}

type StatusChange struct {
	Before Status `bson:"before" json:"before"`
	After  Status `bson:"after" json:"after"`
}

// OrderHistory groups the records of one order, oldest first.
type OrderHistory struct {
	OrderID string               `json:"orderId"`
	Records []ModificationRecord `json:"records"`
}

func (h OrderHistory) LastModified() time.Time {
	if len(h.Records) == 0 {
		return time.Time{}
	}
	return h.Records[len(h.Records)-1].ModifiedAt
}
