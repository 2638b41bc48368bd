// dto.go
package dto

import (
	"floor-dispatch-service/internal/model"
)

// SeatDTO says where an order goes: a table or a room, on a floor.
type SeatDTO struct {
	TableNumber *int   `json:"tableNumber"`
	RoomNumber  *int   `json:"roomNumber"`
	Floor       string `json:"floor" binding:"required"`
}

type ItemDTO struct {
	CatalogID string  `json:"catalogId" binding:"required"`
	Name      string  `json:"name" binding:"required"`
	UnitPrice float64 `json:"unitPrice" binding:"gte=0"`
	Quantity  int     `json:"quantity" binding:"required,gt=0"`
	Note      string  `json:"note"`
}

// PlaceOrderRequest is used by both the API and Rabbit to open an order.
type PlaceOrderRequest struct {
	Seat  SeatDTO   `json:"seat" binding:"required"`
	Items []ItemDTO `json:"items" binding:"required,min=1,dive"`
}

// AppendItemsRequest adds items to a live order on top of what it already
// has.
type AppendItemsRequest struct {
	Items []ItemDTO `json:"items" binding:"required,min=1,dive"`
}

// EditItemsRequest carries the full item list the order should end up with.
type EditItemsRequest struct {
	Items []ItemDTO `json:"items" binding:"required,dive"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (s SeatDTO) ToModel() model.Seat {
	return model.Seat{
		TableNumber: s.TableNumber,
		RoomNumber:  s.RoomNumber,
		Floor:       s.Floor,
	}
}

func (i ItemDTO) ToModel() model.OrderItem {
	return model.OrderItem{
		CatalogID: i.CatalogID,
		Name:      i.Name,
		UnitPrice: i.UnitPrice,
		Quantity:  i.Quantity,
		Note:      i.Note,
	}
}

func ItemsToModel(items []ItemDTO) []model.OrderItem {
	out := make([]model.OrderItem, 0, len(items))
	for _, it := range items {
		out = append(out, it.ToModel())
	}
	return out
}
