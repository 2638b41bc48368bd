package service

import (
	"floor-dispatch-service/internal/model"

	"github.com/shopspring/decimal"
)

// ItemDiff is the change between two item lists, matched by catalog id.
type ItemDiff struct {
	Added   []model.OrderItem
	Removed []model.OrderItem
	Edited  []model.ItemEdit
}

func (d ItemDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Edited) == 0
}

// DiffItems reports items only in next as added, items only in cur as
// removed, and items in both with a different quantity as edited.
func DiffItems(cur, next []model.OrderItem) ItemDiff {
	var d ItemDiff

	before := make(map[string]model.OrderItem, len(cur))
	for _, it := range cur {
		before[it.CatalogID] = it
	}
	after := make(map[string]bool, len(next))

	for _, it := range next {
		after[it.CatalogID] = true
		old, ok := before[it.CatalogID]
		switch {
		case !ok:
			d.Added = append(d.Added, it)
		case old.Quantity != it.Quantity:
			d.Edited = append(d.Edited, model.ItemEdit{Before: old, After: it})
		}
	}
	for _, it := range cur {
		if !after[it.CatalogID] {
			d.Removed = append(d.Removed, it)
		}
	}
	return d
}

// MergeItems adds extra to items: known catalog ids gain quantity, new ones
// are appended in order.
func MergeItems(items, extra []model.OrderItem) []model.OrderItem {
	out := make([]model.OrderItem, len(items), len(items)+len(extra))
	copy(out, items)

	pos := make(map[string]int, len(out))
	for i, it := range out {
		pos[it.CatalogID] = i
	}
	for _, it := range extra {
		if i, ok := pos[it.CatalogID]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		pos[it.CatalogID] = len(out)
		out = append(out, it)
	}
	return out
}

// Totals sums unit price times quantity, rounded to cents.
func Totals(items []model.OrderItem) (subtotal, total float64) {
	sum := decimal.Zero
	for _, it := range items {
		line := decimal.NewFromFloat(it.UnitPrice).Mul(decimal.NewFromInt(int64(it.Quantity)))
		sum = sum.Add(line)
	}
	subtotal, _ = sum.Round(2).Float64()
	return subtotal, subtotal
}

func cloneItems(items []model.OrderItem) []model.OrderItem {
	if items == nil {
		return []model.OrderItem{}
	}
	out := make([]model.OrderItem, len(items))
	copy(out, items)
	return out
}
