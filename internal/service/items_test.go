package service

import (
	"fmt"
	"math/rand"
	"testing"

	"floor-dispatch-service/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quantities(items []model.OrderItem) map[string]int {
	out := make(map[string]int, len(items))
	for _, it := range items {
		out[it.CatalogID] = it.Quantity
	}
	return out
}

func randomItems(r *rand.Rand) []model.OrderItem {
	var items []model.OrderItem
	for i := 0; i < 8; i++ {
		if r.Intn(2) == 0 {
			items = append(items, item(fmt.Sprintf("dish-%d", i), float64(r.Intn(2000))/100, 1+r.Intn(3)))
		}
	}
	return items
}

func TestDiffItemsReconstructsNext(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		cur, next := randomItems(r), randomItems(r)
		d := DiffItems(cur, next)

		got := quantities(cur)
		for _, it := range d.Removed {
			delete(got, it.CatalogID)
		}
		for _, e := range d.Edited {
			assert.Equal(t, e.Before.CatalogID, e.After.CatalogID)
			assert.NotEqual(t, e.Before.Quantity, e.After.Quantity)
			got[e.After.CatalogID] = e.After.Quantity
		}
		for _, it := range d.Added {
			_, existed := got[it.CatalogID]
			assert.False(t, existed, "added %s was already there", it.CatalogID)
			got[it.CatalogID] = it.Quantity
		}
		require.Equal(t, quantities(next), got, "case %d", i)

		added := quantities(d.Added)
		for _, it := range d.Removed {
			assert.NotContains(t, added, it.CatalogID)
		}
	}
}

func TestDiffItemsIdentical(t *testing.T) {
	items := []model.OrderItem{item("a", 1, 1), item("b", 2, 2)}
	assert.True(t, DiffItems(items, items).Empty())
	assert.True(t, DiffItems(nil, nil).Empty())
}

func TestDiffItemsPriceOnlyIsNotAnEdit(t *testing.T) {
	d := DiffItems([]model.OrderItem{item("a", 1, 1)}, []model.OrderItem{item("a", 9, 1)})
	assert.True(t, d.Empty())
}

func TestMergeItems(t *testing.T) {
	base := []model.OrderItem{item("a", 1, 1), item("b", 2, 1)}
	out := MergeItems(base, []model.OrderItem{item("b", 2, 2), item("c", 3, 1)})

	assert.Equal(t, map[string]int{"a": 1, "b": 3, "c": 1}, quantities(out))
	assert.Equal(t, "c", out[2].CatalogID)
	assert.Equal(t, 1, base[1].Quantity, "input is not modified")
}

func TestTotalsRoundsToCents(t *testing.T) {
	sub, total := Totals([]model.OrderItem{item("a", 0.1, 3), item("b", 0.2, 1)})
	assert.Equal(t, 0.5, sub)
	assert.Equal(t, sub, total)

	sub, _ = Totals(nil)
	assert.Zero(t, sub)
}

func TestDiffItemsExample(t *testing.T) {
	d := DiffItems(
		[]model.OrderItem{item("a", 1, 2), item("b", 1, 1)},
		[]model.OrderItem{item("a", 1, 3), item("c", 1, 1)},
	)
	assert.Equal(t, []model.OrderItem{item("c", 1, 1)}, d.Added)
	assert.Equal(t, []model.OrderItem{item("b", 1, 1)}, d.Removed)
	assert.Equal(t, []model.ItemEdit{{Before: item("a", 1, 2), After: item("a", 1, 3)}}, d.Edited)
}
