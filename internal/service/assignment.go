package service

import (
	"sort"

	"floor-dispatch-service/internal/model"
)

// AssignmentView is one worker's partition of the live order set.
type AssignmentView struct {
	OfferedToMe  []model.Order `json:"offeredToMe"`
	Mine         []model.Order `json:"mine"`
	OthersActive []model.Order `json:"othersActive"`
	RejectedByMe []model.Order `json:"rejectedByMe"`
}

func (v AssignmentView) Len() int {
	return len(v.OfferedToMe) + len(v.Mine) + len(v.OthersActive) + len(v.RejectedByMe)
}

// Partition splits the live orders among the four buckets of workerID's
// view. Every live order lands in exactly one bucket; an unclaimed order that
// somehow left pending goes to OthersActive so it stays visible for
// oversight.
func Partition(orders []model.Order, workerID string) AssignmentView {
	v := AssignmentView{
		OfferedToMe:  []model.Order{},
		Mine:         []model.Order{},
		OthersActive: []model.Order{},
		RejectedByMe: []model.Order{},
	}
	for _, o := range orders {
		if !o.Status.Live() {
			continue
		}
		switch {
		case o.ClaimedBy == workerID && workerID != "":
			v.Mine = append(v.Mine, o)
		case o.Claimed():
			v.OthersActive = append(v.OthersActive, o)
		case o.Status != model.StatusPending:
			v.OthersActive = append(v.OthersActive, o)
		case o.LastRejectedBy == workerID:
			v.RejectedByMe = append(v.RejectedByMe, o)
		default:
			v.OfferedToMe = append(v.OfferedToMe, o)
		}
	}

	sortByUrgency(v.OfferedToMe)
	sortByUrgency(v.Mine)
	sortNewestFirst(v.OthersActive)
	sortNewestFirst(v.RejectedByMe)
	return v
}

func statusPriority(s model.Status) int {
	switch s {
	case model.StatusPending:
		return 0
	case model.StatusReady:
		return 1
	case model.StatusPreparing:
		return 2
	}
	return 3
}

// sortByUrgency puts orders with new items first, then unclaimed before
// claimed, then pending, ready, preparing, then newest first.
func sortByUrgency(orders []model.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if a.HasNewItems != b.HasNewItems {
			return a.HasNewItems
		}
		if a.Claimed() != b.Claimed() {
			return !a.Claimed()
		}
		if pa, pb := statusPriority(a.Status), statusPriority(b.Status); pa != pb {
			return pa < pb
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func sortNewestFirst(orders []model.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
}
