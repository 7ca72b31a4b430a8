// Package agentfeed is the read-only Agent Feed projection (spec §4.4):
// for a given agent, the orders currently visible to it and their
// remaining bidding time. Grounded on
// original_source/localbite-backend/app/api/delivery_agents.py for the
// visibility and sort rules.
package agentfeed

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/localbite-davis/dispatch-core/internal/apperr"
	"github.com/localbite-davis/dispatch-core/internal/bidservice"
	"github.com/localbite-davis/dispatch-core/internal/dispatchstate"
	"github.com/localbite-davis/dispatch-core/internal/farecalc"
	"github.com/localbite-davis/dispatch-core/internal/store"
)

// LeadingBid is the current tie-break winner snapshot shown to agents.
type LeadingBid struct {
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// Item is one order as it appears to a specific agent (spec §4.4).
type Item struct {
	OrderID                int64                `json:"order_id"`
	BaseFare               decimal.Decimal      `json:"base_fare"`
	MinAllowedFare         decimal.Decimal      `json:"min_allowed_fare"`
	MaxAllowedFare         decimal.Decimal      `json:"max_allowed_fare"`
	DispatchStatus         dispatchstate.Status `json:"dispatch_status"`
	PoolPhase              dispatchstate.Phase  `json:"pool_phase"`
	StudentOnly            bool                 `json:"student_only"`
	BiddingTimeLeftSeconds int                  `json:"bidding_time_left_seconds"`
	LeadingBid             *LeadingBid          `json:"leading_bid,omitempty"`
	TotalPlacedBids        int                  `json:"total_placed_bids"`
	OrderCreatedAt         time.Time            `json:"order_created_at"`
}

// Feed serves List queries against the Order Store and Dispatch State
// Store.
type Feed struct {
	store *store.Store
	state dispatchstate.Store
	bids  *bidservice.Service
}

func New(s *store.Store, state dispatchstate.Store, bids *bidservice.Service) *Feed {
	return &Feed{store: s, state: state, bids: bids}
}

const candidateScanLimit = 500

// List returns the orders visible to agentID, sorted student-only first,
// then newest order_created_at, then largest order_id (spec §4.4). Only the
// candidateScanLimit most recently created orders are examined; a visible
// order older than those is not returned.
func (f *Feed) List(ctx context.Context, agentID string) ([]Item, error) {
	agent, err := f.store.GetAgent(agentID)
	if err != nil {
		return nil, apperr.Internal("loading agent", err)
	}
	if agent == nil {
		return nil, apperr.NotFound("agent not found")
	}
	if !agent.IsActive {
		return nil, apperr.Forbidden("agent is not active")
	}

	orders, err := f.store.ListAllOrders(candidateScanLimit)
	if err != nil {
		return nil, apperr.Internal("listing candidate orders", err)
	}

	items := make([]Item, 0, len(orders))
	for _, order := range orders {
		item, visible, err := f.projectOrder(ctx, order, agent)
		if err != nil {
			return nil, err
		}
		if visible {
			items = append(items, item)
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.StudentOnly != b.StudentOnly {
			return a.StudentOnly // student-only first
		}
		if !a.OrderCreatedAt.Equal(b.OrderCreatedAt) {
			return a.OrderCreatedAt.After(b.OrderCreatedAt)
		}
		return a.OrderID > b.OrderID
	})

	return items, nil
}

func (f *Feed) projectOrder(ctx context.Context, order store.Order, agent *store.DeliveryAgent) (Item, bool, error) {
	if order.AssignedPartnerID != nil {
		return Item{}, false, nil
	}
	switch order.OrderStatus {
	case store.OrderStatusDelivered, store.OrderStatusCancelled, store.OrderStatusAssigned:
		return Item{}, false, nil
	}

	state, ok, err := f.state.GetState(ctx, order.OrderID)
	if err != nil {
		return Item{}, false, apperr.Internal("loading dispatch state", err)
	}
	if !ok {
		return Item{}, false, nil
	}

	switch state.Status {
	case dispatchstate.StatusStarting, dispatchstate.StatusBroadcasted,
		dispatchstate.StatusWaitingForBids, dispatchstate.StatusEscalating:
	default:
		return Item{}, false, nil
	}

	studentOnly := state.Phase == dispatchstate.PhaseStudentPool
	if studentOnly && agent.AgentType != store.AgentTypeStudent {
		return Item{}, false, nil
	}

	minFare, maxFare := farecalc.GetBidWindow(order.BaseFare)

	bids, err := f.bids.ListByOrder(order.OrderID)
	if err != nil {
		return Item{}, false, err
	}

	var placed []store.DeliveryBid
	for _, b := range bids {
		if b.BidStatus == store.BidStatusPlaced {
			placed = append(placed, b)
		}
	}

	var leading *LeadingBid
	if len(placed) > 0 {
		winner := bidservice.PickWinner(placed)
		leading = &LeadingBid{Amount: winner.BidAmount, CreatedAt: winner.CreatedAt}
	}

	timeLeft := 0
	if state.Status == dispatchstate.StatusWaitingForBids {
		phaseWaitSeconds := state.Phase1WaitSeconds
		if state.Phase == dispatchstate.PhaseAllAgents {
			phaseWaitSeconds = state.Phase2WaitSeconds
		}
		elapsed := time.Since(state.UpdatedAt).Seconds()
		remaining := phaseWaitSeconds - elapsed
		if remaining > 0 {
			timeLeft = int(remaining)
		}
	}

	return Item{
		OrderID:                order.OrderID,
		BaseFare:               order.BaseFare,
		MinAllowedFare:         minFare,
		MaxAllowedFare:         maxFare,
		DispatchStatus:         state.Status,
		PoolPhase:              state.Phase,
		StudentOnly:            studentOnly,
		BiddingTimeLeftSeconds: timeLeft,
		LeadingBid:             leading,
		TotalPlacedBids:        len(placed),
		OrderCreatedAt:         order.CreatedAt,
	}, true, nil
}
