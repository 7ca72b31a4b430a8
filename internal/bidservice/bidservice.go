// Package bidservice implements placing, listing, and awarding delivery
// bids (spec §4.2), grounded on
// original_source/localbite-backend/app/api/delivery_bids.py and
// .../crud/delivery_bid.py.
package bidservice

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/localbite-davis/dispatch-core/internal/apperr"
	"github.com/localbite-davis/dispatch-core/internal/dispatchstate"
	"github.com/localbite-davis/dispatch-core/internal/farecalc"
	"github.com/localbite-davis/dispatch-core/internal/money"
	"github.com/localbite-davis/dispatch-core/internal/store"
)

// Service wires the Order Store and the Dispatch State Store together for
// the bid lifecycle, mirroring the teacher's pattern of a thin service
// struct holding a *gorm.DB and collaborators (internal/database.Database
// used directly by core/engine.go).
type Service struct {
	store *store.Store
	state dispatchstate.Store

	// autoAwardGroup deduplicates concurrent auto_award calls for the same
	// order_id — the Dispatch Engine's internal trigger and a manual
	// /auto-award HTTP call can race on the same order.
	autoAwardGroup singleflight.Group
}

func New(s *store.Store, state dispatchstate.Store) *Service {
	return &Service{store: s, state: state}
}

// PlaceBid validates and persists a bid (spec §4.2 place_bid).
func (s *Service) PlaceBid(ctx context.Context, orderID int64, agentID string, amount decimal.Decimal, phase store.PoolPhase) (*store.DeliveryBid, error) {
	order, err := s.store.GetOrder(orderID)
	if err != nil {
		return nil, apperr.Internal("loading order", err)
	}
	if order == nil {
		return nil, apperr.NotFound("order not found")
	}
	if order.AssignedPartnerID != nil {
		return nil, apperr.Conflict("order already assigned")
	}

	agent, err := s.store.GetAgent(agentID)
	if err != nil {
		return nil, apperr.Internal("loading agent", err)
	}
	if agent == nil {
		return nil, apperr.NotFound("agent not found")
	}
	if !agent.IsActive {
		return nil, apperr.Forbidden("agent is not active")
	}
	if phase == store.PoolPhaseStudentPool && agent.AgentType != store.AgentTypeStudent {
		return nil, apperr.Forbidden("only student agents may bid during the student pool phase")
	}

	minFare, maxFare := farecalc.GetBidWindow(order.BaseFare)
	rounded := money.Round(amount)
	if rounded.LessThan(minFare) || rounded.GreaterThan(maxFare) {
		return nil, apperr.WithDetails(apperr.KindInvalidInput, "bid amount outside the allowed window", map[string]interface{}{
			"min_allowed_fare":     minFare,
			"max_allowed_fare":     maxFare,
			"submitted_bid_amount": rounded,
		})
	}

	bid := &store.DeliveryBid{
		OrderID:        orderID,
		AgentID:        agentID,
		BidAmount:      rounded,
		MinAllowedFare: minFare,
		MaxAllowedFare: maxFare,
		PoolPhase:      phase,
		BidStatus:      store.BidStatusPlaced,
	}
	if err := s.store.DB().WithContext(ctx).Create(bid).Error; err != nil {
		return nil, apperr.Internal("persisting bid", err)
	}
	return bid, nil
}

func (s *Service) ListByOrder(orderID int64) ([]store.DeliveryBid, error) {
	bids, err := s.store.ListBidsByOrder(orderID)
	if err != nil {
		return nil, apperr.Internal("listing bids by order", err)
	}
	return bids, nil
}

func (s *Service) ListByAgent(agentID string) ([]store.DeliveryBid, error) {
	bids, err := s.store.ListBidsByAgent(agentID)
	if err != nil {
		return nil, apperr.Internal("listing bids by agent", err)
	}
	return bids, nil
}

// AwardBid implements the transactional award step (spec §4.2 step 2-5,
// §5's affected-row-count guard).
func (s *Service) AwardBid(ctx context.Context, bidID int64) (*store.DeliveryBid, error) {
	bid, err := s.store.GetBid(bidID)
	if err != nil {
		return nil, apperr.Internal("loading bid", err)
	}
	if bid == nil {
		return nil, apperr.NotFound("bid not found")
	}
	if bid.BidStatus == store.BidStatusAccepted {
		return bid, nil // idempotent: already the winner
	}
	if bid.BidStatus != store.BidStatusPlaced {
		return nil, apperr.Conflict("bid is not in a placed state")
	}

	agent, err := s.store.GetAgent(bid.AgentID)
	if err != nil {
		return nil, apperr.Internal("loading agent", err)
	}
	if agent == nil {
		return nil, apperr.NotFound("agent not found")
	}
	if !agent.IsActive {
		return nil, apperr.Forbidden("agent is not active")
	}

	txErr := s.store.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&store.Order{}).
			Where("order_id = ? AND assigned_partner_id IS NULL", bid.OrderID).
			Updates(map[string]interface{}{
				"assigned_partner_id": bid.AgentID,
				"delivery_fee":        bid.BidAmount,
				"order_status":        store.OrderStatusAssigned,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return apperr.Conflict("order already assigned")
		}

		if err := tx.Model(&store.DeliveryBid{}).
			Where("bid_id = ?", bid.BidID).
			Update("bid_status", store.BidStatusAccepted).Error; err != nil {
			return err
		}

		if err := tx.Model(&store.DeliveryBid{}).
			Where("order_id = ? AND bid_id <> ? AND bid_status = ?", bid.OrderID, bid.BidID, store.BidStatusPlaced).
			Update("bid_status", store.BidStatusRejected).Error; err != nil {
			return err
		}

		return nil
	})
	if txErr != nil {
		if appErr, ok := apperr.As(txErr); ok {
			return nil, appErr
		}
		return nil, apperr.Internal("awarding bid", txErr)
	}

	// Post-commit ephemeral state update; failures are logged, never rolled
	// back, per spec §4.2/§7.
	if err := s.state.SetAssigned(ctx, bid.OrderID); err != nil {
		log.Error().Err(err).Int64("order_id", bid.OrderID).Msg("failed to set assigned flag after award")
	}
	if err := s.state.PutState(ctx, bid.OrderID, dispatchstate.State{
		Status: dispatchstate.StatusAssigned,
		Phase:  dispatchstate.PhaseCompleted,
		Note:   "awarded",
	}); err != nil {
		log.Error().Err(err).Int64("order_id", bid.OrderID).Msg("failed to persist dispatch state after award")
	}

	bid.BidStatus = store.BidStatusAccepted
	return bid, nil
}

// AutoAward picks the winner by the deterministic tie-break and awards it
// (spec §4.2 auto_award). Concurrent calls for the same order_id collapse
// into a single attempt via singleflight.
func (s *Service) AutoAward(ctx context.Context, orderID int64) (*store.DeliveryBid, error) {
	key := fmt.Sprintf("order:%d", orderID)
	result, err, _ := s.autoAwardGroup.Do(key, func() (interface{}, error) {
		return s.autoAward(ctx, orderID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*store.DeliveryBid), nil
}

func (s *Service) autoAward(ctx context.Context, orderID int64) (*store.DeliveryBid, error) {
	bids, err := s.store.ListBidsByOrder(orderID)
	if err != nil {
		return nil, apperr.Internal("listing bids for auto-award", err)
	}

	var placed []store.DeliveryBid
	for _, b := range bids {
		if b.BidStatus == store.BidStatusPlaced {
			placed = append(placed, b)
		}
	}
	if len(placed) == 0 {
		return nil, apperr.NotFound("no placed bids for this order")
	}

	winner := PickWinner(placed)
	return s.AwardBid(ctx, winner.BidID)
}

// PickWinner applies the deterministic tie-break (spec §4.2): bid_amount
// ascending, then created_at ascending, then bid_id ascending.
func PickWinner(bids []store.DeliveryBid) store.DeliveryBid {
	sorted := make([]store.DeliveryBid, len(bids))
	copy(sorted, bids)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		roundedA := money.Round(a.BidAmount)
		roundedB := money.Round(b.BidAmount)
		if !roundedA.Equal(roundedB) {
			return roundedA.LessThan(roundedB)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.BidID < b.BidID
	})
	return sorted[0]
}
