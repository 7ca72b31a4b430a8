package bidservice

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localbite-davis/dispatch-core/internal/apperr"
	"github.com/localbite-davis/dispatch-core/internal/dispatchstate"
	"github.com/localbite-davis/dispatch-core/internal/store"
)

func newFixture(t *testing.T) (*Service, *store.Store, *dispatchstate.MemoryStore) {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	state := dispatchstate.NewMemoryStore()
	return New(s, state), s, state
}

func seedOrderAndAgent(t *testing.T, s *store.Store, agentType store.AgentType) (*store.Order, *store.DeliveryAgent) {
	t.Helper()
	order := &store.Order{
		UserID: 1, RestaurantID: 1,
		BaseFare: decimal.NewFromFloat(8.00), DeliveryFee: decimal.NewFromFloat(8.00),
		OrderStatus: store.OrderStatusPending,
	}
	require.NoError(t, s.CreateOrder(order))

	agent := &store.DeliveryAgent{
		AgentID: "agent-1", AgentType: agentType, IsActive: true,
		VehicleType: store.VehicleTypeBike, Rating: decimal.NewFromFloat(5),
	}
	require.NoError(t, s.CreateAgent(agent))
	return order, agent
}

func TestPlaceBid_RejectsOutsideWindow(t *testing.T) {
	svc, s, _ := newFixture(t)
	order, _ := seedOrderAndAgent(t, s, store.AgentTypeStudent)

	_, err := svc.PlaceBid(context.Background(), order.OrderID, "agent-1", decimal.NewFromFloat(99.00), store.PoolPhaseStudentPool)
	require.Error(t, err)

	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindInvalidInput, appErr.Kind)
}

func TestPlaceBid_RejectsNonStudentDuringStudentPool(t *testing.T) {
	svc, s, _ := newFixture(t)
	order, _ := seedOrderAndAgent(t, s, store.AgentTypeThirdParty)

	_, err := svc.PlaceBid(context.Background(), order.OrderID, "agent-1", decimal.NewFromFloat(9.50), store.PoolPhaseStudentPool)
	require.Error(t, err)

	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindForbidden, appErr.Kind)
}

func TestPlaceBidAndAwardBid(t *testing.T) {
	svc, s, state := newFixture(t)
	order, _ := seedOrderAndAgent(t, s, store.AgentTypeStudent)

	bid, err := svc.PlaceBid(context.Background(), order.OrderID, "agent-1", decimal.NewFromFloat(9.50), store.PoolPhaseStudentPool)
	require.NoError(t, err)

	awarded, err := svc.AwardBid(context.Background(), bid.BidID)
	require.NoError(t, err)
	assert.Equal(t, store.BidStatusAccepted, awarded.BidStatus)

	updatedOrder, err := s.GetOrder(order.OrderID)
	require.NoError(t, err)
	require.NotNil(t, updatedOrder.AssignedPartnerID)
	assert.Equal(t, "agent-1", *updatedOrder.AssignedPartnerID)
	assert.Equal(t, store.OrderStatusAssigned, updatedOrder.OrderStatus)
	assert.True(t, updatedOrder.DeliveryFee.Equal(decimal.NewFromFloat(9.50)))

	assigned, err := state.IsAssigned(context.Background(), order.OrderID)
	require.NoError(t, err)
	assert.True(t, assigned)

	// Re-awarding the same bid is idempotent.
	again, err := svc.AwardBid(context.Background(), bid.BidID)
	require.NoError(t, err)
	assert.Equal(t, store.BidStatusAccepted, again.BidStatus)
}

func TestAwardBid_SecondBidConflicts(t *testing.T) {
	svc, s, _ := newFixture(t)
	order, _ := seedOrderAndAgent(t, s, store.AgentTypeStudent)

	agent2 := &store.DeliveryAgent{
		AgentID: "agent-2", AgentType: store.AgentTypeStudent, IsActive: true,
		VehicleType: store.VehicleTypeBike, Rating: decimal.NewFromFloat(5),
	}
	require.NoError(t, s.CreateAgent(agent2))

	bid1, err := svc.PlaceBid(context.Background(), order.OrderID, "agent-1", decimal.NewFromFloat(9.00), store.PoolPhaseStudentPool)
	require.NoError(t, err)
	bid2, err := svc.PlaceBid(context.Background(), order.OrderID, "agent-2", decimal.NewFromFloat(8.50), store.PoolPhaseStudentPool)
	require.NoError(t, err)

	_, err = svc.AwardBid(context.Background(), bid1.BidID)
	require.NoError(t, err)

	_, err = svc.AwardBid(context.Background(), bid2.BidID)
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindConflict, appErr.Kind)
}

func TestAutoAward_PicksDeterministicWinner(t *testing.T) {
	svc, s, _ := newFixture(t)
	order, _ := seedOrderAndAgent(t, s, store.AgentTypeStudent)

	agent2 := &store.DeliveryAgent{
		AgentID: "agent-2", AgentType: store.AgentTypeStudent, IsActive: true,
		VehicleType: store.VehicleTypeBike, Rating: decimal.NewFromFloat(5),
	}
	require.NoError(t, s.CreateAgent(agent2))

	_, err := svc.PlaceBid(context.Background(), order.OrderID, "agent-1", decimal.NewFromFloat(9.50), store.PoolPhaseStudentPool)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = svc.PlaceBid(context.Background(), order.OrderID, "agent-2", decimal.NewFromFloat(9.00), store.PoolPhaseStudentPool)
	require.NoError(t, err)

	winner, err := svc.AutoAward(context.Background(), order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "agent-2", winner.AgentID)
}

func TestAutoAward_NoBidsFails(t *testing.T) {
	svc, s, _ := newFixture(t)
	order, _ := seedOrderAndAgent(t, s, store.AgentTypeStudent)

	_, err := svc.AutoAward(context.Background(), order.OrderID)
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindNotFound, appErr.Kind)
}

func TestPickWinner_TieBreakOrder(t *testing.T) {
	now := time.Now()
	bids := []store.DeliveryBid{
		{BidID: 3, BidAmount: decimal.NewFromFloat(9.00), CreatedAt: now},
		{BidID: 2, BidAmount: decimal.NewFromFloat(9.00), CreatedAt: now.Add(-time.Second)},
		{BidID: 1, BidAmount: decimal.NewFromFloat(8.50), CreatedAt: now},
	}

	winner := PickWinner(bids)
	assert.Equal(t, int64(1), winner.BidID)
}
