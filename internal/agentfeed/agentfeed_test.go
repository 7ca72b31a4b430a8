package agentfeed

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localbite-davis/dispatch-core/internal/bidservice"
	"github.com/localbite-davis/dispatch-core/internal/dispatchstate"
	"github.com/localbite-davis/dispatch-core/internal/store"
)

func newFixture(t *testing.T) (*Feed, *store.Store, *dispatchstate.MemoryStore, *bidservice.Service) {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	state := dispatchstate.NewMemoryStore()
	bids := bidservice.New(s, state)
	return New(s, state, bids), s, state, bids
}

func TestList_StudentSeesStudentPoolOrder(t *testing.T) {
	feed, s, state, _ := newFixture(t)

	order := &store.Order{
		UserID: 1, RestaurantID: 1, BaseFare: decimal.NewFromFloat(8),
		DeliveryFee: decimal.NewFromFloat(8), OrderStatus: store.OrderStatusPending,
	}
	require.NoError(t, s.CreateOrder(order))
	require.NoError(t, state.PutState(context.Background(), order.OrderID, dispatchstate.State{
		Status: dispatchstate.StatusWaitingForBids, Phase: dispatchstate.PhaseStudentPool,
		Phase1WaitSeconds: 180,
	}))

	student := &store.DeliveryAgent{AgentID: "student-1", AgentType: store.AgentTypeStudent, IsActive: true, VehicleType: store.VehicleTypeBike}
	require.NoError(t, s.CreateAgent(student))
	thirdParty := &store.DeliveryAgent{AgentID: "tp-1", AgentType: store.AgentTypeThirdParty, IsActive: true, VehicleType: store.VehicleTypeCar}
	require.NoError(t, s.CreateAgent(thirdParty))

	studentItems, err := feed.List(context.Background(), "student-1")
	require.NoError(t, err)
	require.Len(t, studentItems, 1)
	assert.True(t, studentItems[0].StudentOnly)

	tpItems, err := feed.List(context.Background(), "tp-1")
	require.NoError(t, err)
	assert.Len(t, tpItems, 0)
}

func TestList_InactiveAgentForbidden(t *testing.T) {
	feed, s, _, _ := newFixture(t)
	require.NoError(t, s.CreateAgent(&store.DeliveryAgent{AgentID: "inactive-1", AgentType: store.AgentTypeThirdParty, IsActive: false, VehicleType: store.VehicleTypeCar}))

	_, err := feed.List(context.Background(), "inactive-1")
	require.Error(t, err)
}

func TestList_LeadingBidAndTimeLeft(t *testing.T) {
	feed, s, state, bids := newFixture(t)

	order := &store.Order{
		UserID: 1, RestaurantID: 1, BaseFare: decimal.NewFromFloat(8),
		DeliveryFee: decimal.NewFromFloat(8), OrderStatus: store.OrderStatusPending,
	}
	require.NoError(t, s.CreateOrder(order))
	require.NoError(t, state.PutState(context.Background(), order.OrderID, dispatchstate.State{
		Status: dispatchstate.StatusWaitingForBids, Phase: dispatchstate.PhaseAllAgents,
		Phase2WaitSeconds: 180,
	}))

	agent := &store.DeliveryAgent{AgentID: "tp-1", AgentType: store.AgentTypeThirdParty, IsActive: true, VehicleType: store.VehicleTypeCar}
	require.NoError(t, s.CreateAgent(agent))

	_, err := bids.PlaceBid(context.Background(), order.OrderID, "tp-1", decimal.NewFromFloat(10.00), store.PoolPhaseAllAgents)
	require.NoError(t, err)

	items, err := feed.List(context.Background(), "tp-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].LeadingBid)
	assert.True(t, items[0].LeadingBid.Amount.Equal(decimal.NewFromFloat(10.00)))
	assert.Equal(t, 1, items[0].TotalPlacedBids)
	assert.InDelta(t, 180, items[0].BiddingTimeLeftSeconds, 2)
	assert.True(t, time.Since(order.CreatedAt) < time.Minute)
}
