package dispatch

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

func newTestFixture(t *testing.T) (*Engine, *store.Store, *bidservice.Service) {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	state := dispatchstate.NewMemoryStore()
	bids := bidservice.New(s, state)
	engine := New(s, state, bids, Params{})
	return engine, s, bids
}

func seedOrder(t *testing.T, s *store.Store, baseFare float64) *store.Order {
	t.Helper()
	order := &store.Order{
		UserID: 1, RestaurantID: 1,
		BaseFare: decimal.NewFromFloat(baseFare), DeliveryFee: decimal.NewFromFloat(baseFare),
		OrderStatus: store.OrderStatusPending,
	}
	require.NoError(t, s.CreateOrder(order))
	return order
}

func seedAgent(t *testing.T, s *store.Store, id string, agentType store.AgentType) {
	t.Helper()
	require.NoError(t, s.CreateAgent(&store.DeliveryAgent{
		AgentID: id, AgentType: agentType, IsActive: true,
		VehicleType: store.VehicleTypeBike, Rating: decimal.NewFromFloat(5),
	}))
}

// TestStudentWinsPhase1 mirrors scenario 1 of spec §8: a student bid placed
// during phase 1 is auto-awarded at phase-1 close.
func TestStudentWinsPhase1(t *testing.T) {
	engine, s, bids := newTestFixture(t)
	order := seedOrder(t, s, 8.00)
	seedAgent(t, s, "student-1", store.AgentTypeStudent)

	params := Params{
		Phase1WaitMin: 60 * time.Millisecond,
		Phase1WaitMax: 80 * time.Millisecond,
		Phase2Wait:    60 * time.Millisecond,
		PollInterval:  10 * time.Millisecond,
	}

	alreadyRunning, err := engine.Start(order.OrderID, order.RestaurantID, "1 Main St", params)
	require.NoError(t, err)
	assert.False(t, alreadyRunning)

	time.Sleep(20 * time.Millisecond)
	_, err = bids.PlaceBid(context.Background(), order.OrderID, "student-1", decimal.NewFromFloat(9.50), store.PoolPhaseStudentPool)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		updated, err := s.GetOrder(order.OrderID)
		return err == nil && updated.OrderStatus == store.OrderStatusAssigned
	}, 2*time.Second, 10*time.Millisecond)

	updated, err := s.GetOrder(order.OrderID)
	require.NoError(t, err)
	require.NotNil(t, updated.AssignedPartnerID)
	assert.Equal(t, "student-1", *updated.AssignedPartnerID)
	assert.True(t, updated.DeliveryFee.Equal(decimal.NewFromFloat(9.50)))

	engine.Shutdown()
}

// TestStartTwiceReturnsAlreadyRunning mirrors the idempotency rule in
// spec §4.3: a second Start for the same order is a no-op.
func TestStartTwiceReturnsAlreadyRunning(t *testing.T) {
	engine, s, _ := newTestFixture(t)
	order := seedOrder(t, s, 8.00)

	params := Params{
		Phase1WaitMin: 200 * time.Millisecond, Phase1WaitMax: 250 * time.Millisecond,
		Phase2Wait: 200 * time.Millisecond, PollInterval: 20 * time.Millisecond,
	}

	alreadyRunning, err := engine.Start(order.OrderID, order.RestaurantID, "1 Main St", params)
	require.NoError(t, err)
	assert.False(t, alreadyRunning)

	alreadyRunning, err = engine.Start(order.OrderID, order.RestaurantID, "1 Main St", params)
	require.NoError(t, err)
	assert.True(t, alreadyRunning)

	engine.Shutdown()
}

// TestNoBidsEscalatesToFeeIncrease mirrors scenario 3 of spec §8.
func TestNoBidsEscalatesToFeeIncrease(t *testing.T) {
	engine, s, _ := newTestFixture(t)
	order := seedOrder(t, s, 8.00)

	params := Params{
		Phase1WaitMin: 20 * time.Millisecond, Phase1WaitMax: 30 * time.Millisecond,
		Phase2Wait: 30 * time.Millisecond, PollInterval: 5 * time.Millisecond,
	}

	_, err := engine.Start(order.OrderID, order.RestaurantID, "1 Main St", params)
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	var state *dispatchstate.State
	for time.Now().Before(deadline) {
		fetched, ok, err := engine.state.GetState(context.Background(), order.OrderID)
		require.NoError(t, err)
		if ok && fetched.Status == dispatchstate.StatusNeedsFeeIncrease {
			state = fetched
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	require.NotNil(t, state)
	assert.Equal(t, dispatchstate.PhaseAllAgents, state.Phase)

	updated, err := s.GetOrder(order.OrderID)
	require.NoError(t, err)
	assert.Nil(t, updated.AssignedPartnerID)

	engine.Shutdown()
}
