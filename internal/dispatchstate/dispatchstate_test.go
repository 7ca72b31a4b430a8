package dispatchstate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutAndGetState(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	_, ok, err := m.GetState(ctx, 42)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.PutState(ctx, 42, State{
		Status: StatusBroadcasted,
		Phase:  PhaseStudentPool,
		Note:   "broadcast sent",
	}))

	state, ok, err := m.GetState(ctx, 42)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusBroadcasted, state.Status)
	assert.Equal(t, PhaseStudentPool, state.Phase)
	assert.False(t, state.UpdatedAt.IsZero())
}

func TestMemoryStoreAssignedFlag(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	assigned, err := m.IsAssigned(ctx, 7)
	require.NoError(t, err)
	assert.False(t, assigned)

	require.NoError(t, m.SetAssigned(ctx, 7))

	assigned, err = m.IsAssigned(ctx, 7)
	require.NoError(t, err)
	assert.True(t, assigned)
}

func TestMemoryStoreBroadcast(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	require.NoError(t, m.PublishBroadcast(ctx, CandidateStudent, BroadcastMessage{
		OrderID: 1, RestaurantID: 2, DeliveryAddress: "1 Main St",
		CandidateAgentType: CandidateStudent,
	}))

	require.Len(t, m.Broadcast, 1)
	assert.Equal(t, int64(1), m.Broadcast[0].OrderID)
}
