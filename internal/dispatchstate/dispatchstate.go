// Package dispatchstate is the ephemeral Dispatch State Store (spec §3, §6):
// per-order dispatch progress, the assigned flag, and the broadcast queues
// agents would subscribe to. Grounded on
// original_source/localbite-backend/app/dispatch/engine.py's redis.asyncio
// usage, translated into synchronous calls against go-redis.
package dispatchstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status is the dispatch-session status named in spec §3.
type Status string

const (
	StatusStarting         Status = "starting"
	StatusBroadcasted      Status = "broadcasted"
	StatusWaitingForBids   Status = "waiting_for_bids"
	StatusEscalating       Status = "escalating"
	StatusAssigned         Status = "assigned"
	StatusNeedsFeeIncrease Status = "needs_fee_increase"
	StatusFailed           Status = "failed"
)

// Phase is the dispatch-session phase named in spec §3.
type Phase string

const (
	PhaseStudentPool Phase = "student_pool"
	PhaseAllAgents   Phase = "all_agents"
	PhaseCompleted   Phase = "completed"
	PhaseError       Phase = "error"
	PhaseNone        Phase = "none"
)

// CandidateAgentType is the broadcast message's target-pool discriminator.
type CandidateAgentType string

const (
	CandidateStudent CandidateAgentType = "student"
	CandidateAll     CandidateAgentType = "all"
)

// State is the full ephemeral record for one order's dispatch session.
type State struct {
	Status            Status    `json:"status"`
	Phase             Phase     `json:"phase"`
	RestaurantID      int64     `json:"restaurant_id"`
	DeliveryAddress   string    `json:"delivery_address"`
	Phase1WaitSeconds float64   `json:"phase1_wait_seconds"`
	Phase2WaitSeconds float64   `json:"phase2_wait_seconds"`
	Note              string    `json:"note"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// BroadcastMessage is published onto dispatch:queue:{student,all} when a
// dispatch session enters the corresponding phase.
type BroadcastMessage struct {
	OrderID            int64              `json:"order_id"`
	RestaurantID       int64              `json:"restaurant_id"`
	DeliveryAddress    string             `json:"delivery_address"`
	CandidateAgentType CandidateAgentType `json:"candidate_agent_type"`
}

// Store is the interface internal/dispatch and internal/agentfeed depend on,
// so tests can swap in the in-package memory fake without a live Redis
// (SPEC_FULL.md §8 FULL).
type Store interface {
	GetState(ctx context.Context, orderID int64) (*State, bool, error)
	PutState(ctx context.Context, orderID int64, state State) error
	SetAssigned(ctx context.Context, orderID int64) error
	IsAssigned(ctx context.Context, orderID int64) (bool, error)
	PublishBroadcast(ctx context.Context, queue CandidateAgentType, msg BroadcastMessage) error
}

// RedisStore is the production Store backed by go-redis.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

func stateKey(orderID int64) string    { return fmt.Sprintf("dispatch:order:%d:state", orderID) }
func assignedKey(orderID int64) string { return fmt.Sprintf("order:%d:assigned", orderID) }

func queueKey(queue CandidateAgentType) string {
	if queue == CandidateStudent {
		return "dispatch:queue:student"
	}
	return "dispatch:queue:all"
}

func (r *RedisStore) GetState(ctx context.Context, orderID int64) (*State, bool, error) {
	vals, err := r.client.HGetAll(ctx, stateKey(orderID)).Result()
	if err != nil {
		return nil, false, err
	}
	if len(vals) == 0 {
		return nil, false, nil
	}

	updatedAt, _ := time.Parse(time.RFC3339Nano, vals["updated_at"])
	state := &State{
		Status:          Status(vals["status"]),
		Phase:           Phase(vals["phase"]),
		DeliveryAddress: vals["delivery_address"],
		Note:            vals["note"],
		UpdatedAt:       updatedAt,
	}
	fmt.Sscanf(vals["restaurant_id"], "%d", &state.RestaurantID)
	fmt.Sscanf(vals["phase1_wait_seconds"], "%g", &state.Phase1WaitSeconds)
	fmt.Sscanf(vals["phase2_wait_seconds"], "%g", &state.Phase2WaitSeconds)
	return state, true, nil
}

func (r *RedisStore) PutState(ctx context.Context, orderID int64, state State) error {
	state.UpdatedAt = time.Now().UTC()
	fields := map[string]interface{}{
		"status":              string(state.Status),
		"phase":               string(state.Phase),
		"restaurant_id":       state.RestaurantID,
		"delivery_address":    state.DeliveryAddress,
		"phase1_wait_seconds": state.Phase1WaitSeconds,
		"phase2_wait_seconds": state.Phase2WaitSeconds,
		"note":                state.Note,
		"updated_at":          state.UpdatedAt.Format(time.RFC3339Nano),
	}
	return r.client.HSet(ctx, stateKey(orderID), fields).Err()
}

func (r *RedisStore) SetAssigned(ctx context.Context, orderID int64) error {
	return r.client.Set(ctx, assignedKey(orderID), "1", 0).Err()
}

func (r *RedisStore) IsAssigned(ctx context.Context, orderID int64) (bool, error) {
	val, err := r.client.Get(ctx, assignedKey(orderID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "1", nil
}

func (r *RedisStore) PublishBroadcast(ctx context.Context, queue CandidateAgentType, msg BroadcastMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, queueKey(queue), payload).Err()
}
