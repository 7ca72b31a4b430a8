// Package dispatch implements the per-order dispatch state machine (spec
// §4.3): a cooperative task per order that broadcasts the student-pool
// invite, polls for bids, escalates to all agents, rolls the phase-2
// closing window, and auto-awards the winner. Grounded on
// original_source/localbite-backend/app/dispatch/engine.py for the overall
// loop shape, restructured around Go goroutines and context.Context
// cancellation the way the teacher's core/engine.go owns a
// mutex-guarded registry of running state.
package dispatch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/localbite-davis/dispatch-core/internal/apperr"
	"github.com/localbite-davis/dispatch-core/internal/bidservice"
	"github.com/localbite-davis/dispatch-core/internal/dispatchstate"
	"github.com/localbite-davis/dispatch-core/internal/store"
)

// Params are the per-start configurable timings (spec §4.3). Zero values
// are replaced by the Engine's configured defaults (see New), which
// themselves fall back to DefaultParams when unset.
type Params struct {
	Phase1WaitMin time.Duration
	Phase1WaitMax time.Duration
	Phase2Wait    time.Duration
	PollInterval  time.Duration
	RollingClose  time.Duration
}

// DefaultParams mirrors spec §4.3's defaults of 180/240/180/5/60 seconds.
func DefaultParams() Params {
	return Params{
		Phase1WaitMin: 180 * time.Second,
		Phase1WaitMax: 240 * time.Second,
		Phase2Wait:    180 * time.Second,
		PollInterval:  5 * time.Second,
		RollingClose:  60 * time.Second,
	}
}

func (p Params) withDefaults(defaults Params) Params {
	if p.Phase1WaitMin <= 0 {
		p.Phase1WaitMin = defaults.Phase1WaitMin
	}
	if p.Phase1WaitMax <= 0 {
		p.Phase1WaitMax = defaults.Phase1WaitMax
	}
	if p.Phase2Wait <= 0 {
		p.Phase2Wait = defaults.Phase2Wait
	}
	if p.PollInterval <= 0 {
		p.PollInterval = defaults.PollInterval
	}
	if p.RollingClose <= 0 {
		p.RollingClose = defaults.RollingClose
	}
	return p
}

// orderTask is the running state for one order's dispatch session, named
// after the teacher's Engine.positions registry entry.
type orderTask struct {
	orderID int64
	cancel  context.CancelFunc
	done    chan struct{}
}

// Engine owns the per-order singleton registry (spec §4.3, §5) and drives
// every dispatch session.
type Engine struct {
	mu      sync.Mutex
	running map[int64]*orderTask

	store    *store.Store
	state    dispatchstate.Store
	bids     *bidservice.Service
	defaults Params
	rootCtx  context.Context
	cancel   context.CancelFunc
}

// New builds an Engine whose per-start Params fall back to defaults
// wherever an HTTP caller's dispatchStartRequest omits a field
// (SPEC_FULL §6 FULL: DISPATCH_PHASE1_WAIT_* etc. are threaded through
// config into the engine rather than hardcoded). A zero-valued defaults
// field falls back in turn to DefaultParams.
func New(s *store.Store, state dispatchstate.Store, bids *bidservice.Service, defaults Params) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		running:  make(map[int64]*orderTask),
		store:    s,
		state:    state,
		bids:     bids,
		defaults: defaults.withDefaults(DefaultParams()),
		rootCtx:  ctx,
		cancel:   cancel,
	}
}

// Shutdown cancels every running order task and blocks until each has
// finished writing its terminal state, matching the teacher's
// defer-cleanup idiom on process shutdown.
func (e *Engine) Shutdown() {
	e.cancel()

	e.mu.Lock()
	tasks := make([]*orderTask, 0, len(e.running))
	for _, t := range e.running {
		tasks = append(tasks, t)
	}
	e.mu.Unlock()

	for _, t := range tasks {
		<-t.done
	}
}

// Start begins a dispatch session for orderID unless one is already
// running, in which case it returns alreadyRunning=true without side
// effects (spec §4.3 Cancellation & idempotency).
func (e *Engine) Start(orderID int64, restaurantID int64, deliveryAddress string, params Params) (alreadyRunning bool, err error) {
	e.mu.Lock()
	if _, exists := e.running[orderID]; exists {
		e.mu.Unlock()
		return true, nil
	}

	ctx, cancel := context.WithCancel(e.rootCtx)
	task := &orderTask{orderID: orderID, cancel: cancel, done: make(chan struct{})}
	e.running[orderID] = task
	e.mu.Unlock()

	go e.runOrder(ctx, task, restaurantID, deliveryAddress, params.withDefaults(e.defaults))

	return false, nil
}

func (e *Engine) unregister(orderID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, orderID)
}

func (e *Engine) runOrder(ctx context.Context, task *orderTask, restaurantID int64, deliveryAddress string, params Params) {
	defer close(task.done)
	defer e.unregister(task.orderID)

	defer func() {
		panicked := recover()
		if ctx.Err() != nil || panicked != nil {
			note := "cancelled"
			if panicked != nil {
				note = "task panicked"
			}
			_ = e.state.PutState(context.Background(), task.orderID, dispatchstate.State{
				Status: dispatchstate.StatusFailed, Phase: dispatchstate.PhaseError,
				RestaurantID: restaurantID, DeliveryAddress: deliveryAddress, Note: note,
			})
		}
	}()

	e.putState(ctx, task.orderID, restaurantID, deliveryAddress, dispatchstate.StatusStarting, dispatchstate.PhaseStudentPool, params, "dispatch session starting")

	if e.runPhase1(ctx, task.orderID, restaurantID, deliveryAddress, params) {
		return
	}
	e.runPhase2(ctx, task.orderID, restaurantID, deliveryAddress, params)
}

func (e *Engine) runPhase1(ctx context.Context, orderID, restaurantID int64, deliveryAddress string, params Params) (done bool) {
	log.Info().Int64("order_id", orderID).Msg("dispatch: broadcasting to student pool")

	_ = e.state.PublishBroadcast(ctx, dispatchstate.CandidateStudent, dispatchstate.BroadcastMessage{
		OrderID: orderID, RestaurantID: restaurantID, DeliveryAddress: deliveryAddress,
		CandidateAgentType: dispatchstate.CandidateStudent,
	})
	e.putState(ctx, orderID, restaurantID, deliveryAddress, dispatchstate.StatusBroadcasted, dispatchstate.PhaseStudentPool, params, "broadcast sent to student pool")

	wait := randomDuration(params.Phase1WaitMin, params.Phase1WaitMax)
	e.putState(ctx, orderID, restaurantID, deliveryAddress, dispatchstate.StatusWaitingForBids, dispatchstate.PhaseStudentPool, params, "waiting for student bids")

	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(params.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return true
		case <-ticker.C:
		}

		assigned, err := e.state.IsAssigned(ctx, orderID)
		if err != nil {
			log.Error().Err(err).Int64("order_id", orderID).Msg("dispatch: failed polling assigned flag")
		} else if assigned {
			e.putState(ctx, orderID, restaurantID, deliveryAddress, dispatchstate.StatusAssigned, dispatchstate.PhaseCompleted, params, "assigned")
			return true
		}

		if time.Now().After(deadline) || time.Now().Equal(deadline) {
			break
		}
	}

	marker, err := e.store.PlacedBidMarker(orderID)
	if err == nil && marker.CountPlaced > 0 {
		if _, awardErr := e.bids.AutoAward(ctx, orderID); awardErr == nil {
			e.putState(ctx, orderID, restaurantID, deliveryAddress, dispatchstate.StatusAssigned, dispatchstate.PhaseCompleted, params, "awarded from student pool")
			return true
		} else if apperr.KindOf(awardErr) != apperr.KindNotFound {
			log.Error().Err(awardErr).Int64("order_id", orderID).Msg("dispatch: auto-award from student pool failed")
		}
	}

	return false
}

func (e *Engine) runPhase2(ctx context.Context, orderID, restaurantID int64, deliveryAddress string, params Params) {
	log.Info().Int64("order_id", orderID).Msg("dispatch: escalating to all agents")

	e.putState(ctx, orderID, restaurantID, deliveryAddress, dispatchstate.StatusEscalating, dispatchstate.PhaseAllAgents, params, "escalating to all agents")
	_ = e.state.PublishBroadcast(ctx, dispatchstate.CandidateAll, dispatchstate.BroadcastMessage{
		OrderID: orderID, RestaurantID: restaurantID, DeliveryAddress: deliveryAddress,
		CandidateAgentType: dispatchstate.CandidateAll,
	})
	e.putState(ctx, orderID, restaurantID, deliveryAddress, dispatchstate.StatusWaitingForBids, dispatchstate.PhaseAllAgents, params, "waiting for bids, all agents")

	var rollingDeadline time.Time
	lastCount, lastMaxBidID := int64(0), int64(0)
	phase2Start := time.Now()

	ticker := time.NewTicker(params.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		assigned, err := e.state.IsAssigned(ctx, orderID)
		if err != nil {
			log.Error().Err(err).Int64("order_id", orderID).Msg("dispatch: failed polling assigned flag")
		} else if assigned {
			e.putState(ctx, orderID, restaurantID, deliveryAddress, dispatchstate.StatusAssigned, dispatchstate.PhaseCompleted, params, "assigned")
			return
		}

		marker, err := e.store.PlacedBidMarker(orderID)
		if err != nil {
			log.Error().Err(err).Int64("order_id", orderID).Msg("dispatch: failed reading bid marker")
			continue
		}

		if marker.CountPlaced != 0 || marker.MaxBidID != 0 {
			if marker.CountPlaced != lastCount || marker.MaxBidID != lastMaxBidID || rollingDeadline.IsZero() {
				lastCount, lastMaxBidID = marker.CountPlaced, marker.MaxBidID
				rollingDeadline = time.Now().Add(params.RollingClose)
				e.putState(ctx, orderID, restaurantID, deliveryAddress, dispatchstate.StatusWaitingForBids, dispatchstate.PhaseAllAgents, params, "bids received; rolling 60s close window reset")
			}

			if !time.Now().Before(rollingDeadline) {
				if _, err := e.bids.AutoAward(ctx, orderID); err == nil {
					e.putState(ctx, orderID, restaurantID, deliveryAddress, dispatchstate.StatusAssigned, dispatchstate.PhaseCompleted, params, "awarded from all-agents pool")
					return
				} else if apperr.KindOf(err) == apperr.KindNotFound {
					rollingDeadline = time.Time{} // race: bids vanished
				} else {
					log.Error().Err(err).Int64("order_id", orderID).Msg("dispatch: auto-award from all-agents pool failed")
					rollingDeadline = time.Time{}
				}
			}
		} else if time.Since(phase2Start) >= params.Phase2Wait {
			e.putState(ctx, orderID, restaurantID, deliveryAddress, dispatchstate.StatusNeedsFeeIncrease, dispatchstate.PhaseAllAgents, params, "no bids received; fee increase needed")
			return
		}
	}
}

func (e *Engine) putState(ctx context.Context, orderID, restaurantID int64, deliveryAddress string, status dispatchstate.Status, phase dispatchstate.Phase, params Params, note string) {
	err := e.state.PutState(ctx, orderID, dispatchstate.State{
		Status:            status,
		Phase:             phase,
		RestaurantID:      restaurantID,
		DeliveryAddress:   deliveryAddress,
		Phase1WaitSeconds: params.Phase1WaitMin.Seconds(),
		Phase2WaitSeconds: params.Phase2Wait.Seconds(),
		Note:              note,
	})
	if err != nil {
		log.Error().Err(err).Int64("order_id", orderID).Msg("dispatch: failed writing dispatch state")
	}
}

func randomDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
