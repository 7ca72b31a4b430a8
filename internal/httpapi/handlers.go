package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/localbite-davis/dispatch-core/internal/apperr"
	"github.com/localbite-davis/dispatch-core/internal/dispatch"
	"github.com/localbite-davis/dispatch-core/internal/farecalc"
	"github.com/localbite-davis/dispatch-core/internal/store"
)

func pathInt64(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.InvalidInput(name + " must be an integer")
	}
	return v, nil
}

// POST /fares/recommendation
type fareRecommendationRequest struct {
	RestaurantLocation *farecalc.LatLon          `json:"restaurant_location"`
	UserLocation       *farecalc.LatLon          `json:"user_location"`
	DistanceKM         *float64                  `json:"distance_km"`
	RequestTime        *time.Time                `json:"request_time"`
	Incentives         farecalc.IncentiveMetrics `json:"incentives"`
}

func (a *API) handleFareRecommendation(w http.ResponseWriter, r *http.Request) {
	var body fareRecommendationRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	req := farecalc.Request{
		RestaurantLocation: body.RestaurantLocation,
		UserLocation:       body.UserLocation,
		DistanceKM:         body.DistanceKM,
		Incentives:         body.Incentives,
	}
	if body.RequestTime != nil {
		req.RequestTime = *body.RequestTime
	}

	resp, err := farecalc.Recommend(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /dispatch/orders/{id}/start
type dispatchStartRequest struct {
	Phase1WaitMinSeconds *float64 `json:"phase1_wait_min_seconds"`
	Phase1WaitMaxSeconds *float64 `json:"phase1_wait_max_seconds"`
	Phase2WaitSeconds    *float64 `json:"phase2_wait_seconds"`
	PollIntervalSeconds  *float64 `json:"poll_interval_seconds"`
	DeliveryAddress      string   `json:"delivery_address"`
}

func secondsToDuration(s *float64) time.Duration {
	if s == nil {
		return 0
	}
	return time.Duration(*s * float64(time.Second))
}

func (a *API) handleDispatchStart(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	var body dispatchStartRequest
	_ = decodeJSON(r, &body) // empty body is valid: use defaults

	order, err := a.Store.GetOrder(orderID)
	if err != nil {
		writeError(w, apperr.Internal("loading order", err))
		return
	}
	if order == nil {
		writeError(w, apperr.NotFound("order not found"))
		return
	}
	if order.AssignedPartnerID != nil {
		writeError(w, apperr.Conflict("order already assigned"))
		return
	}

	params := dispatch.Params{
		Phase1WaitMin: secondsToDuration(body.Phase1WaitMinSeconds),
		Phase1WaitMax: secondsToDuration(body.Phase1WaitMaxSeconds),
		Phase2Wait:    secondsToDuration(body.Phase2WaitSeconds),
		PollInterval:  secondsToDuration(body.PollIntervalSeconds),
	}

	alreadyRunning, err := a.Engine.Start(orderID, order.RestaurantID, body.DeliveryAddress, params)
	if err != nil {
		writeError(w, err)
		return
	}
	if alreadyRunning {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"dispatch_started": false,
			"status":           "already_running",
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"dispatch_started": true})
}

// GET /dispatch/orders/{id}/status
func (a *API) handleDispatchStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	state, ok, err := a.State.GetState(r.Context(), orderID)
	if err != nil {
		writeError(w, apperr.Internal("loading dispatch state", err))
		return
	}
	if !ok {
		writeError(w, apperr.NotFound("no dispatch session for this order"))
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// GET /dispatch/agents/{id}/available
func (a *API) handleAgentFeed(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["id"]

	items, err := a.Feed.List(r.Context(), agentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": items})
}

// GET /dispatch/agents/{id}/stream — additive, optional websocket
// enrichment (SPEC_FULL.md §4.4 FULL); not required by spec §6.
func (a *API) handleAgentFeedStream(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["id"]

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("agent_id", agentID).Msg("httpapi: websocket upgrade failed")
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(agentFeedPollInterval)
	defer ticker.Stop()

	for {
		items, err := a.Feed.List(r.Context(), agentID)
		if err != nil {
			_ = conn.WriteJSON(map[string]interface{}{"error": err.Error()})
			return
		}
		if err := conn.WriteJSON(map[string]interface{}{"orders": items}); err != nil {
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// POST /delivery-bids/
type placeBidRequest struct {
	OrderID   int64           `json:"order_id"`
	AgentID   string          `json:"agent_id"`
	Amount    decimal.Decimal `json:"amount"`
	PoolPhase store.PoolPhase `json:"pool_phase"`
}

func (a *API) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	var body placeBidRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	bid, err := a.Bids.PlaceBid(r.Context(), body.OrderID, body.AgentID, body.Amount, body.PoolPhase)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

// POST /delivery-bids/{id}/accept
func (a *API) handleAcceptBid(w http.ResponseWriter, r *http.Request) {
	bidID, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	bid, err := a.Bids.AwardBid(r.Context(), bidID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

// POST /delivery-bids/orders/{id}/auto-award
func (a *API) handleAutoAward(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	bid, err := a.Bids.AutoAward(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

// POST /delivery-agents/{aid}/orders/{oid}/fulfill
type fulfillRequest struct {
	ProofRef       string  `json:"proof_ref"`
	ProofFilename  string  `json:"proof_filename"`
	IdempotencyKey *string `json:"idempotency_key"`
}

func (a *API) handleFulfill(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["aid"]
	orderID, err := pathInt64(r, "oid")
	if err != nil {
		writeError(w, err)
		return
	}

	var body fulfillRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	var key *uuid.UUID
	if body.IdempotencyKey != nil && *body.IdempotencyKey != "" {
		parsed, err := uuid.Parse(*body.IdempotencyKey)
		if err != nil {
			writeError(w, apperr.InvalidInput("idempotency_key must be a UUID"))
			return
		}
		key = &parsed
	}

	order, err := a.Fulfillment.Fulfill(agentID, orderID, body.ProofRef, body.ProofFilename, key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// GET /delivery-agents/{id}/active-orders
func (a *API) handleActiveOrders(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["id"]

	agent, err := a.Store.GetAgent(agentID)
	if err != nil {
		writeError(w, apperr.Internal("loading agent", err))
		return
	}
	if agent == nil {
		writeError(w, apperr.NotFound("agent not found"))
		return
	}

	bids, err := a.Bids.ListByAgent(agentID)
	if err != nil {
		writeError(w, err)
		return
	}

	var orders []*store.Order
	seen := make(map[int64]bool)
	for _, bid := range bids {
		if bid.BidStatus != store.BidStatusAccepted || seen[bid.OrderID] {
			continue
		}
		order, err := a.Store.GetOrder(bid.OrderID)
		if err != nil {
			writeError(w, apperr.Internal("loading order", err))
			return
		}
		if order == nil {
			continue
		}
		if order.OrderStatus == store.OrderStatusAssigned || order.OrderStatus == store.OrderStatusOnTheWay {
			orders = append(orders, order)
			seen[bid.OrderID] = true
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
}
