// Package httpapi exposes the dispatch core over HTTP (spec §6),
// grounded on virtengine-virtengine's RegisterOfferingRoutes pattern for
// mounting a gorilla/mux subrouter with one HandleFunc per operation.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/localbite-davis/dispatch-core/internal/agentfeed"
	"github.com/localbite-davis/dispatch-core/internal/bidservice"
	"github.com/localbite-davis/dispatch-core/internal/dispatch"
	"github.com/localbite-davis/dispatch-core/internal/dispatchstate"
	"github.com/localbite-davis/dispatch-core/internal/fulfillment"
	"github.com/localbite-davis/dispatch-core/internal/store"
)

// API holds every collaborator a handler needs.
type API struct {
	Store       *store.Store
	State       dispatchstate.Store
	Bids        *bidservice.Service
	Engine      *dispatch.Engine
	Feed        *agentfeed.Feed
	Fulfillment *fulfillment.Ledger

	upgrader websocket.Upgrader
}

func New(s *store.Store, state dispatchstate.Store, bids *bidservice.Service, engine *dispatch.Engine, feed *agentfeed.Feed, ledger *fulfillment.Ledger) *API {
	return &API{
		Store: s, State: state, Bids: bids, Engine: engine, Feed: feed, Fulfillment: ledger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the /api/v1 subrouter and registers every handler named in
// spec §6.
func (a *API) Router() *mux.Router {
	root := mux.NewRouter()
	v1 := root.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/fares/recommendation", a.handleFareRecommendation).Methods(http.MethodPost)

	v1.HandleFunc("/dispatch/orders/{id}/start", a.handleDispatchStart).Methods(http.MethodPost)
	v1.HandleFunc("/dispatch/orders/{id}/status", a.handleDispatchStatus).Methods(http.MethodGet)
	v1.HandleFunc("/dispatch/agents/{id}/available", a.handleAgentFeed).Methods(http.MethodGet)
	v1.HandleFunc("/dispatch/agents/{id}/stream", a.handleAgentFeedStream).Methods(http.MethodGet)

	v1.HandleFunc("/delivery-bids/", a.handlePlaceBid).Methods(http.MethodPost)
	v1.HandleFunc("/delivery-bids/{id}/accept", a.handleAcceptBid).Methods(http.MethodPost)
	v1.HandleFunc("/delivery-bids/orders/{id}/auto-award", a.handleAutoAward).Methods(http.MethodPost)

	v1.HandleFunc("/delivery-agents/{aid}/orders/{oid}/fulfill", a.handleFulfill).Methods(http.MethodPost)
	v1.HandleFunc("/delivery-agents/{id}/active-orders", a.handleActiveOrders).Methods(http.MethodGet)

	return root
}

// agentFeedPollInterval paces the optional websocket stream enrichment
// (SPEC_FULL.md §4.4 FULL); it does not replace the polling endpoint.
const agentFeedPollInterval = 2 * time.Second
