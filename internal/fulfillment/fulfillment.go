// Package fulfillment implements the exactly-once delivery ledger
// transition (spec §4.5), grounded on
// original_source/localbite-backend/app/api/payments.py and
// .../models/payments.py for the shape of a ledger transition record,
// generalized to a single payout-on-delivery step.
package fulfillment

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/localbite-davis/dispatch-core/internal/apperr"
	"github.com/localbite-davis/dispatch-core/internal/money"
	"github.com/localbite-davis/dispatch-core/internal/store"
)

// Ledger implements fulfill_delivery against the Order Store.
type Ledger struct {
	store *store.Store
}

func New(s *store.Store) *Ledger {
	return &Ledger{store: s}
}

// Fulfill marks orderID delivered by agentID, recording proof and paying
// out the agent exactly once (spec §4.5). idempotencyKey, when non-nil, is
// compared against the order's last recorded key so a retried call with
// the same key short-circuits before the payout-status gate even runs.
func (l *Ledger) Fulfill(agentID string, orderID int64, proofRef, proofFilename string, idempotencyKey *uuid.UUID) (*store.Order, error) {
	agent, err := l.store.GetAgent(agentID)
	if err != nil {
		return nil, apperr.Internal("loading agent", err)
	}
	if agent == nil {
		return nil, apperr.NotFound("agent not found")
	}
	if !agent.IsActive {
		return nil, apperr.Forbidden("agent is not active")
	}

	order, err := l.store.GetOrder(orderID)
	if err != nil {
		return nil, apperr.Internal("loading order", err)
	}
	if order == nil {
		return nil, apperr.NotFound("order not found")
	}
	if order.AssignedPartnerID == nil || *order.AssignedPartnerID != agentID {
		return nil, apperr.Forbidden("order is not assigned to this agent")
	}

	keyStr := ""
	if idempotencyKey != nil {
		keyStr = idempotencyKey.String()
	}
	if keyStr != "" && order.LastFulfillmentKey != nil && *order.LastFulfillmentKey == keyStr {
		return order, nil
	}

	if order.OrderStatus == store.OrderStatusDelivered && order.AgentPayoutStatus == store.PayoutStatusPaid {
		return order, nil
	}

	now := time.Now().UTC()
	payout := money.Round(order.DeliveryFee)
	alreadyPaid := order.AgentPayoutStatus == store.PayoutStatusPaid

	txErr := l.store.DB().Transaction(func(tx *gorm.DB) error {
		orderUpdates := map[string]interface{}{
			"order_status":            store.OrderStatusDelivered,
			"delivered_at":            now,
			"delivery_proof_ref":      proofRef,
			"delivery_proof_filename": proofFilename,
		}
		if keyStr != "" {
			orderUpdates["last_fulfillment_key"] = keyStr
		}

		if !alreadyPaid {
			orderUpdates["agent_payout_amount"] = payout
			orderUpdates["agent_payout_status"] = store.PayoutStatusPaid

			result := tx.Model(&store.Order{}).
				Where("order_id = ? AND agent_payout_status <> ?", orderID, store.PayoutStatusPaid).
				Updates(orderUpdates)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				// Payout already claimed by a concurrent fulfill call;
				// still apply the proof/status fields idempotently.
				if err := tx.Model(&store.Order{}).Where("order_id = ?", orderID).
					Updates(map[string]interface{}{
						"order_status":            store.OrderStatusDelivered,
						"delivered_at":            now,
						"delivery_proof_ref":      proofRef,
						"delivery_proof_filename": proofFilename,
					}).Error; err != nil {
					return err
				}
				return nil
			}

			if err := tx.Model(&store.DeliveryAgent{}).Where("agent_id = ?", agentID).
				Updates(map[string]interface{}{
					"total_earnings":   gorm.Expr("total_earnings + ?", payout),
					"total_deliveries": gorm.Expr("total_deliveries + 1"),
				}).Error; err != nil {
				return err
			}
			return nil
		}

		return tx.Model(&store.Order{}).Where("order_id = ?", orderID).Updates(orderUpdates).Error
	})
	if txErr != nil {
		return nil, apperr.Internal("recording fulfillment", txErr)
	}

	return l.store.GetOrder(orderID)
}
