// Package store is the durable Order Store (spec §3): orders, delivery
// agents, and bids, with gorm-transactional, status-gated mutations.
// Grounded on internal/database/database.go (teacher) for the driver-switch
// and AutoMigrate conventions.
package store

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusAssigned  OrderStatus = "assigned"
	OrderStatusOnTheWay  OrderStatus = "on_the_way"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

type PayoutStatus string

const (
	PayoutStatusPending PayoutStatus = "pending"
	PayoutStatusPaid    PayoutStatus = "paid"
)

type AgentType string

const (
	AgentTypeStudent    AgentType = "student"
	AgentTypeThirdParty AgentType = "third_party"
)

type VehicleType string

const (
	VehicleTypeBike    VehicleType = "bike"
	VehicleTypeScooter VehicleType = "scooter"
	VehicleTypeCar     VehicleType = "car"
	VehicleTypeWalk    VehicleType = "walk"
)

type PoolPhase string

const (
	PoolPhaseStudentPool PoolPhase = "student_pool"
	PoolPhaseAllAgents   PoolPhase = "all_agents"
)

type BidStatus string

const (
	BidStatusPlaced    BidStatus = "placed"
	BidStatusAccepted  BidStatus = "accepted"
	BidStatusRejected  BidStatus = "rejected"
	BidStatusExpired   BidStatus = "expired"
	BidStatusWithdrawn BidStatus = "withdrawn"
)

// Order mirrors spec.md §3's Order entity.
type Order struct {
	OrderID           int64   `gorm:"column:order_id;primaryKey;autoIncrement"`
	UserID            int64   `gorm:"column:user_id;not null"`
	RestaurantID      int64   `gorm:"column:restaurant_id;not null"`
	AssignedPartnerID *string `gorm:"column:assigned_partner_id;index"`
	OrderItemsJSON    string  `gorm:"column:order_items;type:text"` // opaque list, stored as JSON text

	BaseFare         decimal.Decimal `gorm:"column:base_fare;type:decimal(10,2);not null"`
	DeliveryFee      decimal.Decimal `gorm:"column:delivery_fee;type:decimal(10,2);not null"`
	CommissionAmount decimal.Decimal `gorm:"column:commission_amount;type:decimal(10,2);not null"`

	OrderStatus OrderStatus `gorm:"column:order_status;not null;default:pending"`

	CreatedAt   time.Time  `gorm:"column:created_at"`
	DeliveredAt *time.Time `gorm:"column:delivered_at"`

	DeliveryProofRef      *string `gorm:"column:delivery_proof_ref"`
	DeliveryProofFilename *string `gorm:"column:delivery_proof_filename"`

	AgentPayoutAmount decimal.Decimal `gorm:"column:agent_payout_amount;type:decimal(10,2)"`
	AgentPayoutStatus PayoutStatus    `gorm:"column:agent_payout_status;not null;default:pending"`

	// LastFulfillmentKey supports idempotent fulfill_delivery retries keyed
	// on a client-supplied idempotency key (SPEC_FULL.md §4.5).
	LastFulfillmentKey *string `gorm:"column:last_fulfillment_key"`
}

func (Order) TableName() string { return "orders" }

// DeliveryAgent mirrors spec.md §3's DeliveryAgent entity, supplemented with
// the fields original_source/.../models/delivery_agent.py carried that the
// distillation dropped (SPEC_FULL.md §3.1).
type DeliveryAgent struct {
	AgentID     string          `gorm:"column:agent_id;primaryKey"`
	AgentType   AgentType       `gorm:"column:agent_type;not null;default:third_party"`
	IsActive    bool            `gorm:"column:is_active;not null"`
	IsVerified  bool            `gorm:"column:is_verified;not null;default:false"`
	VehicleType VehicleType     `gorm:"column:vehicle_type;not null"`
	Rating      decimal.Decimal `gorm:"column:rating;type:decimal(3,2);default:5.0"`

	TotalDeliveries int             `gorm:"column:total_deliveries;default:0"`
	TotalEarnings   decimal.Decimal `gorm:"column:total_earnings;type:decimal(12,2);default:0"`

	// Supplemented optional context (SPEC_FULL.md §3.1).
	UniversityName        *string         `gorm:"column:university_name"`
	StudentID             *string         `gorm:"column:student_id"`
	KerberosID            *string         `gorm:"column:kerberos_id"`
	BackgroundCheckStatus *string         `gorm:"column:background_check_status"`
	CurrentLat            *float64        `gorm:"column:current_lat"`
	CurrentLng            *float64        `gorm:"column:current_lng"`
	BasePayoutPerDelivery decimal.Decimal `gorm:"column:base_payout_per_delivery;type:decimal(10,2)"`
	BonusMultiplier       decimal.Decimal `gorm:"column:bonus_multiplier;type:decimal(6,3);default:1.0"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (DeliveryAgent) TableName() string { return "delivery_agents" }

// DeliveryBid mirrors spec.md §3's DeliveryBid entity.
type DeliveryBid struct {
	BidID   int64  `gorm:"column:bid_id;primaryKey;autoIncrement"`
	OrderID int64  `gorm:"column:order_id;not null;index"`
	AgentID string `gorm:"column:agent_id;not null;index"`

	BidAmount      decimal.Decimal `gorm:"column:bid_amount;type:decimal(10,2);not null"`
	MinAllowedFare decimal.Decimal `gorm:"column:min_allowed_fare;type:decimal(10,2);not null"`
	MaxAllowedFare decimal.Decimal `gorm:"column:max_allowed_fare;type:decimal(10,2);not null"`

	PoolPhase PoolPhase `gorm:"column:pool_phase;not null;default:student_pool"`
	BidStatus BidStatus `gorm:"column:bid_status;not null;default:placed"`

	CreatedAt time.Time `gorm:"column:created_at;index"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (DeliveryBid) TableName() string { return "delivery_bids" }
