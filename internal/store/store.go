package store

import (
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store wraps a gorm connection to the durable Order Store. Grounded on
// internal/database/database.go (teacher) for the postgres/sqlite driver
// switch and AutoMigrate-on-boot pattern.
type Store struct {
	db *gorm.DB
}

// New opens a connection to dsn, picking the postgres driver for a
// postgres://... URL and falling back to sqlite otherwise (teacher idiom).
func New(dsn string) (*Store, error) {
	var db *gorm.DB
	var err error

	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("order store connected (PostgreSQL)")
	} else {
		db, err = gorm.Open(sqlite.Open(dsn), gormCfg)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dsn).Msg("order store connected (SQLite)")
	}

	if err := db.AutoMigrate(&Order{}, &DeliveryAgent{}, &DeliveryBid{}); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying gorm handle for packages (bidservice,
// fulfillment) that need to run their own transactions against these
// models without store re-exporting every operation as a method.
func (s *Store) DB() *gorm.DB { return s.db }

// Orders

func (s *Store) GetOrder(orderID int64) (*Order, error) {
	var order Order
	err := s.db.First(&order, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) CreateOrder(order *Order) error {
	return s.db.Create(order).Error
}

// Agents

func (s *Store) GetAgent(agentID string) (*DeliveryAgent, error) {
	var agent DeliveryAgent
	err := s.db.First(&agent, "agent_id = ?", agentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

func (s *Store) CreateAgent(agent *DeliveryAgent) error {
	return s.db.Create(agent).Error
}

func (s *Store) ListActiveAgents() ([]DeliveryAgent, error) {
	var agents []DeliveryAgent
	err := s.db.Where("is_active = ?", true).Find(&agents).Error
	return agents, err
}

// Bids

func (s *Store) GetBid(bidID int64) (*DeliveryBid, error) {
	var bid DeliveryBid
	err := s.db.First(&bid, "bid_id = ?", bidID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bid, nil
}

func (s *Store) ListBidsByOrder(orderID int64) ([]DeliveryBid, error) {
	var bids []DeliveryBid
	err := s.db.
		Where("order_id = ?", orderID).
		Order("created_at desc, bid_id desc").
		Find(&bids).Error
	return bids, err
}

func (s *Store) ListBidsByAgent(agentID string) ([]DeliveryBid, error) {
	var bids []DeliveryBid
	err := s.db.
		Where("agent_id = ?", agentID).
		Order("created_at desc, bid_id desc").
		Find(&bids).Error
	return bids, err
}

// ListAllOrders supports the Agent Feed's candidate scan (spec §4.4); the
// feed itself filters down to what each agent may see.
func (s *Store) ListAllOrders(limit int) ([]Order, error) {
	var orders []Order
	err := s.db.Order("created_at desc").Limit(limit).Find(&orders).Error
	return orders, err
}

// BidMarker is the cheap monotonic "a new bid arrived" summary the Dispatch
// Engine polls for in phase 2 (spec §4.3, §9).
type BidMarker struct {
	CountPlaced int64
	MaxBidID    int64
}

func (s *Store) PlacedBidMarker(orderID int64) (BidMarker, error) {
	var marker BidMarker
	err := s.db.Model(&DeliveryBid{}).
		Where("order_id = ? AND bid_status = ?", orderID, BidStatusPlaced).
		Select("COUNT(*) AS count_placed, COALESCE(MAX(bid_id), 0) AS max_bid_id").
		Scan(&marker).Error
	return marker, err
}
