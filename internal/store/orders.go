package store

import (
	"context"
	"database/sql"
	"errors"

	"import-sourcing/internal/apperror"
	"import-sourcing/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const orderColumns = `id, owner_id, quote_id, request_id, payment_status, shipping_status,
	tracking_number, estimated_delivery, delivered_at, created_at, updated_at`

const eventColumns = `id, order_id, status, description, created_at`

// CreateOrder inserts an order and its initial tracking event together.
// A quote can back at most one order.
func (s *Store) CreateOrder(ctx context.Context, order *models.ImportOrder, initial *models.TrackingEvent) error {
	return s.withTx(ctx, nil, func(tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO import_orders (id, owner_id, quote_id, request_id, payment_status, shipping_status)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING created_at, updated_at`,
			order.ID, order.OwnerID, order.QuoteID, order.RequestID, order.PaymentStatus, order.ShippingStatus,
		).Scan(&order.CreatedAt, &order.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return apperror.Conflict("quote %s already has an order", order.QuoteID)
			}
			return apperror.Storage("create order", err)
		}

		if initial != nil {
			initial.OrderID = order.ID
			if err := insertTrackingEvent(ctx, tx, initial); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertTrackingEvent(ctx context.Context, tx *sqlx.Tx, ev *models.TrackingEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	err := tx.GetContext(ctx, &ev.CreatedAt, `
		INSERT INTO tracking_events (id, order_id, status, description)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		ev.ID, ev.OrderID, ev.Status, ev.Description)
	if err != nil {
		return apperror.Storage("insert tracking event", err)
	}
	return nil
}

// GetOrder retrieves an order by ID
func (s *Store) GetOrder(ctx context.Context, id string) (*models.ImportOrder, error) {
	var order models.ImportOrder
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM import_orders WHERE id = $1", id)
	if err != nil {
		return nil, notFoundOr(err, "order", id, "get order")
	}
	return &order, nil
}

// ListOrdersByOwner retrieves orders for a user
func (s *Store) ListOrdersByOwner(ctx context.Context, ownerID string) ([]models.ImportOrder, error) {
	orders := []models.ImportOrder{}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM import_orders WHERE owner_id = $1 ORDER BY created_at DESC", ownerID)
	if err != nil {
		return nil, apperror.Storage("list orders", err)
	}
	return orders, nil
}

// ListOrdersByShippingStatus retrieves orders at a stage; empty status lists all
func (s *Store) ListOrdersByShippingStatus(ctx context.Context, status models.ShippingStatus) ([]models.ImportOrder, error) {
	orders := []models.ImportOrder{}
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &orders,
			"SELECT "+orderColumns+" FROM import_orders ORDER BY created_at DESC")
	} else {
		err = s.db.SelectContext(ctx, &orders,
			"SELECT "+orderColumns+" FROM import_orders WHERE shipping_status = $1 ORDER BY created_at DESC", status)
	}
	if err != nil {
		return nil, apperror.Storage("list orders", err)
	}
	return orders, nil
}

// AdvanceShipment locks the order row, lets apply validate and mutate it, then
// writes the returned event and the order update in the same transaction.
func (s *Store) AdvanceShipment(ctx context.Context, orderID string, apply ShipmentTransition) (*models.ImportOrder, *models.TrackingEvent, error) {
	var (
		order models.ImportOrder
		event *models.TrackingEvent
	)

	err := s.withTx(ctx, nil, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &order,
			"SELECT "+orderColumns+" FROM import_orders WHERE id = $1 FOR UPDATE", orderID)
		if err != nil {
			return notFoundOr(err, "order", orderID, "lock order")
		}

		event, err = apply(&order)
		if err != nil {
			return err
		}
		event.OrderID = order.ID
		if err := insertTrackingEvent(ctx, tx, event); err != nil {
			return err
		}

		err = tx.GetContext(ctx, &order.UpdatedAt, `
			UPDATE import_orders
			SET shipping_status = $1, tracking_number = $2, estimated_delivery = $3,
			    delivered_at = $4, updated_at = NOW()
			WHERE id = $5
			RETURNING updated_at`,
			order.ShippingStatus, order.TrackingNumber, order.EstimatedDelivery, order.DeliveredAt, order.ID)
		if err != nil {
			return apperror.Storage("update order shipping status", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &order, event, nil
}

// GetOrderSnapshot reads the order, its quote and its history from one
// repeatable-read snapshot.
func (s *Store) GetOrderSnapshot(ctx context.Context, orderID string) (*models.OrderSnapshot, error) {
	snap := &models.OrderSnapshot{}
	opts := &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}

	err := s.withTx(ctx, opts, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &snap.Order,
			"SELECT "+orderColumns+" FROM import_orders WHERE id = $1", orderID)
		if err != nil {
			return notFoundOr(err, "order", orderID, "get order")
		}

		var quote models.SupplierQuote
		err = tx.GetContext(ctx, &quote,
			"SELECT "+quoteColumns+" FROM supplier_quotes WHERE id = $1", snap.Order.QuoteID)
		switch {
		case err == nil:
			snap.Quote = &quote
		case !errors.Is(err, sql.ErrNoRows):
			return apperror.Storage("get order quote", err)
		}

		snap.Events = []models.TrackingEvent{}
		err = tx.SelectContext(ctx, &snap.Events,
			"SELECT "+eventColumns+" FROM tracking_events WHERE order_id = $1 ORDER BY seq", orderID)
		if err != nil {
			return apperror.Storage("list tracking events", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}
