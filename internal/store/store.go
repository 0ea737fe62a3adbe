package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"import-sourcing/internal/apperror"
	"import-sourcing/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed migrations/001_init.sql
var initSchema string

// ShipmentTransition validates and mutates a locked order and returns the
// tracking event to append. Returning an error aborts the write.
type ShipmentTransition func(order *models.ImportOrder) (*models.TrackingEvent, error)

// Repository is the storage collaborator of the workflow engine
type Repository interface {
	Ping(ctx context.Context) error

	CreateImportRequest(ctx context.Context, req *models.ImportRequest) error
	GetImportRequest(ctx context.Context, id string) (*models.ImportRequest, error)
	ListImportRequestsByOwner(ctx context.Context, ownerID string) ([]models.ImportRequest, error)
	ListStaleImportRequests(ctx context.Context, before time.Time, limit int) ([]models.ImportRequest, error)
	ClaimRequestForSourcing(ctx context.Context, id string, staleBefore time.Time) (bool, error)
	UpdateImportRequestStatus(ctx context.Context, id string, from []models.RequestStatus, to models.RequestStatus) (bool, error)

	SaveQuotes(ctx context.Context, requestID string, quotes []models.SupplierQuote) error
	GetQuote(ctx context.Context, id string) (*models.SupplierQuote, error)
	ListQuotesByRequest(ctx context.Context, requestID string) ([]models.SupplierQuote, error)

	CreateOrder(ctx context.Context, order *models.ImportOrder, initial *models.TrackingEvent) error
	GetOrder(ctx context.Context, id string) (*models.ImportOrder, error)
	ListOrdersByOwner(ctx context.Context, ownerID string) ([]models.ImportOrder, error)
	ListOrdersByShippingStatus(ctx context.Context, status models.ShippingStatus) ([]models.ImportOrder, error)
	AdvanceShipment(ctx context.Context, orderID string, apply ShipmentTransition) (*models.ImportOrder, *models.TrackingEvent, error)
	GetOrderSnapshot(ctx context.Context, orderID string) (*models.OrderSnapshot, error)

	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error)
	SetPaymentReference(ctx context.Context, id, reference string) error
	CompletePayment(ctx context.Context, id string, metadata json.RawMessage) (bool, *models.Payment, error)
	FailPayment(ctx context.Context, id string, metadata json.RawMessage) (bool, *models.Payment, error)

	CreatePromotion(ctx context.Context, promo *models.Promotion) error
	GetPromotion(ctx context.Context, id string) (*models.Promotion, error)

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Store is the Postgres implementation of Repository
type Store struct {
	db *sqlx.DB
}

var _ Repository = (*Store)(nil)

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, initSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on error
func (s *Store) withTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return apperror.Storage("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperror.Storage("commit transaction", err)
	}
	return nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	if err != nil {
		return false, apperror.Storage("check processed event", err)
	}
	return exists, nil
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	if err != nil {
		return apperror.Storage("mark event processed", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// isInvalidID reports a malformed UUID literal. Such an id cannot match a
// row, so callers treat it like a missing one.
func isInvalidID(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "22P02"
}

func notFoundOr(err error, entity, id, op string) error {
	if errors.Is(err, sql.ErrNoRows) || isInvalidID(err) {
		return apperror.NotFound(entity, id)
	}
	return apperror.Storage(op, err)
}
