package store

import (
	"context"
	"time"

	"import-sourcing/internal/apperror"
	"import-sourcing/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const requestColumns = `id, owner_id, title, description, quantity, destination_country,
	preferred_shipping, status, ai_processed, claimed_at, created_at, updated_at`

const quoteColumns = `id, request_id, supplier_name, supplier_country, product_cost, shipping_cost,
	service_fee, total_cost, currency, delivery_days, shipping_mode, min_order_quantity, rating, created_at`

// CreateImportRequest persists a new request
func (s *Store) CreateImportRequest(ctx context.Context, req *models.ImportRequest) error {
	query := `
		INSERT INTO import_requests (id, owner_id, title, description, quantity, destination_country,
			preferred_shipping, status, ai_processed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		req.ID, req.OwnerID, req.Title, req.Description, req.Quantity, req.DestinationCountry,
		req.PreferredShipping, req.Status, req.AIProcessed,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return apperror.Storage("create import request", err)
	}
	return nil
}

// GetImportRequest retrieves a request by ID
func (s *Store) GetImportRequest(ctx context.Context, id string) (*models.ImportRequest, error) {
	var req models.ImportRequest
	err := s.db.GetContext(ctx, &req,
		"SELECT "+requestColumns+" FROM import_requests WHERE id = $1", id)
	if err != nil {
		return nil, notFoundOr(err, "import request", id, "get import request")
	}
	return &req, nil
}

// ListImportRequestsByOwner retrieves a buyer's requests, newest first
func (s *Store) ListImportRequestsByOwner(ctx context.Context, ownerID string) ([]models.ImportRequest, error) {
	reqs := []models.ImportRequest{}
	err := s.db.SelectContext(ctx, &reqs,
		"SELECT "+requestColumns+" FROM import_requests WHERE owner_id = $1 ORDER BY created_at DESC", ownerID)
	if err != nil {
		return nil, apperror.Storage("list import requests", err)
	}
	return reqs, nil
}

// ListStaleImportRequests returns unprocessed requests untouched since before
func (s *Store) ListStaleImportRequests(ctx context.Context, before time.Time, limit int) ([]models.ImportRequest, error) {
	reqs := []models.ImportRequest{}
	err := s.db.SelectContext(ctx, &reqs, `
		SELECT `+requestColumns+` FROM import_requests
		WHERE ai_processed = FALSE
		  AND status IN ('pending', 'finding_supplier')
		  AND updated_at < $1
		ORDER BY created_at
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, apperror.Storage("list stale import requests", err)
	}
	return reqs, nil
}

// ClaimRequestForSourcing atomically moves a request to finding_supplier.
// A finding_supplier request whose claim is older than staleBefore may be
// claimed again.
func (s *Store) ClaimRequestForSourcing(ctx context.Context, id string, staleBefore time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE import_requests
		SET status = 'finding_supplier', claimed_at = NOW(), updated_at = NOW()
		WHERE id = $1
		  AND ai_processed = FALSE
		  AND (status = 'pending'
		       OR (status = 'finding_supplier' AND (claimed_at IS NULL OR claimed_at < $2)))`,
		id, staleBefore)
	if isInvalidID(err) {
		return false, nil
	}
	if err != nil {
		return false, apperror.Storage("claim import request", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperror.Storage("claim import request", err)
	}
	return n == 1, nil
}

// UpdateImportRequestStatus moves a request to `to` if its status is in from
func (s *Store) UpdateImportRequestStatus(ctx context.Context, id string, from []models.RequestStatus, to models.RequestStatus) (bool, error) {
	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE import_requests SET status = $1, updated_at = NOW() WHERE id = $2 AND status = ANY($3)",
		to, id, pq.Array(allowed))
	if isInvalidID(err) {
		return false, nil
	}
	if err != nil {
		return false, apperror.Storage("update import request status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperror.Storage("update import request status", err)
	}
	return n == 1, nil
}

// SaveQuotes bulk-inserts a request's quotes and marks it quoted in one
// transaction, so a quoted request always has its full quote set.
func (s *Store) SaveQuotes(ctx context.Context, requestID string, quotes []models.SupplierQuote) error {
	if len(quotes) == 0 {
		return apperror.Validation(map[string]string{"quotes": "at least one quote is required"})
	}

	return s.withTx(ctx, nil, func(tx *sqlx.Tx) error {
		var current struct {
			Status      models.RequestStatus `db:"status"`
			AIProcessed bool                 `db:"ai_processed"`
		}
		err := tx.GetContext(ctx, &current,
			"SELECT status, ai_processed FROM import_requests WHERE id = $1 FOR UPDATE", requestID)
		if err != nil {
			return notFoundOr(err, "import request", requestID, "lock import request")
		}
		if current.AIProcessed {
			return apperror.Conflict("import request %s already has quotes", requestID)
		}
		if current.Status != models.RequestStatusFindingSupplier {
			return apperror.Conflict("import request %s is %s, not finding_supplier", requestID, current.Status)
		}

		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO supplier_quotes (id, request_id, supplier_name, supplier_country, product_cost,
				shipping_cost, service_fee, total_cost, currency, delivery_days, shipping_mode,
				min_order_quantity, rating)
			VALUES (:id, :request_id, :supplier_name, :supplier_country, :product_cost,
				:shipping_cost, :service_fee, :total_cost, :currency, :delivery_days, :shipping_mode,
				:min_order_quantity, :rating)`, quotes)
		if err != nil {
			return apperror.Storage("insert quotes", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE import_requests
			SET status = 'quoted', ai_processed = TRUE, updated_at = NOW()
			WHERE id = $1`, requestID)
		if err != nil {
			return apperror.Storage("mark import request quoted", err)
		}
		return nil
	})
}

// GetQuote retrieves a quote by ID
func (s *Store) GetQuote(ctx context.Context, id string) (*models.SupplierQuote, error) {
	var q models.SupplierQuote
	err := s.db.GetContext(ctx, &q,
		"SELECT "+quoteColumns+" FROM supplier_quotes WHERE id = $1", id)
	if err != nil {
		return nil, notFoundOr(err, "quote", id, "get quote")
	}
	return &q, nil
}

// ListQuotesByRequest retrieves a request's quotes, cheapest first
func (s *Store) ListQuotesByRequest(ctx context.Context, requestID string) ([]models.SupplierQuote, error) {
	quotes := []models.SupplierQuote{}
	err := s.db.SelectContext(ctx, &quotes,
		"SELECT "+quoteColumns+" FROM supplier_quotes WHERE request_id = $1 ORDER BY total_cost, supplier_name",
		requestID)
	if isInvalidID(err) {
		return quotes, nil
	}
	if err != nil {
		return nil, apperror.Storage("list quotes", err)
	}
	return quotes, nil
}
