package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"import-sourcing/internal/apperror"
	"import-sourcing/internal/models"

	"github.com/jmoiron/sqlx"
)

const paymentColumns = `id, payer_id, email, amount, currency, provider, provider_reference, status,
	purpose, related_id, metadata, created_at, updated_at`

const promotionColumns = `id, owner_id, listing_id, is_active, created_at, updated_at`

// CreatePayment creates a new payment record
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	if len(payment.Metadata) == 0 {
		payment.Metadata = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO payments (id, payer_id, email, amount, currency, provider, status, purpose, related_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		payment.ID, payment.PayerID, payment.Email, payment.Amount, payment.Currency, payment.Provider,
		payment.Status, payment.Purpose, payment.RelatedID, []byte(payment.Metadata),
	).Scan(&payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		return apperror.Storage("create payment", err)
	}
	return nil
}

// GetPayment retrieves a payment by internal ID
func (s *Store) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment, "SELECT "+paymentColumns+" FROM payments WHERE id = $1", id)
	if err != nil {
		return nil, notFoundOr(err, "payment", id, "get payment")
	}
	return &payment, nil
}

// GetPaymentByReference retrieves a payment by provider reference
func (s *Store) GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT "+paymentColumns+" FROM payments WHERE provider_reference = $1", reference)
	if err != nil {
		return nil, notFoundOr(err, "payment", reference, "get payment by reference")
	}
	return &payment, nil
}

// SetPaymentReference records the provider's reference on a payment
func (s *Store) SetPaymentReference(ctx context.Context, id, reference string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE payments SET provider_reference = $1, updated_at = NOW() WHERE id = $2",
		reference, id)
	if isInvalidID(err) {
		return apperror.NotFound("payment", id)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("provider reference %s already recorded", reference)
		}
		return apperror.Storage("set payment reference", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NotFound("payment", id)
	}
	return nil
}

// CompletePayment moves a pending payment to completed and applies what the
// payment unlocks, all in one transaction. It returns false without mutating
// anything when the payment is no longer pending.
func (s *Store) CompletePayment(ctx context.Context, id string, metadata json.RawMessage) (bool, *models.Payment, error) {
	return s.finalizePayment(ctx, id, models.PaymentStatusCompleted, metadata, func(tx *sqlx.Tx, p *models.Payment) error {
		switch p.Purpose {
		case models.PaymentPurposeImportOrder:
			var requestID string
			err := tx.GetContext(ctx, &requestID, `
				UPDATE import_orders SET payment_status = 'paid', updated_at = NOW()
				WHERE id = $1 AND payment_status <> 'paid'
				RETURNING request_id`, p.RelatedID)
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			if err != nil {
				return apperror.Storage("mark order paid", err)
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE import_requests SET status = 'paid', updated_at = NOW()
				WHERE id = $1 AND status = 'quoted'`, requestID)
			if err != nil {
				return apperror.Storage("mark import request paid", err)
			}

		case models.PaymentPurposePromotion:
			_, err := tx.ExecContext(ctx,
				"UPDATE promotions SET is_active = TRUE, updated_at = NOW() WHERE id = $1", p.RelatedID)
			if err != nil {
				return apperror.Storage("activate promotion", err)
			}
		}
		return nil
	})
}

// FailPayment moves a pending payment to failed and flags the related order
func (s *Store) FailPayment(ctx context.Context, id string, metadata json.RawMessage) (bool, *models.Payment, error) {
	return s.finalizePayment(ctx, id, models.PaymentStatusFailed, metadata, func(tx *sqlx.Tx, p *models.Payment) error {
		if p.Purpose != models.PaymentPurposeImportOrder {
			return nil
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE import_orders SET payment_status = 'failed', updated_at = NOW()
			WHERE id = $1 AND payment_status = 'pending'`, p.RelatedID)
		if err != nil {
			return apperror.Storage("mark order payment failed", err)
		}
		return nil
	})
}

func (s *Store) finalizePayment(
	ctx context.Context,
	id string,
	to models.PaymentStatus,
	metadata json.RawMessage,
	unlock func(tx *sqlx.Tx, p *models.Payment) error,
) (bool, *models.Payment, error) {
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}

	var (
		payment models.Payment
		changed bool
	)
	err := s.withTx(ctx, nil, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &payment, `
			UPDATE payments SET status = $1, metadata = $2, updated_at = NOW()
			WHERE id = $3 AND status = 'pending'
			RETURNING `+paymentColumns, to, []byte(metadata), id)
		if errors.Is(err, sql.ErrNoRows) {
			err = tx.GetContext(ctx, &payment, "SELECT "+paymentColumns+" FROM payments WHERE id = $1", id)
			if err != nil {
				return notFoundOr(err, "payment", id, "get payment")
			}
			return nil
		}
		if err != nil {
			return apperror.Storage("finalize payment", err)
		}

		changed = true
		return unlock(tx, &payment)
	})
	if err != nil {
		return false, nil, err
	}
	return changed, &payment, nil
}

// CreatePromotion creates a promotion, inactive until paid
func (s *Store) CreatePromotion(ctx context.Context, promo *models.Promotion) error {
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO promotions (id, owner_id, listing_id, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		promo.ID, promo.OwnerID, promo.ListingID, promo.IsActive,
	).Scan(&promo.CreatedAt, &promo.UpdatedAt)
	if err != nil {
		return apperror.Storage("create promotion", err)
	}
	return nil
}

// GetPromotion retrieves a promotion by ID
func (s *Store) GetPromotion(ctx context.Context, id string) (*models.Promotion, error) {
	var promo models.Promotion
	err := s.db.GetContext(ctx, &promo, "SELECT "+promotionColumns+" FROM promotions WHERE id = $1", id)
	if err != nil {
		return nil, notFoundOr(err, "promotion", id, "get promotion")
	}
	return &promo, nil
}
