package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pdf2audio/internal/model"

	"github.com/jackc/pgx/v5"
)

// SubscriptionRepository accesses Paddle subscription rows.
type SubscriptionRepository interface {
	GetByPaddleID(ctx context.Context, db DB, paddleSubscriptionID string) (*model.Subscription, error)
	// Upsert creates or refreshes the subscription keyed by its Paddle id,
	// making subscription_created redeliveries harmless.
	Upsert(ctx context.Context, db DB, sub *model.Subscription) error
	MarkActive(ctx context.Context, db DB, paddleSubscriptionID string, nextBillingDate *time.Time) error
	MarkCancelled(ctx context.Context, db DB, paddleSubscriptionID string, cancelledAt time.Time) error
}

type subscriptionRepo struct{}

// NewSubscriptionRepo creates a new SubscriptionRepository.
func NewSubscriptionRepo() SubscriptionRepository {
	return &subscriptionRepo{}
}

func (r *subscriptionRepo) GetByPaddleID(ctx context.Context, db DB, paddleSubscriptionID string) (*model.Subscription, error) {
	const q = `
        SELECT id, user_id, product_id, paddle_subscription_id, status,
               next_billing_date, cancelled_at, created_at, updated_at
        FROM subscriptions
        WHERE paddle_subscription_id = $1
    `
	var s model.Subscription
	err := db.QueryRow(ctx, q, paddleSubscriptionID).Scan(
		&s.ID,
		&s.UserID,
		&s.ProductID,
		&s.PaddleSubscriptionID,
		&s.Status,
		&s.NextBillingDate,
		&s.CancelledAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch subscription %s: %w", paddleSubscriptionID, err)
	}
	return &s, nil
}

func (r *subscriptionRepo) Upsert(ctx context.Context, db DB, sub *model.Subscription) error {
	const q = `
        INSERT INTO subscriptions (id, user_id, product_id, paddle_subscription_id, status, next_billing_date)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (paddle_subscription_id) DO UPDATE
        SET user_id = EXCLUDED.user_id,
            product_id = EXCLUDED.product_id,
            status = EXCLUDED.status,
            next_billing_date = EXCLUDED.next_billing_date,
            updated_at = NOW()
    `
	_, err := db.Exec(ctx, q,
		sub.ID,
		sub.UserID,
		sub.ProductID,
		sub.PaddleSubscriptionID,
		sub.Status,
		sub.NextBillingDate,
	)
	if err != nil {
		return fmt.Errorf("upsert subscription %s: %w", sub.PaddleSubscriptionID, err)
	}
	return nil
}

func (r *subscriptionRepo) MarkActive(ctx context.Context, db DB, paddleSubscriptionID string, nextBillingDate *time.Time) error {
	const q = `
        UPDATE subscriptions
        SET status = 'active',
            next_billing_date = COALESCE($2, next_billing_date),
            cancelled_at = NULL,
            updated_at = NOW()
        WHERE paddle_subscription_id = $1
    `
	if _, err := db.Exec(ctx, q, paddleSubscriptionID, nextBillingDate); err != nil {
		return fmt.Errorf("mark subscription %s active: %w", paddleSubscriptionID, err)
	}
	return nil
}

func (r *subscriptionRepo) MarkCancelled(ctx context.Context, db DB, paddleSubscriptionID string, cancelledAt time.Time) error {
	const q = `
        UPDATE subscriptions
        SET status = 'cancelled',
            cancelled_at = $2,
            updated_at = NOW()
        WHERE paddle_subscription_id = $1
    `
	if _, err := db.Exec(ctx, q, paddleSubscriptionID, cancelledAt); err != nil {
		return fmt.Errorf("mark subscription %s cancelled: %w", paddleSubscriptionID, err)
	}
	return nil
}
