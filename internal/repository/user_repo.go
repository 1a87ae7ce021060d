package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pdf2audio/internal/model"

	"github.com/jackc/pgx/v5"
)

const userColumns = `id, email, subscription_tier, one_time_credits, paddle_customer_id,
        usage_period_start, created_at, updated_at`

// UserRepository accesses user and entitlement fields.
type UserRepository interface {
	Create(ctx context.Context, db DB, u *model.User) error
	GetByID(ctx context.Context, db DB, userID string) (*model.User, error)
	GetByEmail(ctx context.Context, db DB, email string) (*model.User, error)
	// ConsumeCredit atomically decrements the one-time credit balance; it
	// reports false when the balance was already zero. Never goes negative.
	ConsumeCredit(ctx context.Context, db DB, userID string) (bool, error)
	AddCredits(ctx context.Context, db DB, userID string, credits int) error
	SetSubscriptionTier(ctx context.Context, db DB, userID string, tier model.SubscriptionTier, paddleCustomerID *string) error
	AdvanceUsagePeriod(ctx context.Context, db DB, userID string, start time.Time) error
}

type userRepo struct{}

// NewUserRepo creates a new UserRepository.
func NewUserRepo() UserRepository {
	return &userRepo{}
}

func (r *userRepo) Create(ctx context.Context, db DB, u *model.User) error {
	const q = `
        INSERT INTO users (id, email, subscription_tier, one_time_credits)
        VALUES ($1, $2, $3, $4)
        RETURNING created_at, updated_at
    `
	err := db.QueryRow(ctx, q, u.ID, u.Email, u.SubscriptionTier, u.OneTimeCredits).
		Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert user %s: %w", u.Email, err)
	}
	return nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.SubscriptionTier,
		&u.OneTimeCredits,
		&u.PaddleCustomerID,
		&u.UsagePeriodStart,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return &u, nil
}

func (r *userRepo) GetByID(ctx context.Context, db DB, userID string) (*model.User, error) {
	q := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)
	return scanUser(db.QueryRow(ctx, q, userID))
}

func (r *userRepo) GetByEmail(ctx context.Context, db DB, email string) (*model.User, error) {
	q := fmt.Sprintf(`SELECT %s FROM users WHERE email = $1`, userColumns)
	return scanUser(db.QueryRow(ctx, q, email))
}

func (r *userRepo) ConsumeCredit(ctx context.Context, db DB, userID string) (bool, error) {
	// Single-statement check-and-decrement; concurrent callers against a
	// balance of one see exactly one row affected between them.
	const q = `
        UPDATE users
        SET one_time_credits = one_time_credits - 1,
            updated_at = NOW()
        WHERE id = $1
          AND one_time_credits > 0
    `
	tag, err := db.Exec(ctx, q, userID)
	if err != nil {
		return false, fmt.Errorf("consume credit for user %s: %w", userID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *userRepo) AddCredits(ctx context.Context, db DB, userID string, credits int) error {
	const q = `
        UPDATE users
        SET one_time_credits = one_time_credits + $2,
            updated_at = NOW()
        WHERE id = $1
    `
	tag, err := db.Exec(ctx, q, userID, credits)
	if err != nil {
		return fmt.Errorf("add %d credits for user %s: %w", credits, userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("add credits: user %s not found", userID)
	}
	return nil
}

func (r *userRepo) SetSubscriptionTier(ctx context.Context, db DB, userID string, tier model.SubscriptionTier, paddleCustomerID *string) error {
	const q = `
        UPDATE users
        SET subscription_tier = $2,
            paddle_customer_id = COALESCE($3, paddle_customer_id),
            updated_at = NOW()
        WHERE id = $1
    `
	if _, err := db.Exec(ctx, q, userID, tier, paddleCustomerID); err != nil {
		return fmt.Errorf("set tier %s for user %s: %w", tier, userID, err)
	}
	return nil
}

func (r *userRepo) AdvanceUsagePeriod(ctx context.Context, db DB, userID string, start time.Time) error {
	const q = `
        UPDATE users
        SET usage_period_start = $2,
            updated_at = NOW()
        WHERE id = $1
    `
	if _, err := db.Exec(ctx, q, userID, start); err != nil {
		return fmt.Errorf("advance usage period for user %s: %w", userID, err)
	}
	return nil
}
