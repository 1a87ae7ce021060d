package model

import "time"

// SubscriptionStatus is the provider-facing state of a recurring subscription.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Subscription mirrors a Paddle subscription for one user. The unique
// paddle_subscription_id is the idempotency key for recurring events.
type Subscription struct {
	ID                   string             `db:"id" json:"id"`
	UserID               string             `db:"user_id" json:"user_id"`
	ProductID            string             `db:"product_id" json:"product_id"`
	PaddleSubscriptionID string             `db:"paddle_subscription_id" json:"paddle_subscription_id"`
	Status               SubscriptionStatus `db:"status" json:"status"`
	NextBillingDate      *time.Time         `db:"next_billing_date" json:"next_billing_date,omitempty"`
	CancelledAt          *time.Time         `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt            time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time          `db:"updated_at" json:"updated_at"`
}

// Transaction is an immutable ledger row for a one-time payment. The unique
// paddle_transaction_id is the sole idempotency guard for credit grants.
type Transaction struct {
	ID                  string    `db:"id" json:"id"`
	UserID              string    `db:"user_id" json:"user_id"`
	ProductID           *string   `db:"product_id" json:"product_id,omitempty"`
	PaddleTransactionID string    `db:"paddle_transaction_id" json:"paddle_transaction_id"`
	Amount              float64   `db:"amount" json:"amount"`
	CreditsAdded        int       `db:"credits_added" json:"credits_added"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
}

// Product is a read-mostly catalog entry maintained out of band.
type Product struct {
	ID               string            `db:"id" json:"id"`
	PaddleProductID  string            `db:"paddle_product_id" json:"paddle_product_id"`
	Name             string            `db:"name" json:"name"`
	SubscriptionTier *SubscriptionTier `db:"subscription_tier" json:"subscription_tier,omitempty"`
	CreditsIncluded  int               `db:"credits_included" json:"credits_included"`
	Price            float64           `db:"price" json:"price"`
}
