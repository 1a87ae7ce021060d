package model

import "time"

// SubscriptionTier determines a user's monthly job allowance.
type SubscriptionTier string

const (
	TierFree       SubscriptionTier = "free"
	TierPro        SubscriptionTier = "pro"
	TierEnterprise SubscriptionTier = "enterprise"
)

func (t SubscriptionTier) Valid() bool {
	return t == TierFree || t == TierPro || t == TierEnterprise
}

// User represents a user and their entitlement fields.
type User struct {
	ID               string           `db:"id" json:"id"`
	Email            string           `db:"email" json:"email"`
	SubscriptionTier SubscriptionTier `db:"subscription_tier" json:"subscription_tier"`
	OneTimeCredits   int              `db:"one_time_credits" json:"one_time_credits"`
	PaddleCustomerID *string          `db:"paddle_customer_id" json:"paddle_customer_id,omitempty"`
	// UsagePeriodStart advances when a subscription payment opens a new
	// billing period; monthly usage is counted from the later of this and
	// the start of the current calendar month.
	UsagePeriodStart *time.Time `db:"usage_period_start" json:"usage_period_start,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}
