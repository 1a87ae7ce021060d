package dto

import "time"

// UserResponseDTO is returned in API responses
type UserResponseDTO struct {
	UserID           string    `json:"user_id"`
	Email            string    `json:"email"`
	SubscriptionTier string    `json:"subscription_tier"`
	OneTimeCredits   int       `json:"one_time_credits"`
	CanCreateJob     bool      `json:"can_create_job"`
	CreatedAt        time.Time `json:"created_at"`
}
