package service

import (
	"context"
	"fmt"

	"pdf2audio/internal/apperr"
	"pdf2audio/internal/model"
	"pdf2audio/internal/repository"

	"github.com/rs/zerolog"
)

// UserService exposes account reads for the API layer.
type UserService interface {
	// GetOrCreateUser returns the account for userID. When no row exists yet
	// and the auth token carried an email, a Free-tier account is provisioned
	// on first sight, mirroring how billing webhooks create users.
	GetOrCreateUser(ctx context.Context, userID, email string) (*model.User, error)
}

type userService struct {
	db       repository.TxBeginner
	userRepo repository.UserRepository
	logger   zerolog.Logger
}

// NewUserService creates a new UserService with a scoped logger.
func NewUserService(db repository.TxBeginner, userRepo repository.UserRepository, logger zerolog.Logger) UserService {
	return &userService{
		db:       db,
		userRepo: userRepo,
		logger:   logger.With().Str("service", "UserService").Logger(),
	}
}

func (s *userService) GetOrCreateUser(ctx context.Context, userID, email string) (*model.User, error) {
	user, err := s.userRepo.GetByID(ctx, s.db, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch user")
		return nil, err
	}
	if user != nil {
		return user, nil
	}
	if email == "" {
		return nil, fmt.Errorf("user %s: %w", userID, apperr.ErrNotFound)
	}

	user = &model.User{
		ID:               userID,
		Email:            email,
		SubscriptionTier: model.TierFree,
	}
	if err := s.userRepo.Create(ctx, s.db, user); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to provision account")
		return nil, err
	}
	s.logger.Info().Str("user_id", userID).Msg("Provisioned account on first request")
	return user, nil
}
