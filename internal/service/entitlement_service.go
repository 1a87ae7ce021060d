package service

import (
	"context"
	"fmt"
	"time"

	"pdf2audio/internal/apperr"
	"pdf2audio/internal/config"
	"pdf2audio/internal/model"
	"pdf2audio/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EntitlementService gates job creation on subscription tier, monthly usage
// and one-time credits, and owns all credit mutations.
type EntitlementService interface {
	// CanCreateJob reports whether the user may start a new job right now.
	CanCreateJob(ctx context.Context, userID string) (bool, error)
	// ReserveJobSlot admits a job creation, consuming a one-time credit when
	// the monthly allowance is exhausted. Returns ErrEntitlementDenied when
	// neither allowance nor credits admit the job.
	ReserveJobSlot(ctx context.Context, userID string) error
	// ConsumeCredit atomically debits one credit; false means the balance was
	// already zero and nothing changed.
	ConsumeCredit(ctx context.Context, userID string) (bool, error)
	// ApplyTransaction grants credits for a one-time payment exactly once per
	// Paddle transaction id. It runs against the handle the caller provides so
	// the idempotency check and the grant share one unit of work.
	ApplyTransaction(ctx context.Context, db repository.DB, paddleTransactionID, userID string, productID *string, amount float64, credits int) error
	SetSubscriptionTier(ctx context.Context, db repository.DB, userID string, tier model.SubscriptionTier, paddleCustomerID *string) error
	// ResetMonthlyUsage advances the user's usage window boundary; usage is
	// derived from job timestamps, so nothing is zeroed.
	ResetMonthlyUsage(ctx context.Context, db repository.DB, userID string, periodStart time.Time) error
}

type entitlementService struct {
	db       repository.TxBeginner
	cfg      *config.Config
	userRepo repository.UserRepository
	jobRepo  repository.JobRepository
	txnRepo  repository.TransactionRepository
	logger   zerolog.Logger
}

// NewEntitlementService creates a new EntitlementService with a scoped logger.
func NewEntitlementService(
	db repository.TxBeginner,
	cfg *config.Config,
	userRepo repository.UserRepository,
	jobRepo repository.JobRepository,
	txnRepo repository.TransactionRepository,
	logger zerolog.Logger,
) EntitlementService {
	return &entitlementService{
		db:       db,
		cfg:      cfg,
		userRepo: userRepo,
		jobRepo:  jobRepo,
		txnRepo:  txnRepo,
		logger:   logger.With().Str("service", "EntitlementService").Logger(),
	}
}

// monthlyWindowStart is the later of the current calendar month start and the
// user's billing-period boundary.
func monthlyWindowStart(u *model.User, now time.Time) time.Time {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if u.UsagePeriodStart != nil && u.UsagePeriodStart.After(start) {
		start = *u.UsagePeriodStart
	}
	return start
}

func (s *entitlementService) monthlyLimit(tier model.SubscriptionTier) int {
	if tier == model.TierPro {
		return s.cfg.ProMonthlyJobLimit
	}
	return s.cfg.FreeMonthlyJobLimit
}

func (s *entitlementService) withinMonthlyAllowance(ctx context.Context, u *model.User) (bool, error) {
	start := monthlyWindowStart(u, time.Now().UTC())
	count, err := s.jobRepo.CountCreatedSince(ctx, s.db, u.ID, start)
	if err != nil {
		return false, err
	}
	return count < s.monthlyLimit(u.SubscriptionTier), nil
}

func (s *entitlementService) CanCreateJob(ctx context.Context, userID string) (bool, error) {
	user, err := s.userRepo.GetByID(ctx, s.db, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch user for entitlement check")
		return false, err
	}
	if user == nil {
		return false, nil
	}
	if user.SubscriptionTier == model.TierEnterprise {
		return true, nil
	}
	if user.OneTimeCredits > 0 {
		return true, nil
	}
	return s.withinMonthlyAllowance(ctx, user)
}

func (s *entitlementService) ReserveJobSlot(ctx context.Context, userID string) error {
	user, err := s.userRepo.GetByID(ctx, s.db, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("user %s: %w", userID, apperr.ErrEntitlementDenied)
	}
	if user.SubscriptionTier == model.TierEnterprise {
		return nil
	}

	ok, err := s.withinMonthlyAllowance(ctx, user)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	// Monthly allowance exhausted: fall back to one-time credits. The debit
	// is a single atomic statement, so concurrent requests cannot oversell.
	debited, err := s.ConsumeCredit(ctx, userID)
	if err != nil {
		return err
	}
	if !debited {
		return fmt.Errorf("monthly limit reached and no credits for user %s: %w", userID, apperr.ErrEntitlementDenied)
	}
	return nil
}

func (s *entitlementService) ConsumeCredit(ctx context.Context, userID string) (bool, error) {
	ok, err := s.userRepo.ConsumeCredit(ctx, s.db, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to consume credit")
		return false, err
	}
	return ok, nil
}

func (s *entitlementService) ApplyTransaction(ctx context.Context, db repository.DB, paddleTransactionID, userID string, productID *string, amount float64, credits int) error {
	inserted, err := s.txnRepo.InsertIfAbsent(ctx, db, &model.Transaction{
		ID:                  uuid.NewString(),
		UserID:              userID,
		ProductID:           productID,
		PaddleTransactionID: paddleTransactionID,
		Amount:              amount,
		CreditsAdded:        credits,
	})
	if err != nil {
		return err
	}
	if !inserted {
		s.logger.Info().Str("paddle_transaction_id", paddleTransactionID).Msg("Transaction already applied, skipping")
		return nil
	}
	return s.userRepo.AddCredits(ctx, db, userID, credits)
}

func (s *entitlementService) SetSubscriptionTier(ctx context.Context, db repository.DB, userID string, tier model.SubscriptionTier, paddleCustomerID *string) error {
	return s.userRepo.SetSubscriptionTier(ctx, db, userID, tier, paddleCustomerID)
}

func (s *entitlementService) ResetMonthlyUsage(ctx context.Context, db repository.DB, userID string, periodStart time.Time) error {
	return s.userRepo.AdvanceUsagePeriod(ctx, db, userID, periodStart)
}
