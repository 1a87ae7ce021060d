package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"pdf2audio/internal/apperr"
	"pdf2audio/internal/model"
	"pdf2audio/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// paddleEventType is the closed set of billing events the reconciler handles.
type paddleEventType string

const (
	eventSubscriptionCreated          paddleEventType = "subscription_created"
	eventSubscriptionPaymentSucceeded paddleEventType = "subscription_payment_succeeded"
	eventSubscriptionCancelled        paddleEventType = "subscription_cancelled"
	eventPaymentSucceeded             paddleEventType = "payment_succeeded"
)

// paddleEvent carries the webhook fields the reconciler consumes.
type paddleEvent struct {
	AlertName       string `json:"alert_name"`
	Email           string `json:"email"`
	SubscriptionID  string `json:"subscription_id"`
	ProductID       string `json:"product_id"`
	CustomerID      string `json:"customer_id"`
	NextPaymentDate string `json:"next_payment_date"`
	CheckoutID      string `json:"checkout_id"`
	SaleGross       string `json:"sale_gross"`
}

// PaddleService applies Paddle webhook events to the entitlement ledger.
// Every mutating branch runs its idempotency check and its writes in one
// transaction, so redelivered events cannot double-apply.
type PaddleService struct {
	db          repository.TxBeginner
	secret      []byte
	userRepo    repository.UserRepository
	subRepo     repository.SubscriptionRepository
	productRepo repository.ProductRepository
	entitlement EntitlementService
	handlers    map[paddleEventType]func(ctx context.Context, db repository.DB, ev *paddleEvent) error
	logger      zerolog.Logger
}

// NewPaddleService creates a new PaddleService with a scoped logger.
func NewPaddleService(
	db repository.TxBeginner,
	webhookSecret string,
	userRepo repository.UserRepository,
	subRepo repository.SubscriptionRepository,
	productRepo repository.ProductRepository,
	entitlement EntitlementService,
	logger zerolog.Logger,
) *PaddleService {
	s := &PaddleService{
		db:          db,
		secret:      []byte(webhookSecret),
		userRepo:    userRepo,
		subRepo:     subRepo,
		productRepo: productRepo,
		entitlement: entitlement,
		logger:      logger.With().Str("service", "PaddleService").Logger(),
	}
	s.handlers = map[paddleEventType]func(context.Context, repository.DB, *paddleEvent) error{
		eventSubscriptionCreated:          s.handleSubscriptionCreated,
		eventSubscriptionPaymentSucceeded: s.handleSubscriptionPayment,
		eventSubscriptionCancelled:        s.handleSubscriptionCancelled,
		eventPaymentSucceeded:             s.handlePaymentSucceeded,
	}
	return s
}

// VerifySignature checks the SHA-1 HMAC of the raw body against the
// configured secret. Comparison is constant time.
func (s *PaddleService) VerifySignature(rawBody []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha1.New, s.secret)
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// HandleWebhook verifies the signature, parses the event and dispatches it.
// Unknown event types are accepted and logged; they are not an error.
func (s *PaddleService) HandleWebhook(ctx context.Context, rawBody []byte, signature string) error {
	if !s.VerifySignature(rawBody, signature) {
		return apperr.ErrSignatureInvalid
	}

	var ev paddleEvent
	if err := json.Unmarshal(rawBody, &ev); err != nil {
		return fmt.Errorf("%w: malformed webhook payload", apperr.ErrValidation)
	}

	handler, ok := s.handlers[paddleEventType(ev.AlertName)]
	if !ok {
		s.logger.Warn().Str("alert_name", ev.AlertName).Msg("Unhandled Paddle webhook event")
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin webhook transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := handler(ctx, tx, &ev); err != nil {
		s.logger.Error().Err(err).Str("alert_name", ev.AlertName).Msg("Webhook handler failed")
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit webhook transaction: %w", err)
	}
	s.logger.Info().Str("alert_name", ev.AlertName).Msg("Paddle webhook applied")
	return nil
}

// findOrCreateUser resolves a user by billing email, creating a Free-tier
// record when the provider knows about someone we don't yet.
func (s *PaddleService) findOrCreateUser(ctx context.Context, db repository.DB, email string) (*model.User, error) {
	user, err := s.userRepo.GetByEmail(ctx, db, email)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}
	user = &model.User{
		ID:               uuid.NewString(),
		Email:            email,
		SubscriptionTier: model.TierFree,
	}
	if err := s.userRepo.Create(ctx, db, user); err != nil {
		return nil, err
	}
	s.logger.Info().Str("email", email).Msg("Created user from billing webhook")
	return user, nil
}

// parseBillingDate accepts the formats Paddle has been observed to send.
func parseBillingDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

func (s *PaddleService) handleSubscriptionCreated(ctx context.Context, db repository.DB, ev *paddleEvent) error {
	product, err := s.productRepo.GetByPaddleProductID(ctx, db, ev.ProductID)
	if err != nil {
		return err
	}
	if product == nil {
		s.logger.Warn().Str("paddle_product_id", ev.ProductID).Msg("Subscription created for unknown product, skipping")
		return nil
	}

	if product.SubscriptionTier == nil {
		s.logger.Warn().Str("paddle_product_id", ev.ProductID).Msg("Subscription created for product without a tier, skipping")
		return nil
	}
	tier := *product.SubscriptionTier

	user, err := s.findOrCreateUser(ctx, db, ev.Email)
	if err != nil {
		return err
	}

	var customerID *string
	if ev.CustomerID != "" {
		customerID = &ev.CustomerID
	}
	if err := s.entitlement.SetSubscriptionTier(ctx, db, user.ID, tier, customerID); err != nil {
		return err
	}

	return s.subRepo.Upsert(ctx, db, &model.Subscription{
		ID:                   uuid.NewString(),
		UserID:               user.ID,
		ProductID:            product.ID,
		PaddleSubscriptionID: ev.SubscriptionID,
		Status:               model.SubscriptionActive,
		NextBillingDate:      parseBillingDate(ev.NextPaymentDate),
	})
}

func (s *PaddleService) handleSubscriptionPayment(ctx context.Context, db repository.DB, ev *paddleEvent) error {
	sub, err := s.subRepo.GetByPaddleID(ctx, db, ev.SubscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		s.logger.Info().Str("paddle_subscription_id", ev.SubscriptionID).Msg("Payment for unknown subscription, skipping")
		return nil
	}
	next := parseBillingDate(ev.NextPaymentDate)
	if err := s.subRepo.MarkActive(ctx, db, ev.SubscriptionID, next); err != nil {
		return err
	}
	// A successful payment opens a new billing period, so the monthly usage
	// window advances for the owning user. A redelivered event carries the
	// next billing date already on record and must not re-advance the window.
	if next == nil || (sub.NextBillingDate != nil && next.Equal(*sub.NextBillingDate)) {
		s.logger.Info().Str("paddle_subscription_id", ev.SubscriptionID).Msg("Billing period unchanged, keeping usage window")
		return nil
	}
	return s.entitlement.ResetMonthlyUsage(ctx, db, sub.UserID, time.Now().UTC())
}

func (s *PaddleService) handleSubscriptionCancelled(ctx context.Context, db repository.DB, ev *paddleEvent) error {
	sub, err := s.subRepo.GetByPaddleID(ctx, db, ev.SubscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		s.logger.Info().Str("paddle_subscription_id", ev.SubscriptionID).Msg("Cancellation for unknown subscription, skipping")
		return nil
	}
	if err := s.subRepo.MarkCancelled(ctx, db, ev.SubscriptionID, time.Now().UTC()); err != nil {
		return err
	}
	return s.entitlement.SetSubscriptionTier(ctx, db, sub.UserID, model.TierFree, nil)
}

func (s *PaddleService) handlePaymentSucceeded(ctx context.Context, db repository.DB, ev *paddleEvent) error {
	product, err := s.productRepo.GetByPaddleProductID(ctx, db, ev.ProductID)
	if err != nil {
		return err
	}
	if product == nil {
		s.logger.Warn().Str("paddle_product_id", ev.ProductID).Msg("Payment for unknown product, skipping")
		return nil
	}

	user, err := s.findOrCreateUser(ctx, db, ev.Email)
	if err != nil {
		return err
	}

	amount, err := strconv.ParseFloat(ev.SaleGross, 64)
	if err != nil {
		amount = 0
	}
	return s.entitlement.ApplyTransaction(ctx, db, ev.CheckoutID, user.ID, &product.ID, amount, product.CreditsIncluded)
}
