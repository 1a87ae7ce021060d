package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"pdf2audio/internal/api/v1/dto"
	"pdf2audio/internal/apperr"
	"pdf2audio/internal/middleware"
	"pdf2audio/internal/service"

	"github.com/rs/zerolog"
)

// UserHandler handles account endpoints
type UserHandler struct {
	userService service.UserService
	entitlement service.EntitlementService
	logger      zerolog.Logger
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(userService service.UserService, entitlement service.EntitlementService, logger zerolog.Logger) *UserHandler {
	return &UserHandler{
		userService: userService,
		entitlement: entitlement,
		logger:      logger.With().Str("handler", "UserHandler").Logger(),
	}
}

// RegisterRoutes mounts account routes under /users
func (h *UserHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("/users/me", authMw(http.HandlerFunc(h.getMe)))
}

func (h *UserHandler) getMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}

	email, _ := middleware.UserEmail(r.Context())
	user, err := h.userService.GetOrCreateUser(r.Context(), userID, email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			http.Error(w, "User not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Msg("Failed to retrieve user")
		http.Error(w, "Failed to retrieve user", http.StatusInternalServerError)
		return
	}

	canCreate, err := h.entitlement.CanCreateJob(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to evaluate entitlement")
		http.Error(w, "Failed to retrieve user", http.StatusInternalServerError)
		return
	}

	resp := dto.UserResponseDTO{
		UserID:           user.ID,
		Email:            user.Email,
		SubscriptionTier: string(user.SubscriptionTier),
		OneTimeCredits:   user.OneTimeCredits,
		CanCreateJob:     canCreate,
		CreatedAt:        user.CreatedAt,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
