package billing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"architect-studio/sections"
	"architect-studio/sections/common/auth"
	"architect-studio/services"
	"architect-studio/storage"

	"github.com/gin-gonic/gin"
)

const (
	productsCacheKey = "stripe:products"
	productsCacheTTL = 10 * time.Minute
)

// Handler serves subscription state, the Stripe catalogue and checkout
type Handler struct {
	logger *slog.Logger
	deps   *sections.Dependencies
}

func NewHandler(deps *sections.Dependencies) *Handler {
	return &Handler{
		logger: slog.With("handler", "BillingHandler"),
		deps:   deps,
	}
}

type CheckoutRequest struct {
	PriceID string `json:"priceId" binding:"required"`
}

type CheckoutResponse struct {
	SessionID    string `json:"sessionId"`
	ClientSecret string `json:"clientSecret"`
}

// SubscriptionResponse is the usage summary shown on the dashboard
type SubscriptionResponse struct {
	Plan               string    `json:"plan"`
	Status             string    `json:"status"`
	GenerationsUsed    int       `json:"generationsUsed"`
	GenerationsLimit   int       `json:"generationsLimit"`
	Remaining          int       `json:"remaining"`
	CurrentPeriodStart time.Time `json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time `json:"currentPeriodEnd"`
	Cancellable        bool      `json:"cancellable"`
}

func (h *Handler) GetSubscription(c *gin.Context) {
	userID, _ := auth.GetUserIDFromContext(c)

	sub, err := h.deps.Store.GetSubscription(c.Request.Context(), userID, h.deps.Config.FreeGenerationsLimit)
	if err != nil {
		sections.RespondError(c, h.logger, err, "failed to load subscription")
		return
	}

	c.JSON(http.StatusOK, SubscriptionResponse{
		Plan:               sub.Plan,
		Status:             sub.Status,
		GenerationsUsed:    sub.GenerationsUsed,
		GenerationsLimit:   sub.GenerationsLimit,
		Remaining:          sub.Remaining(),
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		Cancellable:        sub.StripeSubscriptionID != "",
	})
}

// ListProducts returns the active Stripe products. The catalogue is cached in
// Redis when it is configured.
func (h *Handler) ListProducts(c *gin.Context) {
	ctx := c.Request.Context()

	if products, ok := h.cachedProducts(ctx); ok {
		c.JSON(http.StatusOK, products)
		return
	}

	products, err := h.deps.Billing.ListProducts(ctx)
	if err != nil {
		sections.RespondError(c, h.logger, err, "failed to list products")
		return
	}
	if products == nil {
		products = []services.Product{}
	}

	if h.deps.Redis != nil {
		if err := h.deps.Redis.SetJSON(ctx, productsCacheKey, products, productsCacheTTL); err != nil {
			h.logger.Warn("Failed to cache products", "error", err)
		}
	}
	c.JSON(http.StatusOK, products)
}

func (h *Handler) cachedProducts(ctx context.Context) ([]services.Product, bool) {
	if h.deps.Redis == nil {
		return nil, false
	}
	var products []services.Product
	if err := h.deps.Redis.GetJSON(ctx, productsCacheKey, &products); err != nil {
		if !errors.Is(err, storage.ErrCacheMiss) {
			h.logger.Warn("Failed to read cached products", "error", err)
		}
		return nil, false
	}
	return products, true
}

// CreateCheckout opens an embedded checkout session for a plan price
func (h *Handler) CreateCheckout(c *gin.Context) {
	userID, _ := auth.GetUserIDFromContext(c)
	ctx := c.Request.Context()

	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "priceId is required"})
		return
	}

	user, err := h.deps.Store.GetUser(ctx, userID)
	if err != nil {
		sections.RespondError(c, h.logger, err, "failed to load user")
		return
	}
	sub, err := h.deps.Store.GetSubscription(ctx, userID, h.deps.Config.FreeGenerationsLimit)
	if err != nil {
		sections.RespondError(c, h.logger, err, "failed to load subscription")
		return
	}

	metadata := map[string]string{"user_id": userID.String()}

	customerID := sub.StripeCustomerID
	if customerID == "" {
		name := strings.TrimSpace(user.FirstName + " " + user.LastName)
		customer, err := h.deps.Billing.GetOrCreateCustomer(ctx, user.Email, name, map[string]string{"user_id": userID.String()})
		if err != nil {
			sections.RespondError(c, h.logger, err, "failed to create customer")
			return
		}
		customerID = customer.ID
	}

	session, err := h.deps.Billing.CreateCheckoutSession(ctx, user.Email, customerID, req.PriceID, metadata)
	if err != nil {
		sections.RespondError(c, h.logger, err, "failed to create checkout session")
		return
	}

	h.logger.Info("Checkout session created", "user_id", userID, "session_id", session.ID, "price_id", req.PriceID)
	c.JSON(http.StatusOK, CheckoutResponse{
		SessionID:    session.ID,
		ClientSecret: session.ClientSecret,
	})
}

// CancelSubscription schedules the paid subscription to end with its period.
// The allowance stays until Stripe reports the end.
func (h *Handler) CancelSubscription(c *gin.Context) {
	userID, _ := auth.GetUserIDFromContext(c)
	ctx := c.Request.Context()

	sub, err := h.deps.Store.GetSubscription(ctx, userID, h.deps.Config.FreeGenerationsLimit)
	if err != nil {
		sections.RespondError(c, h.logger, err, "failed to load subscription")
		return
	}
	if sub.StripeSubscriptionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no paid subscription to cancel"})
		return
	}

	if err := h.deps.Billing.CancelSubscription(ctx, sub.StripeSubscriptionID); err != nil {
		sections.RespondError(c, h.logger, err, "failed to cancel subscription")
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelAtPeriodEnd": true, "currentPeriodEnd": sub.CurrentPeriodEnd})
}

func RegisterRoutes(r gin.IRouter, deps *sections.Dependencies) {
	handler := NewHandler(deps)
	session := auth.SessionMiddleware(deps.Sessions)

	r.GET("/api/subscription", session, handler.GetSubscription)
	r.POST("/api/subscription/cancel", session, handler.CancelSubscription)

	stripeRoutes := r.Group("/api/stripe")
	{
		stripeRoutes.GET("/products", handler.ListProducts)
		stripeRoutes.POST("/checkout", session, handler.CreateCheckout)
		// verified by signature, not by session
		stripeRoutes.POST("/webhook", handler.HandleWebhook)
	}
}
