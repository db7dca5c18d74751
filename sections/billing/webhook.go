package billing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"architect-studio/common"
	"architect-studio/db"
	"architect-studio/sections/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
)

const maxWebhookBytes = 1 << 20

// errIgnoredEvent marks events that are well-formed but cannot be applied.
// Stripe should not retry them.
var errIgnoredEvent = errors.New("ignored webhook event")

// HandleWebhook verifies and applies Stripe events. Only failures worth a
// retry answer with a 5xx.
func (h *Handler) HandleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Error("Webhook body too large", "limit", tooLarge.Limit)
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}
		h.logger.Error("Failed to read webhook body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	event, err := h.deps.Billing.ConstructWebhookEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	ctx := c.Request.Context()
	switch event.Type {
	case "checkout.session.completed":
		err = h.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.updated", "customer.subscription.deleted":
		h.logSubscriptionChange(event)
	case "product.updated", "price.updated":
		h.invalidateProducts(ctx)
	case "invoice.paid", "invoice.payment_failed":
		h.logger.Info("Invoice event", "type", event.Type, "event_id", event.ID)
	default:
		h.logger.Debug("Unhandled webhook event type", "type", event.Type)
	}

	if err != nil && !errors.Is(err, errIgnoredEvent) {
		h.logger.Error("Failed to apply webhook event", "type", event.Type, "event_id", event.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process event"})
		return
	}
	if err != nil {
		h.logger.Warn("Webhook event ignored", "type", event.Type, "event_id", event.ID, "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// handleCheckoutCompleted moves the buyer onto the purchased plan with a
// fresh allowance period
func (h *Handler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := h.deps.Billing.ParseWebhookData(event.Data, &session); err != nil {
		return fmt.Errorf("%w: %v", errIgnoredEvent, err)
	}
	if session.Mode != stripe.CheckoutSessionModeSubscription {
		return fmt.Errorf("%w: checkout mode %q", errIgnoredEvent, session.Mode)
	}

	userID, err := uuid.Parse(session.Metadata["user_id"])
	if err != nil {
		return fmt.Errorf("%w: session %s has no user_id", errIgnoredEvent, session.ID)
	}
	plan := common.GetPlan(h.deps.Billing.Plans(), session.Metadata["plan_id"])
	if plan == nil {
		return fmt.Errorf("%w: session %s has unknown plan %q", errIgnoredEvent, session.ID, session.Metadata["plan_id"])
	}

	now := time.Now().UTC()
	sub := &models.UserSubscription{
		UserID:             userID,
		Plan:               plan.ID,
		Status:             "active",
		GenerationsUsed:    0,
		GenerationsLimit:   plan.GenerationsLimit,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   db.BillingPeriod(now),
	}
	if session.Customer != nil {
		sub.StripeCustomerID = session.Customer.ID
	}
	if session.Subscription != nil {
		sub.StripeSubscriptionID = session.Subscription.ID
	}

	if err := h.deps.Store.ActivatePlan(ctx, sub); err != nil {
		return err
	}
	h.logger.Info("Plan activated", "user_id", userID, "plan", plan.ID, "generations", plan.GenerationsLimit, "session_id", session.ID)
	return nil
}

// logSubscriptionChange records renewals and cancellations. The allowance is
// only changed by checkout completion.
func (h *Handler) logSubscriptionChange(event stripe.Event) {
	var sub stripe.Subscription
	if err := h.deps.Billing.ParseWebhookData(event.Data, &sub); err != nil {
		h.logger.Warn("Failed to parse subscription event", "event_id", event.ID, "error", err)
		return
	}
	h.logger.Info("Subscription changed",
		"type", event.Type,
		"subscription_id", sub.ID,
		"status", sub.Status,
		"cancel_at_period_end", sub.CancelAtPeriodEnd,
		"user_id", sub.Metadata["user_id"])
}

func (h *Handler) invalidateProducts(ctx context.Context) {
	if h.deps.Redis == nil {
		return
	}
	if err := h.deps.Redis.Delete(ctx, productsCacheKey); err != nil {
		h.logger.Warn("Failed to invalidate product cache", "error", err)
	}
}
