package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"architect-studio/common"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/customer"
	"github.com/stripe/stripe-go/v84/product"
	"github.com/stripe/stripe-go/v84/subscription"
	"github.com/stripe/stripe-go/v84/webhook"
)

// StripeService handles Stripe API interactions
type StripeService struct {
	plans         []common.Plan
	webhookSecret string
	returnURL     string
	logger        *slog.Logger
}

// Product is an active Stripe product with its default price
type Product struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	PriceID     string `json:"priceId"`
	UnitAmount  int64  `json:"unitAmount"`
	Currency    string `json:"currency"`
	Interval    string `json:"interval,omitempty"`
	PlanID      string `json:"planId,omitempty"`
	Generations int    `json:"generationsLimit,omitempty"`
}

// NewStripeService creates a new Stripe service
func NewStripeService(plans []common.Plan, secretKey, webhookSecret, frontendURL string) *StripeService {
	stripe.Key = secretKey

	return &StripeService{
		plans:         plans,
		webhookSecret: webhookSecret,
		returnURL:     frontendURL + "/checkout/return?session_id={CHECKOUT_SESSION_ID}",
		logger:        slog.With("service", "StripeService"),
	}
}

func (s *StripeService) Plans() []common.Plan {
	return s.plans
}

// ListProducts returns active products that carry a default price
func (s *StripeService) ListProducts(ctx context.Context) ([]Product, error) {
	params := &stripe.ProductListParams{
		Active: stripe.Bool(true),
	}
	params.Context = ctx
	params.AddExpand("data.default_price")

	var products []Product
	iter := product.List(params)
	for iter.Next() {
		p := iter.Product()
		if p.DefaultPrice == nil {
			continue
		}
		out := Product{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			PriceID:     p.DefaultPrice.ID,
			UnitAmount:  p.DefaultPrice.UnitAmount,
			Currency:    string(p.DefaultPrice.Currency),
		}
		if p.DefaultPrice.Recurring != nil {
			out.Interval = string(p.DefaultPrice.Recurring.Interval)
		}
		if plan := common.GetPlanByPrice(s.plans, p.DefaultPrice.ID); plan != nil {
			out.PlanID = plan.ID
			out.Generations = plan.GenerationsLimit
		}
		products = append(products, out)
	}
	if err := iter.Err(); err != nil {
		s.logger.Error("Failed to list products", "error", err)
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// CreateCheckoutSession opens an embedded subscription checkout for a price
// known to plans.json. The user and plan ride along in metadata so the
// webhook can attribute the payment.
func (s *StripeService) CreateCheckoutSession(ctx context.Context, customerEmail, customerID, priceID string, metadata map[string]string) (*stripe.CheckoutSession, error) {
	plan := common.GetPlanByPrice(s.plans, priceID)
	if plan == nil {
		return nil, fmt.Errorf("%w: unknown price %s", common.ErrValidation, priceID)
	}

	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata["plan_id"] = plan.ID
	metadata["plan_name"] = plan.Name

	sessionParams := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		UIMode:   stripe.String("embedded"),
		Metadata: metadata,
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		ReturnURL: stripe.String(s.returnURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	sessionParams.Context = ctx

	if customerID != "" {
		sessionParams.Customer = stripe.String(customerID)
	} else if customerEmail != "" {
		sessionParams.CustomerEmail = stripe.String(customerEmail)
	}

	sess, err := session.New(sessionParams)
	if err != nil {
		s.logger.Error("Failed to create checkout session", "error", err)
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	s.logger.Info("Created checkout session", "session_id", sess.ID, "plan", plan.ID)
	return sess, nil
}

// GetOrCreateCustomer retrieves an existing customer or creates a new one
func (s *StripeService) GetOrCreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*stripe.Customer, error) {
	searchParams := &stripe.CustomerSearchParams{
		SearchParams: stripe.SearchParams{
			Query:   fmt.Sprintf("email:'%s'", email),
			Context: ctx,
		},
	}
	iter := customer.Search(searchParams)

	if iter.Next() {
		cust := iter.Customer()
		s.logger.Info("Found existing Stripe customer", "customer_id", cust.ID, "email", email)
		return cust, nil
	}

	params := &stripe.CustomerParams{
		Email:    stripe.String(email),
		Name:     stripe.String(name),
		Metadata: metadata,
	}
	params.Context = ctx

	cust, err := customer.New(params)
	if err != nil {
		s.logger.Error("Failed to create Stripe customer", "error", err)
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}

	s.logger.Info("Created new Stripe customer", "customer_id", cust.ID, "email", email)
	return cust, nil
}

// CancelSubscription schedules cancellation at the end of the paid period
func (s *StripeService) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	params.Context = ctx

	if _, err := subscription.Update(subscriptionID, params); err != nil {
		s.logger.Error("Failed to cancel subscription", "error", err, "subscription_id", subscriptionID)
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}

	s.logger.Info("Scheduled subscription cancellation", "subscription_id", subscriptionID)
	return nil
}

// ConstructWebhookEvent constructs and validates a webhook event
func (s *StripeService) ConstructWebhookEvent(payload []byte, signature string) (stripe.Event, error) {
	options := webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, options)
	if err != nil {
		s.logger.Error("Failed to verify webhook signature", "error", err)
		return stripe.Event{}, fmt.Errorf("failed to verify webhook: %w", err)
	}

	s.logger.Debug("Webhook event verified", "type", event.Type, "id", event.ID)
	return event, nil
}

// ParseWebhookData parses webhook data into a target struct
func (s *StripeService) ParseWebhookData(data *stripe.EventData, target interface{}) error {
	if err := json.Unmarshal(data.Raw, target); err != nil {
		s.logger.Error("Failed to parse webhook data", "error", err)
		return fmt.Errorf("failed to parse webhook data: %w", err)
	}
	return nil
}
