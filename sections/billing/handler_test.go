package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"architect-studio/common"
	"architect-studio/db/dbtest"
	"architect-studio/sections"
	"architect-studio/sections/models"
	"architect-studio/sections/sectionstest"
	"architect-studio/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

const webhookSecret = "whsec_test_secret"

var testPlans = []common.Plan{
	{ID: "pro", Name: "Pro", GenerationsLimit: 50, PriceId: "price_pro"},
	{ID: "studio", Name: "Studio", GenerationsLimit: 200, PriceId: "price_studio"},
}

// fakeBilling verifies webhooks with the real Stripe service and stubs out
// every call that would reach the Stripe API
type fakeBilling struct {
	*services.StripeService
	products     []services.Product
	productCalls int
	customers    []string
	checkouts    []map[string]string
	canceled     []string
}

func (f *fakeBilling) ListProducts(ctx context.Context) ([]services.Product, error) {
	f.productCalls++
	return f.products, nil
}

func (f *fakeBilling) GetOrCreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*stripe.Customer, error) {
	f.customers = append(f.customers, email)
	return &stripe.Customer{ID: "cus_new"}, nil
}

func (f *fakeBilling) CreateCheckoutSession(ctx context.Context, customerEmail, customerID, priceID string, metadata map[string]string) (*stripe.CheckoutSession, error) {
	if common.GetPlanByPrice(f.Plans(), priceID) == nil {
		return nil, fmt.Errorf("%w: unknown price %s", common.ErrValidation, priceID)
	}
	f.checkouts = append(f.checkouts, map[string]string{"customer": customerID, "price": priceID, "user_id": metadata["user_id"]})
	return &stripe.CheckoutSession{ID: "cs_test_1", ClientSecret: "cs_test_1_secret"}, nil
}

func (f *fakeBilling) CancelSubscription(ctx context.Context, subscriptionID string) error {
	f.canceled = append(f.canceled, subscriptionID)
	return nil
}

type fixture struct {
	router  *gin.Engine
	deps    *sections.Dependencies
	store   *dbtest.Memory
	billing *fakeBilling
	user    *models.User
	cookie  string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	deps, store := sectionstest.NewDeps(t)
	f := &fixture{
		deps:  deps,
		store: store,
		billing: &fakeBilling{
			StripeService: services.NewStripeService(testPlans, "sk_test_unused", webhookSecret, deps.Config.FrontendURL),
			products:      []services.Product{{ID: "prod_pro", Name: "Pro", PriceID: "price_pro", PlanID: "pro", Generations: 50}},
		},
	}
	deps.Billing = f.billing

	f.router = gin.New()
	RegisterRoutes(f.router, deps)
	f.user, f.cookie = sectionstest.SignIn(t, deps, "buyer@example.com")
	return f
}

func (f *fixture) postWebhook(t *testing.T, eventType string, object any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]any{
		"id":     "evt_" + uuid.NewString()[:8],
		"object": "event",
		"type":   eventType,
		"data":   map[string]json.RawMessage{"object": raw},
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: webhookSecret})
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func checkoutSession(userID uuid.UUID, planID string) map[string]any {
	return map[string]any{
		"id":           "cs_test_1",
		"object":       "checkout.session",
		"mode":         "subscription",
		"customer":     "cus_123",
		"subscription": "sub_123",
		"metadata":     map[string]string{"user_id": userID.String(), "plan_id": planID},
	}
}

func TestGetSubscriptionCreatesFreeRow(t *testing.T) {
	f := setup(t)

	w := sectionstest.Do(t, f.router, http.MethodGet, "/api/subscription", nil, f.cookie)
	require.Equal(t, http.StatusOK, w.Code)

	got := sectionstest.Decode[SubscriptionResponse](t, w)
	assert.Equal(t, common.PLAN_FREE, got.Plan)
	assert.Equal(t, 3, got.GenerationsLimit)
	assert.Equal(t, 3, got.Remaining)
	assert.False(t, got.Cancellable)

	assert.Equal(t, http.StatusUnauthorized, sectionstest.Do(t, f.router, http.MethodGet, "/api/subscription", nil, "").Code)
}

func TestListProducts(t *testing.T) {
	f := setup(t)

	w := sectionstest.Do(t, f.router, http.MethodGet, "/api/stripe/products", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	products := sectionstest.Decode[[]services.Product](t, w)
	require.Len(t, products, 1)
	assert.Equal(t, 50, products[0].Generations)
}

func TestCheckout(t *testing.T) {
	f := setup(t)

	w := sectionstest.Do(t, f.router, http.MethodPost, "/api/stripe/checkout", CheckoutRequest{PriceID: "price_pro"}, f.cookie)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := sectionstest.Decode[CheckoutResponse](t, w)
	assert.Equal(t, "cs_test_1_secret", got.ClientSecret)

	assert.Equal(t, []string{"buyer@example.com"}, f.billing.customers)
	require.Len(t, f.billing.checkouts, 1)
	assert.Equal(t, "cus_new", f.billing.checkouts[0]["customer"])
	assert.Equal(t, f.user.ID.String(), f.billing.checkouts[0]["user_id"])
}

func TestCheckoutReusesCustomer(t *testing.T) {
	f := setup(t)
	f.store.SetSubscription(models.UserSubscription{UserID: f.user.ID, Plan: "pro", GenerationsLimit: 50, StripeCustomerID: "cus_existing", CurrentPeriodEnd: time.Now().Add(time.Hour)})

	w := sectionstest.Do(t, f.router, http.MethodPost, "/api/stripe/checkout", CheckoutRequest{PriceID: "price_studio"}, f.cookie)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Empty(t, f.billing.customers)
	assert.Equal(t, "cus_existing", f.billing.checkouts[0]["customer"])
}

func TestCheckoutRejects(t *testing.T) {
	f := setup(t)

	assert.Equal(t, http.StatusBadRequest, sectionstest.Do(t, f.router, http.MethodPost, "/api/stripe/checkout", CheckoutRequest{PriceID: "price_unknown"}, f.cookie).Code)
	assert.Equal(t, http.StatusBadRequest, sectionstest.Do(t, f.router, http.MethodPost, "/api/stripe/checkout", map[string]string{}, f.cookie).Code)
	assert.Equal(t, http.StatusUnauthorized, sectionstest.Do(t, f.router, http.MethodPost, "/api/stripe/checkout", CheckoutRequest{PriceID: "price_pro"}, "").Code)
}

func TestWebhookActivatesPlan(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.store.ConsumeGeneration(context.Background(), f.user.ID, 3))

	w := f.postWebhook(t, "checkout.session.completed", checkoutSession(f.user.ID, "pro"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	sub, err := f.store.GetSubscription(context.Background(), f.user.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, "pro", sub.Plan)
	assert.Equal(t, 50, sub.GenerationsLimit)
	assert.Equal(t, 0, sub.GenerationsUsed)
	assert.Equal(t, "cus_123", sub.StripeCustomerID)
	assert.Equal(t, "sub_123", sub.StripeSubscriptionID)
	assert.True(t, sub.CurrentPeriodEnd.After(time.Now().AddDate(0, 0, 27)))
}

func TestWebhookIgnoresUnusableEvents(t *testing.T) {
	f := setup(t)

	w := f.postWebhook(t, "checkout.session.completed", checkoutSession(f.user.ID, "enterprise"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.postWebhook(t, "customer.subscription.deleted", map[string]any{"id": "sub_123", "object": "subscription", "status": "canceled"})
	assert.Equal(t, http.StatusOK, w.Code)

	sub, err := f.store.GetSubscription(context.Background(), f.user.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, common.PLAN_FREE, sub.Plan)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := setup(t)

	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader([]byte(`{"type":"checkout.session.completed"}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookLargeEvents(t *testing.T) {
	f := setup(t)

	// well past 64KiB, as invoices with many line items get
	session := checkoutSession(f.user.ID, "pro")
	session["description"] = strings.Repeat("x", 200<<10)
	w := f.postWebhook(t, "checkout.session.completed", session)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	sub, err := f.store.GetSubscription(context.Background(), f.user.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, "pro", sub.Plan)

	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader(make([]byte, maxWebhookBytes+1)))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

type failingStore struct {
	sections.Store
}

func (failingStore) ActivatePlan(ctx context.Context, sub *models.UserSubscription) error {
	return errors.New("connection reset")
}

func TestWebhookStoreFailureAsksForRetry(t *testing.T) {
	f := setup(t)
	f.deps.Store = failingStore{Store: f.store}

	w := f.postWebhook(t, "checkout.session.completed", checkoutSession(f.user.ID, "pro"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCancelSubscription(t *testing.T) {
	f := setup(t)

	w := sectionstest.Do(t, f.router, http.MethodPost, "/api/subscription/cancel", nil, f.cookie)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.store.SetSubscription(models.UserSubscription{UserID: f.user.ID, Plan: "pro", GenerationsLimit: 50, StripeSubscriptionID: "sub_123", CurrentPeriodEnd: time.Now().Add(time.Hour)})
	w = sectionstest.Do(t, f.router, http.MethodPost, "/api/subscription/cancel", nil, f.cookie)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"sub_123"}, f.billing.canceled)
}
