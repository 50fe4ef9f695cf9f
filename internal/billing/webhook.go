package billing

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/dukerupert/dosewatch/internal/model"
	"github.com/dukerupert/dosewatch/internal/store"
)

// WebhookHandler maps Stripe subscription lifecycle events onto the user's
// plan column. Event handling errors are logged, never surfaced: Stripe
// retries on non-2xx and a bad event should not wedge the whole queue.
type WebhookHandler struct {
	client    *Client
	userStore *store.UserStore
	logger    *slog.Logger
}

func NewWebhookHandler(client *Client, us *store.UserStore, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		client:    client,
		userStore: us,
		logger:    logger,
	}
}

func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	event, err := h.client.ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		h.handleCheckoutCompleted(event)
	case "invoice.paid":
		h.handleInvoicePaid(event)
	case "customer.subscription.deleted":
		h.handleSubscriptionDeleted(event)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) handleCheckoutCompleted(event stripe.Event) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		h.logger.Error("webhook: unmarshal checkout session", "error", err)
		return
	}
	if sess.Customer == nil {
		h.logger.Error("webhook: checkout session missing customer")
		return
	}

	user, err := h.userStore.GetByStripeCustomerID(sess.Customer.ID)
	if err != nil {
		h.logger.Error("webhook: lookup user by customer", "error", err)
		return
	}
	if user == nil {
		h.logger.Error("webhook: no user for stripe customer", "customer_id", sess.Customer.ID)
		return
	}

	if err := h.userStore.UpdatePlan(user.ID, model.PlanPremium); err != nil {
		h.logger.Error("webhook: upgrade plan", "user_id", user.ID, "error", err)
		return
	}
	h.logger.Info("webhook: checkout completed", "user_id", user.ID)
}

func (h *WebhookHandler) handleInvoicePaid(event stripe.Event) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		h.logger.Error("webhook: unmarshal invoice", "error", err)
		return
	}
	if invoice.Customer == nil {
		return
	}

	user, err := h.userStore.GetByStripeCustomerID(invoice.Customer.ID)
	if err != nil || user == nil {
		h.logger.Error("webhook: lookup user for invoice.paid", "error", err)
		return
	}

	// A renewal keeps the premium plan current.
	if user.Plan != model.PlanPremium {
		if err := h.userStore.UpdatePlan(user.ID, model.PlanPremium); err != nil {
			h.logger.Error("webhook: renew plan", "user_id", user.ID, "error", err)
		}
	}
}

func (h *WebhookHandler) handleSubscriptionDeleted(event stripe.Event) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Error("webhook: unmarshal subscription", "error", err)
		return
	}
	if sub.Customer == nil {
		return
	}

	user, err := h.userStore.GetByStripeCustomerID(sub.Customer.ID)
	if err != nil || user == nil {
		return
	}

	if err := h.userStore.UpdatePlan(user.ID, model.PlanFree); err != nil {
		h.logger.Error("webhook: downgrade plan", "user_id", user.ID, "error", err)
		return
	}
	h.logger.Info("webhook: subscription ended", "user_id", user.ID)
}
