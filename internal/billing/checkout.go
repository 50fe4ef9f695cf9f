package billing

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/dosewatch/internal/auth"
	"github.com/dukerupert/dosewatch/internal/store"
)

// CheckoutHandler starts the premium upgrade flow for the logged-in user.
type CheckoutHandler struct {
	client    *Client
	userStore *store.UserStore
	logger    *slog.Logger
}

func NewCheckoutHandler(client *Client, us *store.UserStore, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		client:    client,
		userStore: us,
		logger:    logger,
	}
}

// CreateCheckoutSession creates a Stripe checkout session for the premium
// plan, creating the Stripe customer first if the user has none yet.
func (h *CheckoutHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	user, err := h.userStore.GetByID(auth.UserID(r.Context()))
	if err != nil || user == nil {
		h.logger.Error("checkout: load user", "error", err)
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}

	customerID := user.StripeCustomerID
	if customerID == "" {
		customerID, err = h.client.CreateCustomer(user.Email)
		if err != nil {
			h.logger.Error("checkout: create customer", "error", err)
			http.Error(w, "failed to create customer", http.StatusInternalServerError)
			return
		}
		if err := h.userStore.SetStripeCustomerID(user.ID, customerID); err != nil {
			h.logger.Error("checkout: save customer id", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	url, err := h.client.CreateCheckoutSession(customerID)
	if err != nil {
		h.logger.Error("checkout: create session", "error", err)
		http.Error(w, "failed to create checkout session", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"url": url})
}

// BillingPortal returns a Stripe billing portal URL for subscription
// management. Requires an existing Stripe customer.
func (h *CheckoutHandler) BillingPortal(w http.ResponseWriter, r *http.Request) {
	user, err := h.userStore.GetByID(auth.UserID(r.Context()))
	if err != nil || user == nil {
		h.logger.Error("portal: load user", "error", err)
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	if user.StripeCustomerID == "" {
		http.Error(w, "no billing account", http.StatusBadRequest)
		return
	}

	returnURL := r.Header.Get("Referer")
	if returnURL == "" {
		returnURL = "/"
	}

	url, err := h.client.CreateBillingPortalSession(user.StripeCustomerID, returnURL)
	if err != nil {
		h.logger.Error("portal: create session", "error", err)
		http.Error(w, "failed to create portal session", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"url": url})
}
