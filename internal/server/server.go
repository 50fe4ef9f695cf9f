package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/dosewatch/internal/billing"
	"github.com/dukerupert/dosewatch/internal/handler"
	"github.com/dukerupert/dosewatch/internal/middleware"
	"github.com/dukerupert/dosewatch/internal/monitor"
	"github.com/dukerupert/dosewatch/internal/notify"
	"github.com/dukerupert/dosewatch/internal/push"
	"github.com/dukerupert/dosewatch/internal/store"
	ws "github.com/dukerupert/dosewatch/internal/websocket"
)

type Config struct {
	// PushURL overrides the Expo push endpoint, mainly for tests. Empty
	// means the production endpoint.
	PushURL string

	// Stripe enables the billing routes when SecretKey is set.
	Stripe billing.Config
}

type Server struct {
	db            *sql.DB
	hub           *ws.Hub
	authH         *handler.AuthHandler
	medicationH   *handler.MedicationHandler
	scheduleH     *handler.ScheduleHandler
	connectionH   *handler.ConnectionHandler
	notificationH *handler.NotificationHandler
	pushH         *handler.PushHandler
	checkoutH     *billing.CheckoutHandler
	webhookH      *billing.WebhookHandler
	monitor       *monitor.Monitor
	sessionStore  *store.SessionStore
	userStore     *store.UserStore
	rateLimiter   *middleware.RateLimiter
	logger        *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	userStore := store.NewUserStore(db)
	sessionStore := store.NewSessionStore(db)
	medicationStore := store.NewMedicationStore(db)
	scheduleStore := store.NewScheduleStore(db)
	connectionStore := store.NewConnectionStore(db)
	notificationStore := store.NewNotificationStore(db)
	pushStore := store.NewPushStore(db)

	pushURL := cfg.PushURL
	if pushURL == "" {
		pushURL = push.DefaultURL
	}
	pushClient := push.NewClient(pushURL)

	notifier := notify.New(notificationStore, pushStore, pushClient, hub, logger.With("component", "notify"))

	s := &Server{
		db:            db,
		hub:           hub,
		authH:         handler.NewAuthHandler(userStore, sessionStore, logger.With("component", "auth")),
		medicationH:   handler.NewMedicationHandler(medicationStore, logger.With("component", "medication")),
		scheduleH:     handler.NewScheduleHandler(scheduleStore, medicationStore, notifier, logger.With("component", "schedule")),
		connectionH:   handler.NewConnectionHandler(connectionStore, userStore, medicationStore, notifier, logger.With("component", "connection")),
		notificationH: handler.NewNotificationHandler(notificationStore, logger.With("component", "notification")),
		pushH:         handler.NewPushHandler(pushStore, logger.With("component", "push")),
		monitor:       monitor.New(medicationStore, scheduleStore, userStore, connectionStore, notifier, logger.With("component", "monitor")),
		sessionStore:  sessionStore,
		userStore:     userStore,
		rateLimiter:   middleware.NewRateLimiter(),
		logger:        logger,
	}

	if cfg.Stripe.SecretKey != "" {
		stripeClient := billing.NewClient(cfg.Stripe)
		s.checkoutH = billing.NewCheckoutHandler(stripeClient, userStore, logger.With("component", "billing"))
		s.webhookH = billing.NewWebhookHandler(stripeClient, userStore, logger.With("component", "billing"))
	}

	return s
}

// Monitor returns the dose monitor so the host process can start and stop it.
func (s *Server) Monitor() *monitor.Monitor {
	return s.monitor
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.HandleFunc("POST /api/auth/register", s.rateLimitedHandler(s.authH.Register))
	outerMux.HandleFunc("POST /api/auth/login", s.rateLimitedHandler(s.authH.Login))
	if s.webhookH != nil {
		outerMux.HandleFunc("POST /webhooks/stripe", s.webhookH.HandleStripeWebhook)
	}

	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.sessionStore, s.userStore)
	outerMux.Handle("/api/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/logout", s.authH.Logout)
	mux.HandleFunc("GET /api/auth/me", s.authH.Me)

	mux.HandleFunc("POST /api/medications", s.medicationH.Create)
	mux.HandleFunc("GET /api/medications", s.medicationH.List)
	mux.HandleFunc("GET /api/medications/{id}", s.medicationH.Get)
	mux.HandleFunc("PUT /api/medications/{id}", s.medicationH.Update)
	mux.HandleFunc("PUT /api/medications/{id}/stock", s.medicationH.UpdateStock)
	mux.HandleFunc("DELETE /api/medications/{id}", s.medicationH.Delete)

	mux.HandleFunc("GET /api/schedules", s.scheduleH.List)
	mux.HandleFunc("GET /api/medications/{id}/schedules", s.scheduleH.ListByMedication)
	mux.HandleFunc("POST /api/medications/{id}/take", s.scheduleH.TakeDose)
	mux.HandleFunc("POST /api/schedules/{id}/confirm", s.scheduleH.Confirm)

	mux.HandleFunc("POST /api/connections", s.connectionH.Create)
	mux.HandleFunc("GET /api/connections", s.connectionH.List)
	mux.HandleFunc("POST /api/connections/{id}/accept", s.connectionH.Accept)
	mux.HandleFunc("DELETE /api/connections/{id}", s.connectionH.Delete)
	mux.HandleFunc("GET /api/dependents", s.connectionH.Dependents)

	mux.HandleFunc("GET /api/notifications", s.notificationH.List)
	mux.HandleFunc("POST /api/notifications/{id}/read", s.notificationH.MarkRead)
	mux.HandleFunc("GET /api/notifications/unread-count", s.notificationH.UnreadCount)

	mux.HandleFunc("POST /api/push/tokens", s.pushH.Register)
	mux.HandleFunc("GET /api/push/tokens", s.pushH.List)
	mux.HandleFunc("DELETE /api/push/tokens", s.pushH.Unregister)

	mux.HandleFunc("GET /api/ws", ws.HandleWebSocket(s.hub))

	if s.checkoutH != nil {
		mux.HandleFunc("POST /api/billing/checkout", s.checkoutH.CreateCheckoutSession)
		mux.HandleFunc("POST /api/billing/portal", s.checkoutH.BillingPortal)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.ClientIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}
