package handlers

import (
	"net/http"

	"akiba/internal/chain"
	"akiba/internal/config"
	"akiba/internal/db"
	"akiba/internal/middleware"
	"akiba/internal/websocket"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

type Handler struct {
	txRunner db.TxRunner
	cfg      config.Config
	users    UserStore
	audit    AuditStore
	savings  SavingsService
	payments PaymentProcessor
	ledger   LedgerReader
	hub      *websocket.Hub
	// verifySig checks that a signature over a challenge recovers the
	// claimed wallet address.
	verifySig func(address, message, signature string) error
	log       zerolog.Logger
}

func New(txRunner db.TxRunner, cfg config.Config, users UserStore, audit AuditStore, savings SavingsService, payments PaymentProcessor, ledger LedgerReader, hub *websocket.Hub, log zerolog.Logger) *Handler {
	return &Handler{
		txRunner:  txRunner,
		cfg:       cfg,
		users:     users,
		audit:     audit,
		savings:   savings,
		payments:  payments,
		ledger:    ledger,
		hub:       hub,
		verifySig: chain.VerifyAddressSignature,
		log:       log,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestLogger(h.log))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.cfg.AllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.With(middleware.Auth(h.cfg.JWTSecret)).Get("/me", h.Me)
		r.With(middleware.Auth(h.cfg.JWTSecret)).Post("/deactivate", h.Deactivate)
	})
	router.Route("/wallet", func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))
		r.Post("/challenge", h.WalletChallenge)
		r.Post("/bind", h.WalletBind)
		r.Get("/balance", h.WalletBalance)
	})
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/balance", h.GetBalance)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/balance/self-check", h.SelfCheck)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/transactions", h.ListTransactions)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/operations", h.ListOperations)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Post("/deposits", h.RequestDeposit)
	router.With(middleware.Auth(h.cfg.JWTSecret)).Post("/withdrawals", h.RequestWithdrawal)
	router.Route("/goals", func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))
		r.Post("/", h.CreateGoal)
		r.Get("/", h.ListGoals)
		r.Get("/{id}", h.GetGoal)
		r.Post("/{id}/contribute", h.ContributeToGoal)
		r.Post("/{id}/cancel", h.CancelGoal)
	})

	// Provider callbacks authenticate by correlation id, not by bearer token.
	router.Post("/payments/callback", h.PaymentCallback)

	router.With(middleware.Auth(h.cfg.JWTSecret)).Get("/ws/balances", h.WSBalances)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}
