// internal/router/router.go
package router

import (
	"net/http"
	"time"

	"ledger-service/internal/handler"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func SetupRoutes(
	ledgerHandler *handler.LedgerHandler,
	callbackHandler *handler.CallbackHandler,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-User-Role", "X-Gateway-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health and metrics
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api/v1/ledger", func(r chi.Router) {
		// Wallet mutations
		r.Post("/deposits", ledgerHandler.HandleDeposit)
		r.Post("/payments", ledgerHandler.HandlePay)
		r.Post("/refunds", ledgerHandler.HandleRefund)
		r.Post("/withdrawals", ledgerHandler.HandleWithdraw)

		// Vouchers
		r.Post("/vouchers", ledgerHandler.HandleCreateVoucher)
		r.Post("/vouchers/redeem", ledgerHandler.HandleRedeemVoucher)
		r.Delete("/vouchers/{code}", ledgerHandler.HandleDeactivateVoucher)

		// Reads
		r.Get("/wallets/{userID}/balance", ledgerHandler.HandleGetBalance)
		r.Get("/wallets/{userID}/transactions", ledgerHandler.HandleListTransactions)

		// Gateway confirmations (deposit intents)
		r.Post("/callbacks/deposit", callbackHandler.HandleDepositCallback)
	})

	return r
}

// LoggerMiddleware logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("user_agent", r.UserAgent()))
		})
	}
}
