// Package handler は予約APIのHTTPルーティングを提供します
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/uma-arai/sbcntr-office-reservation/internal/middleware"
)

// DefaultRequestTimeout はリクエスト処理のタイムアウトです
const DefaultRequestTimeout = 30 * time.Second

// RouterConfig はルーターの設定です
type RouterConfig struct {
	JWTSecret      string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter は予約APIのルーターを作成します
func NewRouter(cfg RouterConfig, reservations *ReservationHandler) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Logger)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(chimiddleware.Timeout(cfg.RequestTimeout))

	// ヘルスチェック
	router.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))

		r.With(middleware.RequireScope(middleware.ScopeReservationsShow)).
			Get("/reservations", reservations.List)
		r.With(middleware.RequireScope(middleware.ScopeReservationsStore)).
			Post("/reservations", reservations.Create)
		r.With(middleware.RequireScope(middleware.ScopeReservationsShow)).
			Get("/host/reservations", reservations.HostList)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(middleware.ScopeReservationsCancel))
			r.Post("/reservations/{id}/cancel", reservations.Cancel)
			r.Patch("/reservations/{id}/cancel", reservations.Cancel)
		})
	})

	return router
}
