// Package http собирает HTTP-маршрутизацию auth-сервиса: роуты chi,
// цепочку middleware и привязку хендлеров к сервисному слою.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mshuraleva/go-wallet-backend/internal/service"
	"github.com/mshuraleva/go-wallet-backend/internal/transport/http/handlers"
	"github.com/mshuraleva/go-wallet-backend/internal/transport/http/middleware"
)

// RouterOptions — параметры сборки роутера.
type RouterOptions struct {
	// Logger — базовый логгер для request-scoped логирования.
	Logger *slog.Logger
	// RequestTimeout — дедлайн обработки запроса (0 — без дедлайна).
	RequestTimeout time.Duration
	// CookieSecure прокидывается в хендлеры refresh-cookie.
	CookieSecure bool
}

// NewRouter собирает chi-роутер со всеми эндпоинтами аутентификации.
//
// Порядок middleware значим: Recover снаружи (ловит паники всех слоёв),
// затем RequestID (нужен логированию), затем Logging и Timeout.
func NewRouter(svc *service.Service, opts RouterOptions) http.Handler {
	h := handlers.New(svc, handlers.Options{CookieSecure: opts.CookieSecure})

	r := chi.NewRouter()

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/legacy", h.LegacyLogin)
		r.Post("/refresh", h.Refresh)
		r.Post("/logout", h.Logout)
		r.Post("/validate", h.Validate)

		r.With(middleware.AuthBearer(svc)).Get("/me", h.Me)

		r.Route("/migration", func(r chi.Router) {
			r.Post("/status", h.MigrationStatus)
			r.Post("/password", h.MigrationSetupPassword)
		})
	})

	mws := []middleware.Middleware{
		middleware.Recover(),
		middleware.RequestID(),
		middleware.Logging(opts.Logger),
	}
	if opts.RequestTimeout > 0 {
		mws = append(mws, middleware.Timeout(opts.RequestTimeout))
	}

	return middleware.Chain(r, mws...)
}
