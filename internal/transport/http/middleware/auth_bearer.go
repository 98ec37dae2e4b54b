package middleware

import (
	"context"
	"net/http"
	"strings"

	apierrors "github.com/mshuraleva/go-wallet-backend/internal/errors"
	"github.com/mshuraleva/go-wallet-backend/internal/service"
)

type claimsKey struct{}

// AuthBearer проверяет заголовок Authorization: Bearer <jwt> и кладёт
// проверенные клеймы в контекст. Используется защищёнными маршрутами
// (остальная часть wallet-бэкенда живёт за этим же мидлваром).
func AuthBearer(svc *service.Service) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			token, ok := strings.CutPrefix(raw, "Bearer ")
			if !ok || token == "" {
				apierrors.WriteError(w, r, service.ErrInvalidToken)
				return
			}

			claims, err := svc.ValidateAccessToken(r.Context(), token)
			if err != nil {
				apierrors.WriteError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFrom достаёт клеймы access-токена из контекста запроса.
func ClaimsFrom(ctx context.Context) (*service.AccessClaims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*service.AccessClaims)
	return c, ok
}
