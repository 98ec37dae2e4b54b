// handlers содержит HTTP-эндпоинты auth-сервиса.
// Здесь выполняется только разбор запросов, работа с refresh-cookie и
// маппинг данных/ошибок доменного слоя (service) в HTTP.
// Вся валидация и бизнес-логика находятся в пакете service.
//
// Контракт refresh-секрета: непрозрачная bearer-строка в HTTP-only cookie,
// ограниченной путём /auth; в телах ответов и логах секрет не появляется.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	apierrors "github.com/mshuraleva/go-wallet-backend/internal/errors"
	"github.com/mshuraleva/go-wallet-backend/internal/models"
	"github.com/mshuraleva/go-wallet-backend/internal/service"
)

// RefreshCookieName — имя cookie с refresh-секретом.
const RefreshCookieName = "refresh_token"

// Options — настройки HTTP-слоя.
type Options struct {
	// CookieSecure — ставить ли Secure на refresh-cookie (false только в local).
	CookieSecure bool
	// CookiePath — путь cookie; по умолчанию "/auth".
	CookiePath string
}

// Handlers агрегирует зависимости HTTP-слоя.
type Handlers struct {
	service *service.Service
	opts    Options
}

// New создаёт набор хендлеров поверх сервисного слоя.
func New(svc *service.Service, opts Options) *Handlers {
	if opts.CookiePath == "" {
		opts.CookiePath = "/auth"
	}

	return &Handlers{service: svc, opts: opts}
}

// writeJSON — единый ответ JSON с нужным Content-Type.
// Ошибки выводим через apierrors.WriteError.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict — строгий JSON-декодер: запрещаем неизвестные поля.
func decodeStrict(r *http.Request, value any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(value)
}

// setRefreshCookie выставляет refresh-секрет клиенту.
func (h *Handlers) setRefreshCookie(w http.ResponseWriter, secret string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    secret,
		Path:     h.opts.CookiePath,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// clearRefreshCookie стирает refresh-cookie (logout).
func (h *Handlers) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     h.opts.CookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// refreshSecretFromCookie достаёт refresh-секрет из cookie ("" — нет).
func refreshSecretFromCookie(r *http.Request) string {
	if c, err := r.Cookie(RefreshCookieName); err == nil {
		return c.Value
	}

	return ""
}

// authResponse — ответ успешной аутентификации.
// refresh-секрет в тело не попадает — только в HTTP-only cookie.
type authResponse struct {
	Outcome          string `json:"outcome"`
	AccountID        string `json:"account_id,omitempty"`
	Email            string `json:"email,omitempty"`
	Role             string `json:"role,omitempty"`
	AccessToken      string `json:"access_token,omitempty"`
	AccessExpiresAt  int64  `json:"access_expires_at,omitempty"`
	RefreshExpiresAt int64  `json:"refresh_expires_at,omitempty"`
	SubjectID        string `json:"subject_id,omitempty"`
}

// writeLoginResult пишет результат входа: для authenticated — пара токенов
// и cookie, для needs_migration — subject id + email без токенов.
func (h *Handlers) writeLoginResult(w http.ResponseWriter, r *http.Request, status int, res *models.LoginResult) {
	switch res.Outcome {
	case models.OutcomeNeedsMigration:
		writeJSON(w, http.StatusOK, authResponse{
			Outcome:   string(res.Outcome),
			SubjectID: res.SubjectID,
			Email:     res.Email,
		})

	case models.OutcomeAuthenticated:
		h.setRefreshCookie(w, res.TokenPair.RefreshToken, res.TokenPair.RefreshExpiresAt)
		writeJSON(w, status, authResponse{
			Outcome:          string(res.Outcome),
			AccountID:        res.Account.ID,
			Email:            res.Account.Email,
			Role:             res.Account.Role,
			AccessToken:      res.TokenPair.AccessToken,
			AccessExpiresAt:  res.TokenPair.AccessExpiresAt.Unix(),
			RefreshExpiresAt: res.TokenPair.RefreshExpiresAt.Unix(),
		})

	default:
		apierrors.WriteError(w, r, nil)
	}
}
