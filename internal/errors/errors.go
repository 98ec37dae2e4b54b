// errors стандартизирует ответы об ошибках HTTP-слоя.
// На вход он принимает доменную ошибку сервисного слоя, а на выход даёт:
//   - корректный HTTP-статус;
//   - краткий стабильный код и безопасное message без утечки деталей.
//
// Источник истинности по маппингу: комментарии к sentinel-ошибкам
// пакета service.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mshuraleva/go-wallet-backend/internal/service"
)

// APIError — единый формат для фронта.
// Code — короткий стабильный код для машиночитаемой обработки на FE.
// Message — безопасное человекочитаемое описание.
// RequestID — прокидывается из X-Request-Id, если есть (для трассировки).
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse — корневой объект в ответе.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// ErrInvalidArgument — локальная ошибка разбора запроса в хендлере.
var ErrInvalidArgument = errors.New("invalid argument")

// mapping — таблица доменная ошибка -> (HTTP-статус, код, сообщение).
// Замечания по безопасности:
//   - invalid_credentials един для «нет аккаунта» и «неверный пароль»,
//     чтобы не допускать перечисление зарегистрированных email;
//   - session_invalidated отделён от invalid_session: первый сигналит
//     клиенту о сработавшем breach response и необходимости полного
//     повторного входа на всех устройствах.
var mapping = []struct {
	err     error
	status  int
	code    string
	message string
}{
	{ErrInvalidArgument, http.StatusBadRequest, "invalid_argument", "invalid argument"},
	{service.ErrInvalidEmail, http.StatusBadRequest, "invalid_email", "invalid email format"},
	{service.ErrEmptyPassword, http.StatusBadRequest, "empty_password", "password is empty"},
	{service.ErrWeakPassword, http.StatusBadRequest, "weak_password", "password is too weak"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", "invalid credentials"},
	{service.ErrAccountNotFound, http.StatusUnauthorized, "invalid_credentials", "invalid credentials"},
	{service.ErrProviderTokenRequired, http.StatusUnauthorized, "provider_token_required", "provider token required"},
	{service.ErrInvalidProviderToken, http.StatusUnauthorized, "invalid_provider_token", "invalid provider token"},
	{service.ErrInvalidToken, http.StatusUnauthorized, "invalid_token", "invalid token"},
	{service.ErrTokenExpired, http.StatusUnauthorized, "token_expired", "token expired"},
	{service.ErrInvalidSession, http.StatusUnauthorized, "invalid_session", "invalid session"},
	{service.ErrSessionInvalidated, http.StatusUnauthorized, "session_invalidated", "session invalidated, sign in again"},
	{service.ErrEmailTaken, http.StatusConflict, "email_taken", "email already taken"},
	{service.ErrEmailMismatch, http.StatusConflict, "email_mismatch", "email mismatch"},
	{service.ErrIdentityMismatch, http.StatusConflict, "identity_mismatch", "identity mismatch"},
	{service.ErrAlreadyMigrated, http.StatusConflict, "already_migrated", "already migrated"},
}

// ToHTTP конвертирует доменную ошибку в HTTP-статус и унифицированный
// ответ для фронта.
//
// Поведение:
//   - err == nil — это программная ошибка вызова: возвращаем 500/internal,
//     чтобы не послать "200 OK" с телом ошибки и не маскировать баг;
//   - неизвестная ошибка (хранилище, подпись) — 500/internal без утечки
//     деталей; подробности остаются в логах.
func ToHTTP(err error) (int, ErrorResponse) {
	if err != nil {
		for _, m := range mapping {
			if errors.Is(err, m.err) {
				return m.status, ErrorResponse{Error: APIError{
					Code:    m.code,
					Message: m.message,
				}}
			}
		}
	}

	return http.StatusInternalServerError, ErrorResponse{Error: APIError{
		Code:    "internal",
		Message: "internal error",
	}}
}

// WriteError — хелпер для HTTP-хендлеров.
// Пишет корректный статус/тело, добавляет request_id из заголовка, если он есть.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ToHTTP(err)

	// Прокидываем request_id для фронта, чтобы он мог репортить баги с привязкой.
	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		resp.Error.RequestID = rid
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
