package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	apierrors "github.com/mshuraleva/go-wallet-backend/internal/errors"
	"github.com/mshuraleva/go-wallet-backend/internal/models"
	"github.com/mshuraleva/go-wallet-backend/internal/pkg/log"
	"github.com/mshuraleva/go-wallet-backend/internal/pkg/redact"
	"github.com/mshuraleva/go-wallet-backend/internal/service"
	"github.com/mshuraleva/go-wallet-backend/internal/transport/http/middleware"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password,omitempty"`
	ProviderToken string `json:"provider_token,omitempty"`
}

type legacyLoginRequest struct {
	ProviderToken string `json:"provider_token"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Register обрабатывает POST /auth/register.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.Register"

	var req registerRequest
	if err := decodeStrict(r, &req); err != nil {
		apierrors.WriteError(w, r, fmt.Errorf("%w: %s", apierrors.ErrInvalidArgument, "malformed JSON body"))
		return
	}

	res, err := h.service.RegisterAccount(r.Context(), req.Email, req.Password)
	if err != nil {
		log.From(r.Context()).Debug("register rejected",
			"op", op, "email", redact.Email(req.Email), "err", err.Error())
		apierrors.WriteError(w, r, err)
		return
	}

	h.writeLoginResult(w, r, http.StatusCreated, res)
}

// Login обрабатывает POST /auth/login.
//
// Учётные данные — ровно одно из password / provider_token; оба сразу
// отклоняем на транспортном уровне, отсутствие обоих отдаём доменному
// слою (там решается, какую ошибку показать).
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.Login"

	var req loginRequest
	if err := decodeStrict(r, &req); err != nil {
		apierrors.WriteError(w, r, fmt.Errorf("%w: %s", apierrors.ErrInvalidArgument, "malformed JSON body"))
		return
	}

	if req.Password != "" && req.ProviderToken != "" {
		apierrors.WriteError(w, r, fmt.Errorf("%w: %s", apierrors.ErrInvalidArgument,
			"password and provider_token are mutually exclusive"))
		return
	}

	var cred models.Credential
	switch {
	case req.ProviderToken != "":
		cred = models.ProviderToken{Token: req.ProviderToken}
	case req.Password != "":
		cred = models.LocalSecret{Secret: req.Password}
	}

	res, err := h.service.Login(r.Context(), req.Email, cred)
	if err != nil {
		log.From(r.Context()).Debug("login rejected",
			"op", op, "email", redact.Email(req.Email), "err", err.Error())
		apierrors.WriteError(w, r, err)
		return
	}

	h.writeLoginResult(w, r, http.StatusOK, res)
}

// LegacyLogin обрабатывает POST /auth/legacy: вход по токену legacy-провайдера
// с автоматическим заведением аккаунта.
func (h *Handlers) LegacyLogin(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.LegacyLogin"

	var req legacyLoginRequest
	if err := decodeStrict(r, &req); err != nil {
		apierrors.WriteError(w, r, fmt.Errorf("%w: %s", apierrors.ErrInvalidArgument, "malformed JSON body"))
		return
	}

	res, err := h.service.LegacyLogin(r.Context(), req.ProviderToken)
	if err != nil {
		log.From(r.Context()).Debug("legacy login rejected", "op", op, "err", err.Error())
		apierrors.WriteError(w, r, err)
		return
	}

	h.writeLoginResult(w, r, http.StatusOK, res)
}

// Refresh обрабатывает POST /auth/refresh: ротация refresh-токена.
// Секрет берём из cookie; для не-браузерных клиентов допускаем тело.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	secret := refreshSecretFromCookie(r)
	if secret == "" {
		var req refreshRequest
		// Тело опционально: его отсутствие не ошибка.
		_ = decodeStrict(r, &req)
		secret = req.RefreshToken
	}

	res, err := h.service.RefreshSession(r.Context(), secret)
	if err != nil {
		// Cookie стирается только для мёртвой сессии. Внутренний сбой
		// (хранилище, подпись) не трогает ещё валидный секрет клиента:
		// повтор запроса остаётся на усмотрение вызывающего.
		if errors.Is(err, service.ErrInvalidSession) || errors.Is(err, service.ErrSessionInvalidated) {
			h.clearRefreshCookie(w)
		}
		apierrors.WriteError(w, r, err)
		return
	}

	h.writeLoginResult(w, r, http.StatusOK, res)
}

// Logout обрабатывает POST /auth/logout. Идемпотентен: повторный вызов
// и вызов без cookie тоже завершаются успехом.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	secret := refreshSecretFromCookie(r)
	if secret == "" {
		var req refreshRequest
		_ = decodeStrict(r, &req)
		secret = req.RefreshToken
	}

	if err := h.service.Logout(r.Context(), secret); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

type validateRequest struct {
	AccessToken string `json:"access_token,omitempty"`
}

type validateResponse struct {
	Valid     bool   `json:"valid"`
	AccountID string `json:"account_id,omitempty"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
}

// Validate обрабатывает POST /auth/validate: проверка access-токена для
// внутренних сервисов. Невалидный токен — не ошибка HTTP, а {"valid":false}.
func (h *Handlers) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	_ = decodeStrict(r, &req)

	token := req.AccessToken
	if token == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
	}

	claims, err := h.service.ValidateAccessToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, validateResponse{Valid: false})
		return
	}

	writeJSON(w, http.StatusOK, validateResponse{
		Valid:     true,
		AccountID: claims.AccountID,
		Email:     claims.Email,
		Role:      claims.Role,
	})
}

type meResponse struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
}

// Me обрабатывает GET /auth/me: профиль текущего принципала из клеймов
// access-токена. Маршрут стоит за AuthBearer — тем же мидлваром, которым
// закрывается остальная часть wallet-бэкенда.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		apierrors.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		AccountID: claims.AccountID,
		Email:     claims.Email,
		Role:      claims.Role,
	})
}
