package handlers

import (
	"fmt"
	"net/http"

	apierrors "github.com/mshuraleva/go-wallet-backend/internal/errors"
	"github.com/mshuraleva/go-wallet-backend/internal/pkg/log"
)

type migrationStatusRequest struct {
	ProviderToken string `json:"provider_token"`
}

type migrationStatusResponse struct {
	NeedsMigration bool   `json:"needs_migration"`
	SubjectID      string `json:"subject_id"`
	Email          string `json:"email"`
}

type migrationPasswordRequest struct {
	ProviderToken string `json:"provider_token"`
	Password      string `json:"password"`
}

// MigrationStatus обрабатывает POST /auth/migration/status: по токену
// legacy-провайдера сообщает, нужна ли аккаунту установка локального пароля.
func (h *Handlers) MigrationStatus(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.migration.MigrationStatus"

	var req migrationStatusRequest
	if err := decodeStrict(r, &req); err != nil {
		apierrors.WriteError(w, r, fmt.Errorf("%w: %s", apierrors.ErrInvalidArgument, "malformed JSON body"))
		return
	}

	status, err := h.service.MigrationStatus(r.Context(), req.ProviderToken)
	if err != nil {
		log.From(r.Context()).Debug("migration status rejected", "op", op, "err", err.Error())
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, migrationStatusResponse{
		NeedsMigration: status.NeedsMigration,
		SubjectID:      status.SubjectID,
		Email:          status.Email,
	})
}

// MigrationSetupPassword обрабатывает POST /auth/migration/password:
// одноразовая установка локального пароля мигрирующему аккаунту.
// При успехе сразу выдаётся пара токенов — отдельный вход не нужен.
func (h *Handlers) MigrationSetupPassword(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.migration.MigrationSetupPassword"

	var req migrationPasswordRequest
	if err := decodeStrict(r, &req); err != nil {
		apierrors.WriteError(w, r, fmt.Errorf("%w: %s", apierrors.ErrInvalidArgument, "malformed JSON body"))
		return
	}

	res, err := h.service.MigrationSetupPassword(r.Context(), req.ProviderToken, req.Password)
	if err != nil {
		log.From(r.Context()).Debug("migration rejected", "op", op, "err", err.Error())
		apierrors.WriteError(w, r, err)
		return
	}

	h.writeLoginResult(w, r, http.StatusOK, res)
}
