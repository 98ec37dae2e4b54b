package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mshuraleva/go-wallet-backend/internal/models"
	"github.com/mshuraleva/go-wallet-backend/internal/pkg/log"
	"github.com/mshuraleva/go-wallet-backend/internal/pkg/redact"
	"github.com/mshuraleva/go-wallet-backend/internal/provider"
	"github.com/mshuraleva/go-wallet-backend/internal/storage"
)

// validateCorrespondence сверяет подтверждённую провайдером идентичность
// с локальным аккаунтом. Единственная точка этой проверки: статус-чек,
// провайдерный вход и установка пароля обязаны проходить через неё —
// расходящихся копий быть не должно.
//
// Порядок отказов:
//   - ErrAccountNotFound — локального аккаунта нет;
//   - ErrEmailMismatch — нормализованные email расходятся;
//   - ErrIdentityMismatch — аккаунт уже связан с другим subject id.
func validateCorrespondence(ident *provider.Identity, account *models.Account) error {
	const op = "service.migration.validateCorrespondence"

	if account == nil {
		return fmt.Errorf("%s: %w", op, ErrAccountNotFound)
	}

	if normalizeEmail(account.Email) != normalizeEmail(ident.Email) {
		return fmt.Errorf("%s: %w", op, ErrEmailMismatch)
	}

	if account.IsLegacyLinked() && account.LinkedProviderID != ident.SubjectID {
		return fmt.Errorf("%s: %w", op, ErrIdentityMismatch)
	}

	return nil
}

// accountForIdentity ищет локальный аккаунт для идентичности провайдера:
// сначала по subject id, затем по нормализованному email.
func (s *Service) accountForIdentity(ctx context.Context, ident *provider.Identity) (*models.Account, error) {
	const op = "service.migration.accountForIdentity"

	account, err := s.storage.AccountByProviderID(ctx, ident.SubjectID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	account, err = s.storage.AccountByEmail(ctx, normalizeEmail(ident.Email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrAccountNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return account, nil
}

// MigrationStatus проверяет, требуется ли аккаунту миграция
// (установка локального пароля). Причина отказа всегда типизирована —
// «тихого» needsMigration:false при несоответствии не бывает.
func (s *Service) MigrationStatus(ctx context.Context, providerToken string) (*models.MigrationStatus, error) {
	const op = "service.migration.MigrationStatus"

	ident, err := s.verifyProviderToken(ctx, providerToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	account, err := s.accountForIdentity(ctx, ident)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := validateCorrespondence(ident, account); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.MigrationStatus{
		NeedsMigration: !account.IsLocallyAuthenticable(),
		SubjectID:      ident.SubjectID,
		Email:          normalizeEmail(ident.Email),
		Account:        account,
	}, nil
}

// MigrationSetupPassword — одноразовая установка локального пароля для
// legacy-аккаунта: повторная верификация токена и соответствия, затем
// условная запись хэша. Существующий password_hash не перезаписывается
// никогда — одноразовость гарантирует хранилище, а не повторное чтение.
func (s *Service) MigrationSetupPassword(ctx context.Context, providerToken, password string) (*models.LoginResult, error) {
	const op = "service.migration.MigrationSetupPassword"

	lg := log.From(ctx)

	ident, err := s.verifyProviderToken(ctx, providerToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	account, err := s.accountForIdentity(ctx, ident)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := validateCorrespondence(ident, account); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if account.IsLocallyAuthenticable() {
		return nil, fmt.Errorf("%s: %w", op, ErrAlreadyMigrated)
	}

	if err := s.validatePassword(password); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	hashedPassword, err := s.hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now().UTC()

	migrated, err := s.storage.EstablishPassword(ctx, account.ID, hashedPassword, ident.SubjectID, now)
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			// Конкурентный migrate успел раньше.
			return nil, fmt.Errorf("%s: %w", op, ErrAlreadyMigrated)
		}
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrAccountNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.IncMigration()
	lg.Info("account_migrated",
		slog.String("account_id", migrated.ID),
		slog.String("email", redact.Email(migrated.Email)),
	)

	return s.authenticate(ctx, migrated)
}
