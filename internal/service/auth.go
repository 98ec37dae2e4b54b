package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mshuraleva/go-wallet-backend/internal/models"
	"github.com/mshuraleva/go-wallet-backend/internal/pkg/log"
	"github.com/mshuraleva/go-wallet-backend/internal/pkg/redact"
	"github.com/mshuraleva/go-wallet-backend/internal/provider"
	"github.com/mshuraleva/go-wallet-backend/internal/storage"
)

// defaultRole — роль новых аккаунтов; единственная проверка привилегий
// живёт вне этого сервиса.
const defaultRole = "user"

// RegisterAccount регистрирует новый аккаунт с локальным паролем.
func (s *Service) RegisterAccount(ctx context.Context, email, password string) (*models.LoginResult, error) {
	const op = "service.auth.RegisterAccount"

	normEmail, err := validateEmail(email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	if err := s.validatePassword(password); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.storage.AccountByEmail(ctx, normEmail)
	if err == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	hashedPassword, err := s.hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now().UTC()
	account := &models.Account{
		ID:           uuid.NewString(),
		Email:        normEmail,
		PasswordHash: hashedPassword,
		Role:         defaultRole,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.storage.SaveAccount(ctx, account); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.authenticate(ctx, account)
}

// Login выполняет вход по таблице решений:
//   - аккаунт с локальным паролем требует LocalSecret;
//   - аккаунт без пароля (или отсутствующий) требует ProviderToken;
//   - подтверждённая провайдером идентичность без локального пароля
//     даёт OutcomeNeedsMigration (токены не выдаются) — дальше клиент
//     обязан вызвать MigrationSetupPassword.
//
// type switch по models.Credential исчерпывающий: новый источник
// идентичности не скомпилируется без новой ветки.
func (s *Service) Login(ctx context.Context, email string, cred models.Credential) (*models.LoginResult, error) {
	const op = "service.auth.Login"

	lg := log.From(ctx)

	normEmail, err := validateEmail(email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	account, err := s.storage.AccountByEmail(ctx, normEmail)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if cred == nil {
		// Ни пароля, ни токена провайдера.
		s.metrics.IncLogin("rejected")
		if account != nil && !account.IsLocallyAuthenticable() {
			return nil, fmt.Errorf("%s: %w", op, ErrProviderTokenRequired)
		}

		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	switch c := cred.(type) {
	case models.LocalSecret:
		if !account.IsLocallyAuthenticable() {
			// Аккаунт без локального пароля (либо отсутствует):
			// требуется токен провайдера.
			s.metrics.IncLogin("rejected")
			return nil, fmt.Errorf("%s: %w", op, ErrProviderTokenRequired)
		}

		if len(c.Secret) == 0 || !checkPassword(account.PasswordHash, c.Secret) {
			lg.Warn("login_bad_password", slog.String("email", redact.Email(normEmail)))
			s.metrics.IncLogin("rejected")
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		return s.authenticate(ctx, account)

	case models.ProviderToken:
		return s.loginWithProviderToken(ctx, c.Token)

	default:
		return nil, fmt.Errorf("%s: unsupported credential type %T", op, cred)
	}
}

// loginWithProviderToken — провайдерная ветка входа. Использует те же
// lookup и validateCorrespondence, что и MigrationStatus: обе дороги
// обязаны сходиться в оценке match/mismatch.
func (s *Service) loginWithProviderToken(ctx context.Context, token string) (*models.LoginResult, error) {
	const op = "service.auth.loginWithProviderToken"

	ident, err := s.verifyProviderToken(ctx, token)
	if err != nil {
		s.metrics.IncLogin("rejected")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	account, err := s.accountForIdentity(ctx, ident)
	if err != nil {
		s.metrics.IncLogin("rejected")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := validateCorrespondence(ident, account); err != nil {
		s.metrics.IncLogin("rejected")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !account.IsLocallyAuthenticable() {
		s.metrics.IncLogin("needs_migration")
		return &models.LoginResult{
			Outcome:   models.OutcomeNeedsMigration,
			SubjectID: ident.SubjectID,
			Email:     normalizeEmail(ident.Email),
		}, nil
	}

	// Мигрированный аккаунт с валидным токеном провайдера проходит
	// тем же шлюзом, что и LegacyLogin.
	return s.authenticate(ctx, account)
}

// LegacyLogin выполняет вход по токену legacy-провайдера с
// авто-провижинингом: если локального аккаунта нет вовсе, он создаётся
// по данным провайдера (без локального пароля) и вход продолжается.
// Это самостоятельная точка связывания, отличная от явного
// MigrationSetupPassword.
func (s *Service) LegacyLogin(ctx context.Context, token string) (*models.LoginResult, error) {
	const op = "service.auth.LegacyLogin"

	lg := log.From(ctx)

	ident, err := s.verifyProviderToken(ctx, token)
	if err != nil {
		s.metrics.IncLogin("rejected")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	account, err := s.accountForIdentity(ctx, ident)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			s.metrics.IncLogin("rejected")
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		account, err = s.provisionLegacyAccount(ctx, ident)
		if err != nil {
			s.metrics.IncLogin("rejected")
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		lg.Info("legacy_account_provisioned",
			slog.String("account_id", account.ID),
			slog.String("email", redact.Email(account.Email)),
		)
	}

	if err := validateCorrespondence(ident, account); err != nil {
		s.metrics.IncLogin("rejected")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.authenticate(ctx, account)
}

// provisionLegacyAccount создаёт аккаунт по данным провайдера.
// ID аккаунта = subject id провайдера, поэтому конкурирующие
// авто-провижининги схлопываются в один документ: проигравший
// duplicate key перечитывает существующую запись.
func (s *Service) provisionLegacyAccount(ctx context.Context, ident *provider.Identity) (*models.Account, error) {
	const op = "service.auth.provisionLegacyAccount"

	now := time.Now().UTC()
	account := &models.Account{
		ID:               ident.SubjectID,
		Email:            normalizeEmail(ident.Email),
		Role:             defaultRole,
		LinkedProviderID: ident.SubjectID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := s.storage.SaveAccount(ctx, account)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, storage.ErrAlreadyExists) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	existing, err := s.accountForIdentity(ctx, ident)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return existing, nil
}

// Logout отзывает refresh-токен. Идемпотентен: неизвестный или уже
// отозванный секрет — тоже успех с точки зрения клиента.
func (s *Service) Logout(ctx context.Context, refreshSecret string) error {
	const op = "service.auth.Logout"

	lg := log.From(ctx)

	if refreshSecret == "" {
		return nil
	}

	hash := hashSecret(refreshSecret)
	now := time.Now().UTC()

	// Предварительное чтение нужно кэшу: запись об отзыве должна нести
	// account_id для breach response при повторном предъявлении.
	token, err := s.storage.RefreshTokenByHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			lg.Error("logout_lookup_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
		}
		return nil
	}

	revoked, err := s.storage.RevokeRefreshTokenIfActive(ctx, hash, "", now)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		// Best-effort: внутренняя ошибка логируется, клиент получает успех.
		lg.Error("logout_revoke_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return nil
	}

	if err == nil && revoked {
		s.markRevokedInCache(ctx, hash, token.AccountID, token.ExpiresAt, now)
	}

	return nil
}

// authenticate выпускает пару токенов для аккаунта и собирает
// успешный результат входа. Хэш пароля наружу не отдаётся никогда —
// ответные модели его не содержат.
func (s *Service) authenticate(ctx context.Context, account *models.Account) (*models.LoginResult, error) {
	const op = "service.auth.authenticate"

	pair, err := s.issueTokenPair(ctx, account)
	if err != nil {
		s.metrics.IncLogin("failed")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.IncLogin("success")

	return &models.LoginResult{
		Outcome:   models.OutcomeAuthenticated,
		Account:   account,
		TokenPair: pair,
	}, nil
}

// verifyProviderToken — делегат к оракулу провайдера c маппингом
// в доменную ошибку. Fail-closed: любая ошибка оракула — невалидный токен.
func (s *Service) verifyProviderToken(ctx context.Context, token string) (*provider.Identity, error) {
	const op = "service.auth.verifyProviderToken"

	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrProviderTokenRequired)
	}

	ident, err := s.provider.VerifyToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidProviderToken)
	}

	return ident, nil
}

// hashPassword хэширует пароль с помощью bcrypt.
func (s *Service) hashPassword(password string) (string, error) {
	const op = "service.auth.hashPassword"

	bytes, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.Cost())
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return string(bytes), nil
}

// checkPassword сравнивает пароль с хэшем (константное время внутри bcrypt).
func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// validateEmail проверяет базовый формат email и обрезает пробелы снаружи.
func validateEmail(raw string) (string, error) {
	const op = "service.auth.validateEmail"

	email := strings.TrimSpace(raw)
	if email == "" {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	if _, err := mail.ParseAddress(email); err != nil {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	return strings.ToLower(email), nil
}

// normalizeEmail — нормализация без валидации, для email из доверенного
// ответа провайдера.
func normalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// validatePassword проверяет пароль против настроенного минимума длины.
func (s *Service) validatePassword(pw string) error {
	const op = "service.auth.validatePassword"

	if len(pw) == 0 {
		return fmt.Errorf("%s: %w", op, ErrEmptyPassword)
	}

	if len([]rune(pw)) < s.cfg.MinPasswordLen {
		return fmt.Errorf("%s: %w", op, ErrWeakPassword)
	}

	return nil
}
