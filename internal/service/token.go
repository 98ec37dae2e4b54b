package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mshuraleva/go-wallet-backend/internal/cache"
	"github.com/mshuraleva/go-wallet-backend/internal/models"
	"github.com/mshuraleva/go-wallet-backend/internal/pkg/log"
	"github.com/mshuraleva/go-wallet-backend/internal/storage"
)

// AccessClaims — результат проверки access-токена.
type AccessClaims struct {
	AccountID string
	Email     string
	Role      string
}

type accessClaims struct {
	AccountID string `json:"uid"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// hashSecret переводит plaintext-секрет в ключ поиска (sha256 → base64url).
func hashSecret(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// generateAccessToken генерирует access-токен.
func (s *Service) generateAccessToken(ctx context.Context, account *models.Account, now time.Time) (string, error) {
	const op = "service.token.generateAccessToken"

	lg := log.From(ctx)

	claims := accessClaims{
		AccountID: account.ID,
		Email:     account.Email,
		Role:      account.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.cfg.Issuer,
			Subject:   account.ID,
			Audience:  jwt.ClaimStrings(s.cfg.Audience),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		lg.Error("access_token_sign_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// ValidateAccessToken проверяет access-токен и возвращает его клеймы.
// Только подпись + срок + issuer/audience, без обращения к хранилищу.
func (s *Service) ValidateAccessToken(ctx context.Context, tokenStr string) (*AccessClaims, error) {
	const op = "service.token.ValidateAccessToken"

	token, err := jwt.ParseWithClaims(tokenStr, &accessClaims{},
		func(t *jwt.Token) (interface{}, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
			}

			return []byte(s.cfg.JWTSecret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(5*time.Second),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience...),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}

		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	claims, ok := token.Claims.(*accessClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return &AccessClaims{
		AccountID: claims.AccountID,
		Email:     claims.Email,
		Role:      claims.Role,
	}, nil
}

// issueTokenPair выпускает новую пару access+refresh токенов.
func (s *Service) issueTokenPair(ctx context.Context, account *models.Account) (*models.TokenPair, error) {
	const op = "service.token.issueTokenPair"

	now := time.Now().UTC()

	accessToken, err := s.generateAccessToken(ctx, account, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	plain, expiresAt, err := s.generateRefreshToken(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     plain,
		AccessExpiresAt:  now.Add(s.cfg.AccessTokenTTL),
		RefreshExpiresAt: expiresAt,
	}, nil
}

// generateRefreshToken создает новый refresh-токен: 32 байта crypto/rand
// (256 бит энтропии), клиенту отдаётся plaintext ровно один раз,
// в хранилище попадает только хэш.
func (s *Service) generateRefreshToken(ctx context.Context, accountID string) (string, time.Time, error) {
	const (
		op          = "service.token.generateRefreshToken"
		maxAttempts = 5
	)

	lg := log.From(ctx)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			lg.Error("refresh_rand_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
		}
		plain := base64.RawURLEncoding.EncodeToString(b)

		now := time.Now().UTC()
		expiresAt := now.Add(s.cfg.RefreshTokenTTL)
		token := &models.RefreshToken{
			TokenHash: hashSecret(plain),
			AccountID: accountID,
			CreatedAt: now,
			ExpiresAt: expiresAt,
		}

		if err := s.storage.SaveRefreshToken(ctx, token); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				// Редкая коллизия — пробуем сгенерировать заново.
				continue
			}

			lg.Error("save_refresh_token_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
		}

		return plain, expiresAt, nil
	}

	lg.Error("refresh_collision_exceeded", slog.String("op", op))

	return "", time.Time{}, fmt.Errorf("%s: %w", op, ErrRefreshTokenCollision)
}

// RefreshSession ротирует refresh-токен и выпускает новую пару.
//
// Порядок ротации закреплён: новый токен сохраняется только после того,
// как CAS-отзыв старого выиграл гонку. Из двух конкурентных refresh
// с одним секретом преуспевает ровно один; проигравший наблюдает уже
// отозванный токен, что трактуется как replay и запускает breach response.
func (s *Service) RefreshSession(ctx context.Context, refreshSecret string) (*models.LoginResult, error) {
	const op = "service.auth.RefreshSession"

	token, err := s.validateRefreshToken(ctx, refreshSecret)
	if err != nil {
		s.metrics.IncRefresh("rejected")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	account, err := s.storage.AccountByID(ctx, token.AccountID)
	if err != nil {
		s.metrics.IncRefresh("rejected")
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidSession)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pair, err := s.rotateTokenPair(ctx, account, token)
	if err != nil {
		s.metrics.IncRefresh("rejected")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.IncRefresh("success")

	return &models.LoginResult{
		Outcome:   models.OutcomeAuthenticated,
		Account:   account,
		TokenPair: pair,
	}, nil
}

// rotateTokenPair — атомарная ротация: генерируется новый секрет,
// старый токен отзывется CAS-ом с проставленным replaced_by, и только
// после выигранного CAS новый токен попадает в хранилище. Брошенный
// на середине запрос не оставляет наполовину валидной пары: старый либо
// жив целиком, либо уже мёртв, а несохранённый новый не существует.
func (s *Service) rotateTokenPair(ctx context.Context, account *models.Account, old *models.RefreshToken) (*models.TokenPair, error) {
	const op = "service.token.rotateTokenPair"

	now := time.Now().UTC()

	accessToken, err := s.generateAccessToken(ctx, account, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	plain := base64.RawURLEncoding.EncodeToString(b)
	newHash := hashSecret(plain)

	revoked, err := s.storage.RevokeRefreshTokenIfActive(ctx, old.TokenHash, newHash, now)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidSession)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !revoked {
		// Гонка проиграна: секрет уже ротирован кем-то другим.
		return nil, s.handleReplay(ctx, old, now)
	}

	s.markRevokedInCache(ctx, old.TokenHash, old.AccountID, old.ExpiresAt, now)

	expiresAt := now.Add(s.cfg.RefreshTokenTTL)
	newToken := &models.RefreshToken{
		TokenHash: newHash,
		AccountID: account.ID,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}

	if err := s.storage.SaveRefreshToken(ctx, newToken); err != nil {
		// Старый уже отозван, новый не сохранён: сессия потеряна,
		// но полуротированного состояния нет — fail-safe.
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     plain,
		AccessExpiresAt:  now.Add(s.cfg.AccessTokenTTL),
		RefreshExpiresAt: expiresAt,
	}, nil
}

// validateRefreshToken валидирует refresh-токен.
//
// Порядок проверок закреплён контрактом:
//  1. неизвестный хэш -> ErrInvalidSession;
//  2. просроченный    -> ErrInvalidSession (независимо от отзыва);
//  3. отозванный      -> replay: breach response + ErrSessionInvalidated.
func (s *Service) validateRefreshToken(ctx context.Context, plain string) (*models.RefreshToken, error) {
	const op = "service.token.validateRefreshToken"

	lg := log.From(ctx)

	if plain == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidSession)
	}

	hash := hashSecret(plain)
	now := time.Now().UTC()

	// Быстрый отрицательный ответ из кэша: хэш уже известен как отозванный.
	// Порядок проверок контракта действует и здесь: просроченный токен —
	// ErrInvalidSession независимо от отзыва, replay только для живого срока.
	if entry, ok := s.lookupRevokedCache(ctx, hash); ok {
		if !now.Before(entry.ExpiresAt) {
			lg.Warn("refresh_expired",
				slog.String("op", op),
				slog.String("account_id", entry.AccountID),
			)
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidSession)
		}

		return nil, s.handleReplay(ctx, &models.RefreshToken{
			TokenHash: hash,
			AccountID: entry.AccountID,
			ExpiresAt: entry.ExpiresAt,
		}, now)
	}

	token, err := s.storage.RefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Warn("refresh_lookup_not_found", slog.String("op", op))
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidSession)
		}

		lg.Error("refresh_lookup_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if token.IsExpired(now) {
		lg.Warn("refresh_expired",
			slog.String("op", op),
			slog.String("account_id", token.AccountID),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidSession)
	}

	if token.IsRevoked() {
		return nil, s.handleReplay(ctx, token, now)
	}

	return token, nil
}

// handleReplay — breach response: предъявление отозванного секрета
// трактуется как возможная утечка, все живые сессии аккаунта отзываются
// до возврата ошибки.
func (s *Service) handleReplay(ctx context.Context, token *models.RefreshToken, now time.Time) error {
	const op = "service.token.handleReplay"

	lg := log.From(ctx)

	s.metrics.IncReplay()

	revoked, err := s.storage.RevokeAllForAccount(ctx, token.AccountID, now)
	if err != nil {
		lg.Error("breach_response_failed",
			slog.String("op", op),
			slog.String("account_id", token.AccountID),
			slog.String("err", err.Error()),
		)
		// Ошибку breach response не скрываем за auth-ошибкой:
		// частичный отзыв нельзя считать выполненным.
		return fmt.Errorf("%s: %w", op, err)
	}

	lg.Warn("refresh_replay_detected",
		slog.String("op", op),
		slog.String("account_id", token.AccountID),
		slog.Int64("sessions_revoked", revoked),
	)

	s.markRevokedInCache(ctx, token.TokenHash, token.AccountID, token.ExpiresAt, now)

	return fmt.Errorf("%s: %w", op, ErrSessionInvalidated)
}

// lookupRevokedCache — чтение кэша; ошибки кэша не фатальны.
func (s *Service) lookupRevokedCache(ctx context.Context, hash string) (*cache.RevokedEntry, bool) {
	if s.rcache == nil {
		return nil, false
	}

	entry, ok, err := s.rcache.Get(ctx, hash)
	if err != nil || !ok {
		return nil, false
	}

	return entry, true
}

// markRevokedInCache — запись в кэш; best-effort. TTL записи равен
// остаточному сроку жизни токена: запись, пережившая собственный
// expires_at токена, превратила бы просроченный секрет в replay.
func (s *Service) markRevokedInCache(ctx context.Context, hash, accountID string, expiresAt time.Time, now time.Time) {
	if s.rcache == nil {
		return
	}

	_ = s.rcache.MarkRevoked(ctx, hash, &cache.RevokedEntry{
		AccountID: accountID,
		RevokedAt: now,
		ExpiresAt: expiresAt,
	}, expiresAt.Sub(now))
}
