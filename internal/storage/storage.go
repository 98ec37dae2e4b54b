package storage

import (
	"context"
	"errors"
	"time"

	"github.com/mshuraleva/go-wallet-backend/internal/models"
)

var (
	// ErrNotFound — запись не найдена (аккаунт/токен).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists — нарушение уникальности (email/provider id/хэш токена)
	// или повторная попытка одноразовой операции (установка пароля).
	ErrAlreadyExists = errors.New("already exists")
	// ErrExpired — сущность просрочена (refresh-token).
	ErrExpired = errors.New("expired")
	// ErrRevoked — сущность отозвана (refresh-token).
	ErrRevoked = errors.New("revoked")
)

// AccountStorage выполняет операции над аккаунтами.
type AccountStorage interface {
	// SaveAccount создает новый аккаунт.
	SaveAccount(ctx context.Context, account *models.Account) error
	// AccountByID находит аккаунт по ID.
	AccountByID(ctx context.Context, id string) (*models.Account, error)
	// AccountByEmail находит аккаунт по нормализованному email.
	AccountByEmail(ctx context.Context, email string) (*models.Account, error)
	// AccountByProviderID находит аккаунт по subject id legacy-провайдера.
	AccountByProviderID(ctx context.Context, providerID string) (*models.Account, error)
	// EstablishPassword одноразово устанавливает локальный пароль:
	// password_hash, migrated_at и (если ещё пуст) linked_provider_id
	// выставляются только при отсутствующем password_hash.
	// Возвращает ErrAlreadyExists, если пароль уже установлен, —
	// существующий хэш никогда не перезаписывается.
	EstablishPassword(ctx context.Context, accountID, passwordHash, providerID string, now time.Time) (*models.Account, error)
}

// RefreshTokenStorage выполняет операции над refresh-токенами.
type RefreshTokenStorage interface {
	// SaveRefreshToken сохраняет новый refresh-token.
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error
	// RefreshTokenByHash находит refresh-токен по его хэшу.
	RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error)
	// RevokeRefreshTokenIfActive пытается отозвать токен атомарно
	// (CAS по условию revoked_at == null). Возвращает:
	//
	//	(true, nil)  — токен был жив и отозван сейчас;
	//	(false, nil) — токен существует, но уже был отозван;
	//	(false, ErrNotFound) — токен не найден.
	//
	// replacedBy (может быть пустым) фиксирует хэш токена-наследника
	// при ротации.
	RevokeRefreshTokenIfActive(ctx context.Context, hash, replacedBy string, now time.Time) (bool, error)
	// RevokeAllForAccount отзывает все живые токены аккаунта
	// (breach response). Возвращает число отозванных записей.
	RevokeAllForAccount(ctx context.Context, accountID string, now time.Time) (int64, error)
	// DeleteExpiredTokens удаляет все просроченные токены.
	DeleteExpiredTokens(ctx context.Context, now time.Time) error
}

// Storage задает контракт работы с БД.
type Storage interface {
	AccountStorage
	RefreshTokenStorage
	Close(ctx context.Context) error
}
