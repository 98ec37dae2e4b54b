// service содержит бизнес-логику auth-сервиса: регистрацию и вход,
// мост к legacy-провайдеру идентичности, миграцию аккаунтов,
// выпуск/ротацию/отзыв токенов и работу с хранилищем через интерфейсы
// из пакета storage.
//
// Основные аспекты:
//   - Пакет не хранит состояние запроса внутри Service; экземпляр Service
//     безопасен для конкурентного использования из разных горутин при условии,
//     что переданные хранилище и провайдер потокобезопасны.
//   - Ошибки возвращаются типизированными и далее маппятся транспортом
//     на HTTP-статусы (см. комментарии к переменным ошибок ниже).
package service

import (
	"errors"

	"github.com/mshuraleva/go-wallet-backend/internal/cache"
	"github.com/mshuraleva/go-wallet-backend/internal/config"
	"github.com/mshuraleva/go-wallet-backend/internal/metrics"
	"github.com/mshuraleva/go-wallet-backend/internal/provider"
	"github.com/mshuraleva/go-wallet-backend/internal/storage"
)

var (
	// ErrInvalidCredentials — пара логин/пароль неверна или аккаунт не найден.
	// Формулировка едина для обоих случаев, чтобы не допускать перечисление
	// зарегистрированных email. Транспорт: 401.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrProviderTokenRequired — у аккаунта нет локального пароля (или
	// аккаунта нет вовсе); для продолжения требуется токен legacy-провайдера.
	// Транспорт: 401 с отдельным кодом.
	ErrProviderTokenRequired = errors.New("provider token required")

	// ErrInvalidProviderToken — токен legacy-провайдера не прошёл верификацию
	// (включая таймаут оракула: fail-closed). Транспорт: 401.
	ErrInvalidProviderToken = errors.New("invalid provider token")

	// ErrAccountNotFound — для подтверждённой провайдером идентичности нет
	// локального аккаунта. Транспорт: 401 (без раскрытия деталей).
	ErrAccountNotFound = errors.New("account not found")

	// ErrEmailMismatch — email локального аккаунта не совпадает с email,
	// заявленным провайдером. Транспорт: 409.
	ErrEmailMismatch = errors.New("email mismatch")

	// ErrIdentityMismatch — аккаунт уже связан с другим subject id
	// провайдера. Транспорт: 409.
	ErrIdentityMismatch = errors.New("identity mismatch")

	// ErrAlreadyMigrated — локальный пароль уже установлен; migrate —
	// одноразовая операция. Транспорт: 409.
	ErrAlreadyMigrated = errors.New("already migrated")

	// ErrSessionInvalidated — предъявлен уже отозванный refresh-токен
	// (replay). Все сессии аккаунта отозваны (breach response); клиент
	// должен принудить полный повторный вход. Транспорт: 401.
	ErrSessionInvalidated = errors.New("session invalidated")

	// ErrInvalidSession — refresh-токен неизвестен или просрочен; обычный
	// «войдите заново». Транспорт: 401.
	ErrInvalidSession = errors.New("invalid session")

	// ErrInvalidToken — access-токен некорректен по формату/подписи.
	// Транспорт: 401.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired — срок действия access-токена истёк. Транспорт: 401.
	ErrTokenExpired = errors.New("token expired")

	// ErrEmailTaken — e-mail уже занят другим аккаунтом. Транспорт: 409.
	ErrEmailTaken = errors.New("email already taken")

	// ErrInvalidEmail — e-mail имеет некорректный формат. Транспорт: 400.
	ErrInvalidEmail = errors.New("invalid email format")

	// ErrWeakPassword — пароль короче настроенного минимума. Транспорт: 400.
	ErrWeakPassword = errors.New("password is too weak")

	// ErrEmptyPassword — пароль пустой. Транспорт: 400.
	ErrEmptyPassword = errors.New("password is empty")

	// ErrRefreshTokenCollision — исчерпаны попытки сгенерировать уникальный
	// refresh-токен (редкие коллизии хэша при сохранении). Транспорт: 500.
	ErrRefreshTokenCollision = errors.New("refresh token collision")
)

// Service описывает бизнес-логику auth-сервиса.
type Service struct {
	storage  storage.Storage
	provider provider.Verifier
	cfg      config.AuthConfig
	rcache   cache.RevokedCache // может быть nil, если кэш не сконфигурирован
	metrics  *metrics.Metrics   // может быть nil
}

// New создаёт новый экземпляр Service.
func New(storage storage.Storage, verifier provider.Verifier, cfg config.AuthConfig) *Service {
	return &Service{
		storage:  storage,
		provider: verifier,
		cfg:      cfg,
	}
}

// SetRevokedCache устанавливает кэш отозванных refresh-токенов (опционально).
func (s *Service) SetRevokedCache(c cache.RevokedCache) {
	s.rcache = c
}

// SetMetrics устанавливает метрики (опционально).
func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}
