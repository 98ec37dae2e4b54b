package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevokedEntry описывает данные, которые мы храним в Redis по хэшу
// отозванного refresh-токена.
//
// Кэш — исключительно быстрый отрицательный ответ: положительная валидность
// токена всегда подтверждается хранилищем. Поэтому breach response
// (RevokeAllForAccount) не требует обхода кэша.
type RevokedEntry struct {
	AccountID string
	RevokedAt time.Time
	// ExpiresAt — собственный срок жизни токена. Просроченный токен —
	// это ErrInvalidSession, а не replay, даже если он был отозван,
	// поэтому потребитель кэша обязан проверить срок перед breach response.
	ExpiresAt time.Time
}

// RevokedCache — минимальный контракт кэша отозванных refresh-токенов.
type RevokedCache interface {
	// Get возвращает запись и признак её наличия в кэше.
	Get(ctx context.Context, hash string) (*RevokedEntry, bool, error)
	// MarkRevoked сохраняет факт отзыва с TTL (обычно ExpiresAt-now).
	MarkRevoked(ctx context.Context, hash string, e *RevokedEntry, ttl time.Duration) error
	// Close закрывает клиент Redis.
	Close() error
}

type redisCache struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCache создаёт клиент Redis из URL (например, redis://:pass@host:6379/0).
// Если prefix пустой — используется "auth:revoked:".
func NewRedisCache(redisURL, prefix string) (RevokedCache, error) {
	if prefix == "" {
		prefix = "auth:revoked:"
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return &redisCache{rdb: rdb, prefix: prefix}, nil
}

func (c *redisCache) key(hash string) string { return c.prefix + hash }

// Храним как Redis Hash с полями: aid, rat, exp (unix).
func (c *redisCache) Get(ctx context.Context, hash string) (*RevokedEntry, bool, error) {
	m, err := c.rdb.HGetAll(ctx, c.key(hash)).Result()
	if err != nil {
		return nil, false, err
	}

	if len(m) == 0 {
		return nil, false, nil
	}

	ratUnix, err := strconv.ParseInt(m["rat"], 10, 64)
	if err != nil {
		return nil, false, err
	}

	// Запись без exp (старый формат) игнорируется: хранилище авторитетно.
	expUnix, err := strconv.ParseInt(m["exp"], 10, 64)
	if err != nil {
		return nil, false, nil
	}

	return &RevokedEntry{
		AccountID: m["aid"],
		RevokedAt: time.Unix(ratUnix, 0).UTC(),
		ExpiresAt: time.Unix(expUnix, 0).UTC(),
	}, true, nil
}

func (c *redisCache) MarkRevoked(ctx context.Context, hash string, e *RevokedEntry, ttl time.Duration) error {
	if ttl <= 0 {
		// Запись без TTL в кэше не нужна: токен и так просрочен.
		return nil
	}

	kv := map[string]string{
		"aid": e.AccountID,
		"rat": strconv.FormatInt(e.RevokedAt.Unix(), 10),
		"exp": strconv.FormatInt(e.ExpiresAt.Unix(), 10),
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, c.key(hash), kv)
	pipe.Expire(ctx, c.key(hash), ttl)

	_, err := pipe.Exec(ctx)
	return err
}

func (c *redisCache) Close() error { return c.rdb.Close() }
