package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"

	"github.com/mshuraleva/go-wallet-backend/internal/cache"
	"github.com/mshuraleva/go-wallet-backend/internal/models"
	"github.com/mshuraleva/go-wallet-backend/internal/storage"
)

func testAccount() *models.Account {
	return &models.Account{
		ID:    "a1",
		Email: "user@example.com",
		Role:  "user",
	}
}

func TestGenerateAccessToken_AndValidate_OK(t *testing.T) {
	t.Parallel()

	svc, _, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	ctx := context.Background()
	acc := testAccount()
	now := time.Now().UTC()

	at, err := svc.generateAccessToken(ctx, acc, now)
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(ctx, at)
	require.NoError(t, err)
	require.Equal(t, acc.ID, claims.AccountID)
	require.Equal(t, acc.Email, claims.Email)
	require.Equal(t, acc.Role, claims.Role)
}

func TestValidateAccessToken_Rejections(t *testing.T) {
	t.Parallel()

	svc, _, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	ctx := context.Background()
	secret := []byte(testCfg().JWTSecret)
	now := time.Now().UTC()

	baseClaims := func() jwt.MapClaims {
		return jwt.MapClaims{
			"uid":   "a1",
			"email": "user@example.com",
			"role":  "user",
			"iss":   testCfg().Issuer,
			"sub":   "a1",
			"aud":   testCfg().Audience,
			"exp":   now.Add(15 * time.Minute).Unix(),
			"iat":   now.Unix(),
		}
	}

	t.Run("wrong alg", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS512, baseClaims())
		signed, err := token.SignedString(secret)
		require.NoError(t, err)

		_, err = svc.ValidateAccessToken(ctx, signed)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := baseClaims()
		claims["iss"] = "another-issuer"
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
		require.NoError(t, err)

		_, err = svc.ValidateAccessToken(ctx, signed)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong audience", func(t *testing.T) {
		claims := baseClaims()
		claims["aud"] = []string{"unexpected-aud"}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
		require.NoError(t, err)

		_, err = svc.ValidateAccessToken(ctx, signed)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong signature", func(t *testing.T) {
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, baseClaims()).
			SignedString([]byte("another-secret"))
		require.NoError(t, err)

		_, err = svc.ValidateAccessToken(ctx, signed)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		claims := baseClaims()
		// За границей leeway.
		claims["exp"] = now.Add(-time.Minute).Unix()
		claims["iat"] = now.Add(-time.Hour).Unix()
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
		require.NoError(t, err)

		_, err = svc.ValidateAccessToken(ctx, signed)
		require.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.ValidateAccessToken(ctx, "not-a-jwt")
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestRefreshSession_OK_RotatesSecret(t *testing.T) {
	t.Parallel()

	svc, st, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	ctx := context.Background()
	acc := testAccount()
	plain := "old-refresh-secret"
	oldHash := hashSecret(plain)
	now := time.Now().UTC()

	old := &models.RefreshToken{
		TokenHash: oldHash,
		AccountID: acc.ID,
		CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now.Add(23 * time.Hour),
	}

	var newSaved *models.RefreshToken
	st.EXPECT().RefreshTokenByHash(gomock.Any(), oldHash).Return(old, nil)
	st.EXPECT().AccountByID(gomock.Any(), acc.ID).Return(acc, nil)
	// Отзыв старого обязан нести хэш наследника.
	st.EXPECT().RevokeRefreshTokenIfActive(gomock.Any(), oldHash, gomock.Not(gomock.Eq("")), gomock.Any()).
		Return(true, nil)
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, token *models.RefreshToken) error {
			newSaved = token
			return nil
		})

	res, err := svc.RefreshSession(ctx, plain)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeAuthenticated, res.Outcome)
	require.NotEmpty(t, res.TokenPair.AccessToken)
	require.NotEqual(t, plain, res.TokenPair.RefreshToken)

	require.NotNil(t, newSaved)
	require.Equal(t, acc.ID, newSaved.AccountID)
	// В хранилище — хэш нового секрета, не plaintext.
	require.Equal(t, hashSecret(res.TokenPair.RefreshToken), newSaved.TokenHash)
	require.NotEqual(t, oldHash, newSaved.TokenHash)
}

func TestRefreshSession_EmptyAndUnknownSecret(t *testing.T) {
	t.Parallel()

	svc, st, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	ctx := context.Background()

	_, err := svc.RefreshSession(ctx, "")
	require.ErrorIs(t, err, ErrInvalidSession)

	st.EXPECT().RefreshTokenByHash(gomock.Any(), gomock.Any()).
		Return(nil, storage.ErrNotFound)
	_, err = svc.RefreshSession(ctx, "unknown-secret")
	require.ErrorIs(t, err, ErrInvalidSession)
}

func TestRefreshSession_Expired(t *testing.T) {
	t.Parallel()

	svc, st, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	ctx := context.Background()
	plain := "expired-secret"
	now := time.Now().UTC()

	token := &models.RefreshToken{
		TokenHash: hashSecret(plain),
		AccountID: "a1",
		ExpiresAt: now.Add(-time.Minute),
	}

	// Просроченный токен — обычный "войдите заново", breach response
	// не запускается даже если токен заодно отозван.
	revokedAt := now.Add(-time.Hour)
	token.RevokedAt = &revokedAt

	st.EXPECT().RefreshTokenByHash(gomock.Any(), token.TokenHash).Return(token, nil)

	_, err := svc.RefreshSession(ctx, plain)
	require.ErrorIs(t, err, ErrInvalidSession)
}

func TestRefreshSession_Replay_TriggersBreachResponse(t *testing.T) {
	t.Parallel()

	svc, st, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	ctx := context.Background()
	plain := "stolen-secret"
	now := time.Now().UTC()
	revokedAt := now.Add(-time.Minute)

	token := &models.RefreshToken{
		TokenHash: hashSecret(plain),
		AccountID: "a1",
		ExpiresAt: now.Add(time.Hour),
		RevokedAt: &revokedAt,
	}

	st.EXPECT().RefreshTokenByHash(gomock.Any(), token.TokenHash).Return(token, nil)
	st.EXPECT().RevokeAllForAccount(gomock.Any(), "a1", gomock.Any()).Return(int64(3), nil)

	_, err := svc.RefreshSession(ctx, plain)
	require.ErrorIs(t, err, ErrSessionInvalidated)
}

func TestRefreshSession_LostCASRace_TreatedAsReplay(t *testing.T) {
	t.Parallel()

	svc, st, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	ctx := context.Background()
	acc := testAccount()
	plain := "contended-secret"
	hash := hashSecret(plain)
	now := time.Now().UTC()

	token := &models.RefreshToken{
		TokenHash: hash,
		AccountID: acc.ID,
		ExpiresAt: now.Add(time.Hour),
	}

	// Между чтением и CAS-ом секрет успел ротировать конкурент:
	// CAS возвращает (false, nil), проигравший получает breach response.
	st.EXPECT().RefreshTokenByHash(gomock.Any(), hash).Return(token, nil)
	st.EXPECT().AccountByID(gomock.Any(), acc.ID).Return(acc, nil)
	st.EXPECT().RevokeRefreshTokenIfActive(gomock.Any(), hash, gomock.Any(), gomock.Any()).
		Return(false, nil)
	st.EXPECT().RevokeAllForAccount(gomock.Any(), acc.ID, gomock.Any()).Return(int64(2), nil)

	_, err := svc.RefreshSession(ctx, plain)
	require.ErrorIs(t, err, ErrSessionInvalidated)
}

func TestRefreshSession_BreachResponseFailureIsNotHidden(t *testing.T) {
	t.Parallel()

	svc, st, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	ctx := context.Background()
	plain := "stolen-secret"
	now := time.Now().UTC()
	revokedAt := now.Add(-time.Minute)

	token := &models.RefreshToken{
		TokenHash: hashSecret(plain),
		AccountID: "a1",
		ExpiresAt: now.Add(time.Hour),
		RevokedAt: &revokedAt,
	}

	dbErr := errors.New("db down")
	st.EXPECT().RefreshTokenByHash(gomock.Any(), token.TokenHash).Return(token, nil)
	st.EXPECT().RevokeAllForAccount(gomock.Any(), "a1", gomock.Any()).Return(int64(0), dbErr)

	// Частичный отзыв нельзя выдавать за выполненный breach response.
	_, err := svc.RefreshSession(ctx, plain)
	require.ErrorIs(t, err, dbErr)
	require.NotErrorIs(t, err, ErrSessionInvalidated)
}

func TestGenerateRefreshToken_RetriesOnCollision(t *testing.T) {
	t.Parallel()

	svc, st, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	ctx := context.Background()

	// Первая вставка сталкивается по хэшу, вторая проходит.
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(storage.ErrAlreadyExists)
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)

	plain, expiresAt, err := svc.generateRefreshToken(ctx, "a1")
	require.NoError(t, err)
	require.NotEmpty(t, plain)
	require.True(t, expiresAt.After(time.Now().UTC()))
}

func TestGenerateRefreshToken_CollisionBudgetExhausted(t *testing.T) {
	t.Parallel()

	svc, st, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	ctx := context.Background()

	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).
		Return(storage.ErrAlreadyExists).Times(5)

	_, _, err := svc.generateRefreshToken(ctx, "a1")
	require.ErrorIs(t, err, ErrRefreshTokenCollision)
}

// stubRevokedCache — управляемый кэш для тестов быстрых отказов.
type stubRevokedCache struct {
	entry     *cache.RevokedEntry
	marked    *cache.RevokedEntry
	markedTTL time.Duration
}

func (c *stubRevokedCache) Get(_ context.Context, _ string) (*cache.RevokedEntry, bool, error) {
	if c.entry == nil {
		return nil, false, nil
	}
	return c.entry, true, nil
}

func (c *stubRevokedCache) MarkRevoked(_ context.Context, _ string, e *cache.RevokedEntry, ttl time.Duration) error {
	c.marked = e
	c.markedTTL = ttl
	return nil
}

func (c *stubRevokedCache) Close() error { return nil }

func TestRefreshSession_CacheHit_ExpiredTokenIsInvalidSession(t *testing.T) {
	t.Parallel()

	svc, _, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	now := time.Now().UTC()

	// Кэш помнит отзыв дольше, чем жил сам токен. Просроченный секрет —
	// обычный "войдите заново": ни replay, ни breach response.
	// Отсутствие ожиданий на сторадже гарантирует, что RevokeAllForAccount
	// не вызывался.
	svc.SetRevokedCache(&stubRevokedCache{entry: &cache.RevokedEntry{
		AccountID: "a1",
		RevokedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}})

	_, err := svc.RefreshSession(context.Background(), "long-dead-secret")
	require.ErrorIs(t, err, ErrInvalidSession)
	require.NotErrorIs(t, err, ErrSessionInvalidated)
}

func TestRefreshSession_CacheHit_LiveTokenIsReplay(t *testing.T) {
	t.Parallel()

	svc, st, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	now := time.Now().UTC()

	svc.SetRevokedCache(&stubRevokedCache{entry: &cache.RevokedEntry{
		AccountID: "a1",
		RevokedAt: now.Add(-time.Minute),
		ExpiresAt: now.Add(time.Hour),
	}})

	st.EXPECT().RevokeAllForAccount(gomock.Any(), "a1", gomock.Any()).Return(int64(2), nil)

	_, err := svc.RefreshSession(context.Background(), "stolen-secret")
	require.ErrorIs(t, err, ErrSessionInvalidated)
}

func TestRefreshSession_CacheTTLCappedAtTokenLifetime(t *testing.T) {
	t.Parallel()

	svc, st, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	rc := &stubRevokedCache{}
	svc.SetRevokedCache(rc)

	ctx := context.Background()
	acc := testAccount()
	plain := "old-refresh-secret"
	oldHash := hashSecret(plain)
	now := time.Now().UTC()

	// Токену осталось жить час при 24-часовом RefreshTokenTTL:
	// запись в кэше не должна пережить сам токен.
	old := &models.RefreshToken{
		TokenHash: oldHash,
		AccountID: acc.ID,
		CreatedAt: now.Add(-23 * time.Hour),
		ExpiresAt: now.Add(time.Hour),
	}

	st.EXPECT().RefreshTokenByHash(gomock.Any(), oldHash).Return(old, nil)
	st.EXPECT().AccountByID(gomock.Any(), acc.ID).Return(acc, nil)
	st.EXPECT().RevokeRefreshTokenIfActive(gomock.Any(), oldHash, gomock.Any(), gomock.Any()).
		Return(true, nil)
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)

	_, err := svc.RefreshSession(ctx, plain)
	require.NoError(t, err)

	require.NotNil(t, rc.marked)
	require.True(t, old.ExpiresAt.Equal(rc.marked.ExpiresAt))
	require.Greater(t, rc.markedTTL, time.Duration(0))
	require.LessOrEqual(t, rc.markedTTL, time.Hour)
}

// fakeTokenStore — хранилище в памяти с честной CAS-семантикой для
// сквозных тестов ротации; аккаунтная часть минимальна.
type fakeTokenStore struct {
	mu      sync.Mutex
	account *models.Account
	tokens  map[string]*models.RefreshToken
}

func newFakeTokenStore(account *models.Account) *fakeTokenStore {
	return &fakeTokenStore{
		account: account,
		tokens:  make(map[string]*models.RefreshToken),
	}
}

func (f *fakeTokenStore) SaveAccount(_ context.Context, _ *models.Account) error { return nil }

func (f *fakeTokenStore) AccountByID(_ context.Context, id string) (*models.Account, error) {
	if f.account != nil && f.account.ID == id {
		return f.account, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeTokenStore) AccountByEmail(_ context.Context, _ string) (*models.Account, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeTokenStore) AccountByProviderID(_ context.Context, _ string) (*models.Account, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeTokenStore) EstablishPassword(_ context.Context, _, _, _ string, _ time.Time) (*models.Account, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeTokenStore) SaveRefreshToken(_ context.Context, token *models.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.tokens[token.TokenHash]; ok {
		return storage.ErrAlreadyExists
	}

	cp := *token
	f.tokens[token.TokenHash] = &cp
	return nil
}

func (f *fakeTokenStore) RefreshTokenByHash(_ context.Context, hash string) (*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	token, ok := f.tokens[hash]
	if !ok {
		return nil, storage.ErrNotFound
	}

	cp := *token
	return &cp, nil
}

func (f *fakeTokenStore) RevokeRefreshTokenIfActive(_ context.Context, hash, replacedBy string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	token, ok := f.tokens[hash]
	if !ok {
		return false, storage.ErrNotFound
	}
	if token.RevokedAt != nil {
		return false, nil
	}

	at := now
	token.RevokedAt = &at
	token.ReplacedByHash = replacedBy
	return true, nil
}

func (f *fakeTokenStore) RevokeAllForAccount(_ context.Context, accountID string, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var count int64
	for _, token := range f.tokens {
		if token.AccountID == accountID && token.RevokedAt == nil {
			at := now
			token.RevokedAt = &at
			count++
		}
	}
	return count, nil
}

func (f *fakeTokenStore) DeleteExpiredTokens(_ context.Context, _ time.Time) error { return nil }

func (f *fakeTokenStore) Close(_ context.Context) error { return nil }

func TestRefreshSession_ReplayCascadeKillsRotatedSuccessor(t *testing.T) {
	t.Parallel()

	acc := testAccount()
	fs := newFakeTokenStore(acc)
	svc := New(fs, nil, testCfg())

	ctx := context.Background()
	now := time.Now().UTC()

	s1 := "device-1-secret"
	require.NoError(t, fs.SaveRefreshToken(ctx, &models.RefreshToken{
		TokenHash: hashSecret(s1),
		AccountID: acc.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}))

	// Ротация s1 -> s2.
	res, err := svc.RefreshSession(ctx, s1)
	require.NoError(t, err)
	s2 := res.TokenPair.RefreshToken
	require.NotEqual(t, s1, s2)

	// Повтор s1 — replay: breach response отзывает все живые сессии.
	_, err = svc.RefreshSession(ctx, s1)
	require.ErrorIs(t, err, ErrSessionInvalidated)

	// Каскад убил и только что выданный s2: дальше только полный вход.
	_, err = svc.RefreshSession(ctx, s2)
	require.ErrorIs(t, err, ErrSessionInvalidated)
}
