package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mshuraleva/go-wallet-backend/internal/config"
	"github.com/mshuraleva/go-wallet-backend/internal/models"
	"github.com/mshuraleva/go-wallet-backend/internal/service"
	"github.com/mshuraleva/go-wallet-backend/mocks"
)

func newAuthService(t *testing.T) (*service.Service, *mocks.MockStorage) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	st := mocks.NewMockStorage(ctrl)
	svc := service.New(st, mocks.NewMockVerifier(ctrl), config.AuthConfig{
		JWTSecret:       "unit-test-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
		MinPasswordLen:  8,
		BcryptCost:      bcrypt.MinCost,
		Issuer:          "wallet-auth",
		Audience:        []string{"wallet-api"},
	})
	return svc, st
}

// issueAccessToken получает валидный access-токен через публичный вход.
func issueAccessToken(t *testing.T, svc *service.Service, st *mocks.MockStorage) string {
	t.Helper()

	pw := "Abcdef1!"
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	require.NoError(t, err)

	acc := &models.Account{ID: "a1", Email: "user@example.com", PasswordHash: string(hash), Role: "user"}
	st.EXPECT().AccountByEmail(gomock.Any(), acc.Email).Return(acc, nil)
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)

	res, err := svc.Login(httptest.NewRequest(http.MethodPost, "/", nil).Context(),
		acc.Email, models.LocalSecret{Secret: pw})
	require.NoError(t, err)
	return res.TokenPair.AccessToken
}

func TestAuthBearer_OK(t *testing.T) {
	t.Parallel()

	svc, st := newAuthService(t)
	token := issueAccessToken(t, svc, st)

	var claims *service.AccessClaims
	h := AuthBearer(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _ = ClaimsFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/wallet", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, claims)
	require.Equal(t, "a1", claims.AccountID)
	require.Equal(t, "user@example.com", claims.Email)
}

func TestAuthBearer_Rejections(t *testing.T) {
	t.Parallel()

	svc, _ := newAuthService(t)

	h := AuthBearer(svc)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not be reached")
	}))

	cases := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"not bearer", "Basic dXNlcjpwdw=="},
		{"empty token", "Bearer "},
		{"garbage token", "Bearer not-a-jwt"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/wallet", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}
