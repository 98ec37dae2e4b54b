// provider реализует мост к legacy-провайдеру идентичности.
//
// Провайдер используется как оракул верификации токенов: сервису важен
// только подтверждённый subject id + email. Политика fail-closed — любая
// ошибка оракула (сеть, таймаут, не-2xx, битый ответ) трактуется как
// невалидный токен и никогда как успешная верификация.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrInvalidToken — токен провайдера не прошёл верификацию.
var ErrInvalidToken = errors.New("invalid provider token")

// Identity — подтверждённая провайдером идентичность.
type Identity struct {
	SubjectID string `json:"subject_id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
}

// Verifier проверяет токен legacy-провайдера.
type Verifier interface {
	// VerifyToken возвращает подтверждённую идентичность либо
	// ErrInvalidToken. Другие ошибки наружу не отдаются (fail-closed).
	VerifyToken(ctx context.Context, token string) (*Identity, error)
}

// Client — HTTP-клиент оракула верификации.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient создаёт клиент провайдера с жёстким таймаутом на вызов.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// VerifyToken обменивает токен провайдера на подтверждённую идентичность.
func (c *Client) VerifyToken(ctx context.Context, token string) (*Identity, error) {
	const op = "provider.VerifyToken"

	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/tokens/verify", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Сюда попадают и таймауты: по контракту провайдера таймаут —
		// это неуспешная верификация.
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d: %w", op, resp.StatusCode, ErrInvalidToken)
	}

	var ident Identity
	if err := json.NewDecoder(resp.Body).Decode(&ident); err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	if ident.SubjectID == "" || ident.Email == "" {
		return nil, fmt.Errorf("%s: incomplete identity: %w", op, ErrInvalidToken)
	}

	return &ident, nil
}

var _ Verifier = (*Client)(nil)
