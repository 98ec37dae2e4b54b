package models

import "time"

// TokenPair — пара токенов, выдаваемая при аутентификации/регистрации.
//
// Описание:
//   - AccessToken — короткоживущий JWT для доступа к API;
//   - RefreshToken — случайный секрет, который клиент хранит (HTTP-only
//     cookie) и предъявляет для выпуска новой пары; на сервере хранится
//     только его хэш;
//   - AccessExpiresAt/RefreshExpiresAt — моменты истечения (UTC).
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
