package models

import "time"

// RefreshToken - данные refresh-токена для управления сессиями.
//
// Сам секрет нигде не хранится: TokenHash (sha256 → base64url) служит ключом
// поиска. RevokedAt == nil означает "токен жив"; после установки запись не
// мутируется (кроме фоновой очистки просроченных строк). ReplacedByHash
// указывает на токен, выданный при ротации, и образует цепочку ротаций.
type RefreshToken struct {
	TokenHash      string
	AccountID      string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	RevokedAt      *time.Time
	ReplacedByHash string
}

// IsRevoked сообщает, был ли токен отозван.
func (t *RefreshToken) IsRevoked() bool {
	return t != nil && t.RevokedAt != nil
}

// IsExpired сообщает, истёк ли срок действия токена на момент now.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return t != nil && now.After(t.ExpiresAt)
}
