package models

import "time"

// Account - учётная запись пользователя кошелька.
//
// Описание:
//   - ID — непрозрачный идентификатор; для аккаунтов, заведённых через
//     legacy-провайдера, совпадает с subject id провайдера;
//   - PasswordHash — bcrypt-хэш локального пароля; пустая строка означает,
//     что локальный пароль ещё не установлен (аккаунт не мигрирован);
//   - LinkedProviderID — subject id в legacy-провайдере; устанавливается
//     один раз и далее неизменяем;
//   - MigratedAt — момент первой установки локального пароля для
//     legacy-аккаунта; выставляется ровно один раз.
type Account struct {
	ID               string
	Email            string
	PasswordHash     string
	Role             string
	LinkedProviderID string
	MigratedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsLocallyAuthenticable сообщает, установлен ли у аккаунта локальный пароль.
func (a *Account) IsLocallyAuthenticable() bool {
	return a != nil && a.PasswordHash != ""
}

// IsLegacyLinked сообщает, связан ли аккаунт с legacy-провайдером.
func (a *Account) IsLegacyLinked() bool {
	return a != nil && a.LinkedProviderID != ""
}
