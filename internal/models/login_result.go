package models

// LoginOutcome — исход попытки входа.
type LoginOutcome string

const (
	// OutcomeAuthenticated — вход выполнен, выдана пара токенов.
	OutcomeAuthenticated LoginOutcome = "authenticated"
	// OutcomeNeedsMigration — идентичность подтверждена legacy-провайдером,
	// но локальный пароль ещё не установлен; токены не выдаются.
	OutcomeNeedsMigration LoginOutcome = "needs_migration"
)

// LoginResult — результат входа.
//
// При OutcomeNeedsMigration заполнены только SubjectID и Email —
// токены в этом состоянии не выдаются.
type LoginResult struct {
	Outcome   LoginOutcome
	Account   *Account
	TokenPair *TokenPair
	SubjectID string
	Email     string
}

// MigrationStatus — результат проверки статуса миграции legacy-аккаунта.
type MigrationStatus struct {
	NeedsMigration bool
	SubjectID      string
	Email          string
	Account        *Account
}
