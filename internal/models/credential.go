package models

// Credential — sum-тип предъявляемого при входе удостоверения.
//
// Ровно две реализации: LocalSecret (пароль) и ProviderToken (токен
// legacy-провайдера). Оркестратор входа делает исчерпывающий type switch,
// поэтому добавление третьего источника идентичности — изменение,
// проверяемое компилятором, а не новый if.
type Credential interface {
	credential()
}

// LocalSecret — локальный пароль.
type LocalSecret struct {
	Secret string
}

// ProviderToken — токен legacy-провайдера идентичности.
type ProviderToken struct {
	Token string
}

func (LocalSecret) credential()   {}
func (ProviderToken) credential() {}
