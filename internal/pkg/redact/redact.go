// redact — хелперы для безопасного вывода чувствительных значений в логи.
// Refresh-секреты и пароли в логи не попадают никогда, email — в усечённом виде.
package redact

import "strings"

// Email маскирует локальную часть адреса: "ivanov@x.com" -> "iv***@x.com".
func Email(s string) string {
	parts := strings.Split(s, "@")
	if len(parts) != 2 {
		return "***"
	}

	local, domain := parts[0], parts[1]
	if len(local) > 2 {
		local = local[:2] + "***"
	} else {
		local = "***"
	}

	return local + "@" + domain
}

// Token — плейсхолдер вместо любого токена (access/refresh/provider).
func Token() string { return "[REDACTED_TOKEN]" }

// Password — плейсхолдер вместо пароля.
func Password() string { return "[REDACTED_PASSWORD]" }
