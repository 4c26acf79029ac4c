// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"unicode"
)

const (
	minHandleLen = 3
	maxHandleLen = 20
)

// IsValidHandle проверяет корректность пользовательского идентификатора:
// от 3 до 20 символов, только латинские буквы и цифры, начинается с буквы.
func IsValidHandle(handle string) bool {
	if len(handle) < minHandleLen || len(handle) > maxHandleLen {
		return false
	}

	for i, ch := range handle {
		if i == 0 && !unicode.IsLetter(ch) {
			return false
		}
		if ch > unicode.MaxASCII || (!unicode.IsLetter(ch) && !unicode.IsDigit(ch)) {
			return false
		}
	}

	return true
}

// IsValidEmail выполняет структурную проверку адреса электронной почты.
func IsValidEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	if at <= 0 || at != strings.LastIndexByte(email, '@') {
		return false
	}

	domain := email[at+1:]
	dot := strings.IndexByte(domain, '.')
	if dot <= 0 || dot == len(domain)-1 {
		return false
	}

	return true
}
