// Package validation содержит функции валидации входных данных.
package validation

import (
	"crypto/rand"
	"strings"
)

// Алфавит без визуально похожих символов (0/O, 1/I/L).
const inviteAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// InviteCodeLength задаёт длину генерируемых инвайт-кодов.
const InviteCodeLength = 10

// GenerateInviteCode возвращает новый случайный инвайт-код группы.
func GenerateInviteCode() (string, error) {
	buf := make([]byte, InviteCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	var b strings.Builder
	b.Grow(InviteCodeLength)
	for _, c := range buf {
		b.WriteByte(inviteAlphabet[int(c)%len(inviteAlphabet)])
	}

	return b.String(), nil
}

// NormalizeInviteCode приводит код к каноническому виду для поиска.
func NormalizeInviteCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidInviteCode проверяет, что строка имеет формат инвайт-кода.
func IsValidInviteCode(code string) bool {
	if len(code) != InviteCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(inviteAlphabet, rune(code[i])) {
			return false
		}
	}
	return true
}
