package internal

import "strings"

// IdentifierKind classifies a login identifier into the credential column it
// should be matched against.
type IdentifierKind int

const (
	KindUsername IdentifierKind = iota
	KindEmail
	KindPhone
)

// NormalizeEmail case-folds and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone strips whitespace and common separators from a phone
// number. No country-code inference is attempted; the caller's identifier is
// canonical apart from formatting noise.
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for i := 0; i < len(phone); i++ {
		switch phone[i] {
		case ' ', '\t', '-', '(', ')':
		default:
			b.WriteByte(phone[i])
		}
	}
	return b.String()
}

// NormalizeIdentifier normalizes per channel: email is case-folded, phone is
// stripped of formatting.
func NormalizeIdentifier(channel, identifier string) string {
	switch channel {
	case "email":
		return NormalizeEmail(identifier)
	case "phone":
		return NormalizePhone(identifier)
	default:
		return strings.TrimSpace(identifier)
	}
}

// ClassifyIdentifier guesses which credential fields a free-form login
// identifier may match. Email shape wins over phone shape; anything may still
// be a username, so KindUsername is always a candidate.
func ClassifyIdentifier(identifier string) []IdentifierKind {
	trimmed := strings.TrimSpace(identifier)
	if strings.ContainsRune(trimmed, '@') {
		return []IdentifierKind{KindEmail, KindUsername}
	}
	if looksLikePhone(trimmed) {
		return []IdentifierKind{KindPhone, KindUsername}
	}
	return []IdentifierKind{KindUsername}
}

func looksLikePhone(v string) bool {
	if v == "" {
		return false
	}
	start := 0
	if v[0] == '+' {
		start = 1
	}
	digits := 0
	for i := start; i < len(v); i++ {
		switch {
		case v[i] >= '0' && v[i] <= '9':
			digits++
		case v[i] == ' ' || v[i] == '-' || v[i] == '(' || v[i] == ')':
		default:
			return false
		}
	}
	return digits >= 7
}
