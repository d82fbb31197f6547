package services

import "strings"

// Find reports whether val is present in slice.
func Find(slice []string, val string) bool {
	for _, item := range slice {
		if item == val {
			return true
		}
	}
	return false
}

// digitsOnly strips every non-digit rune from s.
func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// truncateError bounds an error message so failed jobs do not grow the
// jobs table without limit.
func truncateError(msg string, max int) string {
	if len(msg) <= max {
		return msg
	}
	return msg[:max] + "..."
}

// freeMailDomains are consumer mail providers whose domains never
// identify a company.
var freeMailDomains = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
	"yahoo.com":      true,
	"hotmail.com":    true,
	"outlook.com":    true,
	"live.com":       true,
	"icloud.com":     true,
	"aol.com":        true,
	"gmx.com":        true,
	"protonmail.com": true,
	"proton.me":      true,
}

// IsFreeMailDomain reports whether domain belongs to a consumer mail
// provider.
func IsFreeMailDomain(domain string) bool {
	return freeMailDomains[strings.ToLower(domain)]
}
