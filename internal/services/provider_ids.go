package services

import "strings"

// Provider ID builders convert normalized identifiers into the address
// formats the messaging provider expects. Pure functions, no I/O.

// WhatsAppProviderID converts a phone number into a WhatsApp address.
// Formatting characters are stripped; numbers are assumed to carry a
// country code, except bare 10-digit numbers which get padded with 1.
// Returns "" when too few digits remain.
func WhatsAppProviderID(phone string) string {
	digits := digitsOnly(phone)
	if len(digits) < 7 {
		return ""
	}
	if len(digits) == 10 {
		digits = "1" + digits
	}
	return digits + "@s.whatsapp.net"
}

// TelegramProviderID normalizes a Telegram handle into a provider
// address. A leading @ is dropped.
func TelegramProviderID(handle string) string {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return ""
	}
	return strings.ToLower(handle) + "@telegram"
}

// InstagramProviderID normalizes an Instagram handle into a provider
// address.
func InstagramProviderID(handle string) string {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return ""
	}
	return strings.ToLower(handle) + "@instagram"
}
