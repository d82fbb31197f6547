package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWhatsAppProviderID(t *testing.T) {
	tests := []struct {
		name  string
		phone string
		want  string
	}{
		{"formatted US number", "+1 (555) 123-4567", "15551234567@s.whatsapp.net"},
		{"bare ten digits padded", "5551234567", "15551234567@s.whatsapp.net"},
		{"international with country code", "+49 170 1234567", "491701234567@s.whatsapp.net"},
		{"too few digits", "12345", ""},
		{"empty", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, WhatsAppProviderID(tc.phone))
		})
	}
}

func TestTelegramProviderID(t *testing.T) {
	assert.Equal(t, "janedoe@telegram", TelegramProviderID("@JaneDoe"))
	assert.Equal(t, "janedoe@telegram", TelegramProviderID("janedoe"))
	assert.Equal(t, "", TelegramProviderID("  @ "))
}

func TestInstagramProviderID(t *testing.T) {
	assert.Equal(t, "acme.co@instagram", InstagramProviderID("@Acme.Co"))
	assert.Equal(t, "", InstagramProviderID(""))
}

func TestIsFreeMailDomain(t *testing.T) {
	assert.True(t, IsFreeMailDomain("gmail.com"))
	assert.True(t, IsFreeMailDomain("Outlook.com"))
	assert.False(t, IsFreeMailDomain("acme.com"))
}

func TestTruncateError(t *testing.T) {
	assert.Equal(t, "short", truncateError("short", 10))
	assert.Equal(t, "abcde...", truncateError("abcdefgh", 5))
}
