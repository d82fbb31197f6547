package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"crmsync/internal/models"
)

func TestEnrichMessagesOwnerDetection(t *testing.T) {
	owner := OwnerIdentity{ProviderID: "owner@s.whatsapp.net", DisplayName: "Me"}
	messages := []MessageData{
		{ExternalMessageID: "m1", Direction: models.DirectionInbound, SenderProviderID: "owner@s.whatsapp.net"},
	}

	enriched := EnrichMessages(messages, models.ChannelWhatsApp, owner, nil)
	assert.True(t, enriched[0].IsAccountOwner)
	assert.Equal(t, models.DirectionOutbound, enriched[0].Direction)
	assert.Equal(t, "Me", enriched[0].SenderName)
}

func TestEnrichMessagesCounterpartNameByPhone(t *testing.T) {
	attendees := map[string]ResolvedAttendee{
		"15551234567@s.whatsapp.net": {
			AttendeeID: "att-1",
			ProviderID: "15551234567@s.whatsapp.net",
			Name:       "Jane Doe",
			Identifier: "15551234567",
		},
	}
	info := BuildAttendeeInfoMap(attendees)

	messages := []MessageData{
		{ExternalMessageID: "m1", Direction: models.DirectionInbound, SenderPhone: "15551234567"},
	}
	enriched := EnrichMessages(messages, models.ChannelWhatsApp, OwnerIdentity{}, info)
	assert.Equal(t, "Jane Doe", enriched[0].SenderName)
}

func TestEnrichMessagesMissedLookupKeepsEmptyName(t *testing.T) {
	messages := []MessageData{
		{ExternalMessageID: "m1", Direction: models.DirectionInbound, SenderProviderID: "unknown@s.whatsapp.net"},
	}
	enriched := EnrichMessages(messages, models.ChannelWhatsApp, OwnerIdentity{ProviderID: "owner"}, map[string]AttendeeInfo{})
	assert.Equal(t, "", enriched[0].SenderName)
	assert.Equal(t, models.DirectionInbound, enriched[0].Direction)
}
