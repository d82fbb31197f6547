package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"crmsync/internal/adapters/provider"
)

// AttendeeChat is one discovered chat for a resolved attendee together
// with its raw messages.
type AttendeeChat struct {
	AttendeeID string
	ProviderID string
	ChatID     string
	RawChat    provider.RawItem
	Messages   []provider.RawItem
}

// MessageFetcher retrieves historical messaging-channel conversations:
// per-attendee chat discovery, then per-chat message pagination.
type MessageFetcher struct {
	api       provider.API
	batchSize int
	pageCap   int
}

// NewMessageFetcher creates a MessageFetcher. pageCap bounds every
// pagination loop.
func NewMessageFetcher(api provider.API, pageCap int) (*MessageFetcher, error) {
	if api == nil {
		return nil, fmt.Errorf("provider API cannot be nil for MessageFetcher")
	}
	if pageCap <= 0 {
		pageCap = 100
	}
	return &MessageFetcher{api: api, batchSize: 100, pageCap: pageCap}, nil
}

// Fetch discovers the chats of each resolved attendee and fetches their
// messages. daysBack=0 and maxMessages=0 both mean unbounded history.
// A failing attendee or chat is logged and skipped, never fatal.
func (f *MessageFetcher) Fetch(ctx context.Context, attendees map[string]ResolvedAttendee, accountID string, daysBack, maxMessages int) ([]AttendeeChat, error) {
	var since *time.Time
	if daysBack > 0 {
		t := time.Now().UTC().AddDate(0, 0, -daysBack)
		since = &t
	}

	var chats []AttendeeChat
	total := 0

	for _, attendee := range attendees {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		discovered := f.discoverChats(ctx, attendee, accountID)

		for _, chat := range discovered {
			messages := f.fetchChatMessages(ctx, chat.ChatID, since, maxMessages, &total)
			chat.Messages = messages
			chats = append(chats, chat)
			if maxMessages > 0 && total >= maxMessages {
				log.Info().Str("accountID", accountID).Int("maxMessages", maxMessages).Msg("Message fetch reached the message limit")
				return chats, nil
			}
		}
	}

	log.Info().
		Str("accountID", accountID).
		Int("attendees", len(attendees)).
		Int("chats", len(chats)).
		Int("messages", total).
		Msg("Messaging fetch completed")
	return chats, nil
}

func (f *MessageFetcher) discoverChats(ctx context.Context, attendee ResolvedAttendee, accountID string) []AttendeeChat {
	var discovered []AttendeeChat
	cursor := ""

	for page := 0; page < f.pageCap; page++ {
		result, err := f.api.GetChatsFromAttendee(ctx, attendee.AttendeeID, accountID, cursor, f.batchSize)
		if err != nil {
			log.Error().Err(err).Str("attendeeID", attendee.AttendeeID).Msg("Chat discovery failed for attendee, skipping")
			return discovered
		}
		if result == nil || len(result.Items) == 0 {
			return discovered
		}

		for _, raw := range result.Items {
			chatID := raw.Str("id")
			if chatID == "" {
				log.Debug().Str("attendeeID", attendee.AttendeeID).Msg("Chat item without ID, skipping")
				continue
			}
			discovered = append(discovered, AttendeeChat{
				AttendeeID: attendee.AttendeeID,
				ProviderID: attendee.ProviderID,
				ChatID:     chatID,
				RawChat:    raw,
			})
		}

		if result.Cursor == "" {
			return discovered
		}
		cursor = result.Cursor
	}

	log.Warn().Str("attendeeID", attendee.AttendeeID).Int("pageCap", f.pageCap).Msg("Chat discovery hit the page safety cap")
	return discovered
}

func (f *MessageFetcher) fetchChatMessages(ctx context.Context, chatID string, since *time.Time, maxMessages int, total *int) []provider.RawItem {
	var collected []provider.RawItem
	cursor := ""

	for page := 0; page < f.pageCap; page++ {
		if err := ctx.Err(); err != nil {
			log.Warn().Err(err).Str("chatID", chatID).Msg("Message fetch cancelled between pages")
			return collected
		}

		result, err := f.api.GetAllMessages(ctx, chatID, cursor, f.batchSize, since)
		if err != nil {
			log.Error().Err(err).Str("chatID", chatID).Msg("Message page fetch failed, treating chat as exhausted")
			return collected
		}
		if result == nil || len(result.Items) == 0 {
			return collected
		}

		collected = append(collected, result.Items...)
		*total += len(result.Items)
		if maxMessages > 0 && *total >= maxMessages {
			return collected
		}

		if result.Cursor == "" || !result.HasMore {
			return collected
		}
		cursor = result.Cursor
	}

	log.Warn().Str("chatID", chatID).Int("pageCap", f.pageCap).Msg("Message fetch hit the page safety cap")
	return collected
}
