package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"crmsync/internal/adapters/provider"
)

// EmailThread is one provider thread reassembled from an address-filtered
// search. Because the provider API only exposes message search, not
// thread-complete queries, a thread may be partial: messages of the same
// thread that involve none of the queried addresses are not returned.
// This is a known limitation of the broad-fetch strategy, not an error.
type EmailThread struct {
	ThreadID string
	Messages []provider.RawItem
}

// EmailFetcher retrieves historical email for a set of addresses and
// groups the results by thread.
type EmailFetcher struct {
	api       provider.API
	batchSize int
	pageCap   int
}

// NewEmailFetcher creates an EmailFetcher. pageCap bounds pagination per
// address so an unbounded history fetch cannot loop forever.
func NewEmailFetcher(api provider.API, pageCap int) (*EmailFetcher, error) {
	if api == nil {
		return nil, fmt.Errorf("provider API cannot be nil for EmailFetcher")
	}
	if pageCap <= 0 {
		pageCap = 100
	}
	return &EmailFetcher{api: api, batchSize: 100, pageCap: pageCap}, nil
}

// Fetch searches the account for messages involving any of the given
// addresses (to/from/cc/bcc) and groups them by thread_id. daysBack=0 and
// maxMessages=0 both mean unbounded. Malformed or empty provider pages
// are treated as zero results for that address.
func (f *EmailFetcher) Fetch(ctx context.Context, addresses []string, accountID string, daysBack, maxMessages int) ([]EmailThread, error) {
	var cutoff *time.Time
	if daysBack > 0 {
		t := time.Now().UTC().AddDate(0, 0, -daysBack)
		cutoff = &t
	}

	threads := make(map[string][]provider.RawItem)
	threadOrder := make([]string, 0)
	seenMessages := make(map[string]bool)
	total := 0

	for _, address := range addresses {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fetched := f.fetchAddress(ctx, address, accountID, cutoff, maxMessages, &total)
		for _, raw := range fetched {
			messageID := raw.Str("id")
			if messageID != "" && seenMessages[messageID] {
				continue
			}
			if messageID != "" {
				seenMessages[messageID] = true
			}

			threadID := raw.Str("thread_id")
			if threadID == "" {
				// No thread grouping available; the message stands alone.
				threadID = "msg:" + messageID
			}
			if _, exists := threads[threadID]; !exists {
				threadOrder = append(threadOrder, threadID)
			}
			threads[threadID] = append(threads[threadID], raw)
		}
		if maxMessages > 0 && total >= maxMessages {
			break
		}
	}

	result := make([]EmailThread, 0, len(threadOrder))
	for _, threadID := range threadOrder {
		result = append(result, EmailThread{ThreadID: threadID, Messages: threads[threadID]})
	}

	log.Info().
		Str("accountID", accountID).
		Int("addresses", len(addresses)).
		Int("threads", len(result)).
		Int("messages", total).
		Msg("Email fetch completed")
	return result, nil
}

func (f *EmailFetcher) fetchAddress(ctx context.Context, address, accountID string, cutoff *time.Time, maxMessages int, total *int) []provider.RawItem {
	var collected []provider.RawItem
	cursor := ""

	for page := 0; page < f.pageCap; page++ {
		if err := ctx.Err(); err != nil {
			log.Warn().Err(err).Str("address", address).Msg("Email fetch cancelled between pages")
			return collected
		}

		result, err := f.api.GetEmails(ctx, accountID, address, cursor, f.batchSize, "")
		if err != nil {
			log.Error().Err(err).Str("address", address).Str("accountID", accountID).Msg("Email page fetch failed, treating address as exhausted")
			return collected
		}
		if result == nil || len(result.Items) == 0 {
			return collected
		}

		for _, raw := range result.Items {
			if cutoff != nil {
				sentAt := parseTimestamp(raw["date"])
				if sentAt != nil && sentAt.Before(*cutoff) {
					continue
				}
			}
			collected = append(collected, raw)
			*total++
			if maxMessages > 0 && *total >= maxMessages {
				return collected
			}
		}

		if result.Cursor == "" {
			return collected
		}
		cursor = result.Cursor
	}

	log.Warn().Str("address", address).Int("pageCap", f.pageCap).Msg("Email fetch hit the page safety cap")
	return collected
}
