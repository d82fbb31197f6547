package services

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"crmsync/internal/adapters/provider"
	"crmsync/internal/models"
)

// ResolvedAttendee is a provider-side contact object matched to one of a
// record's identifiers.
type ResolvedAttendee struct {
	AttendeeID string
	ProviderID string
	Name       string
	Identifier string
	Metadata   map[string]interface{}
}

// NewResolutionCache creates the in-memory cache that deduplicates
// resolution calls within one sync run. The cache is scoped to the run
// and passed explicitly, never kept as ambient state.
func NewResolutionCache() *gocache.Cache {
	return gocache.New(10*time.Minute, 15*time.Minute)
}

// channelStrategy resolves one channel's identifiers into attendees. The
// steps genuinely differ per channel (direct address construction vs a
// two-step profile lookup), so each channel gets its own implementation.
type channelStrategy interface {
	resolve(ctx context.Context, identifiers *IdentifierSet, accountID string, runCache *gocache.Cache) map[string]ResolvedAttendee
}

// AttendeeResolver maps a record's identifiers to provider attendee
// objects for a channel.
type AttendeeResolver struct {
	strategies map[models.ChannelType]channelStrategy
}

// NewAttendeeResolver creates an AttendeeResolver backed by the provider
// API.
func NewAttendeeResolver(api provider.API) (*AttendeeResolver, error) {
	if api == nil {
		return nil, fmt.Errorf("provider API cannot be nil for AttendeeResolver")
	}
	return &AttendeeResolver{
		strategies: map[models.ChannelType]channelStrategy{
			models.ChannelWhatsApp:  directAddressStrategy{build: WhatsAppProviderID, source: pickPhones},
			models.ChannelTelegram:  directAddressStrategy{build: TelegramProviderID, source: pickHandles},
			models.ChannelInstagram: directAddressStrategy{build: InstagramProviderID, source: pickHandles},
			models.ChannelLinkedIn:  profileLookupStrategy{api: api},
		},
	}, nil
}

// Resolve maps identifiers to attendees for the given channel, keyed by
// provider ID. Failures for a single identifier are logged and skipped;
// they never abort resolution of the remaining identifiers.
func (r *AttendeeResolver) Resolve(ctx context.Context, identifiers *IdentifierSet, channelType models.ChannelType, accountID string, runCache *gocache.Cache) (map[string]ResolvedAttendee, error) {
	if identifiers == nil || identifiers.IsEmpty() {
		return map[string]ResolvedAttendee{}, nil
	}
	strategy, ok := r.strategies[channelType]
	if !ok {
		return nil, fmt.Errorf("no resolution strategy for channel type %s", channelType)
	}
	if runCache == nil {
		runCache = NewResolutionCache()
	}
	return strategy.resolve(ctx, identifiers, accountID, runCache), nil
}

func pickPhones(s *IdentifierSet) []string  { return s.Phone }
func pickHandles(s *IdentifierSet) []string { return s.Other }

// directAddressStrategy builds provider addresses straight from
// identifiers, with no network call. Used for WhatsApp, Telegram and
// Instagram.
type directAddressStrategy struct {
	build  func(string) string
	source func(*IdentifierSet) []string
}

func (s directAddressStrategy) resolve(_ context.Context, identifiers *IdentifierSet, _ string, runCache *gocache.Cache) map[string]ResolvedAttendee {
	resolved := make(map[string]ResolvedAttendee)
	for _, identifier := range s.source(identifiers) {
		cacheKey := "direct:" + identifier
		if cached, found := runCache.Get(cacheKey); found {
			attendee := cached.(ResolvedAttendee)
			resolved[attendee.ProviderID] = attendee
			continue
		}

		providerID := s.build(identifier)
		if providerID == "" {
			log.Debug().Str("identifier", identifier).Msg("Identifier yields no provider address, skipping")
			continue
		}
		attendee := ResolvedAttendee{
			AttendeeID: providerID,
			ProviderID: providerID,
			Identifier: identifier,
		}
		runCache.Set(cacheKey, attendee, gocache.DefaultExpiration)
		resolved[providerID] = attendee
	}
	return resolved
}

// profileLookupStrategy is the two-step LinkedIn flow: the identifier is
// a username, unusable as an address until a profile lookup yields the
// provider ID.
type profileLookupStrategy struct {
	api provider.API
}

func (s profileLookupStrategy) resolve(ctx context.Context, identifiers *IdentifierSet, accountID string, runCache *gocache.Cache) map[string]ResolvedAttendee {
	resolved := make(map[string]ResolvedAttendee)
	for _, username := range identifiers.LinkedIn {
		cacheKey := string(models.ChannelLinkedIn) + ":" + username
		if cached, found := runCache.Get(cacheKey); found {
			attendee := cached.(ResolvedAttendee)
			resolved[attendee.ProviderID] = attendee
			continue
		}

		profile, err := s.api.GetUserProfile(ctx, username, accountID)
		if err != nil {
			// A missing profile is non-fatal; the remaining identifiers
			// still resolve.
			log.Warn().Err(err).Str("username", username).Msg("LinkedIn profile lookup failed, skipping identifier")
			continue
		}
		if profile == nil || profile.ProviderID == "" {
			log.Warn().Str("username", username).Msg("LinkedIn profile lookup returned no provider ID, skipping identifier")
			continue
		}

		attendee := ResolvedAttendee{
			AttendeeID: profile.ProviderID,
			ProviderID: profile.ProviderID,
			Name:       profile.Name,
			Identifier: username,
			Metadata:   map[string]interface{}{"headline": profile.Headline},
		}
		runCache.Set(cacheKey, attendee, gocache.DefaultExpiration)
		resolved[profile.ProviderID] = attendee
	}
	return resolved
}
