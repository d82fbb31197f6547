package provider

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"crmsync/pkg/httputil"
)

// API is the surface of the external messaging provider consumed by the
// sync core. Implementations must tolerate missing keys in responses.
type API interface {
	GetAllAttendees(ctx context.Context, accountID, cursor string, limit int) (*AttendeePage, error)
	GetAttendeesFromChat(ctx context.Context, chatID string, limit int) (*AttendeePage, error)
	GetChatsFromAttendee(ctx context.Context, attendeeID, accountID, cursor string, limit int) (*ChatPage, error)
	GetAllMessages(ctx context.Context, chatID, cursor string, limit int, since *time.Time) (*MessagePage, error)
	GetUserProfile(ctx context.Context, userID, accountID string) (*UserProfile, error)
	GetEmails(ctx context.Context, accountID, anyEmail, cursor string, limit int, folder string) (*EmailPage, error)
}

// Client is the HTTP implementation of API.
type Client struct {
	httpClient *resty.Client
	baseURL    string
}

// NewClient creates a provider client against the given base URL.
func NewClient(baseURL, apiKey string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("provider baseURL cannot be empty")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("provider API key cannot be empty")
	}

	client := httputil.NewDefaultRestyClient().
		SetBaseURL(baseURL).
		SetHeader("X-API-KEY", apiKey)

	log.Info().Str("baseURL", baseURL).Msg("Provider client configured")

	return &Client{httpClient: client, baseURL: baseURL}, nil
}

// GetAllAttendees lists attendees of an account, cursor-paginated.
func (c *Client) GetAllAttendees(ctx context.Context, accountID, cursor string, limit int) (*AttendeePage, error) {
	var page AttendeePage
	req := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("account_id", accountID).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&page)
	if cursor != "" {
		req.SetQueryParam("cursor", cursor)
	}

	resp, err := req.Get("/api/v1/attendees")
	if err != nil {
		return nil, fmt.Errorf("provider GetAllAttendees request failed: %w", err)
	}
	if resp.IsError() {
		log.Error().Str("accountID", accountID).Int("statusCode", resp.StatusCode()).Str("responseBody", string(resp.Body())).Msg("Provider API: GetAllAttendees returned an error")
		return nil, fmt.Errorf("provider GetAllAttendees error: status %s", resp.Status())
	}
	return &page, nil
}

// GetAttendeesFromChat lists the attendees of one chat.
func (c *Client) GetAttendeesFromChat(ctx context.Context, chatID string, limit int) (*AttendeePage, error) {
	var page AttendeePage
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&page).
		Get(fmt.Sprintf("/api/v1/chats/%s/attendees", chatID))
	if err != nil {
		return nil, fmt.Errorf("provider GetAttendeesFromChat request failed: %w", err)
	}
	if resp.IsError() {
		log.Error().Str("chatID", chatID).Int("statusCode", resp.StatusCode()).Str("responseBody", string(resp.Body())).Msg("Provider API: GetAttendeesFromChat returned an error")
		return nil, fmt.Errorf("provider GetAttendeesFromChat error: status %s", resp.Status())
	}
	return &page, nil
}

// GetChatsFromAttendee lists the chats a resolved attendee participates
// in, cursor-paginated.
func (c *Client) GetChatsFromAttendee(ctx context.Context, attendeeID, accountID, cursor string, limit int) (*ChatPage, error) {
	var page ChatPage
	req := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("account_id", accountID).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&page)
	if cursor != "" {
		req.SetQueryParam("cursor", cursor)
	}

	resp, err := req.Get(fmt.Sprintf("/api/v1/attendees/%s/chats", attendeeID))
	if err != nil {
		return nil, fmt.Errorf("provider GetChatsFromAttendee request failed: %w", err)
	}
	if resp.IsError() {
		log.Error().Str("attendeeID", attendeeID).Int("statusCode", resp.StatusCode()).Str("responseBody", string(resp.Body())).Msg("Provider API: GetChatsFromAttendee returned an error")
		return nil, fmt.Errorf("provider GetChatsFromAttendee error: status %s", resp.Status())
	}
	return &page, nil
}

// GetAllMessages lists messages of a chat, newest first, cursor-paginated.
// since limits the window; nil means full history.
func (c *Client) GetAllMessages(ctx context.Context, chatID, cursor string, limit int, since *time.Time) (*MessagePage, error) {
	var page MessagePage
	req := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&page)
	if cursor != "" {
		req.SetQueryParam("cursor", cursor)
	}
	if since != nil {
		req.SetQueryParam("since", since.UTC().Format(time.RFC3339))
	}

	resp, err := req.Get(fmt.Sprintf("/api/v1/chats/%s/messages", chatID))
	if err != nil {
		return nil, fmt.Errorf("provider GetAllMessages request failed: %w", err)
	}
	if resp.IsError() {
		log.Error().Str("chatID", chatID).Int("statusCode", resp.StatusCode()).Str("responseBody", string(resp.Body())).Msg("Provider API: GetAllMessages returned an error")
		return nil, fmt.Errorf("provider GetAllMessages error: status %s", resp.Status())
	}
	return &page, nil
}

// GetUserProfile looks up a provider user profile, e.g. a LinkedIn
// username. The returned ProviderID keys subsequent chat lookups.
func (c *Client) GetUserProfile(ctx context.Context, userID, accountID string) (*UserProfile, error) {
	var profile UserProfile
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("account_id", accountID).
		SetResult(&profile).
		Get(fmt.Sprintf("/api/v1/users/%s", userID))
	if err != nil {
		return nil, fmt.Errorf("provider GetUserProfile request failed: %w", err)
	}
	if resp.IsError() {
		log.Warn().Str("userID", userID).Int("statusCode", resp.StatusCode()).Msg("Provider API: GetUserProfile returned an error")
		return nil, fmt.Errorf("provider GetUserProfile error: status %s", resp.Status())
	}
	return &profile, nil
}

// GetEmails searches an email account, cursor-paginated. anyEmail matches
// the address against to/from/cc/bcc.
func (c *Client) GetEmails(ctx context.Context, accountID, anyEmail, cursor string, limit int, folder string) (*EmailPage, error) {
	var page EmailPage
	req := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("account_id", accountID).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&page)
	if anyEmail != "" {
		req.SetQueryParam("any_email", anyEmail)
	}
	if cursor != "" {
		req.SetQueryParam("cursor", cursor)
	}
	if folder != "" {
		req.SetQueryParam("folder", folder)
	}

	resp, err := req.Get("/api/v1/emails")
	if err != nil {
		return nil, fmt.Errorf("provider GetEmails request failed: %w", err)
	}
	if resp.IsError() {
		log.Error().Str("accountID", accountID).Int("statusCode", resp.StatusCode()).Str("responseBody", string(resp.Body())).Msg("Provider API: GetEmails returned an error")
		return nil, fmt.Errorf("provider GetEmails error: status %s", resp.Status())
	}
	return &page, nil
}
