package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"crmsync/internal/adapters/provider"
	"crmsync/internal/db"
	"crmsync/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	handle, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(handle, models.AllModels()...))
	return handle
}

// stubAPI implements provider.API with overridable behaviors. Unset
// methods return empty pages.
type stubAPI struct {
	getAllAttendees      func(ctx context.Context, accountID, cursor string, limit int) (*provider.AttendeePage, error)
	getAttendeesFromChat func(ctx context.Context, chatID string, limit int) (*provider.AttendeePage, error)
	getChatsFromAttendee func(ctx context.Context, attendeeID, accountID, cursor string, limit int) (*provider.ChatPage, error)
	getAllMessages       func(ctx context.Context, chatID, cursor string, limit int, since *time.Time) (*provider.MessagePage, error)
	getUserProfile       func(ctx context.Context, userID, accountID string) (*provider.UserProfile, error)
	getEmails            func(ctx context.Context, accountID, anyEmail, cursor string, limit int, folder string) (*provider.EmailPage, error)
}

func (s *stubAPI) GetAllAttendees(ctx context.Context, accountID, cursor string, limit int) (*provider.AttendeePage, error) {
	if s.getAllAttendees != nil {
		return s.getAllAttendees(ctx, accountID, cursor, limit)
	}
	return &provider.AttendeePage{}, nil
}

func (s *stubAPI) GetAttendeesFromChat(ctx context.Context, chatID string, limit int) (*provider.AttendeePage, error) {
	if s.getAttendeesFromChat != nil {
		return s.getAttendeesFromChat(ctx, chatID, limit)
	}
	return &provider.AttendeePage{}, nil
}

func (s *stubAPI) GetChatsFromAttendee(ctx context.Context, attendeeID, accountID, cursor string, limit int) (*provider.ChatPage, error) {
	if s.getChatsFromAttendee != nil {
		return s.getChatsFromAttendee(ctx, attendeeID, accountID, cursor, limit)
	}
	return &provider.ChatPage{}, nil
}

func (s *stubAPI) GetAllMessages(ctx context.Context, chatID, cursor string, limit int, since *time.Time) (*provider.MessagePage, error) {
	if s.getAllMessages != nil {
		return s.getAllMessages(ctx, chatID, cursor, limit, since)
	}
	return &provider.MessagePage{}, nil
}

func (s *stubAPI) GetUserProfile(ctx context.Context, userID, accountID string) (*provider.UserProfile, error) {
	if s.getUserProfile != nil {
		return s.getUserProfile(ctx, userID, accountID)
	}
	return &provider.UserProfile{}, nil
}

func (s *stubAPI) GetEmails(ctx context.Context, accountID, anyEmail, cursor string, limit int, folder string) (*provider.EmailPage, error) {
	if s.getEmails != nil {
		return s.getEmails(ctx, accountID, anyEmail, cursor, limit, folder)
	}
	return &provider.EmailPage{}, nil
}
