package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"crmsync/internal/adapters/provider"
	"crmsync/internal/crm"
	"crmsync/internal/db"
	"crmsync/internal/models"
	"crmsync/internal/queue"
	"crmsync/internal/services"
)

// emptyAPI is a provider stub returning empty pages everywhere.
type emptyAPI struct{}

func (emptyAPI) GetAllAttendees(context.Context, string, string, int) (*provider.AttendeePage, error) {
	return &provider.AttendeePage{}, nil
}
func (emptyAPI) GetAttendeesFromChat(context.Context, string, int) (*provider.AttendeePage, error) {
	return &provider.AttendeePage{}, nil
}
func (emptyAPI) GetChatsFromAttendee(context.Context, string, string, string, int) (*provider.ChatPage, error) {
	return &provider.ChatPage{}, nil
}
func (emptyAPI) GetAllMessages(context.Context, string, string, int, *time.Time) (*provider.MessagePage, error) {
	return &provider.MessagePage{}, nil
}
func (emptyAPI) GetUserProfile(context.Context, string, string) (*provider.UserProfile, error) {
	return &provider.UserProfile{}, nil
}
func (emptyAPI) GetEmails(context.Context, string, string, string, int, string) (*provider.EmailPage, error) {
	return &provider.EmailPage{}, nil
}

type testServer struct {
	router  http.Handler
	db      *gorm.DB
	records *crm.InMemoryRecordStore
	rules   *crm.InMemoryRuleRegistry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dbHandle, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(dbHandle, models.AllModels()...))

	records := crm.NewInMemoryRecordStore()
	rules := crm.NewInMemoryRuleRegistry()

	syncService, err := services.NewRecordSyncService(dbHandle, records, rules, emptyAPI{}, nil, services.RecordSyncOptions{
		PageCap:    10,
		JobTimeout: time.Minute,
		Cooldown:   time.Minute,
	})
	require.NoError(t, err)

	convStore, err := services.NewConversationStore(dbHandle)
	require.NoError(t, err)
	msgStore, err := services.NewMessageStore(dbHandle)
	require.NoError(t, err)

	router := NewRouter(
		NewSyncHandler(dbHandle, syncService, records, rules, nil),
		NewChannelHandler(dbHandle, emptyAPI{}),
		NewWebhookHandler(dbHandle, syncService.Extractor(), convStore, msgStore, "s3cret"),
	)
	return &testServer{router: router, db: dbHandle, records: records, rules: rules}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	recorder := httptest.NewRecorder()
	s.router.ServeHTTP(recorder, req)
	return recorder
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)
	resp := server.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestChannelLifecycle(t *testing.T) {
	server := newTestServer(t)

	resp := server.do(t, http.MethodPost, "/channels", map[string]interface{}{
		"account_id":   "wa-acc",
		"channel_type": "whatsapp",
		"name":         "Sales WhatsApp",
		"owner_id":     "owner@s.whatsapp.net",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.Code)

	// Upsert on the same account updates, not duplicates.
	resp = server.do(t, http.MethodPost, "/channels", map[string]interface{}{
		"account_id":   "wa-acc",
		"channel_type": "whatsapp",
		"name":         "Renamed",
	}, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = server.do(t, http.MethodGet, "/channels", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var channels []models.Channel
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &channels))
	require.Len(t, channels, 1)
	assert.Equal(t, "Renamed", channels[0].Name)
	assert.True(t, channels[0].Enabled)

	resp = server.do(t, http.MethodPatch, "/channels/wa-acc/enabled", map[string]interface{}{"enabled": false}, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var reloaded models.Channel
	require.NoError(t, server.db.First(&reloaded, "account_id = ?", "wa-acc").Error)
	assert.False(t, reloaded.Enabled)

	resp = server.do(t, http.MethodPatch, "/channels/missing/enabled", map[string]interface{}{"enabled": true}, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestGetProfileNotFound(t *testing.T) {
	server := newTestServer(t)
	resp := server.do(t, http.MethodGet, "/records/rec-404/profile", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestTriggerSyncInlineAndFetchJob(t *testing.T) {
	server := newTestServer(t)
	server.rules.Put("contacts", crm.DuplicateRule{ID: "r1", Fields: []crm.RuleField{{FieldSlug: "email"}}})
	server.records.Put(&crm.Record{
		ID:         "rec-1",
		PipelineID: "contacts",
		Kind:       crm.RecordContact,
		Data:       map[string]interface{}{"email": "jane@acme.com"},
		FieldTypes: map[string]crm.FieldType{"email": crm.FieldEmail},
	})

	resp := server.do(t, http.MethodPost, "/records/rec-1/sync", map[string]interface{}{"reason": "manual"}, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var result services.SyncResult
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	assert.True(t, result.Success)
	require.NotEmpty(t, result.JobID)

	resp = server.do(t, http.MethodGet, "/sync/jobs/"+result.JobID, nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var job models.SyncJob
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &job))
	assert.Equal(t, models.SyncJobCompleted, job.Status)

	// Profile now exists with the extracted identifiers.
	resp = server.do(t, http.MethodGet, "/records/rec-1/profile", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var profile models.CommunicationProfile
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &profile))
	assert.Equal(t, []string{"jane@acme.com"}, profile.Identifiers["email"])
}

func TestTriggerSyncAsyncQueuesTask(t *testing.T) {
	server := newTestServer(t)
	// A disabled publisher still satisfies the scheduler contract.
	publisher, err := queue.NewPublisher("", "record_sync", "crmsync")
	require.NoError(t, err)

	syncService, err := services.NewRecordSyncService(server.db, server.records, server.rules, emptyAPI{}, publisher, services.RecordSyncOptions{
		PageCap: 10, JobTimeout: time.Minute, Cooldown: time.Minute,
	})
	require.NoError(t, err)

	router := NewRouter(
		NewSyncHandler(server.db, syncService, server.records, server.rules, publisher),
		NewChannelHandler(server.db, emptyAPI{}),
		NewWebhookHandler(server.db, syncService.Extractor(), mustConvStore(t, server.db), mustMsgStore(t, server.db), ""),
	)

	req := httptest.NewRequest(http.MethodPost, "/records/rec-1/sync", bytes.NewReader([]byte(`{"async": true}`)))
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusAccepted, recorder.Code)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	assert.NotEmpty(t, payload["task_id"])
	assert.Equal(t, "queued", payload["status"])
}

func mustConvStore(t *testing.T, dbHandle *gorm.DB) *services.ConversationStore {
	t.Helper()
	store, err := services.NewConversationStore(dbHandle)
	require.NoError(t, err)
	return store
}

func mustMsgStore(t *testing.T, dbHandle *gorm.DB) *services.MessageStore {
	t.Helper()
	store, err := services.NewMessageStore(dbHandle)
	require.NoError(t, err)
	return store
}

func TestRecordChangedEvaluatesAndSyncs(t *testing.T) {
	server := newTestServer(t)
	server.rules.Put("contacts", crm.DuplicateRule{ID: "r1", Fields: []crm.RuleField{{FieldSlug: "email"}}})
	server.records.Put(&crm.Record{
		ID:         "rec-1",
		PipelineID: "contacts",
		Kind:       crm.RecordContact,
		Data:       map[string]interface{}{"email": "new@acme.com"},
		FieldTypes: map[string]crm.FieldType{"email": crm.FieldEmail},
	})

	resp := server.do(t, http.MethodPost, "/records/rec-1/changed", map[string]interface{}{
		"before": map[string]interface{}{"email": "old@acme.com"},
		"after":  map[string]interface{}{"email": "new@acme.com"},
	}, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	assert.Equal(t, true, payload["should_sync"])

	// An edit to an unwatched field does not sync.
	resp = server.do(t, http.MethodPost, "/records/rec-1/changed", map[string]interface{}{
		"before": map[string]interface{}{"title": "a"},
		"after":  map[string]interface{}{"title": "b"},
	}, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	assert.Equal(t, false, payload["should_sync"])
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	server := newTestServer(t)
	resp := server.do(t, http.MethodPost, "/webhooks/provider", map[string]interface{}{
		"event":      "message.received",
		"account_id": "wa-acc",
		"message":    map[string]interface{}{"id": "m1"},
	}, map[string]string{"X-Webhook-Secret": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestWebhookIngestsAndMatchesRecord(t *testing.T) {
	server := newTestServer(t)
	require.NoError(t, server.db.Create(&models.Channel{
		AccountID: "wa-acc", ChannelType: models.ChannelWhatsApp, Enabled: true,
	}).Error)
	require.NoError(t, server.db.Create(&models.CommunicationProfile{
		RecordID:    "rec-1",
		Identifiers: map[string][]string{"phone": {"15551234567"}},
	}).Error)

	resp := server.do(t, http.MethodPost, "/webhooks/provider", map[string]interface{}{
		"event":      "message.received",
		"account_id": "wa-acc",
		"chat_id":    "chat-1",
		"message": map[string]interface{}{
			"id":        "m1",
			"text":      "hello",
			"timestamp": "2026-08-01T10:00:00Z",
			"sender":    map[string]interface{}{"name": "Jane Doe", "phone": "15551234567"},
		},
	}, map[string]string{"X-Webhook-Secret": "s3cret"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	assert.Equal(t, "rec-1", payload["record_id"])
	assert.EqualValues(t, 1, payload["inserted"])

	var conv models.Conversation
	require.NoError(t, server.db.First(&conv, "external_thread_id = ?", "chat-1").Error)
	assert.Equal(t, "rec-1", conv.RecordID)

	var msg models.Message
	require.NoError(t, server.db.First(&msg, "external_message_id = ?", "m1").Error)
	assert.Equal(t, conv.ID, msg.ConversationID)
	require.NotNil(t, msg.SenderParticipantID)

	// Replays are idempotent.
	resp = server.do(t, http.MethodPost, "/webhooks/provider", map[string]interface{}{
		"event":      "message.received",
		"account_id": "wa-acc",
		"chat_id":    "chat-1",
		"message":    map[string]interface{}{"id": "m1", "text": "hello"},
	}, map[string]string{"X-Webhook-Secret": "s3cret"})
	require.Equal(t, http.StatusOK, resp.Code)
	var msgCount int64
	require.NoError(t, server.db.Model(&models.Message{}).Count(&msgCount).Error)
	assert.EqualValues(t, 1, msgCount)
}

func TestListAttendeesRequiresKnownChannel(t *testing.T) {
	server := newTestServer(t)
	resp := server.do(t, http.MethodGet, "/channels/missing/attendees", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	require.NoError(t, server.db.Create(&models.Channel{
		AccountID: "wa-acc", ChannelType: models.ChannelWhatsApp, Enabled: true,
	}).Error)
	resp = server.do(t, http.MethodGet, "/channels/wa-acc/attendees", nil, nil)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestWebhookUnknownChannelIgnored(t *testing.T) {
	server := newTestServer(t)
	resp := server.do(t, http.MethodPost, "/webhooks/provider", map[string]interface{}{
		"event":      "message.received",
		"account_id": "nope",
		"chat_id":    "chat-1",
		"message":    map[string]interface{}{"id": "m1"},
	}, map[string]string{"X-Webhook-Secret": "s3cret"})
	require.Equal(t, http.StatusOK, resp.Code)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	assert.Equal(t, "ignored", payload["status"])
}
