package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"crmsync/internal/adapters/provider"
	"crmsync/internal/models"
)

// ChannelHandler manages the registry of connected provider accounts.
type ChannelHandler struct {
	db  *gorm.DB
	api provider.API
}

// NewChannelHandler creates a ChannelHandler. api may be nil; the
// attendee listing endpoint then reports unavailable.
func NewChannelHandler(db *gorm.DB, api provider.API) *ChannelHandler {
	if db == nil {
		log.Fatal().Msg("Database instance cannot be nil for ChannelHandler")
	}
	return &ChannelHandler{db: db, api: api}
}

// ListChannels returns every registered channel.
func (h *ChannelHandler) ListChannels(w http.ResponseWriter, r *http.Request) {
	var channels []models.Channel
	if err := h.db.Order("id").Find(&channels).Error; err != nil {
		log.Error().Err(err).Msg("Failed to list channels")
		respondError(w, http.StatusInternalServerError, "Failed to list channels")
		return
	}
	respondJSON(w, http.StatusOK, channels)
}

type upsertChannelRequest struct {
	AccountID   string `json:"account_id"`
	ChannelType string `json:"channel_type"`
	Name        string `json:"name"`
	OwnerID     string `json:"owner_id"`
	OwnerName   string `json:"owner_name"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

// UpsertChannel registers a provider account or updates an existing one,
// keyed by account ID.
func (h *ChannelHandler) UpsertChannel(w http.ResponseWriter, r *http.Request) {
	var req upsertChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if req.AccountID == "" || req.ChannelType == "" {
		respondError(w, http.StatusBadRequest, "account_id and channel_type are required")
		return
	}

	var channel models.Channel
	err := h.db.Where("account_id = ?", req.AccountID).First(&channel).Error
	created := false
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Error().Err(err).Str("accountID", req.AccountID).Msg("Failed to query channel")
			respondError(w, http.StatusInternalServerError, "Failed to query channel")
			return
		}
		channel = models.Channel{AccountID: req.AccountID, Enabled: true}
		created = true
	}

	channel.ChannelType = models.ChannelType(req.ChannelType)
	channel.Name = req.Name
	channel.OwnerID = req.OwnerID
	channel.OwnerName = req.OwnerName
	if req.Enabled != nil {
		channel.Enabled = *req.Enabled
	}

	if err := h.db.Save(&channel).Error; err != nil {
		log.Error().Err(err).Str("accountID", req.AccountID).Msg("Failed to save channel")
		respondError(w, http.StatusInternalServerError, "Failed to save channel")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, channel)
}

type setEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// SetEnabled toggles a channel's participation in syncs.
func (h *ChannelHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountId"]
	if accountID == "" {
		respondError(w, http.StatusBadRequest, "Account ID is required")
		return
	}

	var req setEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	result := h.db.Model(&models.Channel{}).Where("account_id = ?", accountID).Update("enabled", req.Enabled)
	if result.Error != nil {
		log.Error().Err(result.Error).Str("accountID", accountID).Msg("Failed to update channel")
		respondError(w, http.StatusInternalServerError, "Failed to update channel")
		return
	}
	if result.RowsAffected == 0 {
		respondError(w, http.StatusNotFound, "Channel not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"account_id": accountID, "enabled": req.Enabled})
}

// ListAttendees proxies the provider's attendee listing for one channel,
// cursor-paginated via ?cursor= and ?limit=.
func (h *ChannelHandler) ListAttendees(w http.ResponseWriter, r *http.Request) {
	if h.api == nil {
		respondError(w, http.StatusServiceUnavailable, "Provider API is not configured")
		return
	}
	accountID := mux.Vars(r)["accountId"]
	if accountID == "" {
		respondError(w, http.StatusBadRequest, "Account ID is required")
		return
	}

	var channel models.Channel
	if err := h.db.First(&channel, "account_id = ?", accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "Channel not found")
			return
		}
		log.Error().Err(err).Str("accountID", accountID).Msg("Failed to query channel")
		respondError(w, http.StatusInternalServerError, "Failed to query channel")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	page, err := h.api.GetAllAttendees(r.Context(), accountID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		log.Error().Err(err).Str("accountID", accountID).Msg("Provider attendee listing failed")
		respondError(w, http.StatusBadGateway, "Provider attendee listing failed")
		return
	}
	respondJSON(w, http.StatusOK, page)
}
