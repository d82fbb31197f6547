package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"crmsync/internal/crm"
	"crmsync/internal/models"
	"crmsync/internal/services"
)

// SyncHandler exposes the sync trigger, job status and profile endpoints.
type SyncHandler struct {
	db          *gorm.DB
	syncService *services.RecordSyncService
	records     crm.RecordStore
	rules       crm.RuleRegistry
	scheduler   services.SyncScheduler
}

// NewSyncHandler creates a SyncHandler. scheduler may be nil; sync
// requests then always run inline.
func NewSyncHandler(db *gorm.DB, syncService *services.RecordSyncService, records crm.RecordStore, rules crm.RuleRegistry, scheduler services.SyncScheduler) *SyncHandler {
	if db == nil {
		log.Fatal().Msg("Database instance cannot be nil for SyncHandler")
	}
	if syncService == nil {
		log.Fatal().Msg("RecordSyncService cannot be nil for SyncHandler")
	}
	return &SyncHandler{db: db, syncService: syncService, records: records, rules: rules, scheduler: scheduler}
}

type triggerSyncRequest struct {
	TriggeredBy string   `json:"triggered_by"`
	Reason      string   `json:"reason"`
	Channels    []string `json:"channels,omitempty"`
	Async       bool     `json:"async"`
}

// TriggerSync starts a sync for a record. With async=true and a task
// queue configured the request is enqueued and a task handle returned;
// otherwise the sync runs inline and returns its result.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	recordID := mux.Vars(r)["recordId"]
	if recordID == "" {
		respondError(w, http.StatusBadRequest, "Record ID is required")
		return
	}

	var req triggerSyncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid JSON payload")
			return
		}
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = "api"
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}

	if req.Async && h.scheduler != nil {
		handle, err := h.scheduler.EnqueueSync(recordID, req.TriggeredBy, req.Reason, req.Channels, 0)
		if err != nil {
			log.Error().Err(err).Str("recordID", recordID).Msg("Failed to enqueue sync task")
			respondError(w, http.StatusInternalServerError, "Failed to enqueue sync task")
			return
		}
		respondJSON(w, http.StatusAccepted, map[string]string{"task_id": handle, "status": "queued"})
		return
	}

	result := h.syncService.SyncRecord(r.Context(), services.SyncRequest{
		RecordID:    recordID,
		TriggeredBy: req.TriggeredBy,
		Reason:      req.Reason,
		Channels:    req.Channels,
	})

	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	respondJSON(w, status, result)
}

// GetJob returns one sync job by ID.
func (h *SyncHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	var job models.SyncJob
	if err := h.db.First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "Job not found")
			return
		}
		log.Error().Err(err).Str("jobID", jobID).Msg("Failed to load sync job")
		respondError(w, http.StatusInternalServerError, "Failed to load job")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// GetProfile returns a record's communication profile.
func (h *SyncHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	recordID := mux.Vars(r)["recordId"]
	if recordID == "" {
		respondError(w, http.StatusBadRequest, "Record ID is required")
		return
	}

	var profile models.CommunicationProfile
	if err := h.db.First(&profile, "record_id = ?", recordID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "Profile not found")
			return
		}
		log.Error().Err(err).Str("recordID", recordID).Msg("Failed to load communication profile")
		respondError(w, http.StatusInternalServerError, "Failed to load profile")
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

type recordChangeRequest struct {
	Before map[string]interface{} `json:"before"`
	After  map[string]interface{} `json:"after"`
}

// RecordChanged receives a record-edit signal, decides whether the edit
// touched identifier-bearing fields, and queues a narrowed sync if so.
func (h *SyncHandler) RecordChanged(w http.ResponseWriter, r *http.Request) {
	recordID := mux.Vars(r)["recordId"]
	if recordID == "" {
		respondError(w, http.StatusBadRequest, "Record ID is required")
		return
	}
	if h.records == nil || h.rules == nil {
		respondError(w, http.StatusServiceUnavailable, "Change evaluation is not configured")
		return
	}

	var req recordChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	record, err := h.records.GetRecord(r.Context(), recordID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Record not found")
		return
	}

	decision := services.EvaluateRecordChange(req.Before, req.After, record, h.rules)
	response := map[string]interface{}{
		"should_sync":    decision.ShouldSync,
		"changed_fields": decision.ChangedFields,
		"channels":       decision.Channels,
	}
	if !decision.ShouldSync {
		respondJSON(w, http.StatusOK, response)
		return
	}

	if h.scheduler != nil {
		handle, err := h.scheduler.EnqueueSync(recordID, "system", "record_changed", decision.Channels, 0)
		if err != nil {
			log.Error().Err(err).Str("recordID", recordID).Msg("Failed to enqueue change-triggered sync")
			respondError(w, http.StatusInternalServerError, "Failed to enqueue sync task")
			return
		}
		response["task_id"] = handle
		respondJSON(w, http.StatusAccepted, response)
		return
	}

	result := h.syncService.SyncRecord(r.Context(), services.SyncRequest{
		RecordID:    recordID,
		TriggeredBy: "system",
		Reason:      "record_changed",
		Channels:    decision.Channels,
	})
	response["result"] = result
	respondJSON(w, http.StatusOK, response)
}
