package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"crmsync/internal/adapters/provider"
	"crmsync/internal/crm"
	"crmsync/internal/models"
)

// SyncScheduler enqueues follow-up sync work. Implemented by the task
// queue publisher; the orchestrator only schedules, never syncs inline.
type SyncScheduler interface {
	EnqueueSync(recordID, triggeredBy, reason string, channels []string, delay time.Duration) (string, error)
}

// SyncRequest describes one requested sync run for a record.
type SyncRequest struct {
	RecordID    string
	TriggeredBy string
	Reason      string
	Channels    []string // channel-type subset, empty = all connected channels
	TaskHandle  string   // queue delivery handle, used for job reuse on redelivery
}

// ChannelResult is the per-channel outcome of a sync run.
type ChannelResult struct {
	ChannelType   string `json:"channel_type"`
	AccountID     string `json:"account_id"`
	Conversations int    `json:"conversations"`
	Messages      int    `json:"messages"`
	Error         string `json:"error,omitempty"`
}

// SyncResult is the outcome of one SyncRecord call.
type SyncResult struct {
	Success            bool            `json:"success"`
	Skipped            bool            `json:"skipped,omitempty"`
	JobID              string          `json:"job_id,omitempty"`
	TotalConversations int             `json:"total_conversations"`
	TotalMessages      int             `json:"total_messages"`
	ChannelResults     []ChannelResult `json:"channel_results,omitempty"`
	Error              string          `json:"error,omitempty"`
}

// RecordSyncOptions are the orchestrator's tuning knobs.
type RecordSyncOptions struct {
	DaysBack    int // 0 = full history
	MaxMessages int // 0 = unbounded
	PageCap     int
	JobTimeout  time.Duration
	Cooldown    time.Duration
}

const maxErrorDetail = 500

// RecordSyncService coordinates the whole pipeline for one record:
// identifier extraction, per-channel attendee resolution and fetching,
// storage, participant linking and metrics.
type RecordSyncService struct {
	db        *gorm.DB
	records   crm.RecordStore
	extractor *IdentifierExtractor
	resolver  *AttendeeResolver
	emails    *EmailFetcher
	messaging *MessageFetcher
	convStore *ConversationStore
	msgStore  *MessageStore
	linker    *ParticipantLinker
	metrics   *MetricsUpdater
	api       provider.API
	scheduler SyncScheduler // optional

	opts RecordSyncOptions

	autoSyncInterval time.Duration

	cooldown *gocache.Cache
	mu       sync.Mutex
	inFlight map[string]bool
}

// NewRecordSyncService wires the orchestrator and its collaborators.
// scheduler may be nil when auto-sync scheduling is not wanted.
func NewRecordSyncService(db *gorm.DB, records crm.RecordStore, rules crm.RuleRegistry, api provider.API, scheduler SyncScheduler, opts RecordSyncOptions) (*RecordSyncService, error) {
	if db == nil {
		return nil, fmt.Errorf("database instance cannot be nil for RecordSyncService")
	}
	if records == nil {
		return nil, fmt.Errorf("record store cannot be nil for RecordSyncService")
	}

	extractor, err := NewIdentifierExtractor(rules, db)
	if err != nil {
		return nil, err
	}
	resolver, err := NewAttendeeResolver(api)
	if err != nil {
		return nil, err
	}
	emails, err := NewEmailFetcher(api, opts.PageCap)
	if err != nil {
		return nil, err
	}
	messaging, err := NewMessageFetcher(api, opts.PageCap)
	if err != nil {
		return nil, err
	}
	convStore, err := NewConversationStore(db)
	if err != nil {
		return nil, err
	}
	msgStore, err := NewMessageStore(db)
	if err != nil {
		return nil, err
	}
	linker, err := NewParticipantLinker(db)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetricsUpdater(db)
	if err != nil {
		return nil, err
	}

	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 30 * time.Minute
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 5 * time.Minute
	}

	return &RecordSyncService{
		db:               db,
		records:          records,
		extractor:        extractor,
		resolver:         resolver,
		emails:           emails,
		messaging:        messaging,
		convStore:        convStore,
		msgStore:         msgStore,
		linker:           linker,
		metrics:          metrics,
		api:              api,
		scheduler:        scheduler,
		opts:             opts,
		autoSyncInterval: 24 * time.Hour,
		cooldown:         gocache.New(opts.Cooldown, 10*time.Minute),
		inFlight:         make(map[string]bool),
	}, nil
}

// SetAutoSyncInterval overrides the delay before a profile with auto-sync
// enabled is re-queued.
func (s *RecordSyncService) SetAutoSyncInterval(interval time.Duration) {
	if interval > 0 {
		s.autoSyncInterval = interval
	}
}

// Extractor exposes the identifier extractor for standalone callers
// (signal handlers, webhook matching).
func (s *RecordSyncService) Extractor() *IdentifierExtractor {
	return s.extractor
}

// SyncRecord runs the full pipeline for one record. At most one sync is
// in flight per record; repeated triggers inside the cooldown window are
// coalesced into a skip. The profile's sync_in_progress flag is cleared
// on every terminal path.
func (s *RecordSyncService) SyncRecord(ctx context.Context, req SyncRequest) SyncResult {
	if req.RecordID == "" {
		return SyncResult{Success: false, Error: "record ID is required"}
	}

	if _, coolingDown := s.cooldown.Get(req.RecordID); coolingDown {
		log.Info().Str("recordID", req.RecordID).Msg("Sync trigger within cooldown window, skipping")
		return SyncResult{Success: true, Skipped: true}
	}

	s.mu.Lock()
	if s.inFlight[req.RecordID] {
		s.mu.Unlock()
		log.Info().Str("recordID", req.RecordID).Msg("Sync already in flight for record, skipping")
		return SyncResult{Success: true, Skipped: true}
	}
	s.inFlight[req.RecordID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inFlight, req.RecordID)
		s.mu.Unlock()
	}()

	profile, err := s.obtainProfile(req.RecordID)
	if err != nil {
		return SyncResult{Success: false, Error: err.Error()}
	}
	if profile.SyncInProgress {
		log.Info().Str("recordID", req.RecordID).Msg("Profile already marked sync-in-progress, skipping duplicate trigger")
		return SyncResult{Success: true, Skipped: true}
	}

	job, reused, err := s.obtainJob(req)
	if err != nil {
		return SyncResult{Success: false, Error: err.Error()}
	}
	if reused && (job.Status == models.SyncJobCompleted || job.Status == models.SyncJobCancelled) {
		// Queue redelivery of an already-finished task. A failed job is
		// deliberately not skip-worthy: its redelivery is another attempt.
		log.Info().Str("recordID", req.RecordID).Str("jobID", job.ID).Str("status", string(job.Status)).Msg("Task redelivered for finished job, skipping")
		return SyncResult{Success: true, Skipped: true, JobID: job.ID}
	}

	if err := s.db.Model(profile).Update("sync_in_progress", true).Error; err != nil {
		return SyncResult{Success: false, Error: fmt.Sprintf("failed to mark sync in progress: %v", err)}
	}
	// Invariant: cleared on every terminal path, success or failure.
	defer func() {
		if err := s.db.Model(&models.CommunicationProfile{}).Where("record_id = ?", req.RecordID).Update("sync_in_progress", false).Error; err != nil {
			log.Error().Err(err).Str("recordID", req.RecordID).Msg("Failed to clear sync_in_progress flag")
		}
	}()

	now := time.Now().UTC()
	job.Status = models.SyncJobRunning
	job.StartedAt = &now
	if err := s.db.Save(job).Error; err != nil {
		return SyncResult{Success: false, JobID: job.ID, Error: fmt.Sprintf("failed to mark job running: %v", err)}
	}

	runCtx, cancel := context.WithTimeout(ctx, s.opts.JobTimeout)
	defer cancel()

	result := s.run(runCtx, req, profile, job)
	result.JobID = job.ID

	finished := time.Now().UTC()
	job.CompletedAt = &finished
	if result.Success {
		job.Status = models.SyncJobCompleted
		job.ErrorDetail = ""
	} else {
		job.Status = models.SyncJobFailed
		job.ErrorDetail = truncateError(result.Error, maxErrorDetail)
	}
	if err := s.db.Save(job).Error; err != nil {
		log.Error().Err(err).Str("jobID", job.ID).Msg("Failed to persist terminal job state")
	}

	if result.Success {
		// The cooldown only coalesces triggers after a successful run;
		// arming it on failure would swallow the queue's backoff retries.
		s.cooldown.Set(req.RecordID, time.Now(), gocache.DefaultExpiration)
		updates := map[string]interface{}{
			"last_full_sync":   finished,
			"sync_error_count": 0,
		}
		if err := s.db.Model(&models.CommunicationProfile{}).Where("record_id = ?", req.RecordID).Updates(updates).Error; err != nil {
			log.Error().Err(err).Str("recordID", req.RecordID).Msg("Failed to update profile after sync")
		}
		s.scheduleAutoSync(profile)
	} else {
		if err := s.db.Model(&models.CommunicationProfile{}).Where("record_id = ?", req.RecordID).
			Update("sync_error_count", gorm.Expr("sync_error_count + 1")).Error; err != nil {
			log.Error().Err(err).Str("recordID", req.RecordID).Msg("Failed to bump profile error count")
		}
	}

	log.Info().
		Str("recordID", req.RecordID).
		Str("jobID", job.ID).
		Bool("success", result.Success).
		Int("conversations", result.TotalConversations).
		Int("messages", result.TotalMessages).
		Msg("Record sync finished")
	return result
}

// run executes the pipeline body. Channel failures are isolated; only
// extraction and storage failures are fatal to the attempt.
func (s *RecordSyncService) run(ctx context.Context, req SyncRequest, profile *models.CommunicationProfile, job *models.SyncJob) SyncResult {
	record, err := s.records.GetRecord(ctx, req.RecordID)
	if err != nil {
		return SyncResult{Success: false, Error: fmt.Sprintf("failed to load record: %v", err)}
	}

	identifiers, usedFields := s.extractor.Extract(record)

	// Persisted immediately so a later failure still leaves identifiers
	// available for webhook-based matching.
	profile.Identifiers = identifiers.ToMap()
	profile.IdentifierFields = usedFields
	if err := s.db.Model(profile).Updates(map[string]interface{}{
		"identifiers":       profile.Identifiers,
		"identifier_fields": profile.IdentifierFields,
	}).Error; err != nil {
		return SyncResult{Success: false, Error: fmt.Sprintf("failed to persist identifiers: %v", err)}
	}

	channels, err := s.activeChannels(req.Channels)
	if err != nil {
		return SyncResult{Success: false, Error: err.Error()}
	}

	runCache := NewResolutionCache()
	participants := NewParticipantCache(s.db)

	result := SyncResult{Success: true}
	syncStatus := profile.SyncStatus
	if syncStatus == nil {
		syncStatus = make(map[string]string)
	}

	for i := range channels {
		channel := &channels[i]
		channelResult := s.syncChannel(ctx, record, identifiers, channel, runCache, participants)
		result.ChannelResults = append(result.ChannelResults, channelResult)
		result.TotalConversations += channelResult.Conversations
		result.TotalMessages += channelResult.Messages

		if channelResult.Error != "" {
			job.ChannelsFailed++
			syncStatus[channel.AccountID] = "error: " + truncateError(channelResult.Error, 120)
		} else {
			job.ChannelsSynced++
			syncStatus[channel.AccountID] = "ok"
		}
	}

	job.ConversationsFound = result.TotalConversations
	job.MessagesFound = result.TotalMessages
	if err := s.db.Model(&models.CommunicationProfile{}).Where("record_id = ?", req.RecordID).
		Update("sync_status", syncStatus).Error; err != nil {
		log.Warn().Err(err).Str("recordID", req.RecordID).Msg("Failed to persist per-channel sync status")
	}

	// Linking passes: direct identifier matches first, then domain-based
	// secondary linking for company records.
	if _, err := s.linker.LinkDirectMatches(req.RecordID, identifiers); err != nil {
		return SyncResult{Success: false, Error: fmt.Sprintf("participant linking failed: %v", err)}
	}
	if record.Kind == crm.RecordCompany && len(identifiers.Domain) > 0 {
		if _, err := s.linker.LinkDomainMatches(req.RecordID, identifiers.Domain); err != nil {
			return SyncResult{Success: false, Error: fmt.Sprintf("domain linking failed: %v", err)}
		}
	}

	if _, _, _, err := s.metrics.Recompute(req.RecordID); err != nil {
		return SyncResult{Success: false, Error: fmt.Sprintf("metrics recomputation failed: %v", err)}
	}

	return result
}

func (s *RecordSyncService) syncChannel(ctx context.Context, record *crm.Record, identifiers *IdentifierSet, channel *models.Channel, runCache *gocache.Cache, participants *ParticipantCache) ChannelResult {
	channelResult := ChannelResult{
		ChannelType: string(channel.ChannelType),
		AccountID:   channel.AccountID,
	}

	var err error
	if channel.ChannelType.IsEmail() {
		err = s.syncEmailChannel(ctx, record, identifiers, channel, participants, &channelResult)
	} else {
		err = s.syncMessagingChannel(ctx, record, identifiers, channel, runCache, participants, &channelResult)
	}
	if err != nil {
		// One channel's failure never aborts the others.
		channelResult.Error = err.Error()
		log.Error().Err(err).
			Str("recordID", record.ID).
			Str("channelType", string(channel.ChannelType)).
			Str("accountID", channel.AccountID).
			Msg("Channel sync failed, continuing with remaining channels")
	}
	return channelResult
}

func (s *RecordSyncService) syncEmailChannel(ctx context.Context, record *crm.Record, identifiers *IdentifierSet, channel *models.Channel, participants *ParticipantCache, channelResult *ChannelResult) error {
	if len(identifiers.Email) == 0 {
		log.Debug().Str("recordID", record.ID).Msg("Record has no email identifiers, nothing to fetch")
		return nil
	}

	threads, err := s.emails.Fetch(ctx, identifiers.Email, channel.AccountID, s.opts.DaysBack, s.opts.MaxMessages)
	if err != nil {
		return fmt.Errorf("email fetch failed: %w", err)
	}

	for _, thread := range threads {
		convData := ConversationFromEmailThread(thread.ThreadID, thread.Messages)
		conv, err := s.convStore.Store(convData, channel, record.ID)
		if err != nil {
			return fmt.Errorf("failed to store email thread %s: %w", thread.ThreadID, err)
		}

		messages := make([]MessageData, 0, len(thread.Messages))
		for _, raw := range thread.Messages {
			messages = append(messages, MessageFromEmail(raw, channel.AccountID))
		}

		inserted, err := s.msgStore.StoreBatch(conv, channel, messages, participants)
		if err != nil {
			return fmt.Errorf("failed to store email messages for thread %s: %w", thread.ThreadID, err)
		}
		channelResult.Conversations++
		channelResult.Messages += inserted
	}
	return nil
}

func (s *RecordSyncService) syncMessagingChannel(ctx context.Context, record *crm.Record, identifiers *IdentifierSet, channel *models.Channel, runCache *gocache.Cache, participants *ParticipantCache, channelResult *ChannelResult) error {
	resolved, err := s.resolver.Resolve(ctx, identifiers, channel.ChannelType, channel.AccountID, runCache)
	if err != nil {
		return fmt.Errorf("attendee resolution failed: %w", err)
	}
	if len(resolved) == 0 {
		log.Debug().Str("recordID", record.ID).Str("channelType", string(channel.ChannelType)).Msg("No attendees resolved for channel")
		return nil
	}

	s.storeAttendeeMappings(record.ID, channel.ChannelType, resolved)

	chats, err := s.messaging.Fetch(ctx, resolved, channel.AccountID, s.opts.DaysBack, s.opts.MaxMessages)
	if err != nil {
		return fmt.Errorf("message fetch failed: %w", err)
	}

	owner := OwnerIdentity{ProviderID: channel.OwnerID, DisplayName: channel.OwnerName}
	attendeeInfo := BuildAttendeeInfoMap(resolved)

	// Group chats carry senders beyond the resolved attendees; pull the
	// member list so those messages still get named.
	for _, chat := range chats {
		if !chat.RawChat.Bool("is_group") {
			continue
		}
		page, err := s.api.GetAttendeesFromChat(ctx, chat.ChatID, 100)
		if err != nil {
			log.Warn().Err(err).Str("chatID", chat.ChatID).Msg("Group attendee lookup failed, sender naming degrades")
			continue
		}
		if page != nil {
			MergeAttendeeInfo(attendeeInfo, page.Items)
		}
	}

	for _, chat := range chats {
		convData := ConversationFromChat(chat.ChatID, chat.RawChat)
		conv, err := s.convStore.Store(convData, channel, record.ID)
		if err != nil {
			return fmt.Errorf("failed to store chat %s: %w", chat.ChatID, err)
		}

		messages := make([]MessageData, 0, len(chat.Messages))
		for _, raw := range chat.Messages {
			messages = append(messages, MessageFromChat(raw))
		}
		messages = EnrichMessages(messages, channel.ChannelType, owner, attendeeInfo)

		inserted, err := s.msgStore.StoreBatch(conv, channel, messages, participants)
		if err != nil {
			return fmt.Errorf("failed to store messages for chat %s: %w", chat.ChatID, err)
		}
		channelResult.Conversations++
		channelResult.Messages += inserted
	}
	return nil
}

// storeAttendeeMappings caches resolved attendees so later runs can skip
// resolution. Failures are logged only; the mapping is an optimization.
func (s *RecordSyncService) storeAttendeeMappings(recordID string, channelType models.ChannelType, resolved map[string]ResolvedAttendee) {
	for _, attendee := range resolved {
		mapping := models.AttendeeMapping{
			RecordID:    recordID,
			AttendeeID:  attendee.AttendeeID,
			ChannelType: channelType,
			ProviderID:  attendee.ProviderID,
			Identifier:  attendee.Identifier,
			Name:        attendee.Name,
		}
		err := s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "record_id"}, {Name: "attendee_id"}, {Name: "channel_type"}},
			DoNothing: true,
		}).Create(&mapping).Error
		if err != nil {
			log.Warn().Err(err).Str("recordID", recordID).Str("attendeeID", attendee.AttendeeID).Msg("Failed to cache attendee mapping")
		}
	}
}

func (s *RecordSyncService) activeChannels(requested []string) ([]models.Channel, error) {
	var channels []models.Channel
	query := s.db.Where("enabled = ?", true)
	if len(requested) > 0 {
		query = query.Where("channel_type IN ?", requested)
	}
	if err := query.Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("failed to load channel connections: %w", err)
	}
	return channels, nil
}

func (s *RecordSyncService) obtainProfile(recordID string) (*models.CommunicationProfile, error) {
	var profile models.CommunicationProfile
	err := s.db.Where(models.CommunicationProfile{RecordID: recordID}).FirstOrCreate(&profile).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get-or-create profile: %w", err)
	}
	return &profile, nil
}

// obtainJob reuses a job row matched by task handle (queue redelivery of
// a previously-queued task) or creates a fresh pending job. A reused
// failed job is re-armed: its counters from the failed attempt are reset
// so the redelivered attempt starts clean.
func (s *RecordSyncService) obtainJob(req SyncRequest) (*models.SyncJob, bool, error) {
	if req.TaskHandle != "" {
		var existing models.SyncJob
		err := s.db.Where("task_handle = ? AND record_id = ?", req.TaskHandle, req.RecordID).First(&existing).Error
		if err == nil {
			if existing.Status == models.SyncJobFailed {
				existing.Status = models.SyncJobPending
				existing.ConversationsFound = 0
				existing.MessagesFound = 0
				existing.ChannelsSynced = 0
				existing.ChannelsFailed = 0
				existing.ErrorDetail = ""
				existing.StartedAt = nil
				existing.CompletedAt = nil
			}
			return &existing, true, nil
		}
	}

	job := models.SyncJob{
		ID:          uuid.NewString(),
		RecordID:    req.RecordID,
		Status:      models.SyncJobPending,
		TaskHandle:  req.TaskHandle,
		TriggeredBy: req.TriggeredBy,
		Reason:      req.Reason,
		Channels:    req.Channels,
	}
	if err := s.db.Create(&job).Error; err != nil {
		return nil, false, fmt.Errorf("failed to create sync job: %w", err)
	}
	return &job, false, nil
}

func (s *RecordSyncService) scheduleAutoSync(profile *models.CommunicationProfile) {
	if s.scheduler == nil || !profile.AutoSyncEnabled {
		return
	}
	handle, err := s.scheduler.EnqueueSync(profile.RecordID, "system", "auto_sync", nil, s.autoSyncInterval)
	if err != nil {
		log.Warn().Err(err).Str("recordID", profile.RecordID).Msg("Failed to schedule auto-sync")
		return
	}
	log.Debug().Str("recordID", profile.RecordID).Str("taskHandle", handle).Msg("Auto-sync scheduled")
}
