package services

import (
	"reflect"
	"sort"

	"github.com/rs/zerolog/log"

	"crmsync/internal/crm"
	"crmsync/internal/models"
)

// ChangeDecision says whether a record edit warrants a re-sync and which
// channel subset the edit affects. An empty Channels slice means every
// connected channel.
type ChangeDecision struct {
	ShouldSync    bool
	Channels      []string
	ChangedFields []string
}

// EvaluateRecordChange inspects a before/after snapshot of a record's
// field data and decides whether a sync should be queued. Only fields
// referenced by the pipeline's duplicate rules are considered; edits to
// other fields never trigger a sync. The changed fields' declared types
// narrow the sync to the channels they can affect: email fields map to
// the email channels, phone fields to WhatsApp (the only channel
// addressed by phone number), URL fields to LinkedIn, and text fields
// (which can hide any identifier, including the handles Telegram and
// Instagram resolve) to all channels.
func EvaluateRecordChange(before, after map[string]interface{}, record *crm.Record, rules crm.RuleRegistry) ChangeDecision {
	decision := ChangeDecision{}
	if record == nil || rules == nil {
		return decision
	}

	activeRules, err := rules.ActiveRules(record.PipelineID)
	if err != nil {
		log.Warn().Err(err).Str("pipelineID", record.PipelineID).Msg("Failed to load duplicate rules for change evaluation")
		return decision
	}

	watched := make(map[string]bool)
	for _, rule := range activeRules {
		for _, field := range rule.Fields {
			if field.FieldSlug != "" {
				watched[field.FieldSlug] = true
			}
		}
	}

	channels := make(map[string]bool)
	allChannels := false
	for slug := range watched {
		if reflect.DeepEqual(before[slug], after[slug]) {
			continue
		}
		decision.ChangedFields = append(decision.ChangedFields, slug)

		switch record.FieldType(slug) {
		case crm.FieldEmail:
			channels[string(models.ChannelGmail)] = true
			channels[string(models.ChannelOutlook)] = true
		case crm.FieldPhone:
			channels[string(models.ChannelWhatsApp)] = true
		case crm.FieldURL:
			channels[string(models.ChannelLinkedIn)] = true
		default:
			allChannels = true
		}
	}

	if len(decision.ChangedFields) == 0 {
		return decision
	}

	decision.ShouldSync = true
	if !allChannels {
		for channel := range channels {
			decision.Channels = append(decision.Channels, channel)
		}
		sort.Strings(decision.Channels)
	}
	sort.Strings(decision.ChangedFields)
	return decision
}
