package services

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"crmsync/internal/models"
)

// ParticipantLinker attaches participants to CRM records. Primary links
// ("this participant is this person") and secondary links ("this
// participant belongs to this company") are both write-once: an existing
// link is never overwritten, regardless of the new match's confidence.
type ParticipantLinker struct {
	db *gorm.DB
}

// NewParticipantLinker creates a ParticipantLinker.
func NewParticipantLinker(db *gorm.DB) (*ParticipantLinker, error) {
	if db == nil {
		return nil, fmt.Errorf("database instance cannot be nil for ParticipantLinker")
	}
	return &ParticipantLinker{db: db}, nil
}

// Link sets the participant's primary or secondary record link. Returns
// false without error when the slot is already taken — the no-op is
// intentional idempotence, not a failure.
func (l *ParticipantLinker) Link(participant *models.Participant, recordID string, confidence float64, method string, asSecondary bool) (bool, error) {
	if participant == nil {
		return false, fmt.Errorf("participant cannot be nil")
	}
	if recordID == "" {
		return false, fmt.Errorf("record ID cannot be empty")
	}

	if asSecondary {
		if participant.SecondaryRecordID != nil {
			return false, nil
		}
		participant.SecondaryRecordID = &recordID
	} else {
		if participant.ContactRecordID != nil {
			return false, nil
		}
		participant.ContactRecordID = &recordID
		participant.LinkConfidence = confidence
		participant.LinkMethod = method
	}

	if err := l.db.Save(participant).Error; err != nil {
		return false, fmt.Errorf("failed to link participant %d: %w", participant.ID, err)
	}
	log.Debug().
		Uint("participantID", participant.ID).
		Str("recordID", recordID).
		Str("method", method).
		Bool("secondary", asSecondary).
		Msg("Participant linked to record")
	return true, nil
}

// LinkDirectMatches primary-links every unlinked participant whose
// identifier matches one of the record's identifiers. This pass covers
// participants created by webhooks between syncs.
func (l *ParticipantLinker) LinkDirectMatches(recordID string, identifiers *IdentifierSet) (int, error) {
	values := identifiers.Values()
	if len(values) == 0 {
		return 0, nil
	}

	var candidates []models.Participant
	err := l.db.Where("contact_record_id IS NULL AND identifier IN ?", values).Find(&candidates).Error
	if err != nil {
		return 0, fmt.Errorf("failed to query unlinked participants: %w", err)
	}

	linked := 0
	for i := range candidates {
		ok, err := l.Link(&candidates[i], recordID, 0.9, "identifier_match", false)
		if err != nil {
			log.Warn().Err(err).Uint("participantID", candidates[i].ID).Msg("Direct participant link failed, continuing")
			continue
		}
		if ok {
			linked++
		}
	}
	return linked, nil
}

// LinkDomainMatches secondary-links email participants whose domain
// matches one of a company record's domains. Free-mail domains are never
// matched.
func (l *ParticipantLinker) LinkDomainMatches(recordID string, domains []string) (int, error) {
	usable := make([]string, 0, len(domains))
	for _, domain := range domains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain != "" && !IsFreeMailDomain(domain) {
			usable = append(usable, domain)
		}
	}
	if len(usable) == 0 {
		return 0, nil
	}

	var candidates []models.Participant
	err := l.db.Where("secondary_record_id IS NULL AND identifier_type = ?", models.IdentifierEmail).Find(&candidates).Error
	if err != nil {
		return 0, fmt.Errorf("failed to query email participants: %w", err)
	}

	linked := 0
	for i := range candidates {
		domain := emailDomain(candidates[i].Identifier)
		if domain == "" || !Find(usable, domain) {
			continue
		}
		ok, err := l.Link(&candidates[i], recordID, 0.5, "domain_match", true)
		if err != nil {
			log.Warn().Err(err).Uint("participantID", candidates[i].ID).Msg("Domain participant link failed, continuing")
			continue
		}
		if ok {
			linked++
		}
	}
	return linked, nil
}
