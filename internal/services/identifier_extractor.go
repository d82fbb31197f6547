package services

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"crmsync/internal/crm"
	"crmsync/internal/models"
)

// IdentifierSet groups a record's normalized communication identifiers by
// category. All slices are deduplicated; empty values are dropped.
type IdentifierSet struct {
	Email    []string
	Phone    []string
	LinkedIn []string
	Domain   []string
	Other    []string
}

// IsEmpty reports whether no identifier of any category was found.
func (s *IdentifierSet) IsEmpty() bool {
	return len(s.Email) == 0 && len(s.Phone) == 0 && len(s.LinkedIn) == 0 &&
		len(s.Domain) == 0 && len(s.Other) == 0
}

// ToMap converts the set into the persisted profile shape.
func (s *IdentifierSet) ToMap() map[string][]string {
	m := make(map[string][]string)
	if len(s.Email) > 0 {
		m[string(models.IdentifierEmail)] = s.Email
	}
	if len(s.Phone) > 0 {
		m[string(models.IdentifierPhone)] = s.Phone
	}
	if len(s.LinkedIn) > 0 {
		m[string(models.IdentifierLinkedIn)] = s.LinkedIn
	}
	if len(s.Domain) > 0 {
		m[string(models.IdentifierDomain)] = s.Domain
	}
	if len(s.Other) > 0 {
		m[string(models.IdentifierOther)] = s.Other
	}
	return m
}

// Values flattens every category except domains into one list, used for
// reverse lookups and direct participant matching.
func (s *IdentifierSet) Values() []string {
	out := make([]string, 0, len(s.Email)+len(s.Phone)+len(s.LinkedIn)+len(s.Other))
	out = append(out, s.Email...)
	out = append(out, s.Phone...)
	out = append(out, s.LinkedIn...)
	out = append(out, s.Other...)
	return out
}

var (
	emailPattern         = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phonePattern         = regexp.MustCompile(`\+?[\d\s().\-]{7,}`)
	linkedinInPattern    = regexp.MustCompile(`(?i)linkedin\.com/in/([a-zA-Z0-9\-_%]+)`)
	linkedinCoPattern    = regexp.MustCompile(`(?i)linkedin\.com/company/([a-zA-Z0-9\-_%]+)`)
	linkedinSalesPattern = regexp.MustCompile(`(?i)linkedin\.com/sales/people/([a-zA-Z0-9\-_%,]+)`)
)

// IdentifierExtractor derives a record's communication identifiers from
// its field data, guided by the pipeline's duplicate-detection rules.
type IdentifierExtractor struct {
	rules crm.RuleRegistry
	db    *gorm.DB
}

// NewIdentifierExtractor creates an IdentifierExtractor. The database
// handle is used for reverse lookups against stored profiles.
func NewIdentifierExtractor(rules crm.RuleRegistry, db *gorm.DB) (*IdentifierExtractor, error) {
	if rules == nil {
		return nil, fmt.Errorf("rule registry cannot be nil for IdentifierExtractor")
	}
	if db == nil {
		return nil, fmt.Errorf("database instance cannot be nil for IdentifierExtractor")
	}
	return &IdentifierExtractor{rules: rules, db: db}, nil
}

// Extract derives the identifier set of a record plus the field slugs it
// came from. Malformed rule configuration is logged and yields a partial
// (possibly empty) result, never an error.
func (e *IdentifierExtractor) Extract(record *crm.Record) (*IdentifierSet, []string) {
	set := &IdentifierSet{}
	if record == nil {
		return set, nil
	}

	rules, err := e.rules.ActiveRules(record.PipelineID)
	if err != nil {
		log.Warn().Err(err).Str("pipelineID", record.PipelineID).Msg("Failed to load duplicate rules, extraction yields empty identifiers")
		return set, nil
	}

	// Union of every field referenced by any active rule. OR/AND groups
	// are not intersected.
	fieldSlugs := make(map[string]bool)
	for _, rule := range rules {
		for _, ruleField := range rule.Fields {
			if ruleField.FieldSlug != "" {
				fieldSlugs[ruleField.FieldSlug] = true
			}
		}
	}

	usedFields := make([]string, 0, len(fieldSlugs))
	seen := map[string]map[string]bool{}
	add := func(category, value string) {
		if value == "" {
			return
		}
		if seen[category] == nil {
			seen[category] = make(map[string]bool)
		}
		if seen[category][value] {
			return
		}
		seen[category][value] = true
		switch category {
		case "email":
			set.Email = append(set.Email, value)
		case "phone":
			set.Phone = append(set.Phone, value)
		case "linkedin":
			set.LinkedIn = append(set.LinkedIn, value)
		case "domain":
			set.Domain = append(set.Domain, value)
		case "other":
			set.Other = append(set.Other, value)
		}
	}

	for slug := range fieldSlugs {
		values := fieldValues(record.Data[slug])
		if len(values) == 0 {
			continue
		}
		usedFields = append(usedFields, slug)

		for _, value := range values {
			switch record.FieldType(slug) {
			case crm.FieldEmail:
				email := strings.ToLower(strings.TrimSpace(value))
				if !emailPattern.MatchString(email) {
					log.Debug().Str("field", slug).Msg("Email field value is not a valid address, skipping")
					continue
				}
				add("email", email)
				if domain := emailDomain(email); domain != "" && !IsFreeMailDomain(domain) {
					add("domain", domain)
				}
			case crm.FieldPhone:
				digits := digitsOnly(value)
				if len(digits) >= 7 {
					add("phone", digits)
				}
			case crm.FieldURL:
				for _, handle := range linkedInHandles(value) {
					add("linkedin", handle)
				}
			default: // free text: scan for embedded identifiers
				matched := false
				for _, handle := range linkedInHandles(value) {
					add("linkedin", handle)
					matched = true
				}
				for _, email := range emailPattern.FindAllString(value, -1) {
					email = strings.ToLower(email)
					add("email", email)
					if domain := emailDomain(email); domain != "" && !IsFreeMailDomain(domain) {
						add("domain", domain)
					}
					matched = true
				}
				if !matched {
					for _, candidate := range phonePattern.FindAllString(value, -1) {
						digits := digitsOnly(candidate)
						if len(digits) >= 7 {
							add("phone", digits)
							matched = true
						}
					}
				}
				if !matched {
					add("other", strings.ToLower(strings.TrimSpace(value)))
				}
			}
		}
	}

	sort.Strings(usedFields)
	return set, usedFields
}

// FindRecordsByIdentifiers performs the reverse lookup: which records'
// profiles contain any of the given identifier values. Used to map an
// inbound webhook message back to CRM records.
func (e *IdentifierExtractor) FindRecordsByIdentifiers(values []string) ([]string, error) {
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			cleaned = append(cleaned, v)
		}
	}
	if len(cleaned) == 0 {
		return nil, nil
	}

	// Narrow with a LIKE prefilter on the serialized identifier map, then
	// verify against the decoded values.
	query := e.db.Model(&models.CommunicationProfile{})
	likes := e.db.Where("identifiers LIKE ?", "%"+cleaned[0]+"%")
	for _, v := range cleaned[1:] {
		likes = likes.Or("identifiers LIKE ?", "%"+v+"%")
	}
	var profiles []models.CommunicationProfile
	if err := query.Where(likes).Find(&profiles).Error; err != nil {
		return nil, fmt.Errorf("failed to query profiles by identifiers: %w", err)
	}

	wanted := make(map[string]bool, len(cleaned))
	for _, v := range cleaned {
		wanted[v] = true
	}

	var recordIDs []string
	for _, profile := range profiles {
		if profileMatches(profile.Identifiers, wanted) {
			recordIDs = append(recordIDs, profile.RecordID)
		}
	}
	return recordIDs, nil
}

func profileMatches(identifiers map[string][]string, wanted map[string]bool) bool {
	for _, values := range identifiers {
		for _, v := range values {
			if wanted[strings.ToLower(v)] {
				return true
			}
		}
	}
	return false
}

// fieldValues normalizes a CRM field value into a list of strings. Fields
// may hold a single value or a list.
func fieldValues(raw interface{}) []string {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		return []string{v}
	case []string:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if strings.TrimSpace(item) != "" {
				out = append(out, item)
			}
		}
		return out
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return email[at+1:]
}

// linkedInHandles extracts LinkedIn profile handles from a URL or text
// value, covering personal, company and Sales Navigator URLs.
func linkedInHandles(value string) []string {
	var handles []string
	for _, pattern := range []*regexp.Regexp{linkedinInPattern, linkedinCoPattern, linkedinSalesPattern} {
		for _, match := range pattern.FindAllStringSubmatch(value, -1) {
			handle := strings.ToLower(strings.Trim(match[1], "/"))
			if handle != "" && !Find(handles, handle) {
				handles = append(handles, handle)
			}
		}
	}
	return handles
}
