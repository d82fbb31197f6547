package crm

import "sync"

// MatchType is how a duplicate-detection rule compares a field.
type MatchType string

const (
	MatchExact           MatchType = "exact"
	MatchEmailNormalized MatchType = "email_normalized"
	MatchPhoneNormalized MatchType = "phone_normalized"
	MatchURLNormalized   MatchType = "url_normalized"
)

// RuleField references one CRM field inside a duplicate rule.
type RuleField struct {
	FieldSlug string
	MatchType MatchType
}

// DuplicateRule is one active duplicate-detection rule on a pipeline.
// Rules may be combined with AND/OR conditions by the CRM; for identifier
// extraction every referenced field of every active rule is considered
// (groups are unioned, never intersected).
type DuplicateRule struct {
	ID     string
	Fields []RuleField
}

// RuleRegistry exposes the active duplicate rules per pipeline.
type RuleRegistry interface {
	ActiveRules(pipelineID string) ([]DuplicateRule, error)
}

// InMemoryRuleRegistry is a map-backed RuleRegistry for tests and
// standalone operation.
type InMemoryRuleRegistry struct {
	mu    sync.RWMutex
	rules map[string][]DuplicateRule
}

func NewInMemoryRuleRegistry() *InMemoryRuleRegistry {
	return &InMemoryRuleRegistry{rules: make(map[string][]DuplicateRule)}
}

func (r *InMemoryRuleRegistry) Put(pipelineID string, rules ...DuplicateRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[pipelineID] = append(r.rules[pipelineID], rules...)
}

func (r *InMemoryRuleRegistry) ActiveRules(pipelineID string) ([]DuplicateRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rules[pipelineID], nil
}
