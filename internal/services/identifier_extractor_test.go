package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmsync/internal/crm"
	"crmsync/internal/models"
)

func newTestExtractor(t *testing.T) (*IdentifierExtractor, *crm.InMemoryRuleRegistry) {
	t.Helper()
	rules := crm.NewInMemoryRuleRegistry()
	extractor, err := NewIdentifierExtractor(rules, newTestDB(t))
	require.NoError(t, err)
	return extractor, rules
}

func contactRecord(data map[string]interface{}, fieldTypes map[string]crm.FieldType) *crm.Record {
	return &crm.Record{
		ID:         "rec-1",
		PipelineID: "contacts",
		Kind:       crm.RecordContact,
		Data:       data,
		FieldTypes: fieldTypes,
	}
}

func TestExtractEmailAndDomain(t *testing.T) {
	extractor, rules := newTestExtractor(t)
	rules.Put("contacts", crm.DuplicateRule{ID: "r1", Fields: []crm.RuleField{
		{FieldSlug: "email", MatchType: crm.MatchEmailNormalized},
	}})

	record := contactRecord(
		map[string]interface{}{"email": "Jane@Acme.com"},
		map[string]crm.FieldType{"email": crm.FieldEmail},
	)

	set, usedFields := extractor.Extract(record)
	assert.Equal(t, []string{"jane@acme.com"}, set.Email)
	assert.Equal(t, []string{"acme.com"}, set.Domain)
	assert.Equal(t, []string{"email"}, usedFields)
}

func TestExtractFreeMailDomainExcluded(t *testing.T) {
	extractor, rules := newTestExtractor(t)
	rules.Put("contacts", crm.DuplicateRule{ID: "r1", Fields: []crm.RuleField{
		{FieldSlug: "email", MatchType: crm.MatchEmailNormalized},
	}})

	record := contactRecord(
		map[string]interface{}{"email": "jane@gmail.com"},
		map[string]crm.FieldType{"email": crm.FieldEmail},
	)

	set, _ := extractor.Extract(record)
	assert.Equal(t, []string{"jane@gmail.com"}, set.Email)
	assert.Empty(t, set.Domain)
}

func TestExtractPhoneNormalization(t *testing.T) {
	extractor, rules := newTestExtractor(t)
	rules.Put("contacts", crm.DuplicateRule{ID: "r1", Fields: []crm.RuleField{
		{FieldSlug: "phone", MatchType: crm.MatchPhoneNormalized},
		{FieldSlug: "fax", MatchType: crm.MatchPhoneNormalized},
	}})

	record := contactRecord(
		map[string]interface{}{
			"phone": "+1 (555) 123-4567",
			"fax":   "123", // too short, dropped
		},
		map[string]crm.FieldType{"phone": crm.FieldPhone, "fax": crm.FieldPhone},
	)

	set, usedFields := extractor.Extract(record)
	assert.Equal(t, []string{"15551234567"}, set.Phone)
	assert.Equal(t, []string{"fax", "phone"}, usedFields)
}

func TestExtractLinkedInFromURLField(t *testing.T) {
	extractor, rules := newTestExtractor(t)
	rules.Put("contacts", crm.DuplicateRule{ID: "r1", Fields: []crm.RuleField{
		{FieldSlug: "linkedin", MatchType: crm.MatchURLNormalized},
	}})

	record := contactRecord(
		map[string]interface{}{"linkedin": "https://www.linkedin.com/in/Jane-Doe/"},
		map[string]crm.FieldType{"linkedin": crm.FieldURL},
	)

	set, _ := extractor.Extract(record)
	assert.Equal(t, []string{"jane-doe"}, set.LinkedIn)
}

func TestExtractTextFieldScansEmbeddedIdentifiers(t *testing.T) {
	extractor, rules := newTestExtractor(t)
	rules.Put("contacts", crm.DuplicateRule{ID: "r1", Fields: []crm.RuleField{
		{FieldSlug: "notes", MatchType: crm.MatchExact},
	}})

	record := contactRecord(
		map[string]interface{}{"notes": "Reach her at jane@acme.com or linkedin.com/in/janedoe"},
		map[string]crm.FieldType{"notes": crm.FieldText},
	)

	set, _ := extractor.Extract(record)
	assert.Equal(t, []string{"jane@acme.com"}, set.Email)
	assert.Equal(t, []string{"janedoe"}, set.LinkedIn)
	assert.Empty(t, set.Other)
}

func TestExtractTextFieldFallsBackToOther(t *testing.T) {
	extractor, rules := newTestExtractor(t)
	rules.Put("contacts", crm.DuplicateRule{ID: "r1", Fields: []crm.RuleField{
		{FieldSlug: "handle", MatchType: crm.MatchExact},
	}})

	record := contactRecord(
		map[string]interface{}{"handle": "@janedoe"},
		map[string]crm.FieldType{"handle": crm.FieldText},
	)

	set, _ := extractor.Extract(record)
	assert.Equal(t, []string{"@janedoe"}, set.Other)
}

func TestExtractDeduplicatesAcrossRules(t *testing.T) {
	extractor, rules := newTestExtractor(t)
	rules.Put("contacts",
		crm.DuplicateRule{ID: "r1", Fields: []crm.RuleField{{FieldSlug: "email"}}},
		crm.DuplicateRule{ID: "r2", Fields: []crm.RuleField{{FieldSlug: "email"}}},
	)

	record := contactRecord(
		map[string]interface{}{"email": "jane@acme.com"},
		map[string]crm.FieldType{"email": crm.FieldEmail},
	)

	set, _ := extractor.Extract(record)
	assert.Len(t, set.Email, 1)
}

func TestExtractNoRulesYieldsEmptySet(t *testing.T) {
	extractor, _ := newTestExtractor(t)
	record := contactRecord(
		map[string]interface{}{"email": "jane@acme.com"},
		map[string]crm.FieldType{"email": crm.FieldEmail},
	)

	set, usedFields := extractor.Extract(record)
	assert.True(t, set.IsEmpty())
	assert.Empty(t, usedFields)
}

func TestFindRecordsByIdentifiers(t *testing.T) {
	dbHandle := newTestDB(t)
	rules := crm.NewInMemoryRuleRegistry()
	extractor, err := NewIdentifierExtractor(rules, dbHandle)
	require.NoError(t, err)

	require.NoError(t, dbHandle.Create(&models.CommunicationProfile{
		RecordID: "rec-1",
		Identifiers: map[string][]string{
			"email": {"jane@acme.com"},
			"phone": {"15551234567"},
		},
	}).Error)
	require.NoError(t, dbHandle.Create(&models.CommunicationProfile{
		RecordID:    "rec-2",
		Identifiers: map[string][]string{"email": {"bob@example.com"}},
	}).Error)

	recordIDs, err := extractor.FindRecordsByIdentifiers([]string{"15551234567"})
	require.NoError(t, err)
	assert.Equal(t, []string{"rec-1"}, recordIDs)

	recordIDs, err = extractor.FindRecordsByIdentifiers([]string{"nobody@nowhere.com"})
	require.NoError(t, err)
	assert.Empty(t, recordIDs)
}
