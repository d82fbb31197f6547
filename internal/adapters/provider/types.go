package provider

// RawItem is one untyped provider payload object. Raw items are only
// handled by the data transformer, which maps them to canonical shapes;
// they never cross that boundary.
type RawItem map[string]interface{}

// Str reads a string key, tolerating absence and non-string values.
func (r RawItem) Str(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// Bool reads a boolean key, tolerating absence.
func (r RawItem) Bool(key string) bool {
	v, _ := r[key].(bool)
	return v
}

// Num reads a numeric key, tolerating absence and either JSON number form.
func (r RawItem) Num(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Map reads a nested object key.
func (r RawItem) Map(key string) RawItem {
	if v, ok := r[key].(map[string]interface{}); ok {
		return RawItem(v)
	}
	return nil
}

// Attendee is a provider-side contact object in a messaging channel.
type Attendee struct {
	ID         string  `json:"id"`
	ProviderID string  `json:"provider_id"`
	Name       string  `json:"name"`
	Phone      string  `json:"phone"`
	Raw        RawItem `json:"-"`
}

// AttendeePage is one page of attendees.
type AttendeePage struct {
	Items   []Attendee `json:"items"`
	Cursor  string     `json:"cursor"`
	HasMore bool       `json:"has_more"`
}

// Chat is a provider-side conversation handle. Everything beyond the ID
// stays raw for the transformer.
type Chat struct {
	ID  string  `json:"id"`
	Raw RawItem `json:"-"`
}

// ChatPage is one page of chats for an attendee.
type ChatPage struct {
	Items   []RawItem `json:"items"`
	Cursor  string    `json:"cursor"`
	HasMore bool      `json:"has_more"`
}

// MessagePage is one page of raw messages from a chat.
type MessagePage struct {
	Items   []RawItem `json:"items"`
	Cursor  string    `json:"cursor"`
	HasMore bool      `json:"has_more"`
}

// EmailPage is one page of raw email messages.
type EmailPage struct {
	Items  []RawItem `json:"items"`
	Cursor string    `json:"cursor"`
}

// UserProfile is the response of a profile lookup (the first step of
// two-step resolution, e.g. LinkedIn username -> provider ID).
type UserProfile struct {
	ProviderID string  `json:"provider_id"`
	Name       string  `json:"name"`
	Headline   string  `json:"headline"`
	Raw        RawItem `json:"-"`
}
