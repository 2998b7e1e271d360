package model

import "time"

// Call is a tracked inbound phone call from the telephony provider.
// A completed call that meets the qualification duration produces a
// QUALIFIED_CALL lead.
type Call struct {
	ID           string    `json:"id"`
	SID          string    `json:"sid"` // provider call identifier
	FromNumber   string    `json:"from_number"`
	ToNumber     string    `json:"to_number"`
	Status       string    `json:"status"`
	Duration     int       `json:"duration"` // seconds
	RecordingURL string    `json:"recording_url,omitempty"`
	LeadID       string    `json:"lead_id,omitempty"`
	UTMSource    string    `json:"utm_source,omitempty"`
	UTMCampaign  string    `json:"utm_campaign,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
