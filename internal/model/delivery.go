package model

import "time"

// DeliveryStatus is the outcome of one delivery attempt.
type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "PENDING"
	DeliveryStatusSent    DeliveryStatus = "SENT"
	DeliveryStatusFailed  DeliveryStatus = "FAILED"
)

// Delivery records one attempt to hand a lead to a buyer. Rows are
// append-only; Attempt is monotonic per lead starting at 1.
type Delivery struct {
	ID           string         `json:"id"`
	LeadID       string         `json:"lead_id"`
	BuyerID      string         `json:"buyer_id"`
	Status       DeliveryStatus `json:"status"`
	ResponseCode int            `json:"response_code,omitempty"`
	ResponseBody string         `json:"response_body,omitempty"`
	Attempt      int            `json:"attempt"`
	CreatedAt    time.Time      `json:"created_at"`
}

// WebhookPayload is the canonical JSON body POSTed to a buyer's webhook.
type WebhookPayload struct {
	LeadID      string `json:"leadId"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Phone       string `json:"phone"`
	Email       string `json:"email,omitempty"`
	Zip         string `json:"zip"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	Homeowner   bool   `json:"homeowner"`
	IssueType   string `json:"issueType,omitempty"`
	Urgency     string `json:"urgency,omitempty"`
	Type        string `json:"type"`
	CreatedAt   string `json:"createdAt"` // RFC 3339
	UTMSource   string `json:"utmSource,omitempty"`
	UTMCampaign string `json:"utmCampaign,omitempty"`
	LandingPage string `json:"landingPage,omitempty"`
}

// NewWebhookPayload builds the canonical payload for a lead.
func NewWebhookPayload(lead *Lead) WebhookPayload {
	return WebhookPayload{
		LeadID:      lead.ID,
		FirstName:   lead.FirstName,
		LastName:    lead.LastName,
		Phone:       lead.Phone,
		Email:       lead.Email,
		Zip:         lead.Zip,
		City:        lead.City,
		State:       lead.State,
		Homeowner:   lead.Homeowner,
		IssueType:   string(lead.IssueType),
		Urgency:     string(lead.Urgency),
		Type:        string(lead.Type),
		CreatedAt:   lead.CreatedAt.UTC().Format(time.RFC3339),
		UTMSource:   lead.UTMSource,
		UTMCampaign: lead.UTMCampaign,
		LandingPage: lead.LandingPage,
	}
}
