package model

import "time"

// LeadStatus represents the current state of a lead in the intake pipeline.
type LeadStatus string

const (
	LeadStatusPendingOTP    LeadStatus = "PENDING_OTP"
	LeadStatusVerified      LeadStatus = "VERIFIED"
	LeadStatusQualifiedCall LeadStatus = "QUALIFIED_CALL"
	LeadStatusDelivered     LeadStatus = "DELIVERED"
	LeadStatusDuplicate     LeadStatus = "DUPLICATE"
	LeadStatusFailed        LeadStatus = "FAILED"
)

// Terminal reports whether no further status transition is allowed.
func (s LeadStatus) Terminal() bool {
	switch s {
	case LeadStatusDuplicate, LeadStatusDelivered, LeadStatusFailed:
		return true
	}
	return false
}

// LeadType distinguishes how a lead entered the pipeline.
type LeadType string

const (
	LeadTypeForm LeadType = "FORM" // web form submission, OTP-verified
	LeadTypeCall LeadType = "CALL" // inbound call, qualified by duration
)

// IssueType is the category the visitor selected on the form.
type IssueType string

const (
	IssueStorm   IssueType = "STORM"
	IssueLeak    IssueType = "LEAK"
	IssueReplace IssueType = "REPLACE"
	IssueOther   IssueType = "OTHER"
)

// Urgency is the visitor's stated timeline.
type Urgency string

const (
	UrgencyToday     Urgency = "TODAY"
	UrgencyThisWeek  Urgency = "THIS_WEEK"
	UrgencyThisMonth Urgency = "THIS_MONTH"
)

// Lead is one intake record, form- or call-originated.
type Lead struct {
	ID        string     `json:"id"`
	Type      LeadType   `json:"type"`
	Status    LeadStatus `json:"status"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Phone     string     `json:"phone"` // normalized +1XXXXXXXXXX
	Email     string     `json:"email,omitempty"`
	Zip       string     `json:"zip"` // 5-digit
	City      string     `json:"city,omitempty"`
	State     string     `json:"state,omitempty"`
	Homeowner bool       `json:"homeowner"`
	IssueType IssueType  `json:"issue_type,omitempty"`
	Urgency   Urgency    `json:"urgency,omitempty"`

	// DuplicateOfLeadID is set only when Status is DUPLICATE and always
	// references a non-duplicate root lead.
	DuplicateOfLeadID string `json:"duplicate_of_lead_id,omitempty"`

	ConsentTimestamp time.Time `json:"consent_timestamp"`
	ConsentVersion   string    `json:"consent_version"`

	// Attribution.
	UTMSource   string `json:"utm_source,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMContent  string `json:"utm_content,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty"`
	LandingPage string `json:"landing_page,omitempty"`

	// Submission fingerprint. The raw IP is never stored.
	IPHash    string `json:"ip_hash,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LeadRef is a lightweight reference to an existing lead, as returned by
// duplicate detection.
type LeadRef struct {
	ID        string     `json:"id"`
	Status    LeadStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}
