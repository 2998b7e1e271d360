package store

import (
	"context"
	"time"

	"github.com/sells-group/leadgate/internal/model"
)

// BuyerFilter specifies criteria for listing buyers. Results are always
// ordered by creation time ascending, which defines routing priority.
type BuyerFilter struct {
	ActiveOnly bool `json:"active_only,omitempty"`
	Limit      int  `json:"limit,omitempty"`
}

// QualifiedLeadQuery describes the duplicate-detection scan: leads with the
// same phone and zip created since a cutoff, restricted to statuses that
// represent a real, reachable contact.
type QualifiedLeadQuery struct {
	Phone    string
	Zip      string
	Since    time.Time
	Statuses []model.LeadStatus
}

// Store defines persistence for the lead intake pipeline.
type Store interface {
	// Leads
	CreateLead(ctx context.Context, lead *model.Lead) (*model.Lead, error)
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	UpdateLeadStatus(ctx context.Context, id string, status model.LeadStatus) error
	// FindQualifiedLead returns the oldest matching lead, or nil.
	FindQualifiedLead(ctx context.Context, q QualifiedLeadQuery) (*model.Lead, error)
	GetLeadByCallSID(ctx context.Context, sid string) (*model.Lead, error)

	// Buyers
	CreateBuyer(ctx context.Context, buyer *model.Buyer) (*model.Buyer, error)
	ListBuyers(ctx context.Context, filter BuyerFilter) ([]model.Buyer, error)
	SetBuyerActive(ctx context.Context, id string, active bool) error

	// Deliveries (append-only; attempt numbers assigned atomically per lead)
	CreateDelivery(ctx context.Context, d *model.Delivery) (*model.Delivery, error)
	ListDeliveries(ctx context.Context, leadID string) ([]model.Delivery, error)

	// Calls
	CreateCall(ctx context.Context, call *model.Call) (*model.Call, error)
	// UpdateCallStatus returns the updated call, or nil when sid is unknown.
	UpdateCallStatus(ctx context.Context, sid string, status string, duration int, recordingURL string) (*model.Call, error)
	LinkCallLead(ctx context.Context, callID, leadID string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
