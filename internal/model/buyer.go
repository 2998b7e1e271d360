package model

import "time"

// DeliveryType selects the transport used to hand a lead to a buyer.
type DeliveryType string

const (
	DeliveryWebhook DeliveryType = "WEBHOOK"
	DeliveryEmail   DeliveryType = "EMAIL"
)

// Buyer is a lead purchaser. Buyers registered earlier win routing ties;
// CreatedAt defines that priority.
type Buyer struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	DeliveryType DeliveryType `json:"delivery_type"`
	WebhookURL   string       `json:"webhook_url,omitempty"`
	Email        string       `json:"email,omitempty"`
	PricePerLead float64      `json:"price_per_lead"`

	// Coverage lists the ZIP and state codes this buyer accepts.
	// An empty coverage accepts every lead.
	Coverage []string `json:"coverage"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Covers reports whether the buyer accepts a lead with the given zip and state.
func (b *Buyer) Covers(zip, state string) bool {
	if len(b.Coverage) == 0 {
		return true
	}
	for _, c := range b.Coverage {
		if c == zip {
			return true
		}
		if state != "" && c == state {
			return true
		}
	}
	return false
}

// Endpoint returns the destination for the buyer's delivery type.
func (b *Buyer) Endpoint() string {
	if b.DeliveryType == DeliveryEmail {
		return b.Email
	}
	return b.WebhookURL
}
