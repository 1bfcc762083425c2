package domain

import "time"

// StepType is the kind of automated action a funnel step performs.
type StepType string

const (
	StepEmail     StepType = "email"
	StepDelay     StepType = "delay"
	StepCondition StepType = "condition"
)

// FunnelStep is one automated action in a funnel. Traversal order is owned by
// the external workflow engine; Order is only a hint it receives.
type FunnelStep struct {
	ID     string         `json:"id"`
	Type   StepType       `json:"type"`
	Order  int            `json:"order"`
	Config map[string]any `json:"config,omitempty"`
}

// Funnel is an ordered sequence of automated actions applied to a contact.
type Funnel struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Status    string       `json:"status"`
	Steps     []FunnelStep `json:"steps"`
	CreatedAt time.Time    `json:"created_at"`
}

// FunnelActive is the only status that allows a funnel to be triggered.
const FunnelActive = "active"

// Campaign is a CMS-defined marketing campaign.
type Campaign struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	FunnelID  string    `json:"funnel_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Template is a reusable email template.
type Template struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	Category string `json:"category,omitempty"`
}

// Analytics summarises CRM state for the dashboard.
type Analytics struct {
	TotalContacts    int            `json:"total_contacts"`
	ContactsByStatus map[string]int `json:"contacts_by_status"`
	LeadsLast30Days  int            `json:"leads_last_30_days"`
	ActiveFunnels    int            `json:"active_funnels"`
	TotalFunnels     int            `json:"total_funnels"`
	ActiveCampaigns  int            `json:"active_campaigns"`
}
