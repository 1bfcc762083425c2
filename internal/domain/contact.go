package domain

import (
	"strings"
	"time"
)

// ContactStatus is the flat lifecycle status of a contact.
type ContactStatus string

const (
	ContactActive   ContactStatus = "active"
	ContactInactive ContactStatus = "inactive"
	ContactPending  ContactStatus = "pending"
)

// Valid reports whether s is one of the known statuses.
func (s ContactStatus) Valid() bool {
	switch s {
	case ContactActive, ContactInactive, ContactPending:
		return true
	}
	return false
}

// Contact is a person record captured from a form, keyed by email.
type Contact struct {
	ID           string            `json:"id"`
	Email        string            `json:"email"`
	FirstName    string            `json:"first_name"`
	LastName     string            `json:"last_name,omitempty"`
	Phone        string            `json:"phone,omitempty"`
	Company      string            `json:"company,omitempty"`
	Source       string            `json:"source,omitempty"`
	Tags         []string          `json:"tags"`
	CustomFields map[string]string `json:"custom_fields"`
	Status       ContactStatus     `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// NormalizeEmail lowercases and trims an email so it can be used as a key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Merge folds an incoming lead into an existing contact. Identity fields are
// overwritten when the incoming value is non-empty, tags are unioned and
// custom fields are overlaid. Status and ID are preserved.
func (c *Contact) Merge(in *Contact) {
	if in.FirstName != "" {
		c.FirstName = in.FirstName
	}
	if in.LastName != "" {
		c.LastName = in.LastName
	}
	if in.Phone != "" {
		c.Phone = in.Phone
	}
	if in.Company != "" {
		c.Company = in.Company
	}
	if in.Source != "" {
		c.Source = in.Source
	}

	seen := make(map[string]bool, len(c.Tags))
	for _, t := range c.Tags {
		seen[t] = true
	}
	for _, t := range in.Tags {
		if !seen[t] {
			c.Tags = append(c.Tags, t)
			seen[t] = true
		}
	}

	if len(in.CustomFields) > 0 && c.CustomFields == nil {
		c.CustomFields = make(map[string]string, len(in.CustomFields))
	}
	for k, v := range in.CustomFields {
		c.CustomFields[k] = v
	}
}
