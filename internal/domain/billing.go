package domain

import (
	"math"
	"time"
)

// Bot is a purchasable product offered through checkout.
type Bot struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
}

// UnitAmount returns the price in minor currency units (cents).
func (b *Bot) UnitAmount() int64 {
	return int64(math.Round(b.Price * 100))
}

// APIKey is a stored CMS API key. Only the sha256 hash is kept.
type APIKey struct {
	KeyHash   string    `json:"key_hash"`
	Label     string    `json:"label"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
