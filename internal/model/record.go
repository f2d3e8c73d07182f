package model

import "time"

// ConfirmationStatus is the payment-gateway disposition of a confirmation.
type ConfirmationStatus string

const (
	StatusConfirmed  ConfirmationStatus = "confirmed"
	StatusChargeback ConfirmationStatus = "chargeback"
)

// Valid reports whether s is a known confirmation status.
func (s ConfirmationStatus) Valid() bool {
	return s == StatusConfirmed || s == StatusChargeback
}

// AcquisitionRecord is a raw advertising-network purchase claim.
// Immutable after load.
type AcquisitionRecord struct {
	SourceID   string    `json:"source_id"`
	UserID     string    `json:"user_id"`
	Amount     float64   `json:"amount"`
	Campaign   string    `json:"campaign"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ConfirmationRecord is payment-gateway truth for a purchase.
// Immutable after load.
type ConfirmationRecord struct {
	TransactionID string             `json:"transaction_id"`
	UserID        string             `json:"user_id"`
	Amount        float64            `json:"amount"`
	OccurredAt    time.Time          `json:"occurred_at"`
	Status        ConfirmationStatus `json:"status"`
}

// CostRecord is one day of ad spend for a campaign, loaded verbatim.
type CostRecord struct {
	Campaign string  `json:"campaign"`
	Date     string  `json:"date"`
	Spend    float64 `json:"spend"`
}

// SessionRecord marks a user active in a campaign on a date. Only used to
// derive distinct-active-user counts.
type SessionRecord struct {
	UserID   string `json:"user_id"`
	Campaign string `json:"campaign"`
	Date     string `json:"date"`
}
