package model

import "time"

// MatchResult pairs one canonical acquisition with one canonical
// confirmation. Every record participates in at most one MatchResult.
type MatchResult struct {
	AcquisitionID  string        `json:"acquisition_id"`
	ConfirmationID string        `json:"confirmation_id"`
	MatchDelta     time.Duration `json:"match_delta"`
}

// CuratedPurchase is a matched, non-chargeback purchase merged from both
// sides of a MatchResult. Recomputed fresh on every run.
type CuratedPurchase struct {
	SourceID      string    `json:"source_id"`
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	Amount        float64   `json:"amount"`
	Campaign      string    `json:"campaign"`
	OccurredAt    time.Time `json:"occurred_at"`
	ConfirmedAt   time.Time `json:"confirmed_at"`
}

// ReconciliationSummary reports how the two canonical sets partitioned into
// matched and unmatched records.
type ReconciliationSummary struct {
	TotalAcquisition     int     `json:"total_acquisition"`
	TotalConfirmed       int     `json:"total_confirmed"`
	Matched              int     `json:"matched"`
	MatchRate            float64 `json:"match_rate"`
	UnmatchedAcquisition int     `json:"unmatched_acquisition"`
	UnmatchedConfirmed   int     `json:"unmatched_confirmed"`
}

// ROASRecord is return-on-ad-spend for one campaign on the reporting date.
type ROASRecord struct {
	Campaign string  `json:"campaign"`
	Revenue  float64 `json:"revenue"`
	Cost     float64 `json:"cost"`
	ROAS     float64 `json:"roas"`
	Installs int     `json:"installs"`
}

// AnomalySeverity classifies how far below threshold a campaign's ROAS fell.
type AnomalySeverity string

const (
	SeverityMedium AnomalySeverity = "medium"
	SeverityHigh   AnomalySeverity = "high"
)

// AnomalyRecord flags a campaign whose ROAS fell below the threshold.
type AnomalyRecord struct {
	Campaign  string          `json:"campaign"`
	ROAS      float64         `json:"roas"`
	Threshold float64         `json:"threshold"`
	Revenue   float64         `json:"revenue"`
	Cost      float64         `json:"cost"`
	Severity  AnomalySeverity `json:"severity"`
}

// ARPDAURecord is average revenue per daily active user for one campaign.
type ARPDAURecord struct {
	Campaign string  `json:"campaign"`
	Revenue  float64 `json:"revenue"`
	DAU      int     `json:"dau"`
	ARPDAU   float64 `json:"arpdau"`
}
