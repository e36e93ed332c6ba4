package domain

import (
	"time"

	"github.com/google/uuid"
)

// ManipulationType identifies which detector produced a record.
type ManipulationType string

const (
	ManipulationWashTrading   ManipulationType = "wash_trading"
	ManipulationHighFrequency ManipulationType = "high_frequency_trading"
	ManipulationSmallTrades   ManipulationType = "small_distributed_trading"
)

// DetectionEvidence is the numeric snapshot captured at detection time.
// Values are counts and ratios; the meaning of each field depends on the
// manipulation type.
type DetectionEvidence struct {
	TradeCount     int     `json:"trade_count"`
	UniqueAccounts int     `json:"unique_accounts,omitempty"`
	BuyVolume      float64 `json:"buy_volume,omitempty"`
	SellVolume     float64 `json:"sell_volume,omitempty"`
	MatchRatio     float64 `json:"match_ratio,omitempty"`
	TradesPerUser  float64 `json:"trades_per_user,omitempty"`
	SmallRatio     float64 `json:"small_ratio,omitempty"`
	Severity       float64 `json:"severity,omitempty"`
}

// DetectionRecord is an immutable account of one manipulation finding.
// Records expire from the detector's working set after 24h, but the
// transaction ids they carry stay permanently flagged.
type DetectionRecord struct {
	ID             uuid.UUID         `json:"id"`
	Type           ManipulationType  `json:"type"`
	Addresses      []string          `json:"addresses"`
	TransactionIDs []uint            `json:"transaction_ids"`
	DetectedAt     time.Time         `json:"detected_at"`
	Evidence       DetectionEvidence `json:"evidence"`
}

// NewDetectionRecord stamps a fresh record with id and detection time.
func NewDetectionRecord(t ManipulationType, addrs []string, txIDs []uint, ev DetectionEvidence, at time.Time) DetectionRecord {
	return DetectionRecord{
		ID:             uuid.New(),
		Type:           t,
		Addresses:      addrs,
		TransactionIDs: txIDs,
		DetectedAt:     at,
		Evidence:       ev,
	}
}
