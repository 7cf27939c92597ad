package domain

import "time"

// ConfidenceTier is the coarse strength label on an inferred vehicle.
type ConfidenceTier string

const (
	ConfidenceHigh   ConfidenceTier = "high"
	ConfidenceMedium ConfidenceTier = "medium"
	ConfidenceLow    ConfidenceTier = "low"
)

// VisitorVehicleProfile is the best-guess vehicle for one visitor.
// It is never persisted: every query recomputes it from the signal
// history so the result is always reproducible.
type VisitorVehicleProfile struct {
	VisitorID    string         `json:"visitor_id"`
	BrandID      int64          `json:"brand_id"`
	ModelID      *int64         `json:"model_id,omitempty"`
	YearID       *int64         `json:"year_id,omitempty"`
	Confidence   ConfidenceTier `json:"confidence"`
	Score        int            `json:"score"`
	SignalCount  int            `json:"signal_count"`
	LastSignalAt time.Time      `json:"last_signal_at"`
}
