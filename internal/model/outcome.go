package model

import "time"

// ClaimOutcome is what actually happened to a previously emitted detection
// once the claim workflow resolved it.
type ClaimOutcome string

const (
	OutcomeApproved ClaimOutcome = "approved"
	OutcomeRejected ClaimOutcome = "rejected"
	OutcomePartial  ClaimOutcome = "partial"
	OutcomePending  ClaimOutcome = "pending"
	OutcomeExpired  ClaimOutcome = "expired"
)

// OutcomeRecord is the ground truth the calibrator learns from. Created
// when a claim resolves, updated as status changes, never deleted.
type OutcomeRecord struct {
	ID                  string       `json:"id"`
	DetectionResultID   string       `json:"detection_result_id"`
	SellerID            string       `json:"seller_id"`
	AnomalyType         AnomalyType  `json:"anomaly_type"`
	PredictedConfidence float64      `json:"predicted_confidence"`
	EstimatedValue      float64      `json:"estimated_value"`
	Outcome             ClaimOutcome `json:"outcome"`
	RecoveryAmount      float64      `json:"recovery_amount"`
	FiledDate           time.Time    `json:"filed_date"`
	ResolutionDate      *time.Time   `json:"resolution_date,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// AnomalyTypeAccuracy is the per-type rollup rebuilt from historical
// outcomes. Cached process-wide with a TTL by the calibrator.
type AnomalyTypeAccuracy struct {
	AnomalyType            AnomalyType `json:"anomaly_type"`
	TotalClaims            int         `json:"total_claims"`
	Approved               int         `json:"approved"`
	Rejected               int         `json:"rejected"`
	Partial                int         `json:"partial"`
	Pending                int         `json:"pending"`
	Expired                int         `json:"expired"`
	ApprovalRate           float64     `json:"approval_rate"`
	AvgPredictedConfidence float64     `json:"avg_predicted_confidence"`
	AvgRecoveryPct         float64     `json:"avg_recovery_pct"`
	AvgDaysToResolution    float64     `json:"avg_days_to_resolution"`
	TotalRecovered         float64     `json:"total_recovered"`
}

// Resolved returns the number of outcomes that reached a terminal state.
// Pending claims carry no calibration signal.
func (a AnomalyTypeAccuracy) Resolved() int {
	return a.Approved + a.Rejected + a.Partial + a.Expired
}
