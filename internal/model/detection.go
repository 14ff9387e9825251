package model

import "time"

// AnomalyType identifies one detector sub-case. Persisted as text; values
// are stable identifiers and must not be renamed.
type AnomalyType string

const (
	// Refund-without-return detector.
	AnomalyRefundNoReturn AnomalyType = "refund_no_return"

	// Phantom refund detector.
	AnomalyPhantomRefund AnomalyType = "phantom_refund"

	// Return abuse detector sub-cases.
	AnomalyAbuseNoReturn       AnomalyType = "abuse_no_return"
	AnomalyAbuseWrongItem      AnomalyType = "abuse_wrong_item"
	AnomalyAbuseDamagedRefund  AnomalyType = "abuse_damaged_full_refund"
	AnomalyAbuseLateReturn     AnomalyType = "abuse_late_return"
	AnomalyAbusePartialReturn  AnomalyType = "abuse_partial_return"
	AnomalyAbuseMissingRestock AnomalyType = "abuse_missing_restock_fee"
	AnomalySerialReturner      AnomalyType = "serial_returner"

	// Inventory shrinkage drift detector.
	AnomalyShrinkageDrift AnomalyType = "shrinkage_drift"

	// Order-level discrepancy detector sub-cases.
	AnomalyQuantityMismatch AnomalyType = "quantity_mismatch"
	AnomalyPriceMismatch    AnomalyType = "price_mismatch"
	AnomalyFeeOvercharge    AnomalyType = "fee_overcharge"
	AnomalyProceedsMismatch AnomalyType = "proceeds_mismatch"

	// Claim workflow gap detector sub-cases.
	AnomalyPartialReimbursement AnomalyType = "partial_reimbursement"
	AnomalyReopenableClaim      AnomalyType = "reopenable_claim"
	AnomalyDeniedWithEvidence   AnomalyType = "denied_with_evidence"
	AnomalyExpiredException     AnomalyType = "expired_exception"
	AnomalyStaleClaim           AnomalyType = "stale_claim"

	// Return anomaly detector sub-cases.
	AnomalyMissingRestock       AnomalyType = "missing_restock"
	AnomalyExcessRefund         AnomalyType = "excess_refund"
	AnomalyCanceledShipmentFee  AnomalyType = "canceled_shipment_fee"
	AnomalyUnauthorizedDisposal AnomalyType = "unauthorized_disposal"

	// Silent suppression detector.
	AnomalySilentSuppression AnomalyType = "silent_suppression"
)

// Severity is the business-impact tier of a detection, derived from value
// and urgency, independent of confidence.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// DetectionStatus tracks the claim lifecycle of a detection. The engine
// only ever creates results in StatusPending; later transitions belong to
// the claim workflow.
type DetectionStatus string

const (
	StatusPending   DetectionStatus = "pending"
	StatusFiled     DetectionStatus = "filed"
	StatusResolved  DetectionStatus = "resolved"
	StatusDismissed DetectionStatus = "dismissed"
)

// ConfidenceFactor is one named, weighted boolean signal in a detector's
// additive confidence scheme. Factor names and weights are part of the
// documented business contract and are persisted with the evidence.
type ConfidenceFactor struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Met    bool    `json:"met"`
}

// EvidenceWindow describes one time window that supports a detection,
// e.g. a shrinkage comparison window or a suppression baseline.
type EvidenceWindow struct {
	Label    string    `json:"label"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Expected float64   `json:"expected"`
	Actual   float64   `json:"actual"`
	Delta    float64   `json:"delta"`
}

// Evidence is the structured justification attached to a detection.
type Evidence struct {
	Reasons       []string           `json:"reasons,omitempty"`
	MatchedFields map[string]string  `json:"matched_fields,omitempty"`
	Metrics       map[string]float64 `json:"metrics,omitempty"`
	Windows       []EvidenceWindow   `json:"windows,omitempty"`
	Factors       []ConfidenceFactor `json:"factors,omitempty"`
	ActionSteps   []string           `json:"action_steps,omitempty"`
}

// DetectionResult is one emitted, scored, valued anomaly candidate. Results
// below a detector's value or confidence gate are never constructed at all.
type DetectionResult struct {
	ID                 string          `json:"id"`
	SellerID           string          `json:"seller_id"`
	SyncID             string          `json:"sync_id"`
	AnomalyType        AnomalyType     `json:"anomaly_type"`
	Severity           Severity        `json:"severity"`
	EstimatedValue     float64         `json:"estimated_value"`
	Currency           string          `json:"currency"`
	ConfidenceScore    float64         `json:"confidence_score"`
	ConfidenceInterval string          `json:"confidence_interval,omitempty"`
	Evidence           Evidence        `json:"evidence"`
	RelatedEventIDs    []string        `json:"related_event_ids,omitempty"`
	Status             DetectionStatus `json:"status"`
	DiscoveryDate      time.Time       `json:"discovery_date"`
	DeadlineDate       *time.Time      `json:"deadline_date,omitempty"`
	DaysRemaining      int             `json:"days_remaining"`
}
