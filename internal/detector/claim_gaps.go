package detector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/recoup-labs/recovery-cli/internal/model"
)

// Claim workflow gap constants.
const (
	claimGapsMinValue      = 10.0
	claimGapsShowThreshold = 0.55

	partialShortfallPct      = 0.10
	partialShortfallFloor    = 10.0
	staleResponseDays        = 7
	claimStandardWindowDays  = 60
	claimExceptionWindowDays = 90
)

// genericDenialPhrases are resolution reasons that indicate an auto-close
// rather than a substantive review. Matching is case-insensitive substring.
var genericDenialPhrases = []string{
	"insufficient information",
	"unable to verify",
	"no reimbursement warranted",
	"does not qualify",
	"not eligible at this time",
	"no evidence of",
}

// claimGapActions holds the canned remediation steps per gap type.
var claimGapActions = map[model.AnomalyType][]string{
	model.AnomalyPartialReimbursement: {
		"compare reimbursed amount against itemized loss",
		"reply on the original case with the shortfall calculation",
		"attach the supplier invoice for the affected units",
	},
	model.AnomalyReopenableClaim: {
		"reopen the case citing the generic denial reason",
		"attach proof of delivery and the original shipment manifest",
		"request escalation to a claims specialist",
	},
	model.AnomalyDeniedWithEvidence: {
		"file an appeal attaching the held proof of delivery or invoice",
		"reference the case id and the denial date in the appeal",
	},
	model.AnomalyExpiredException: {
		"file under the carrier/platform delay exception",
		"document the delay with carrier tracking history",
	},
	model.AnomalyStaleClaim: {
		"post a follow-up on the pending case",
		"escalate if no response within 48 hours of the follow-up",
	},
}

// claimGapConfidence holds the per-type flat confidence; gap detection is a
// record-state check, not a statistical inference.
var claimGapConfidence = map[model.AnomalyType]float64{
	model.AnomalyPartialReimbursement: 0.85,
	model.AnomalyReopenableClaim:      0.60,
	model.AnomalyDeniedWithEvidence:   0.70,
	model.AnomalyExpiredException:     0.58,
	model.AnomalyStaleClaim:           0.65,
}

// claimGapProbability is the recovery-probability heuristic per gap type,
// used to gate on expected recovery and surfaced in the evidence.
var claimGapProbability = map[model.AnomalyType]float64{
	model.AnomalyPartialReimbursement: 0.75,
	model.AnomalyReopenableClaim:      0.55,
	model.AnomalyDeniedWithEvidence:   0.65,
	model.AnomalyExpiredException:     0.45,
	model.AnomalyStaleClaim:           0.50,
}

// ClaimGaps audits closed, denied, and pending cases for five independent
// recoverable gaps.
type ClaimGaps struct{}

// NewClaimGaps creates the detector.
func NewClaimGaps() *ClaimGaps { return &ClaimGaps{} }

func (d *ClaimGaps) Name() string           { return "claim_gaps" }
func (d *ClaimGaps) MinValue() float64      { return claimGapsMinValue }
func (d *ClaimGaps) ShowThreshold() float64 { return claimGapsShowThreshold }

// Detect evaluates every claim record.
func (d *ClaimGaps) Detect(_ context.Context, in Input) ([]model.DetectionResult, error) {
	now := in.now()

	var results []model.DetectionResult
	for _, claim := range in.Claims {
		for _, g := range claimGapsFor(claim, now) {
			prob := claimGapProbability[g.anomaly]
			expected := g.value * prob
			if expected < d.MinValue() {
				continue
			}

			g.metrics["recovery_probability"] = prob
			g.metrics["expected_recovery"] = round2(expected)

			results = append(results, model.DetectionResult{
				ID:              uuid.New().String(),
				SellerID:        in.SellerID,
				SyncID:          in.SyncID,
				AnomalyType:     g.anomaly,
				Severity:        severityFor(g.value, g.deadline, now),
				EstimatedValue:  round2(g.value),
				Currency:        claim.Currency,
				ConfidenceScore: claimGapConfidence[g.anomaly],
				Evidence: model.Evidence{
					Reasons:       []string{g.reason},
					MatchedFields: map[string]string{"case_id": claim.CaseID, "status": claim.Status},
					Metrics:       g.metrics,
					ActionSteps:   claimGapActions[g.anomaly],
				},
				RelatedEventIDs: []string{claim.CaseID},
				Status:          model.StatusPending,
				DiscoveryDate:   now,
				DeadlineDate:    g.deadline,
				DaysRemaining:   remaining(g.deadline, now),
			})
		}
	}

	results = gate(results, d.MinValue(), d.ShowThreshold())
	sortByImpact(results)
	return results, nil
}

// gapFinding is one fired gap check.
type gapFinding struct {
	anomaly  model.AnomalyType
	value    float64
	reason   string
	metrics  map[string]float64
	deadline *time.Time
}

// claimGapsFor evaluates the five independent gap checks for one claim.
func claimGapsFor(claim model.ClaimRecord, now time.Time) []gapFinding {
	var findings []gapFinding

	closed := claim.Status == "closed" || claim.Status == "denied"

	// 1. Partial reimbursement with a material shortfall.
	if closed && claim.AmountReimbursed > 0 && claim.AmountRequested > 0 {
		shortfall := claim.AmountRequested - claim.AmountReimbursed
		if shortfall >= partialShortfallFloor && shortfall >= partialShortfallPct*claim.AmountRequested {
			findings = append(findings, gapFinding{
				anomaly: model.AnomalyPartialReimbursement,
				value:   shortfall,
				reason:  fmt.Sprintf("reimbursed %.2f of %.2f requested", claim.AmountReimbursed, claim.AmountRequested),
				metrics: map[string]float64{
					"requested":  claim.AmountRequested,
					"reimbursed": claim.AmountReimbursed,
					"shortfall":  round2(shortfall),
				},
			})
		}
	}

	// 2. Auto-closed with a generic denial phrase and nothing paid.
	if claim.Status == "closed" && claim.AmountReimbursed == 0 && genericDenial(claim.ResolutionReason) {
		findings = append(findings, gapFinding{
			anomaly: model.AnomalyReopenableClaim,
			value:   claim.AmountRequested,
			reason:  "closed with a generic denial reason and no payout",
			metrics: map[string]float64{"requested": claim.AmountRequested},
		})
	}

	// 3. Denied while the seller holds documentary evidence.
	if claim.Status == "denied" && (claim.HasProofOfDelivery || claim.HasInvoice) {
		findings = append(findings, gapFinding{
			anomaly: model.AnomalyDeniedWithEvidence,
			value:   claim.AmountRequested,
			reason:  "denied despite proof of delivery or invoice on hand",
			metrics: map[string]float64{"requested": claim.AmountRequested},
		})
	}

	// 4. Standard filing window expired but a delay exception still runs.
	if age := daysBetween(claim.EventDate, now); age > claimStandardWindowDays &&
		age < claimExceptionWindowDays &&
		(claim.CarrierDelayed || claim.PlatformDelayed) {
		deadline := claim.EventDate.AddDate(0, 0, claimExceptionWindowDays)
		findings = append(findings, gapFinding{
			anomaly:  model.AnomalyExpiredException,
			value:    claim.AmountRequested,
			reason:   "standard window expired but the delay exception still applies",
			deadline: &deadline,
			metrics: map[string]float64{
				"requested":      claim.AmountRequested,
				"event_age_days": float64(age),
			},
		})
	}

	// 5. Pending with no marketplace response for a week.
	if claim.Status == "pending" {
		last := claim.OpenedDate
		if claim.LastResponseDate != nil {
			last = *claim.LastResponseDate
		}
		if silent := daysBetween(last, now); silent >= staleResponseDays {
			findings = append(findings, gapFinding{
				anomaly: model.AnomalyStaleClaim,
				value:   claim.AmountRequested,
				reason:  fmt.Sprintf("no marketplace response for %d days", silent),
				metrics: map[string]float64{
					"requested":   claim.AmountRequested,
					"silent_days": float64(silent),
				},
			})
		}
	}

	return findings
}

func genericDenial(reason string) bool {
	lower := strings.ToLower(reason)
	for _, phrase := range genericDenialPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func remaining(deadline *time.Time, now time.Time) int {
	if deadline == nil {
		return 0
	}
	return daysBetween(now, *deadline)
}
