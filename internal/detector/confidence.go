package detector

import "github.com/recoup-labs/recovery-cli/internal/model"

// Breakdown accumulates a detector's additive confidence score from named,
// weighted boolean factors. The factor weights are part of the documented
// business contract; they are persisted in the evidence so a reviewer can
// see exactly which signals fired.
type Breakdown struct {
	factors []model.ConfidenceFactor
	bonus   float64
}

// Add records a factor. Weight contributes to the score only when met.
func (b *Breakdown) Add(name string, weight float64, met bool) {
	b.factors = append(b.factors, model.ConfidenceFactor{Name: name, Weight: weight, Met: met})
}

// Bonus adds an unconditional score bump applied after the factor sum.
func (b *Breakdown) Bonus(v float64) {
	b.bonus += v
}

// Score returns the additive confidence, capped at 1.0.
func (b *Breakdown) Score() float64 {
	var s float64
	for _, f := range b.factors {
		if f.Met {
			s += f.Weight
		}
	}
	s += b.bonus
	if s > 1.0 {
		s = 1.0
	}
	if s < 0 {
		s = 0
	}
	return s
}

// Factors returns the recorded factors for evidence attachment.
func (b *Breakdown) Factors() []model.ConfidenceFactor {
	return b.factors
}
