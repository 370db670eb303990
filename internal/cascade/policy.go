package cascade

import (
	"fmt"

	"mediaguard/internal/config"
)

// Policy is the threshold table the cascade decides against.
type Policy struct {
	config.Thresholds
}

// NewPolicy wraps configured thresholds.
func NewPolicy(t config.Thresholds) Policy {
	return Policy{Thresholds: t}
}

// FirstPass holds the batched single-shot ratios of one frame.
type FirstPass struct {
	Explicit        float64
	Horror          float64
	Violence        float64
	ViolenceGore    float64
	ViolenceWeapons float64
	ViolenceInjury  float64
}

// Step is what the cascade should do next for a frame.
type Step int

const (
	StepSafe Step = iota
	StepUnsafe
	StepRefine
	StepFinal
	StepClassify
)

// Screen applies the single-shot probes and the primary ceiling. It returns
// StepUnsafe with a reason, StepRefine when the primary ratio falls into its
// ambiguity band, or StepSafe.
func (p Policy) Screen(r FirstPass) (Step, string) {
	switch {
	case r.Explicit > p.ExplicitCeiling:
		return StepUnsafe, reason(ProbeExplicit, r.Explicit, p.ExplicitCeiling)
	case r.Horror > p.Horror:
		return StepUnsafe, reason(ProbeHorror, r.Horror, p.Horror)
	case r.Violence > p.Violence:
		return StepUnsafe, reason(ProbeViolence, r.Violence, p.Violence)
	case r.ViolenceGore > p.ViolenceGore:
		return StepUnsafe, reason(ProbeViolenceGore, r.ViolenceGore, p.ViolenceGore)
	case r.ViolenceWeapons > p.ViolenceWeapons:
		return StepUnsafe, reason(ProbeViolenceWeapons, r.ViolenceWeapons, p.ViolenceWeapons)
	case r.ViolenceInjury > p.ViolenceInjury:
		return StepUnsafe, reason(ProbeViolenceInjury, r.ViolenceInjury, p.ViolenceInjury)
	case r.Explicit >= p.ExplicitBandLow:
		return StepRefine, ""
	default:
		return StepSafe, ""
	}
}

// Refine decides on the second explicit probe.
func (p Policy) Refine(r2 float64) (Step, string) {
	switch {
	case r2 > p.RefineCeiling:
		return StepUnsafe, reason(ProbeExplicitRefine, r2, p.RefineCeiling)
	case r2 >= p.RefineBandLow:
		return StepFinal, ""
	default:
		return StepSafe, ""
	}
}

// Final decides on the third explicit probe, including the combined-evidence
// rule over all three explicit ratios.
func (p Policy) Final(r1, r2, r3 float64) (Step, string) {
	switch {
	case r3 > p.FinalCeiling:
		return StepUnsafe, reason(ProbeExplicitFinal, r3, p.FinalCeiling)
	case r1 > p.CombinedFloor && r2 > p.CombinedFloor && r3 > p.CombinedFloor:
		return StepUnsafe, fmt.Sprintf("combined explicit ratios %.2f/%.2f/%.2f > %.2f", r1, r2, r3, p.CombinedFloor)
	case r3 >= p.FinalBandLow && r3 <= p.FinalBandHigh:
		return StepClassify, ""
	default:
		return StepSafe, ""
	}
}

// Classify decides on the dedicated classifier score.
func (p Policy) Classify(score float64) (Step, string) {
	if score > p.Classifier {
		return StepUnsafe, fmt.Sprintf("classifier %.3f > %.2f", score, p.Classifier)
	}
	return StepSafe, ""
}

func reason(probe Probe, ratio, limit float64) string {
	return fmt.Sprintf("%s ratio %.2f > %.2f", probe, ratio, limit)
}
