package cascade

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed prompts.toml
var defaultPrompts []byte

// Probe identifies a category probe.
type Probe string

const (
	ProbeExplicit        Probe = "explicit"
	ProbeExplicitRefine  Probe = "explicit_refine"
	ProbeExplicitFinal   Probe = "explicit_final"
	ProbeHorror          Probe = "horror"
	ProbeViolence        Probe = "violence"
	ProbeViolenceGore    Probe = "violence_gore"
	ProbeViolenceWeapons Probe = "violence_weapons"
	ProbeViolenceInjury  Probe = "violence_injury"
)

// AllProbes lists every probe a prompt file must define.
var AllProbes = []Probe{
	ProbeExplicit, ProbeExplicitRefine, ProbeExplicitFinal,
	ProbeHorror, ProbeViolence, ProbeViolenceGore, ProbeViolenceWeapons, ProbeViolenceInjury,
}

// firstPassProbes run batched for every frame.
var firstPassProbes = []Probe{
	ProbeExplicit, ProbeHorror, ProbeViolence, ProbeViolenceGore, ProbeViolenceWeapons, ProbeViolenceInjury,
}

// Aggregation combines per-prompt probabilities into one side of a ratio.
type Aggregation string

const (
	AggregateMean Aggregation = "mean"
	AggregateSum  Aggregation = "sum"
)

// PromptSet is the target and counter description lists of one probe.
type PromptSet struct {
	Aggregate Aggregation `toml:"aggregate"`
	Target    []string    `toml:"target"`
	Counter   []string    `toml:"counter"`
}

// Prompts maps each probe to its prompt set.
type Prompts map[Probe]PromptSet

// Combined returns target prompts followed by counter prompts, the order the
// scoring service softmaxes over.
func (p PromptSet) Combined() []string {
	out := make([]string, 0, len(p.Target)+len(p.Counter))
	out = append(out, p.Target...)
	return append(out, p.Counter...)
}

// Ratio aggregates one row of probabilities into target/counter affinity.
func (p PromptSet) Ratio(probs []float64) (float64, error) {
	nt, nc := len(p.Target), len(p.Counter)
	if len(probs) != nt+nc {
		return 0, fmt.Errorf("expected %d probabilities, got %d", nt+nc, len(probs))
	}
	target := aggregate(p.Aggregate, probs[:nt])
	counter := aggregate(p.Aggregate, probs[nt:])
	if counter <= 0 {
		if target <= 0 {
			return 0, nil
		}
		return maxRatio, nil
	}
	return target / counter, nil
}

// maxRatio stands in for a zero counter probability.
const maxRatio = 1e9

func aggregate(mode Aggregation, values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	if mode == AggregateSum || len(values) == 0 {
		return sum
	}
	return sum / float64(len(values))
}

// DefaultPrompts returns the embedded prompt sets.
func DefaultPrompts() (Prompts, error) {
	return ParsePrompts(defaultPrompts)
}

// LoadPrompts reads prompt sets from path, or the embedded defaults when path
// is empty.
func LoadPrompts(path string) (Prompts, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPrompts()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	return ParsePrompts(data)
}

// ParsePrompts decodes and validates a prompt file.
func ParsePrompts(data []byte) (Prompts, error) {
	raw := map[string]PromptSet{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	prompts := make(Prompts, len(raw))
	for name, set := range raw {
		if set.Aggregate == "" {
			set.Aggregate = AggregateMean
		}
		prompts[Probe(name)] = set
	}
	if err := prompts.Validate(); err != nil {
		return nil, err
	}
	return prompts, nil
}

// Validate ensures every probe has both prompt lists and a known aggregation.
func (p Prompts) Validate() error {
	var problems []string
	for _, probe := range AllProbes {
		set, ok := p[probe]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("%s: missing", probe))
		case len(set.Target) == 0 || len(set.Counter) == 0:
			problems = append(problems, fmt.Sprintf("%s: target and counter must be non-empty", probe))
		case set.Aggregate != AggregateMean && set.Aggregate != AggregateSum:
			problems = append(problems, fmt.Sprintf("%s: unknown aggregate %q", probe, set.Aggregate))
		}
	}
	if len(problems) > 0 {
		return errors.New("invalid prompts: " + strings.Join(problems, "; "))
	}
	return nil
}
