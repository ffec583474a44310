package agents

import (
	"fmt"
	"strings"
)

// Criterion is one weighted component of a strength score
type Criterion struct {
	Key   string
	Label string
	Max   int
}

// Rubric is a named scoring scheme. Scores produced under different rubrics
// are not comparable and are never combined.
type Rubric struct {
	Name     string
	Criteria []Criterion
}

// CaseStrengthRubric is used by the plaintiff and lawyer agents
var CaseStrengthRubric = Rubric{
	Name: "case-strength",
	Criteria: []Criterion{
		{Key: "liability", Label: "Liability", Max: 40},
		{Key: "damages", Label: "Damages", Max: 30},
		{Key: "evidence", Label: "Evidence", Max: 20},
		{Key: "procedure", Label: "Procedural posture", Max: 10},
	},
}

// IntakeRubric is used by the intake analyst and stored on intake records
var IntakeRubric = Rubric{
	Name: "intake",
	Criteria: []Criterion{
		{Key: "legalMerit", Label: "Legal Merit", Max: 30},
		{Key: "evidenceQuality", Label: "Evidence Quality", Max: 20},
		{Key: "damagesPotential", Label: "Damages Potential", Max: 25},
		{Key: "proceduralViability", Label: "Procedural Viability", Max: 15},
		{Key: "likelihoodOfSuccess", Label: "Likelihood of Success", Max: 10},
	},
}

// Total is the maximum achievable score
func (r Rubric) Total() int {
	total := 0
	for _, c := range r.Criteria {
		total += c.Max
	}
	return total
}

// Max returns the cap for a criterion key, or 0 if the key is unknown
func (r Rubric) Max(key string) int {
	for _, c := range r.Criteria {
		if c.Key == key {
			return c.Max
		}
	}
	return 0
}

// Clamp bounds a sub-score to [0, Max(key)]
func (r Rubric) Clamp(key string, v int) int {
	if v < 0 {
		return 0
	}
	if m := r.Max(key); v > m {
		return m
	}
	return v
}

// Render lists the criteria as instruction bullets, e.g. "- Liability (0-40)"
func (r Rubric) Render(indent string) string {
	var b strings.Builder
	for i, c := range r.Criteria {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s- %s (0-%d)", indent, c.Label, c.Max)
	}
	return b.String()
}
