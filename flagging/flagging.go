// Package flagging derives boolean moderation flags from raw category
// scores. Evaluate is a pure function: no I/O, no failure modes, missing
// categories read as probability zero.
package flagging

import (
	"github.com/castscan/castscan/moderation"
)

// Thresholds maps a category to its probability cutoff in [0,1].
// Comparison is inclusive: score >= cutoff raises the flag.
type Thresholds map[string]float64

// DefaultThresholds is the single canonical threshold set. Callers override
// individual categories via Merge; no other code defines cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		moderation.CategorySpam:            0.7,
		moderation.CategoryAIGenerated:     0.75,
		moderation.CategorySexual:          0.5,
		moderation.CategoryHate:            0.5,
		moderation.CategoryViolence:        0.5,
		moderation.CategoryHarassment:      0.5,
		moderation.CategorySelfHarm:        0.5,
		moderation.CategorySexualMinors:    0.25,
		moderation.CategoryHateThreatening: 0.4,
		moderation.CategoryViolenceGraphic: 0.4,
	}
}

// TrackedCategories lists the categories a FlagSet covers, in stable order.
func TrackedCategories() []string {
	return []string{
		moderation.CategorySpam,
		moderation.CategoryAIGenerated,
		moderation.CategorySexual,
		moderation.CategoryHate,
		moderation.CategoryViolence,
		moderation.CategoryHarassment,
		moderation.CategorySelfHarm,
		moderation.CategorySexualMinors,
		moderation.CategoryHateThreatening,
		moderation.CategoryViolenceGraphic,
	}
}

// Merge returns a copy of t with the given overrides applied. Unknown
// categories in the override map are carried through, so provider-defined
// categories can be thresholded too.
func (t Thresholds) Merge(overrides map[string]float64) Thresholds {
	out := make(Thresholds, len(t)+len(overrides))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// FlagSet holds one boolean per tracked category, plus the aggregate.
type FlagSet struct {
	Categories map[string]bool `json:"categories"`
	IsFlagged  bool            `json:"is_flagged"`
}

// Evaluate compares each tracked category's score against its threshold.
// A category missing from scores counts as 0; a category missing from th
// never flags (cutoff above any probability).
func Evaluate(scores moderation.ScoreSet, th Thresholds) FlagSet {
	fs := FlagSet{
		Categories: make(map[string]bool, 10),
	}
	for _, cat := range TrackedCategories() {
		cutoff, ok := th[cat]
		if !ok {
			fs.Categories[cat] = false
			continue
		}
		flagged := scores[cat] >= cutoff
		fs.Categories[cat] = flagged
		if flagged {
			fs.IsFlagged = true
		}
	}
	return fs
}
