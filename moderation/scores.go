package moderation

// ScoreSet maps a moderation category to a probability in [0,1]. One set per
// identity. Sets are never mutated after creation; a cache refresh replaces
// the whole entry.
type ScoreSet map[string]float64

// Category keys as stored in a ScoreSet. The provider's `spam` and
// `llm_generated` labels are renamed; every other label passes through
// verbatim.
const (
	CategorySpam            = "spam_probability"
	CategoryAIGenerated     = "ai_generated_probability"
	CategorySexual          = "sexual"
	CategoryHate            = "hate"
	CategoryViolence        = "violence"
	CategoryHarassment      = "harassment"
	CategorySelfHarm        = "self_harm"
	CategorySexualMinors    = "sexual_minors"
	CategoryHateThreatening = "hate_threatening"
	CategoryViolenceGraphic = "violence_graphic"
)

type LabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// scoreSetFromLabels converts a provider label list into a ScoreSet,
// applying the label renames above.
func scoreSetFromLabels(labels []LabelScore) ScoreSet {
	set := make(ScoreSet, len(labels))
	for _, ls := range labels {
		switch ls.Label {
		case "spam":
			set[CategorySpam] = ls.Score
		case "llm_generated":
			set[CategoryAIGenerated] = ls.Score
		default:
			set[ls.Label] = ls.Score
		}
	}
	return set
}
