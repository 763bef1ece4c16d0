package flagging

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/castscan/castscan/moderation"
)

func TestEvaluateThresholdBoundary(t *testing.T) {
	assert := assert.New(t)
	th := DefaultThresholds()

	// exactly at the cutoff flags (inclusive compare)
	fs := Evaluate(moderation.ScoreSet{moderation.CategorySpam: 0.7}, th)
	assert.True(fs.Categories[moderation.CategorySpam])
	assert.True(fs.IsFlagged)

	// just below does not
	fs = Evaluate(moderation.ScoreSet{moderation.CategorySpam: 0.6999}, th)
	assert.False(fs.Categories[moderation.CategorySpam])
	assert.False(fs.IsFlagged)
}

func TestEvaluateAggregateOR(t *testing.T) {
	assert := assert.New(t)
	th := DefaultThresholds()

	// all-zero scores never flag
	fs := Evaluate(moderation.ScoreSet{}, th)
	assert.False(fs.IsFlagged)
	for _, cat := range TrackedCategories() {
		assert.False(fs.Categories[cat], cat)
	}

	// one category over its cutoff is enough
	fs = Evaluate(moderation.ScoreSet{moderation.CategorySexualMinors: 0.3}, th)
	assert.True(fs.IsFlagged)
	assert.True(fs.Categories[moderation.CategorySexualMinors])
	assert.False(fs.Categories[moderation.CategorySpam])
}

func TestEvaluateMissingCategoriesDefaultToZero(t *testing.T) {
	assert := assert.New(t)

	fs := Evaluate(moderation.ScoreSet{"some_provider_extra": 0.99}, DefaultThresholds())
	assert.False(fs.IsFlagged)
	assert.Len(fs.Categories, len(TrackedCategories()))
}

func TestEvaluateIsPure(t *testing.T) {
	assert := assert.New(t)
	scores := moderation.ScoreSet{
		moderation.CategorySpam:        0.9,
		moderation.CategoryAIGenerated: 0.1,
	}
	th := DefaultThresholds()

	first := Evaluate(scores, th)
	second := Evaluate(scores, th)
	assert.Equal(first, second)

	// inputs untouched
	assert.Equal(0.9, scores[moderation.CategorySpam])
	assert.Equal(0.7, th[moderation.CategorySpam])
}

func TestThresholdOverrides(t *testing.T) {
	assert := assert.New(t)

	th := DefaultThresholds().Merge(map[string]float64{
		moderation.CategorySpam: 0.5,
		"custom_category":       0.9,
	})
	assert.Equal(0.5, th[moderation.CategorySpam])
	assert.Equal(0.75, th[moderation.CategoryAIGenerated])
	assert.Equal(0.9, th["custom_category"])

	// merge does not mutate the canonical defaults
	assert.Equal(0.7, DefaultThresholds()[moderation.CategorySpam])

	fs := Evaluate(moderation.ScoreSet{moderation.CategorySpam: 0.55}, th)
	assert.True(fs.IsFlagged)
}
