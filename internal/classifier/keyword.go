package classifier

import (
	"context"
	"strings"
)

// Rule maps a category to the lowercase keywords that select it.
type Rule struct {
	Category string   `mapstructure:"category" yaml:"category"`
	Keywords []string `mapstructure:"keywords" yaml:"keywords"`
}

// DefaultRules cover the historical label set.
func DefaultRules() []Rule {
	return []Rule{
		{Category: "Computer Vision", Keywords: []string{"image", "vision", "visual", "video", "segmentation", "detection", "pixel", "3d"}},
		{Category: "NLP", Keywords: []string{"language", "text", "translation", "token", "dialogue", "speech", "llm"}},
		{Category: "Reinforcement Learning", Keywords: []string{"reinforcement", "policy", "reward", "bandit", "agent", "q-learning"}},
		{Category: "Robotics", Keywords: []string{"robot", "manipulation", "locomotion", "grasp", "control"}},
	}
}

// Keyword classifies offline by first matching rule, falling back to a default.
type Keyword struct {
	rules    []Rule
	fallback string
}

// NewKeyword builds a Keyword classifier. Empty rules use DefaultRules and an
// empty fallback uses "Theory".
func NewKeyword(rules []Rule, fallback string) *Keyword {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	if fallback == "" {
		fallback = "Theory"
	}
	return &Keyword{rules: rules, fallback: fallback}
}

// Classify never fails unless ctx is done.
func (k *Keyword) Classify(ctx context.Context, title string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	lower := strings.ToLower(title)
	for _, rule := range k.rules {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return rule.Category, nil
			}
		}
	}
	return k.fallback, nil
}
