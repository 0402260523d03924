package usecase

import (
	"math"
	"strings"

	"github.com/user/listing-monitor/internal/entity"
)

// Scorer rates how significant a change is. Scores are advisory and only
// used for sorting and alerting.
type Scorer interface {
	Score(changeType entity.ChangeType, field string, oldValue, newValue any) float64
}

// WeightedScorer multiplies a per-field importance by the relative size of
// numeric deltas. Non-numeric and null transitions score the full weight.
type WeightedScorer struct {
	Weights         map[string]float64
	DefaultWeight   float64
	LifecycleWeight float64
}

func (s WeightedScorer) Score(changeType entity.ChangeType, field string, oldValue, newValue any) float64 {
	switch changeType {
	case entity.ChangeUnchanged:
		return 0
	case entity.ChangeNew, entity.ChangeDeleted:
		return s.LifecycleWeight
	}

	w, ok := s.Weights[strings.ToLower(field)]
	if !ok {
		w = s.DefaultWeight
	}

	oldNum, oldOK := oldValue.(float64)
	newNum, newOK := newValue.(float64)
	if !oldOK || !newOK {
		return w
	}
	base := math.Max(math.Abs(oldNum), 1)
	return w * math.Min(math.Abs(newNum-oldNum)/base, 1)
}
