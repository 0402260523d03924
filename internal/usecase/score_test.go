package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/user/listing-monitor/internal/entity"
)

func TestWeightedScorer(t *testing.T) {
	s := WeightedScorer{
		Weights:         map[string]float64{"price": 1, "title": 0.3},
		DefaultWeight:   0.2,
		LifecycleWeight: 1,
	}

	assert.InDelta(t, 0.1, s.Score(entity.ChangeUpdated, "price", 100000.0, 110000.0), 1e-9)
	assert.InDelta(t, 1.0, s.Score(entity.ChangeUpdated, "price", 100.0, 1000.0), 1e-9, "relative delta caps at one")
	assert.InDelta(t, 0.3, s.Score(entity.ChangeUpdated, "title", "Old", "New"), 1e-9)
	assert.InDelta(t, 0.2, s.Score(entity.ChangeUpdated, "color", "red", nil), 1e-9)
	assert.InDelta(t, 1.0, s.Score(entity.ChangeNew, "", nil, nil), 1e-9)
	assert.Zero(t, s.Score(entity.ChangeUnchanged, "", nil, nil))

	// Price moves dominate cosmetic edits of the same relative size.
	assert.Greater(t,
		s.Score(entity.ChangeUpdated, "price", 100.0, 150.0),
		s.Score(entity.ChangeUpdated, "title", 100.0, 150.0))
}
