package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/user/listing-monitor/internal/entity"
)

func TestFingerprintIgnoresInsertionOrder(t *testing.T) {
	keys := []string{"price", "title", "category", "revenue", "profit", "status", "url"}
	values := map[string]any{
		"price": 100000.0, "title": "Shop", "category": "ecommerce",
		"revenue": 5000.0, "profit": 1200.0, "status": "active", "url": "https://example.com/1",
	}

	want := ""
	for shift := 0; shift < len(keys); shift++ {
		f := make(entity.Fields)
		for i := range keys {
			k := keys[(i+shift)%len(keys)]
			f[k] = values[k]
		}
		got := Fingerprint(f)
		if want == "" {
			want = got
		}
		assert.Equal(t, want, got)
	}
}

func TestFingerprintDistinguishesTypes(t *testing.T) {
	assert.NotEqual(t,
		Fingerprint(entity.Fields{"price": 1.0}),
		Fingerprint(entity.Fields{"price": "1"}))
	assert.NotEqual(t,
		Fingerprint(entity.Fields{"a": "b"}),
		Fingerprint(entity.Fields{"a": "c"}))
	assert.Equal(t, Fingerprint(entity.Fields{}), Fingerprint(nil))
}
