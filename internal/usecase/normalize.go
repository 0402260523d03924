package usecase

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/user/listing-monitor/internal/entity"
)

// Normalizer turns raw extractor output into a canonical field map: strings
// are trimmed, numbers become float64 and null or empty values are dropped.
type Normalizer struct {
	numeric map[string]struct{}
}

// NewNormalizer returns a normalizer that additionally coerces the string
// values of numericFields ("$1,250,000", "3.2x", "1.5M") into numbers.
func NewNormalizer(numericFields []string) *Normalizer {
	n := &Normalizer{numeric: make(map[string]struct{}, len(numericFields))}
	for _, f := range numericFields {
		n.numeric[strings.TrimSpace(f)] = struct{}{}
	}
	return n
}

func (n *Normalizer) Normalize(in map[string]any) entity.Fields {
	out := make(entity.Fields, len(in))
	for k, v := range in {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		_, numeric := n.numeric[key]
		if nv, ok := normalizeValue(v, numeric); ok {
			out[key] = nv
		}
	}
	return out
}

func normalizeValue(v any, numeric bool) (any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, false
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, false
		}
		if numeric {
			if f, ok := parseNumeric(s); ok {
				return f, true
			}
		}
		return s, true
	case *string:
		if x == nil {
			return nil, false
		}
		return normalizeValue(*x, numeric)
	case bool:
		return x, true
	case float64:
		return finite(x)
	case float32:
		return finite(float64(x))
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return normalizeValue(x.String(), numeric)
		}
		return finite(f)
	case time.Time:
		if x.IsZero() {
			return nil, false
		}
		return x.UTC().Format(time.RFC3339), true
	default:
		// Lists and nested objects collapse into canonical JSON; encoding/json
		// sorts map keys.
		b, err := json.Marshal(x)
		if err != nil || string(b) == "null" {
			return nil, false
		}
		return string(b), true
	}
}

func finite(f float64) (any, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return f, true
}

var numericReplacer = strings.NewReplacer(",", "", "$", "", "€", "", "£", "", " ", "", "_", "")

// parseNumeric accepts human formatted amounts such as "$1,250,000",
// "1.5M", "3.2x" or "45%".
func parseNumeric(s string) (float64, bool) {
	s = numericReplacer.Replace(strings.ToLower(s))
	s = strings.TrimSuffix(strings.TrimSuffix(s, "x"), "%")
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "k"):
		mult, s = 1e3, strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "m"):
		mult, s = 1e6, strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "b"):
		mult, s = 1e9, strings.TrimSuffix(s, "b")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f * mult, true
}

// FormatValue renders a normalized value for the change log.
func FormatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}
