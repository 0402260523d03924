package entity

// Strategy names an extractor variant selected by the worker.
type Strategy string

const (
	StrategyPrimary  Strategy = "primary"
	StrategyFallback Strategy = "fallback"
	StrategyStealth  Strategy = "stealth"
)

// ParseStrategy reports whether s names a known strategy.
func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(s) {
	case StrategyPrimary, StrategyFallback, StrategyStealth:
		return Strategy(s), true
	}
	return "", false
}

// ExtractedItem is the raw, un-normalized field map of one listing.
type ExtractedItem struct {
	EntityID string         `json:"entity_id"`
	Fields   map[string]any `json:"fields"`
}

// Extraction is the tagged success result of an extractor call.
type Extraction struct {
	Items      []ExtractedItem
	Confidence float64
	Strategy   Strategy
}
