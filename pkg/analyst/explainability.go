package analyst

type ConfidenceLabel string

const (
	ConfidenceLow    ConfidenceLabel = "low"
	ConfidenceMedium ConfidenceLabel = "medium"
	ConfidenceHigh   ConfidenceLabel = "high"
)

const (
	highConfidence   = 0.75
	mediumConfidence = 0.45
)

// Explainability is the model's account of how it reached an answer.
// ConfidenceScore is nil when the model gave no numeric score.
type Explainability struct {
	ConfidenceScore   *float64        `json:"confidence_score"`
	ConfidenceLabel   ConfidenceLabel `json:"confidence_label"`
	KeyFactors        []string        `json:"key_factors"`
	Assumptions       []string        `json:"assumptions"`
	CounterIndicators []string        `json:"counter_indicators"`
	SourceRefs        []string        `json:"source_refs"`
}

// LabelFor buckets a score: 0.75 and up is high, 0.45 and up is medium.
func LabelFor(score *float64) ConfidenceLabel {
	switch {
	case score == nil:
		return ConfidenceLow
	case *score >= highConfidence:
		return ConfidenceHigh
	case *score >= mediumConfidence:
		return ConfidenceMedium
	}
	return ConfidenceLow
}

// ParseExplainability extracts the [EXPLAINABILITY] block. An explicit valid
// confidence_label wins over the label derived from the score.
func ParseExplainability(text string) (string, *Explainability, Block) {
	clean, b := Extract(text, TagExplainability)
	if b.Status != BlockParsed {
		return clean, nil, b
	}
	m, err := decodeObject(b.Body)
	if err != nil {
		return text, nil, failed(b, err)
	}

	ex := &Explainability{
		KeyFactors:        stringList(m, "key_factors"),
		Assumptions:       stringList(m, "assumptions"),
		CounterIndicators: stringList(m, "counter_indicators"),
		SourceRefs:        stringList(m, "source_refs"),
	}
	if v, ok := m["confidence_score"].(float64); ok {
		v = max(0, min(1, v))
		ex.ConfidenceScore = &v
	}
	switch l := ConfidenceLabel(stringField(m, "confidence_label")); l {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		ex.ConfidenceLabel = l
	default:
		ex.ConfidenceLabel = LabelFor(ex.ConfidenceScore)
	}
	return clean, ex, b
}
