package analyst

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func score(v float64) *float64 { return &v }

func TestGuardrailsMatchWholeWords(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Recommend we EVACUATE the district.", []string{"evacuate"}},
		{"deploy,strike", []string{"deploy", "strike"}},
		{"Deployment of strikes is unlikely", nil},
		{"a lock-down is not a lockdown", []string{"lockdown"}},
		{"", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, defaultGuardrails.Match(tt.in), tt.in)
	}
}

func TestGuardrailsBlocksUnsupportedHighImpact(t *testing.T) {
	ex := &Explainability{ConfidenceScore: score(0.9), ConfidenceLabel: ConfidenceHigh, KeyFactors: []string{"a"}}
	a := Evaluate("Evacuate the market now.", ex)
	assert.True(t, a.Blocked)
	assert.True(t, a.RequiresHumanVerification)
	assert.Equal(t, []string{WarnBlocked}, a.Warnings)

	ex.SourceRefs = []string{"ev-12"}
	a = Evaluate("Evacuate the market now.", ex)
	assert.False(t, a.Blocked)
	assert.False(t, a.RequiresHumanVerification)
	assert.Empty(t, a.Warnings)
}

func TestGuardrailsWarnings(t *testing.T) {
	a := Evaluate("Calm overnight.", nil)
	assert.Equal(t, []string{WarnMissingExplainability}, a.Warnings)
	assert.False(t, a.RequiresHumanVerification)

	low := &Explainability{ConfidenceScore: score(0.2), ConfidenceLabel: ConfidenceLow}
	a = Evaluate("Calm overnight.", low)
	assert.Equal(t, []string{WarnLowConfidence}, a.Warnings)
	assert.True(t, a.RequiresHumanVerification)

	// an explicit label does not hide a low score
	mislabelled := &Explainability{ConfidenceScore: score(0.3), ConfidenceLabel: ConfidenceHigh}
	assert.Contains(t, Evaluate("ok", mislabelled).Warnings, WarnLowConfidence)

	unstable := &Explainability{
		ConfidenceLabel:   ConfidenceHigh,
		KeyFactors:        []string{"a"},
		CounterIndicators: []string{"b", "c"},
	}
	assert.Equal(t, []string{WarnUnstable}, Evaluate("ok", unstable).Warnings)
}

func TestFallbackMessages(t *testing.T) {
	assert.NotEqual(t, FallbackMessage(FallbackChat), FallbackMessage(FallbackEventExplainer))
	assert.Equal(t, FallbackMessage(FallbackChat), FallbackMessage(FallbackChat))
	assert.Empty(t, defaultGuardrails.Match(FallbackMessage(FallbackChat)))
	assert.Empty(t, defaultGuardrails.Match(FallbackMessage(FallbackEventExplainer)))
}
