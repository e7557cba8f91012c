package analyst

import (
	"strings"
	"unicode"

	"github.com/cloudflare/ahocorasick"
)

// HighImpactTerms are operational verbs that must not reach an operator
// without cited evidence.
var HighImpactTerms = []string{
	"evacuate",
	"deploy",
	"arrest",
	"shutdown",
	"quarantine",
	"retaliate",
	"strike",
	"lockdown",
}

const (
	WarnMissingExplainability = "Explainability metadata is missing. Treat this as unverified AI output."
	WarnLowConfidence         = "Low confidence response: human verification is required before operational action."
	WarnBlocked               = "High-impact recommendation was blocked because no evidence/source references were provided."
	WarnUnstable              = "Counter-indicators outweigh supporting factors. Treat recommendation as unstable."
)

// Assessment is the guardrail verdict on one model answer.
type Assessment struct {
	Blocked                   bool     `json:"blocked"`
	Warnings                  []string `json:"warnings"`
	RequiresHumanVerification bool     `json:"requires_human_verification"`
	Terms                     []string `json:"high_impact_terms,omitempty"`
}

// Guardrails matches whole words case-insensitively. Words are padded with
// spaces and the input is folded to lower case with every non-word rune
// turned into a space, so "strikes" or "deployment" do not match.
type Guardrails struct {
	terms   []string
	matcher *ahocorasick.Matcher
}

func NewGuardrails(terms []string) *Guardrails {
	padded := make([]string, len(terms))
	for i, t := range terms {
		padded[i] = " " + strings.ToLower(t) + " "
	}
	return &Guardrails{terms: terms, matcher: ahocorasick.NewStringMatcher(padded)}
}

var defaultGuardrails = NewGuardrails(HighImpactTerms)

func foldWords(s string) []byte {
	folded := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return []byte(" " + folded + " ")
}

// Match returns the high-impact terms found in content, in dictionary order.
func (g *Guardrails) Match(content string) []string {
	hits := g.matcher.MatchThreadSafe(foldWords(content))
	if len(hits) == 0 {
		return nil
	}
	seen := make(map[int]bool, len(hits))
	for _, h := range hits {
		seen[h] = true
	}
	var out []string
	for i, t := range g.terms {
		if seen[i] {
			out = append(out, strings.ToLower(t))
		}
	}
	return out
}

// Evaluate judges content against its explainability block, which may be
// nil when the model sent none.
func (g *Guardrails) Evaluate(content string, ex *Explainability) Assessment {
	a := Assessment{Warnings: []string{}}

	lowConfidence := false
	if ex == nil {
		a.Warnings = append(a.Warnings, WarnMissingExplainability)
	} else {
		lowConfidence = ex.ConfidenceLabel == ConfidenceLow ||
			(ex.ConfidenceScore != nil && *ex.ConfidenceScore < mediumConfidence)
	}
	if lowConfidence {
		a.Warnings = append(a.Warnings, WarnLowConfidence)
	}

	a.Terms = g.Match(content)
	hasEvidence := ex != nil && len(ex.SourceRefs) > 0
	a.Blocked = len(a.Terms) > 0 && !hasEvidence
	if a.Blocked {
		a.Warnings = append(a.Warnings, WarnBlocked)
	}

	if ex != nil && len(ex.CounterIndicators) > len(ex.KeyFactors) {
		a.Warnings = append(a.Warnings, WarnUnstable)
	}
	a.RequiresHumanVerification = lowConfidence || a.Blocked
	return a
}

// Evaluate uses the default high-impact vocabulary.
func Evaluate(content string, ex *Explainability) Assessment {
	return defaultGuardrails.Evaluate(content, ex)
}

type FallbackContext int

const (
	FallbackChat FallbackContext = iota
	FallbackEventExplainer
)

// FallbackMessage is the fixed text shown when the model is unavailable.
func FallbackMessage(c FallbackContext) string {
	if c == FallbackEventExplainer {
		return "AI analysis is currently degraded. Use verified incident fields (timestamp, location, source reliability, and officer notes) until service is restored."
	}
	return "AI deep-dive is temporarily unavailable. Continue with manual triage: prioritize verified reports, confirm source provenance, and escalate only with human approval."
}
