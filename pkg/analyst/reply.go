package analyst

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sentinelcore/sentinel-stream/pkg/intel"
)

// Reply is one model answer split into display text and side-channel data.
type Reply struct {
	Text           string          `json:"text"`
	Graph          *GraphData      `json:"graph,omitempty"`
	Exports        []ExportFile    `json:"exports,omitempty"`
	Explainability *Explainability `json:"explainability,omitempty"`
	Guardrails     Assessment      `json:"guardrails"`
	Blocks         map[Tag]Block   `json:"-"`
	// Degraded is set when the text is a fallback rather than model output.
	Degraded bool `json:"degraded,omitempty"`
}

// ParseReply pulls every known block out of raw and evaluates the remaining
// text against the guardrails.
func ParseReply(raw string) Reply {
	r := Reply{Blocks: make(map[Tag]Block, 3)}
	text := raw

	var b Block
	text, r.Graph, b = ParseGraph(text)
	r.Blocks[TagGraph] = b
	text, r.Exports, b = ParseExports(text)
	r.Blocks[TagExport] = b
	text, r.Explainability, b = ParseExplainability(text)
	r.Blocks[TagExplainability] = b

	r.Text = text
	r.Guardrails = Evaluate(text, r.Explainability)
	return r
}

func fallbackReply(c FallbackContext) Reply {
	text := FallbackMessage(c)
	return Reply{Text: text, Guardrails: Evaluate(text, nil), Degraded: true}
}

const eventBriefInstruction = "Explain this intelligence event as a strategic analyst. Provide a brief summary of implications and potential next steps. Do not make decisions, just provide context."

// EventBrief renders the prompt asking the model to explain one event.
func EventBrief(ev intel.Event) string {
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		meta = []byte("{}")
	}
	var sb strings.Builder
	sb.WriteString(eventBriefInstruction)
	sb.WriteString("\n\nEVENT DATA:\n")
	fmt.Fprintf(&sb, "Title: %s\n", ev.Title)
	fmt.Fprintf(&sb, "Description: %s\n", ev.Description)
	fmt.Fprintf(&sb, "Severity: %s\n", ev.Severity)
	fmt.Fprintf(&sb, "Region: %s\n", ev.Region)
	fmt.Fprintf(&sb, "Source: %s (Verified: %t)\n", ev.Source, ev.Verified)
	fmt.Fprintf(&sb, "Metadata: %s", meta)
	return sb.String()
}
