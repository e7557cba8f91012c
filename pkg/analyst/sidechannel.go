// Package analyst consumes the output contract of the analyst language model:
// free text with bracketed JSON side-channel blocks, plus the guardrails and
// chat session built around it.
package analyst

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/apex/log"
)

type Tag string

const (
	TagGraph          Tag = "GRAPH_DATA"
	TagExport         Tag = "EXPORT_DATA"
	TagExplainability Tag = "EXPLAINABILITY"
)

func (t Tag) open() string  { return "[" + string(t) + "]" }
func (t Tag) close() string { return "[/" + string(t) + "]" }

type BlockStatus int

const (
	BlockAbsent BlockStatus = iota
	BlockParsed
	BlockParseError
)

func (s BlockStatus) String() string {
	switch s {
	case BlockParsed:
		return "parsed"
	case BlockParseError:
		return "parse_error"
	}
	return "absent"
}

// Block is the outcome of looking for one tag. Body is only set when Status
// is BlockParsed.
type Block struct {
	Tag    Tag
	Status BlockStatus
	Body   json.RawMessage
	Err    error
}

var errNotObject = errors.New("block body is not a JSON object")

// Extract finds the first tag block in text. A well-formed block is cut out
// and the text around it is returned untouched. A block whose body is not
// valid JSON leaves text unchanged. An opening tag without its closing tag
// counts as absent.
func Extract(text string, tag Tag) (string, Block) {
	b := Block{Tag: tag}
	start := strings.Index(text, tag.open())
	if start < 0 {
		return text, b
	}
	bodyStart := start + len(tag.open())
	n := strings.Index(text[bodyStart:], tag.close())
	if n < 0 {
		return text, b
	}
	end := bodyStart + n + len(tag.close())
	body := bytes.TrimSpace([]byte(text[bodyStart : bodyStart+n]))

	var probe any
	if err := json.Unmarshal(body, &probe); err != nil {
		b.Status = BlockParseError
		b.Err = fmt.Errorf("%s: %w", tag, err)
		log.WithError(err).WithField("tag", string(tag)).Warn("[analyst] dropping malformed side-channel block")
		return text, b
	}
	b.Status = BlockParsed
	b.Body = json.RawMessage(body)
	return text[:start] + text[end:], b
}

// failed turns a parsed block back into a parse error when its typed decode
// fails.
func failed(b Block, err error) Block {
	log.WithError(err).WithField("tag", string(b.Tag)).Warn("[analyst] side-channel block has the wrong shape")
	return Block{Tag: b.Tag, Status: BlockParseError, Err: fmt.Errorf("%s: %w", b.Tag, err)}
}

func decodeObject(body json.RawMessage) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil || m == nil {
		return nil, errNotObject
	}
	return m, nil
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// stringList accepts any JSON array and stringifies its elements. Anything
// else yields an empty list.
func stringList(m map[string]any, key string) []string {
	arr, ok := m[key].([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		switch x := v.(type) {
		case string:
			out = append(out, x)
		case nil:
			out = append(out, "null")
		default:
			b, _ := json.Marshal(x)
			out = append(out, string(b))
		}
	}
	return out
}

// GraphData is a chart the model wants drawn next to its answer.
type GraphData struct {
	Type  string           `json:"type"`
	Title string           `json:"title"`
	Data  []map[string]any `json:"data"`
}

// ParseGraph extracts the [GRAPH_DATA] block. The graph is nil unless the
// block parsed.
func ParseGraph(text string) (string, *GraphData, Block) {
	clean, b := Extract(text, TagGraph)
	if b.Status != BlockParsed {
		return clean, nil, b
	}
	m, err := decodeObject(b.Body)
	if err != nil {
		return text, nil, failed(b, err)
	}
	g := &GraphData{
		Type:  stringField(m, "type"),
		Title: stringField(m, "title"),
		Data:  []map[string]any{},
	}
	if rows, ok := m["data"].([]any); ok {
		for _, r := range rows {
			if row, ok := r.(map[string]any); ok {
				g.Data = append(g.Data, row)
			}
		}
	}
	return clean, g, b
}

type ExportType string

const (
	ExportPDF  ExportType = "pdf"
	ExportCSV  ExportType = "csv"
	ExportJSON ExportType = "json"
)

// ExportFile is a download the model has prepared. Data is passed through
// untouched for the export pipeline.
type ExportFile struct {
	Name string          `json:"name"`
	Type ExportType      `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ParseExports extracts the [EXPORT_DATA] block, which may hold one export
// object or an array of them. Entries with an unsupported type are skipped.
func ParseExports(text string) (string, []ExportFile, Block) {
	clean, b := Extract(text, TagExport)
	if b.Status != BlockParsed {
		return clean, nil, b
	}
	var raw []json.RawMessage
	if t := bytes.TrimSpace(b.Body); len(t) > 0 && t[0] == '[' {
		if err := json.Unmarshal(t, &raw); err != nil {
			return text, nil, failed(b, err)
		}
	} else {
		raw = []json.RawMessage{b.Body}
	}

	files := make([]ExportFile, 0, len(raw))
	for _, r := range raw {
		var f ExportFile
		if err := json.Unmarshal(r, &f); err != nil {
			log.WithError(err).Warn("[analyst] skipping undecodable export entry")
			continue
		}
		f.Type = ExportType(strings.ToLower(string(f.Type)))
		switch f.Type {
		case ExportPDF, ExportCSV, ExportJSON:
			files = append(files, f)
		default:
			log.WithFields(log.Fields{"name": f.Name, "type": string(f.Type)}).Warn("[analyst] skipping export with unsupported type")
		}
	}
	return clean, files, b
}
