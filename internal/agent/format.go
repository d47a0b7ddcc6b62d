package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/mcpbridge/internal/mcphost"
)

// FormatCallResult renders a normalised tool result as user-facing Markdown.
// The converters are deterministic; no LLM is involved at this stage.
func FormatCallResult(toolName string, res *mcphost.CallResult) string {
	if res == nil {
		return ""
	}
	if msg := res.ErrorMessage(); msg != "" {
		return msg
	}
	sc := res.Structured()
	if sc != nil {
		if summary, ok := sc["summary"].(string); ok && strings.TrimSpace(summary) != "" {
			return formatSummary(sc, summary)
		}
		if ok, _ := sc["ok"].(bool); ok {
			if text := formatOKPayload(sc); text != "" {
				return text
			}
		}
		if results, ok := sc["results"].([]any); ok && len(results) > 0 {
			return formatGrouped("## 실행 결과", results)
		}
		if docs, ok := sc["docs"].([]any); ok && len(docs) > 0 {
			return formatGrouped("## 문서 목록", docs)
		}
		if hits, ok := sc["hits"].([]any); ok && len(hits) > 0 {
			return formatGrouped("## 검색 결과", hits)
		}
	}
	if texts := res.ContentTexts(); len(texts) > 0 {
		var b strings.Builder
		b.WriteString("## MCP 응답\n")
		for _, t := range texts {
			b.WriteString("- " + strings.TrimSpace(t) + "\n")
		}
		return strings.TrimRight(b.String(), "\n")
	}
	return formatFallback(toolName, res)
}

func formatSummary(sc map[string]any, summary string) string {
	var b strings.Builder
	b.WriteString("## 실행 결과\n")
	if out, ok := sc["output_path"].(string); ok && out != "" {
		b.WriteString("- output_path: " + out + "\n")
	}
	b.WriteString("\n" + strings.TrimSpace(summary))
	return b.String()
}

func formatOKPayload(sc map[string]any) string {
	out, _ := sc["output_path"].(string)
	summary, _ := sc["summary"].(string)
	if out == "" && summary == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString("## 실행 결과\n")
	if out != "" {
		b.WriteString("- output_path: " + out + "\n")
	}
	if summary != "" {
		b.WriteString("\n" + strings.TrimSpace(summary))
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatGrouped renders a list of entries grouped by their path field.
func formatGrouped(heading string, items []any) string {
	type entry struct {
		title   string
		line    int
		snippet string
	}
	var order []string
	grouped := make(map[string][]entry)
	for _, raw := range items {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		path, _ := m["path"].(string)
		if path == "" {
			path, _ = m["file"].(string)
		}
		if path == "" {
			path = "(unknown)"
		}
		e := entry{}
		if t, ok := m["title"].(string); ok && t != "" {
			e.title = t
		} else if t, ok := m["name"].(string); ok && t != "" {
			e.title = t
		} else {
			e.title = path
		}
		switch n := m["line"].(type) {
		case float64:
			e.line = int(n)
		case int:
			e.line = n
		}
		if s, ok := m["snippet"].(string); ok {
			e.snippet = strings.TrimSpace(s)
		} else if s, ok := m["text"].(string); ok {
			e.snippet = strings.TrimSpace(s)
		}
		if _, ok := grouped[path]; !ok {
			order = append(order, path)
		}
		grouped[path] = append(grouped[path], e)
	}
	if len(order) == 0 {
		return heading
	}
	var b strings.Builder
	b.WriteString(heading + "\n")
	for _, path := range order {
		b.WriteString("\n### " + path + "\n")
		for _, e := range grouped[path] {
			b.WriteString("- " + e.title)
			if e.line > 0 {
				fmt.Fprintf(&b, " (line %d)", e.line)
			}
			if e.snippet != "" {
				b.WriteString(" - " + e.snippet)
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatFallback(toolName string, res *mcphost.CallResult) string {
	payload := any(res.Result)
	if payload == nil {
		payload = res.Raw
	}
	pretty, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		pretty = []byte(fmt.Sprint(payload))
	}
	return fmt.Sprintf("## 실행 결과 - 도구: %s\n```json\n%s\n```", toolName, pretty)
}
