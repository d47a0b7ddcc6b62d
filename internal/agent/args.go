package agent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mohammad-safakhou/mcpbridge/internal/mcphost"
)

// queryKeys are the free-text argument names a tool schema may accept, in
// preference order.
var queryKeys = []string{"query", "input", "text", "prompt", "q", "question", "content"}

// pathTokenRE matches the path shapes accepted from free text: a leading ./
// or / with a dotted extension, two slash-separated segments, a bare *.md
// name, or a bare name ending in /.
var pathTokenRE = regexp.MustCompile(
	`(?:\./|/)[^\s,;]*\.[A-Za-z0-9]+` +
		`|[^\s,;/]+(?:/[^\s,;/]+)+/?` +
		`|[^\s,;/]+\.md` +
		`|[^\s,;/]+/`)

var extensionRE = regexp.MustCompile(`\.[A-Za-z0-9]+$`)

// NormalizePathString extracts path-like tokens from free text. When no
// token shape matches, the text is split on separators; a lone leftover token
// with no path hint is rejected.
func NormalizePathString(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	tokens := pathTokenRE.FindAllString(s, -1)
	if len(tokens) == 0 {
		for _, piece := range strings.FieldsFunc(s, func(r rune) bool {
			return r == ';' || r == ',' || r == '\n'
		}) {
			piece = strings.TrimSpace(piece)
			if piece != "" {
				tokens = append(tokens, piece)
			}
		}
		if len(tokens) == 1 {
			tok := tokens[0]
			if strings.Contains(tok, " ") ||
				(!strings.Contains(tok, "/") && !extensionRE.MatchString(tok)) {
				return nil
			}
		}
	}
	return dedupeStrings(tokens)
}

// NormalizePathList coerces an arbitrary value into a clean string slice:
// arrays are trimmed and deduplicated, strings go through token extraction.
func NormalizePathList(v any) []string {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return NormalizePathString(x)
	case []string:
		var out []string
		for _, s := range x {
			if t := strings.TrimSpace(s); t != "" {
				out = append(out, t)
			}
		}
		return dedupeStrings(out)
	case []any:
		var out []string
		for _, item := range x {
			var s string
			switch it := item.(type) {
			case string:
				s = it
			default:
				s = fmt.Sprint(it)
			}
			if t := strings.TrimSpace(s); t != "" {
				out = append(out, t)
			}
		}
		return dedupeStrings(out)
	default:
		return NormalizePathString(fmt.Sprint(x))
	}
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// DefaultArguments infers arguments a tool always wants.
func DefaultArguments(tool mcphost.ToolDescriptor) map[string]any {
	args := map[string]any{}
	if tool.HasProperty("output_path") {
		args["output_path"] = "output.md"
	}
	return args
}

// InitialArguments builds the first argument shape for a tool from a seed
// string, stopping at the first matching rule.
func InitialArguments(tool mcphost.ToolDescriptor, seed string) map[string]any {
	requiresPaths := tool.RequiresKey("paths")
	requiresOutput := tool.RequiresKey("output_path")

	switch {
	case strings.Contains(tool.Name, "rebuild_summary") || (requiresPaths && requiresOutput):
		return map[string]any{"paths": normalizedOrEmpty(seed), "output_path": "output.md"}
	case requiresPaths && tool.HasProperty("paths"):
		args := map[string]any{"paths": normalizedOrEmpty(seed)}
		if requiresOutput {
			args["output_path"] = "output.md"
		}
		return args
	case tool.HasProperty("paths"):
		return map[string]any{"paths": normalizedOrEmpty(seed)}
	case requiresOutput && !hasAnyQueryKey(tool):
		args := map[string]any{"output_path": "output.md"}
		for _, key := range tool.Required() {
			if key != "output_path" {
				args[key] = seed
				break
			}
		}
		return args
	}
	if key := firstQueryKey(tool); key != "" {
		return map[string]any{key: seed}
	}
	if req := tool.Required(); len(req) > 0 {
		return map[string]any{req[0]: seed}
	}
	for _, name := range propertyNames(tool) {
		return map[string]any{name: seed}
	}
	return map[string]any{"query": seed}
}

func normalizedOrEmpty(seed string) []string {
	if paths := NormalizePathString(seed); paths != nil {
		return paths
	}
	return []string{}
}

func hasAnyQueryKey(tool mcphost.ToolDescriptor) bool { return firstQueryKey(tool) != "" }

func firstQueryKey(tool mcphost.ToolDescriptor) string {
	for _, key := range queryKeys {
		if tool.HasProperty(key) {
			return key
		}
	}
	return ""
}

// propertyNames returns schema property names, required ones first so the
// result is deterministic for shape decisions.
func propertyNames(tool mcphost.ToolDescriptor) []string {
	props := tool.Properties()
	var names []string
	seen := make(map[string]struct{})
	for _, r := range tool.Required() {
		if _, ok := props[r]; ok {
			names = append(names, r)
			seen[r] = struct{}{}
		}
	}
	// map order is unspecified; sort the remainder for stability
	var rest []string
	for name := range props {
		if _, ok := seen[name]; !ok {
			rest = append(rest, name)
		}
	}
	sortStrings(rest)
	return append(names, rest...)
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// SanitizeArguments reconciles planned arguments against the tool schema.
// The operation is idempotent: sanitising an already-sanitised map is a
// no-op.
func SanitizeArguments(tool mcphost.ToolDescriptor, planned map[string]any, seed string, defaultPaths []string) map[string]any {
	args := make(map[string]any, len(planned)+2)
	for k, v := range planned {
		args[k] = v
	}

	if tool.HasProperty("paths") {
		paths := NormalizePathList(firstPresent(args, "paths", "path", "path_list"))
		if len(paths) == 0 {
			paths = NormalizePathString(seed)
		}
		if len(paths) == 0 {
			paths = dedupeStrings(defaultPaths)
		}
		if paths == nil {
			paths = []string{}
		}
		args["paths"] = paths
		delete(args, "path")
		delete(args, "path_list")
	}

	if tool.HasProperty("output_path") || tool.RequiresKey("output_path") {
		if s, ok := args["output_path"].(string); !ok || strings.TrimSpace(s) == "" {
			args["output_path"] = "output.md"
		}
	}

	props := tool.Properties()
	for name := range props {
		v, present := args[name]
		if !present || name == "paths" || name == "output_path" {
			continue
		}
		switch tool.PropertyType(name) {
		case "array":
			args[name] = NormalizePathList(v)
		case "string":
			switch v.(type) {
			case string, []string, []any:
			default:
				args[name] = fmt.Sprint(v)
			}
		}
	}

	for _, key := range tool.Required() {
		if _, ok := args[key]; ok {
			continue
		}
		switch key {
		case "paths":
			args[key] = normalizedOrEmpty(seed)
		case "output_path":
			args[key] = "output.md"
		default:
			args[key] = seed
		}
	}

	if key := firstQueryKey(tool); key != "" {
		if s, ok := args[key].(string); !ok || strings.TrimSpace(s) == "" {
			if _, isList := args[key].([]any); !isList {
				args[key] = seed
			}
		}
	}
	return args
}

func firstPresent(args map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := args[key]; ok && v != nil {
			if list := NormalizePathList(v); len(list) > 0 {
				return v
			}
		}
	}
	return nil
}

// discoveryKeys name the structured-result collections worth mining for
// paths.
var discoveryKeys = map[string]struct{}{
	"paths": {}, "files": {}, "results": {}, "hits": {}, "docs": {}, "documents": {},
}

// ExtractDiscoveryPaths harvests path-like strings from a tool-call result:
// the well-known structured collections, any value under a key containing
// "path", and the content[].text blocks.
func ExtractDiscoveryPaths(res *mcphost.CallResult) []string {
	if res == nil {
		return nil
	}
	var candidates []string
	if sc := res.Structured(); sc != nil {
		for key, value := range sc {
			if _, known := discoveryKeys[key]; known || strings.Contains(strings.ToLower(key), "path") {
				candidates = append(candidates, collectStrings(value)...)
			} else if m, ok := value.(map[string]any); ok {
				candidates = append(candidates, collectPathKeyed(m)...)
			} else if arr, ok := value.([]any); ok {
				for _, item := range arr {
					if m, ok := item.(map[string]any); ok {
						candidates = append(candidates, collectPathKeyed(m)...)
					}
				}
			}
		}
	}
	candidates = append(candidates, res.ContentTexts()...)

	var out []string
	for _, c := range candidates {
		out = append(out, NormalizePathString(c)...)
	}
	return dedupeStrings(out)
}

// collectStrings flattens strings out of scalars, arrays and maps. Map
// entries are mined for path-bearing keys only.
func collectStrings(v any) []string {
	switch x := v.(type) {
	case string:
		return []string{x}
	case []any:
		var out []string
		for _, item := range x {
			out = append(out, collectStrings(item)...)
		}
		return out
	case map[string]any:
		return collectPathKeyed(x)
	default:
		return nil
	}
}

// collectPathKeyed pulls values whose key mentions "path" (or is a known
// collection) out of a map, recursively.
func collectPathKeyed(m map[string]any) []string {
	var out []string
	for key, value := range m {
		lower := strings.ToLower(key)
		if _, known := discoveryKeys[lower]; known || strings.Contains(lower, "path") {
			out = append(out, collectStrings(value)...)
			continue
		}
		switch nested := value.(type) {
		case map[string]any:
			out = append(out, collectPathKeyed(nested)...)
		case []any:
			for _, item := range nested {
				if mm, ok := item.(map[string]any); ok {
					out = append(out, collectPathKeyed(mm)...)
				}
			}
		}
	}
	return out
}
