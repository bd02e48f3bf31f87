package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mtzanidakis/webforge/internal/agent"
	"gopkg.in/yaml.v3"
)

const defaultDifficulty = 3

var (
	reSpawnBlock  = regexp.MustCompile(`(?s)<spawn_children>\s*(.*?)\s*</spawn_children>`)
	reAttrChild   = regexp.MustCompile(`(?s)<child\s+([^>]+?)(?:/>|>(.*?)</child>)`)
	reNestedChild = regexp.MustCompile(`(?s)<child>(.*?)</child>`)
	reAttr        = regexp.MustCompile(`(?s)([A-Za-z0-9_]+)\s*=\s*(?:"(.*?)"|'(.*?)')`)
	fieldPatterns = map[string]*regexp.Regexp{}
	specFields    = []string{"role", "task", "output_format", "context", "difficulty", "constraints", "reuse", "output_key", "placeholder"}
	xmlUnescaper  = strings.NewReplacer("&quot;", `"`, "&apos;", "'", "&lt;", "<", "&gt;", ">", "&amp;", "&")
)

func init() {
	for _, f := range specFields {
		fieldPatterns[f] = regexp.MustCompile(`(?s)<` + f + `>(.*?)</` + f + `>`)
	}
}

// spawnGrammar decodes one historical spawn-block format. ok is false when
// the block is not in that format.
type spawnGrammar struct {
	name  string
	parse func(block string) ([]map[string]string, bool)
}

var spawnGrammars = []spawnGrammar{
	{name: "attribute-xml", parse: parseAttributeXML},
	{name: "nested-xml", parse: parseNestedXML},
	{name: "flat-xml", parse: parseFlatXML},
	{name: "yaml", parse: parseYAMLSpawn},
}

// ParseSpawnBlocks decodes every <spawn_children> block in text. A block no
// grammar accepts is reported as ErrParseAmbiguous.
func ParseSpawnBlocks(text string) ([]agent.Spec, error) {
	var specs []agent.Spec
	for _, m := range reSpawnBlock.FindAllStringSubmatch(text, -1) {
		block := strings.TrimSpace(m[1])
		items, grammar := decodeSpawnBlock(block)
		if items == nil {
			return specs, fmt.Errorf("%w: <spawn_children> block matched no accepted format (attribute XML, <child> XML, flat XML or a YAML list); received: %s",
				agent.ErrParseAmbiguous, truncate(block, 200))
		}
		for _, item := range items {
			spec := specFromFields(item)
			if spec.Task == "" && spec.Reuse == "" {
				return specs, fmt.Errorf("%w: %s child %q has no task", agent.ErrParseAmbiguous, grammar, spec.Role)
			}
			specs = append(specs, spec)
		}
	}
	return specs, nil
}

func decodeSpawnBlock(block string) ([]map[string]string, string) {
	for _, g := range spawnGrammars {
		if items, ok := g.parse(block); ok && len(items) > 0 {
			return items, g.name
		}
	}
	return nil, ""
}

func parseAttributeXML(block string) ([]map[string]string, bool) {
	var items []map[string]string
	for _, m := range reAttrChild.FindAllStringSubmatch(block, -1) {
		item := make(map[string]string)
		for _, a := range reAttr.FindAllStringSubmatch(m[1], -1) {
			val := a[2]
			if val == "" {
				val = a[3]
			}
			item[a[1]] = xmlUnescaper.Replace(val)
		}
		// Nested tags override attributes.
		for k, v := range extractFields(m[2]) {
			item[k] = v
		}
		if item["role"] != "" {
			items = append(items, item)
		}
	}
	return items, len(items) > 0
}

func parseNestedXML(block string) ([]map[string]string, bool) {
	var items []map[string]string
	for _, m := range reNestedChild.FindAllStringSubmatch(block, -1) {
		if item := extractFields(m[1]); len(item) > 0 {
			items = append(items, item)
		}
	}
	return items, len(items) > 0
}

// parseFlatXML accepts a single child written as bare field tags.
func parseFlatXML(block string) ([]map[string]string, bool) {
	if strings.Contains(block, "<child") {
		return nil, false
	}
	item := extractFields(block)
	if item["role"] == "" {
		return nil, false
	}
	return []map[string]string{item}, true
}

// parseYAMLSpawn accepts a list of maps or a single map.
func parseYAMLSpawn(block string) ([]map[string]string, bool) {
	var raw any
	if err := yaml.Unmarshal([]byte(block), &raw); err != nil {
		return nil, false
	}
	var list []any
	switch v := raw.(type) {
	case []any:
		list = v
	case map[string]any:
		list = []any{v}
	default:
		return nil, false
	}

	var items []map[string]string
	for _, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		item := make(map[string]string, len(m))
		for k, v := range m {
			item[k] = yamlString(v)
		}
		items = append(items, item)
	}
	return items, len(items) > 0
}

func yamlString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, yamlString(p))
		}
		return strings.Join(parts, "\n")
	default:
		return fmt.Sprint(t)
	}
}

func extractFields(s string) map[string]string {
	item := make(map[string]string)
	if s == "" {
		return item
	}
	for _, f := range specFields {
		if m := fieldPatterns[f].FindStringSubmatch(s); m != nil {
			item[f] = strings.TrimSpace(m[1])
		}
	}
	return item
}

func specFromFields(item map[string]string) agent.Spec {
	difficulty := defaultDifficulty
	if n, err := strconv.Atoi(strings.TrimSpace(item["difficulty"])); err == nil {
		difficulty = min(max(n, 1), 5)
	}
	key := item["output_key"]
	if key == "" {
		key = item["placeholder"]
	}
	return agent.Spec{
		Role:         strings.TrimSpace(item["role"]),
		Task:         strings.TrimSpace(item["task"]),
		Context:      strings.TrimSpace(item["context"]),
		OutputFormat: strings.TrimSpace(item["output_format"]),
		Constraints:  splitConstraints(item["constraints"]),
		Difficulty:   difficulty,
		Reuse:        strings.TrimSpace(item["reuse"]),
		OutputKey:    strings.TrimSpace(key),
	}
}

func splitConstraints(s string) []string {
	var out []string
	for line := range strings.SplitSeq(s, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
