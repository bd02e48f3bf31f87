package vfs

import (
	"regexp"
	"slices"
	"strings"
)

var (
	reNamedExport   = regexp.MustCompile(`export\s+(?:const|let|var|function\*?|class|async\s+function\*?|enum|abstract\s+class)\s+(\w+)`)
	reTypeExport    = regexp.MustCompile(`export\s+(?:type|interface)\s+(\w+)`)
	reDefaultDecl   = regexp.MustCompile(`export\s+default\s+(?:async\s+)?(?:function|class)\b\s*\*?\s*(\w+)?`)
	reDefaultIdent  = regexp.MustCompile(`export\s+default\s+(\w+)\s*;`)
	reExportList    = regexp.MustCompile(`export\s*(?:type\s*)?\{([^}]+)\}`)
	defaultKeywords = []string{"function", "class", "async"}
)

// ExtractExports lexically lists the symbols a source file exports. Default
// exports appear as "default (Name)" or "default" when anonymous.
func (p *Project) ExtractExports(path string) []string {
	content, ok := p.Read(path)
	if !ok {
		return nil
	}
	return ExtractExports(content)
}

func ExtractExports(content string) []string {
	var exports []string
	add := func(name string) {
		if name != "" && !slices.Contains(exports, name) {
			exports = append(exports, name)
		}
	}
	hasDefault := func() bool {
		return slices.ContainsFunc(exports, func(e string) bool { return strings.HasPrefix(e, "default") })
	}

	for _, m := range reNamedExport.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	for _, m := range reTypeExport.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	for _, m := range reDefaultDecl.FindAllStringSubmatch(content, -1) {
		if m[1] != "" {
			add("default (" + m[1] + ")")
		} else if !hasDefault() {
			add("default")
		}
	}
	for _, m := range reDefaultIdent.FindAllStringSubmatch(content, -1) {
		if slices.Contains(defaultKeywords, m[1]) || hasDefault() {
			continue
		}
		add("default (" + m[1] + ")")
	}
	for _, m := range reExportList.FindAllStringSubmatch(content, -1) {
		for item := range strings.SplitSeq(m[1], ",") {
			item = strings.TrimSpace(item)
			item = strings.TrimPrefix(item, "type ")
			if _, alias, found := strings.Cut(item, " as "); found {
				item = strings.TrimSpace(alias)
			}
			add(item)
		}
	}
	return exports
}
