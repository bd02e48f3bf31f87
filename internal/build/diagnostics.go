package build

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Files is the read view of a project the error hints need.
type Files interface {
	List() []string
	ExtractExports(path string) []string
}

var (
	reMissingExport = regexp.MustCompile(`No matching export in "vfs:([^"]+)" for import "([^"]+)"`)
	reFileNotFound  = regexp.MustCompile(`File not found in VFS: (\S+)`)
)

// IsCritical reports whether type-check diagnostics must block the build.
// Unresolved modules are left to the compiler and the import map.
func IsCritical(diagnostics string) bool {
	if !strings.Contains(diagnostics, "error TS") {
		return false
	}
	return strings.Contains(diagnostics, "is not defined") || strings.Contains(diagnostics, "not assignable")
}

// EnhanceError appends hints to a compiler error: the real exports of a
// module imported with a wrong name, or files resembling a missing one.
func EnhanceError(msg string, files Files) string {
	var sb strings.Builder
	sb.WriteString(msg)

	if m := reMissingExport.FindStringSubmatch(msg); m != nil {
		file, missing := m[1], m[2]
		for _, p := range []string{file, file + ".ts", file + ".tsx"} {
			exports := files.ExtractExports(p)
			if len(exports) == 0 {
				continue
			}
			list := strings.Join(exports[:min(len(exports), 10)], ", ")
			if len(exports) > 10 {
				list += fmt.Sprintf(" (+%d more)", len(exports)-10)
			}
			fmt.Fprintf(&sb, "\n\nAvailable exports in %s: %s", p, list)
			lower := strings.ToLower(missing)
			for _, e := range exports {
				if strings.Contains(strings.ToLower(e), lower) {
					fmt.Fprintf(&sb, "\n   Did you mean: `import { %s } from '...'` ?", e)
					break
				}
			}
			break
		}
	}

	if m := reFileNotFound.FindStringSubmatch(msg); m != nil {
		base := strings.ToLower(path.Base(m[1]))
		var similar []string
		for _, f := range files.List() {
			if strings.Contains(strings.ToLower(f), base) {
				similar = append(similar, f)
				if len(similar) == 5 {
					break
				}
			}
		}
		if len(similar) > 0 {
			fmt.Fprintf(&sb, "\n\nSimilar files in project: %s", strings.Join(similar, ", "))
		}
	}
	return sb.String()
}
