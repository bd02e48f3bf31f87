package build

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"text/template"
)

const defaultTitle = "Webforge App"

var shellTemplate = template.Must(template.New("shell").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
      html, body, #root { width: 100%; height: 100%; margin: 0; padding: 0; }
    </style>
{{- range .Head}}
    {{.}}
{{- end}}
    <script type="importmap">
{{.ImportMap}}
    </script>
    <script type="module">
{{.Script}}
    </script>
</head>
<body>
    <div id="root"></div>
</body>
</html>
`))

const (
	tailwindScript = `<script src="https://cdn.tailwindcss.com"></script>`
	leafletCSS     = `<link rel="stylesheet" href="https://unpkg.com/leaflet@1.9.4/dist/leaflet.css" integrity="sha256-p4NxAoJBhIIN+hmNHrzRCf9tD/miZyoHS5obTRR9BMY=" crossorigin="" />`
	katexCSS       = `<link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/katex@0.16.9/dist/katex.min.css" integrity="sha384-n8MVd4RsNIU0tAv4ct0nTaAbDJwPJzDEaqSD1odI+WdtXRGWt2kTvGFasHpSy3SV" crossorigin="anonymous">`
)

// Shell wraps a compiled bundle into a standalone page with an import map
// and the stylesheets its declared dependencies need.
func Shell(title, js string, declared []string) (string, error) {
	var head []string
	if slices.Contains(declared, "tailwind") {
		head = append(head, tailwindScript)
	}
	if slices.Contains(declared, "leaflet") || strings.Contains(js, "leaflet") {
		head = append(head, leafletCSS)
	}
	if slices.Contains(declared, "katex") {
		head = append(head, katexCSS)
	}

	im, err := json.MarshalIndent(map[string]any{"imports": ImportMap(js, declared)}, "    ", "    ")
	if err != nil {
		return "", fmt.Errorf("marshal import map: %w", err)
	}

	if title == "" {
		title = defaultTitle
	}
	var sb strings.Builder
	err = shellTemplate.Execute(&sb, map[string]any{
		"Title":     escapeTitle(title),
		"Head":      head,
		"ImportMap": "    " + string(im),
		"Script":    js,
	})
	if err != nil {
		return "", fmt.Errorf("render shell: %w", err)
	}
	return sb.String(), nil
}

var titleEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeTitle(s string) string { return titleEscaper.Replace(s) }

// RenderTemplateVars replaces {{key}} placeholders with their values.
func RenderTemplateVars(content string, vars map[string]string) string {
	if len(vars) == 0 {
		return content
	}
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(content)
}
