package build

import (
	"maps"
	"regexp"
	"slices"
	"strings"
)

// coreImports are always present in the import map.
var coreImports = map[string]string{
	"react":             "https://esm.sh/react@18.2.0",
	"react/jsx-runtime": "https://esm.sh/react@18.2.0/jsx-runtime?external=react",
	"react-dom":         "https://esm.sh/react-dom@18.2.0?external=react",
	"react-dom/client":  "https://esm.sh/react-dom@18.2.0/client?external=react",
	"clsx":              "https://esm.sh/clsx@2.0.0?dev",
	"tailwind-merge":    "https://esm.sh/tailwind-merge@2.0.0?dev",
}

// optionalImports are added when declared or referenced by the bundle.
var optionalImports = map[string]string{
	"framer-motion":       "https://esm.sh/framer-motion@10.16.4?dev&external=react,react-dom",
	"lucide-react":        "https://esm.sh/lucide-react@0.292.0?dev&external=react,react-dom",
	"lottie-react":        "https://esm.sh/lottie-react@2.4.0?dev&external=react,react-dom",
	"canvas-confetti":     "https://esm.sh/canvas-confetti@1.9.2?dev",
	"gsap":                "https://esm.sh/gsap@3.12.5?dev",
	"zustand":             "https://esm.sh/zustand@4.5.0?dev&external=react",
	"zustand/middleware":  "https://esm.sh/zustand@4.5.0/middleware?dev&external=react",
	"date-fns":            "https://esm.sh/date-fns@2.30.0?dev",
	"date-fns/locale":     "https://esm.sh/date-fns@2.30.0/locale?dev",
	"lodash":              "https://esm.sh/lodash@4.17.21?dev",
	"recharts":            "https://esm.sh/recharts@2.12.0?dev&external=react,react-dom",
	"mathjs":              "https://esm.sh/mathjs@12.3.0?dev",
	"papaparse":           "https://esm.sh/papaparse@5.4.1?dev",
	"xlsx":                "https://esm.sh/xlsx@0.18.5?dev",
	"axios":               "https://esm.sh/axios@1.6.7?dev",
	"three":               "https://esm.sh/three@0.160.0?dev",
	"@react-three/fiber":  "https://esm.sh/@react-three/fiber@8.15.14?dev&external=react,react-dom,three",
	"@react-three/drei":   "https://esm.sh/@react-three/drei@9.96.1?dev&external=react,react-dom,three,@react-three/fiber",
	"@react-three/cannon": "https://esm.sh/@react-three/cannon@6.6.0?dev&external=react,react-dom,three,@react-three/fiber",
	"pixi.js":             "https://esm.sh/pixi.js@7.3.2?dev",
	"@pixi/react":         "https://esm.sh/@pixi/react@7.1.1?dev&external=react,react-dom,pixi.js",
	"leaflet":             "https://esm.sh/leaflet@1.9.4?dev",
	"react-leaflet":       "https://esm.sh/react-leaflet@4.2.1?dev&external=react,react-dom,leaflet",
	"react-markdown":      "https://esm.sh/react-markdown@9.0.1?dev&external=react,react-dom",
	"howler":              "https://esm.sh/howler@2.2.4?dev",
	"tone":                "https://esm.sh/tone@14.7.77?dev",
	"mammoth":             "https://esm.sh/mammoth@1.6.0?dev",
}

var (
	reExternal   = regexp.MustCompile(`external=([^&]+)`)
	reBareImport = regexp.MustCompile(`import\s*["']([^./][^"']*)["']`)
)

// Modules lists every package the import map can serve, sorted.
func Modules() []string {
	names := slices.Collect(maps.Keys(coreImports))
	names = slices.AppendSeq(names, maps.Keys(optionalImports))
	slices.Sort(names)
	return names
}

// Allowed reports whether the import map can resolve name.
func Allowed(name string) bool {
	_, core := coreImports[name]
	_, opt := optionalImports[name]
	return core || opt
}

// Unsupported returns the compiler externals the import map cannot serve.
func Unsupported(externals []string) []string {
	var out []string
	for _, ext := range externals {
		if !Allowed(ext) && !slices.Contains(out, ext) {
			out = append(out, ext)
		}
	}
	return out
}

// BareImports finds side-effect imports of bare specifiers the browser
// cannot resolve, such as `import "leaflet/dist/leaflet.css"`.
func BareImports(js string) []string {
	var out []string
	for _, m := range reBareImport.FindAllStringSubmatch(js, -1) {
		name := m[1]
		if Allowed(name) || strings.HasPrefix(name, "http") || slices.Contains(out, name) {
			continue
		}
		out = append(out, name)
	}
	return out
}

func externalDeps(url string) []string {
	m := reExternal.FindStringSubmatch(url)
	if m == nil {
		return nil
	}
	var deps []string
	for d := range strings.SplitSeq(m[1], ",") {
		if d = strings.TrimSpace(d); d != "" {
			deps = append(deps, d)
		}
	}
	return deps
}

// ImportMap resolves the imports a bundle needs: the core set, optional
// packages that are declared or quoted in the bundle, and whatever their
// esm.sh externals pull in transitively.
func ImportMap(js string, declared []string) map[string]string {
	imports := maps.Clone(coreImports)
	for name, url := range optionalImports {
		if slices.Contains(declared, name) ||
			strings.Contains(js, `"`+name+`"`) ||
			strings.Contains(js, `'`+name+`'`) {
			imports[name] = url
		}
	}

	for added := true; added; {
		added = false
		for _, url := range imports {
			for _, dep := range externalDeps(url) {
				if _, ok := imports[dep]; ok {
					continue
				}
				if u, ok := coreImports[dep]; ok {
					imports[dep] = u
					added = true
				} else if u, ok := optionalImports[dep]; ok {
					imports[dep] = u
					added = true
				}
			}
		}
	}
	return imports
}
