package assets

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed templates/*.json templates/*.html
var templateFS embed.FS

// PostTemplate returns the JSON definition and HTML markup of a built-in
// post template.
func PostTemplate(name string) (definition []byte, markup string, err error) {
	definition, err = templateFS.ReadFile(path.Join("templates", name+".json"))
	if err != nil {
		return nil, "", fmt.Errorf("unknown built-in template %q (have %s)", name, strings.Join(PostTemplateNames(), ", "))
	}
	html, err := templateFS.ReadFile(path.Join("templates", name+".html"))
	if err != nil {
		return nil, "", fmt.Errorf("built-in template %q has no markup: %w", name, err)
	}
	return definition, string(html), nil
}

// PostTemplateNames lists the built-in templates.
func PostTemplateNames() []string {
	entries, _ := fs.Glob(templateFS, "templates/*.json")
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(path.Base(e), ".json"))
	}
	sort.Strings(names)
	return names
}
