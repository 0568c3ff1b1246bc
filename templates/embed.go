// Package templates holds the HTML pages served by the API.
package templates

import (
	"embed"
	"html/template"
	"strings"
)

//go:embed *.html
var FS embed.FS

var funcs = template.FuncMap{
	"join": strings.Join,
}

// LoadTemplates parses every embedded page.
func LoadTemplates() (*template.Template, error) {
	return template.New("").Funcs(funcs).ParseFS(FS, "*.html")
}
