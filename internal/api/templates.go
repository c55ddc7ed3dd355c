package api

import (
	"embed"
	"fmt"
	"html/template"
	"strings"
)

//go:embed templates/*
var templateFS embed.FS

// newTemplates creates and parses the HTML templates with custom functions.
func newTemplates() *template.Template {
	funcs := template.FuncMap{
		"wqi": func(f *float64) string {
			if f == nil {
				return "n/a"
			}
			return fmt.Sprintf("%.1f", *f)
		},
		"bound": func(f *float64) string {
			if f == nil {
				return "-"
			}
			return fmt.Sprintf("%g", *f)
		},
		"ratingClass": func(r string) string {
			return "rating-" + strings.ToLower(r)
		},
	}
	return template.Must(template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html"))
}
