package helpers

import (
	"bytes"
	"text/template"
)

// RenderQueryTemplate substitutes table names and other identifiers that
// cannot be bound as query parameters.
func RenderQueryTemplate(query string, variables map[string]string) (string, error) {
	queryTmpl := template.Must(template.New("").Parse(query))

	var dest bytes.Buffer
	if err := queryTmpl.Execute(&dest, variables); err != nil {
		return "", err
	}
	return dest.String(), nil
}
