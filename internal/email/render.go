package email

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	textTemplates = template.Must(template.ParseFS(templateFS, "templates/account.txt.tmpl"))
	htmlTemplates = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/account.html.tmpl"))
)

type view struct {
	Subject   string
	Link      string
	TTL       string
	GraceDays int
}

func render(kind Kind, v view) (string, string, error) {
	var text, html bytes.Buffer
	if err := textTemplates.ExecuteTemplate(&text, string(kind), v); err != nil {
		return "", "", err
	}
	if err := htmlTemplates.ExecuteTemplate(&html, string(kind), v); err != nil {
		return "", "", err
	}
	return text.String(), html.String(), nil
}
