package services

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"content-gate/models"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

// markdown rendert den Autoren-Body; Raw-HTML im Body ist erlaubt, der Inhalt
// kommt ausschließlich von authentifizierten Autoren.
var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(goldmarkhtml.WithUnsafe()),
)

// Marker um den Artikel-Body im gerenderten Dokument; RecoverBody sucht danach.
const (
	bodyOpenMarker  = "<!-- article-body:start -->"
	bodyCloseMarker = "<!-- article-body:end -->"
)

var documentTemplate = template.Must(template.New("article").Parse(`<!DOCTYPE html>
<html lang="de">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Record.Title}}</title>
{{if .Record.Author}}<meta name="author" content="{{.Record.Author}}">{{end}}
{{if .Record.Excerpt}}<meta name="description" content="{{.Record.Excerpt}}">{{end}}
</head>
<body>
<article data-article-id="{{.Record.ID}}" data-category="{{.Record.Category}}">
<header>
<h1>{{.Record.Title}}</h1>
<p class="article-meta">{{.Record.Author}}{{if .Record.PublishDate}} &middot; {{.Record.PublishDate}}{{end}}{{if .Record.ReadTime}} &middot; {{.Record.ReadTime}}{{end}}</p>
{{if .Record.CategoryDisplay}}<p class="article-category">{{.Record.CategoryDisplay}}</p>{{end}}
</header>
` + bodyOpenMarker + `
{{.Body}}
` + bodyCloseMarker + `
{{if .Tags}}<footer><p class="article-tags">{{.Tags}}</p></footer>{{end}}
</article>
</body>
</html>
`))

type documentData struct {
	Record models.ArticleRecord
	Body   template.HTML
	Tags   string
}

// RenderDocument erzeugt aus Datensatz und Markdown-Body das vollständige,
// eigenständige Artikel-Dokument.
func RenderDocument(record models.ArticleRecord, body string) (string, error) {
	var rendered bytes.Buffer
	if err := markdown.Convert([]byte(body), &rendered); err != nil {
		return "", fmt.Errorf("render body: %w", err)
	}

	var out bytes.Buffer
	err := documentTemplate.Execute(&out, documentData{
		Record: record,
		Body:   template.HTML(rendered.String()),
		Tags:   strings.Join(record.Tags, ", "),
	})
	if err != nil {
		return "", fmt.Errorf("render document: %w", err)
	}
	return out.String(), nil
}

// RecoverBody extrahiert den Body aus einem zuvor gerenderten Dokument.
// Die Rückgewinnung ist verlustbehaftet: zurück kommt das gerenderte HTML,
// nicht das ursprüngliche Markdown. Fehlen die Marker, kommt ("", false).
func RecoverBody(doc string) (string, bool) {
	start := strings.Index(doc, bodyOpenMarker)
	if start < 0 {
		return "", false
	}
	rest := doc[start+len(bodyOpenMarker):]
	end := strings.Index(rest, bodyCloseMarker)
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}
