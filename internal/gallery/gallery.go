// Package gallery renders the static download page listing a record's generated images.
package gallery

import (
	"bytes"
	"fmt"
	"html/template"
)

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        body { font-family: sans-serif; max-width: 800px; margin: 0 auto; padding: 20px; }
        .gallery { display: grid; grid-template-columns: repeat(auto-fit, minmax(200px, 1fr)); gap: 20px; }
        .image-card { border: 1px solid #ddd; padding: 10px; border-radius: 8px; text-align: center; }
        img { max-width: 100%; height: auto; border-radius: 4px; }
        .download-btn { display: inline-block; margin-top: 10px; padding: 8px 16px; background: #007bff; color: white; text-decoration: none; border-radius: 4px; }
        .download-btn:hover { background: #0056b3; }
    </style>
</head>
<body>
    <h1>{{.Title}}</h1>
    <p>Here are your optimized images. Click "Download" to save them.</p>
    <div class="gallery">
{{- range $i, $url := .URLs}}
        <div class="image-card">
            <img src="{{$url}}" alt="Generated Image {{inc $i}}" loading="lazy">
            <br>
            <a href="{{$url}}" class="download-btn" download>Download Image {{inc $i}}</a>
        </div>
{{- end}}
    </div>
</body>
</html>
`

// DefaultTitle is the heading of every gallery page
const DefaultTitle = "Your Generated Images"

// Builder renders gallery pages from a parsed template
type Builder struct {
	tmpl  *template.Template
	title string
}

type pageData struct {
	Title string
	URLs  []string
}

// NewBuilder parses the page template
func NewBuilder() (*Builder, error) {
	tmpl, err := template.New("gallery").Funcs(template.FuncMap{
		"inc": func(i int) int { return i + 1 },
	}).Parse(pageTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse gallery template: %w", err)
	}
	return &Builder{tmpl: tmpl, title: DefaultTitle}, nil
}

// MustNewBuilder is NewBuilder for package-level initialisation
func MustNewBuilder() *Builder {
	b, err := NewBuilder()
	if err != nil {
		panic(err)
	}
	return b
}

// Render lists each URL as an image preview with a download link
func (b *Builder) Render(urls []string) ([]byte, error) {
	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, pageData{Title: b.title, URLs: urls}); err != nil {
		return nil, fmt.Errorf("failed to render gallery: %w", err)
	}
	return buf.Bytes(), nil
}

// ContentType is the mime type the page is stored with
func (b *Builder) ContentType() string {
	return "text/html"
}
