package export

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/traceability.html
var templateFS embed.FS

var reportTemplate = template.Must(template.New("traceability.html").Funcs(template.FuncMap{
	"datetime": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format("Jan 2, 2006 15:04 MST")
	},
	"datetimePtr": func(t *time.Time) string {
		if t == nil || t.IsZero() {
			return "-"
		}
		return t.UTC().Format("Jan 2, 2006 15:04 MST")
	},
	"coord": func(lat, lng float64) string {
		return fmt.Sprintf("%.5f, %.5f", lat, lng)
	},
	"mm": func(v float64) template.CSS {
		return template.CSS(fmt.Sprintf("%.1fmm", v))
	},
	"printable": func(l Layout) float64 {
		return l.PageHeightMM - 2*l.MarginMM
	},
	// imgsrc only lets inline image payloads through to src attributes.
	"imgsrc": func(s string) template.URL {
		if strings.HasPrefix(s, "data:image/") {
			return template.URL(s)
		}
		return ""
	},
}).ParseFS(templateFS, "templates/traceability.html"))

// RenderHTML renders the document as a standalone HTML page.
func RenderHTML(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, doc); err != nil {
		return nil, fmt.Errorf("render traceability html: %w", err)
	}
	return buf.Bytes(), nil
}
