package web

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
	"github.com/yuin/goldmark"
)

//go:embed templates/*.html templates/fragments/*.html
var templatesFS embed.FS

// renderer renders pages against a cloned base template so "content"
// blocks in different pages never collide.
type renderer struct {
	base *template.Template
}

func newRenderer() *renderer {
	// Fragments define themselves under their path name so pages can
	// include them and HTMX handlers can render them standalone.
	base := template.Must(template.New("").
		Funcs(templateFuncs()).
		ParseFS(templatesFS, "templates/base.html", "templates/fragments/*.html"))
	return &renderer{base: base}
}

// PageData wraps every full-page render.
type PageData struct {
	Title           string
	ActiveTab       Tab
	Principal       Principal
	Notice          *Notice
	Confirm         *ConfirmPending
	Editing         map[string]*Editing
	RefreshInterval int
	Data            any
}

func (r *renderer) render(w http.ResponseWriter, name string, data *PageData) error {
	tmpl, err := r.base.Clone()
	if err != nil {
		return fmt.Errorf("clone template: %w", err)
	}
	if _, err := tmpl.ParseFS(templatesFS, "templates/"+name); err != nil {
		return fmt.Errorf("parse page template %s: %w", name, err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return tmpl.ExecuteTemplate(w, "base", data)
}

// renderFragment renders a template without the layout, for HTMX
// swaps. Fragments name themselves after their path.
func (r *renderer) renderFragment(w http.ResponseWriter, name string, data any) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return r.base.ExecuteTemplate(w, name, data)
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatTime":    formatTime,
		"formatTimeAgo": formatTimeAgo,
		"formatTokens":  formatTokens,
		"formatPrice":   formatPrice,
		"truncate":      truncate,
		"stateBgColor":  stateBgColor,
		"json":          jsonEncode,
		"markdown":      markdown,
		"add":           func(a, b int) int { return a + b },
		"dict":          dictFunc,
		"list":          func(values ...any) []any { return values },
		"hasPrefix":     strings.HasPrefix,
	}
}

// markdownPolicy sanitizes rendered markdown before it is marked safe.
var markdownPolicy = bluemonday.UGCPolicy()

// markdown renders user or model text as sanitized HTML.
func markdown(s string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(s), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(s))
	}
	return template.HTML(markdownPolicy.SanitizeBytes(buf.Bytes()))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		mins := int(d.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case d < 24*time.Hour:
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	}
	days := int(d.Hours() / 24)
	if days == 1 {
		return "1 day ago"
	}
	return fmt.Sprintf("%d days ago", days)
}

func formatTokens(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

// formatPrice renders a per-million-token price, "-" when unset.
func formatPrice(p decimal.NullDecimal) string {
	if !p.Valid {
		return "-"
	}
	return "$" + p.Decimal.StringFixed(2)
}

func truncate(n int, v any) string {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case fmt.Stringer:
		s = val.String()
	default:
		s = fmt.Sprintf("%v", v)
	}
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func stateBgColor(state string) string {
	switch state {
	case "pending":
		return "bg-yellow-100 text-yellow-800"
	case "running":
		return "bg-blue-100 text-blue-800"
	case "done":
		return "bg-green-100 text-green-800"
	case "failed":
		return "bg-red-100 text-red-800"
	case "cancelled":
		return "bg-gray-100 text-gray-800"
	}
	return "bg-gray-100 text-gray-800"
}

func jsonEncode(v any) string {
	if raw, ok := v.(json.RawMessage); ok {
		v = []byte(raw)
	}
	if b, ok := v.([]byte); ok {
		if len(b) == 0 {
			return "{}"
		}
		var parsed any
		if err := json.Unmarshal(b, &parsed); err != nil {
			return string(b)
		}
		indented, err := json.MarshalIndent(parsed, "", "  ")
		if err != nil {
			return string(b)
		}
		return string(indented)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return string(b)
}

func dictFunc(values ...any) map[string]any {
	if len(values)%2 != 0 {
		return nil
	}
	dict := make(map[string]any, len(values)/2)
	for i := 0; i < len(values); i += 2 {
		key, ok := values[i].(string)
		if !ok {
			continue
		}
		dict[key] = values[i+1]
	}
	return dict
}
