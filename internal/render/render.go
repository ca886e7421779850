// Package render turns an event into finished message text using stored templates.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"
	"text/template"

	"promocast/internal/domain"
	"promocast/internal/storage"
)

var (
	ErrNoTemplate  = errors.New("no active template")
	ErrEmptyRender = errors.New("template rendered empty message")
)

// Renderer is safe for concurrent use.
type Renderer struct {
	store storage.TemplateStore
}

func New(store storage.TemplateStore) *Renderer {
	return &Renderer{store: store}
}

// Render returns the message for ev on platform. Every failure names the
// event type and platform.
func (r *Renderer) Render(ctx context.Context, ev domain.Event, platform domain.Platform) (string, error) {
	tpl, err := r.lookup(ctx, ev, platform)
	if err != nil {
		return "", err
	}
	out, err := RenderString(tpl.Body, ev.Vars())
	if err != nil {
		return "", fmt.Errorf("render %s/%s: %w", ev.Type(), platform, err)
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("%w for event %s on platform %s", ErrEmptyRender, ev.Type(), platform)
	}
	return out, nil
}

func (r *Renderer) lookup(ctx context.Context, ev domain.Event, platform domain.Platform) (storage.Template, error) {
	kinds := []string{ev.TemplateKind()}
	if kinds[0] != string(ev.Type()) {
		kinds = append(kinds, string(ev.Type()))
	}
	platforms := []domain.Platform{platform}
	if platform == domain.PlatformWhatsAppWeb {
		platforms = append(platforms, domain.PlatformWhatsApp)
	}
	for _, k := range kinds {
		for _, p := range platforms {
			t, err := r.store.ActiveTemplate(ctx, k, p)
			if err == nil {
				return t, nil
			}
			if !errors.Is(err, storage.ErrNotFound) {
				return storage.Template{}, fmt.Errorf("load template %s/%s: %w", k, p, err)
			}
		}
	}
	return storage.Template{}, fmt.Errorf("%w for event %s on platform %s", ErrNoTemplate, ev.Type(), platform)
}

var funcs = template.FuncMap{
	"price":   Price,
	"upper":   strings.ToUpper,
	"default": defaultValue,
	"esc":     html.EscapeString,
	"link":    link,
}

// link renders a telegram HTML anchor with both parts escaped.
func link(text, url string) string {
	return `<a href="` + html.EscapeString(url) + `">` + html.EscapeString(text) + `</a>`
}

// RenderString renders src with missing keys rendering as empty text.
func RenderString(src string, data any) (string, error) {
	if src == "" {
		return "", nil
	}
	t, err := template.New("tpl").Funcs(funcs).Option("missingkey=zero").Parse(src)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	// Missing keys of a map[string]any print as "<no value>".
	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

// Price formats v in Brazilian notation: 1234.5 -> "1.234,50".
func Price(v any) string {
	f, ok := toFloat(v)
	if !ok {
		return ""
	}
	neg := f < 0
	cents := int64(math.Round(math.Abs(f) * 100))
	intPart := strconv.FormatInt(cents/100, 10)
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(c)
	}
	fmt.Fprintf(&b, ",%02d", cents%100)
	return b.String()
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.Replace(strings.TrimSpace(n), ",", ".", 1), 64)
		return f, err == nil
	}
	return 0, false
}

// defaultValue is used as {{default "n/a" .field}}.
func defaultValue(def string, v any) any {
	switch x := v.(type) {
	case nil:
		return def
	case string:
		if strings.TrimSpace(x) == "" {
			return def
		}
	case float64:
		if x == 0 {
			return def
		}
	}
	return v
}
