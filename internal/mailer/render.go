// Package mailer renders notification data into localized email reports and
// delivers them over SMTP.
package mailer

import (
	"bytes"
	"embed"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/dustin/go-humanize"

	"github.com/rewired-gh/adreport/internal/models"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// localeSpec is one row of the locale table.
type localeSpec struct {
	subject  string
	file     string
	currency string
	decimals int
}

var locales = map[string]localeSpec{
	"en": {subject: "AdSense Report (This Month)", file: "en.tmpl", currency: "$", decimals: 2},
	"ja": {subject: "AdSense レポート（今月）", file: "ja.tmpl", currency: "¥", decimals: 0},
}

// Locales returns the supported locale codes in sorted order.
func Locales() []string {
	codes := make([]string, 0, len(locales))
	for code := range locales {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Message is a rendered email.
type Message struct {
	Locale  string
	Subject string
	Body    string
}

type view struct {
	*models.NotificationData
	AppName string
}

type localeTemplate struct {
	spec localeSpec
	tmpl *template.Template
}

// Renderer renders notification data for every supported locale.
type Renderer struct {
	appName   string
	templates map[string]localeTemplate
}

// NewRenderer parses the templates of every locale.
func NewRenderer(appName string) (*Renderer, error) {
	r := &Renderer{appName: appName, templates: make(map[string]localeTemplate, len(locales))}
	for code, spec := range locales {
		tmpl, err := template.New(code).
			Option("missingkey=zero").
			Funcs(funcMap(spec)).
			ParseFS(templateFS, "templates/change.tmpl", "templates/"+spec.file)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s templates: %w", code, err)
		}
		r.templates[code] = localeTemplate{spec: spec, tmpl: tmpl}
	}
	return r, nil
}

// Render produces the subject and body for locale.
func (r *Renderer) Render(locale string, data *models.NotificationData) (*Message, error) {
	lt, ok := r.templates[locale]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownLocale, locale)
	}

	var buf bytes.Buffer
	if err := lt.tmpl.ExecuteTemplate(&buf, lt.spec.file, view{NotificationData: data, AppName: r.appName}); err != nil {
		return nil, fmt.Errorf("failed to render %s report: %w", locale, err)
	}

	return &Message{Locale: locale, Subject: lt.spec.subject, Body: buf.String()}, nil
}

func funcMap(spec localeSpec) template.FuncMap {
	return template.FuncMap{
		"money": func(v float64) string {
			return spec.currency + formatNumber(v, spec.decimals)
		},
		"count": func(v float64) string {
			return formatNumber(v, 0)
		},
		"pct": func(v float64) string {
			return formatNumber(v, 1)
		},
		"abs": math.Abs,
		"sign": func(v float64) string {
			if v >= 0 {
				return "+"
			}
			return ""
		},
		"arrow": func(d models.Direction) string {
			switch d {
			case models.DirectionUp:
				return "▲"
			case models.DirectionDown:
				return "▼"
			default:
				return ""
			}
		},
	}
}

// formatNumber rounds v to decimals places and groups thousands with commas.
func formatNumber(v float64, decimals int) string {
	s := strconv.FormatFloat(math.Abs(v), 'f', decimals, 64)
	intPart, frac, _ := strings.Cut(s, ".")

	n, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return s
	}
	out := humanize.Comma(n)
	if frac != "" {
		out += "." + frac
	}
	if v < 0 && strings.Trim(s, "0.") != "" {
		out = "-" + out
	}
	return out
}
