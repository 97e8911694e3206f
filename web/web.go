// Package web provides the embedded web UI for particlefx.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/lemonberrylabs/particlefx/pkg/runtime"
	"github.com/lemonberrylabs/particlefx/pkg/store"
)

//go:embed templates/*.html
var templateFS embed.FS

// Handler serves the web UI pages.
type Handler struct {
	store   *store.Store
	driver  *runtime.Driver
	funcMap template.FuncMap
}

// pageData wraps all page-specific data with common fields.
type pageData struct {
	NavActive string
	Data      interface{}
}

// New creates a new web UI handler.
func New(s *store.Store, d *runtime.Driver) *Handler {
	return &Handler{
		store:  s,
		driver: d,
		funcMap: template.FuncMap{
			"timeAgo":    timeAgo,
			"formatTime": formatTime,
			"seconds":    seconds,
			"stateClass": stateClass,
			"truncate":   truncate,
			"countLines": countLines,
		},
	}
}

func (h *Handler) render(c *fiber.Ctx, page string, navActive string, data interface{}) error {
	// Each page is parsed with the layout on its own so "content" blocks
	// from different pages do not collide.
	tmpl := template.Must(
		template.New("").Funcs(h.funcMap).ParseFS(templateFS, "templates/layout.html", "templates/"+page),
	)

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, page, pageData{NavActive: navActive, Data: data}); err != nil {
		return c.Status(500).SendString(fmt.Sprintf("template error: %v", err))
	}

	c.Set("Content-Type", "text/html; charset=utf-8")
	return c.Send(buf.Bytes())
}

// Register adds web UI routes to the Fiber app.
func (h *Handler) Register(app *fiber.App) {
	app.Get("/ui", h.effectList)
	app.Get("/ui/effects/:id", h.effectDetail)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.Redirect("/ui")
	})
}

// --- Page Data Types ---

type effectView struct {
	*store.Effect
	ActiveCount int
	EndingCount int
}

type effectListContent struct {
	Effects       []*effectView
	InstanceCount int
	ParticleCount int
}

type formulaView struct {
	Field string
	Tree  string
}

type effectDetailContent struct {
	Effect    *store.Effect
	Formulas  []formulaView
	Instances []runtime.InstanceSnapshot
}

type notFoundContent struct {
	Message string
}

// --- Page Handlers ---

func (h *Handler) effectList(c *fiber.Ctx) error {
	effects := h.store.ListEffects()
	sort.SliceStable(effects, func(i, j int) bool {
		return effects[i].UpdateTime.After(effects[j].UpdateTime)
	})

	byEffect := make(map[string][]runtime.InstanceSnapshot)
	content := effectListContent{}
	for _, inst := range h.driver.List() {
		byEffect[inst.EffectID] = append(byEffect[inst.EffectID], inst)
		content.InstanceCount++
		content.ParticleCount += inst.Alive
	}

	for _, e := range effects {
		v := &effectView{Effect: e}
		for _, inst := range byEffect[e.ID] {
			switch inst.State {
			case runtime.StateActive:
				v.ActiveCount++
			case runtime.StateEnding:
				v.EndingCount++
			}
		}
		content.Effects = append(content.Effects, v)
	}

	return h.render(c, "effects.html", "effects", content)
}

func (h *Handler) effectDetail(c *fiber.Ctx) error {
	id := c.Params("id")

	e, err := h.store.GetEffect(id)
	if err != nil {
		return h.render(c, "not_found.html", "", notFoundContent{
			Message: fmt.Sprintf("Effect '%s' not found", id),
		})
	}

	content := effectDetailContent{Effect: e}
	for _, nf := range e.Compiled.Formulas() {
		content.Formulas = append(content.Formulas, formulaView{
			Field: nf.Field,
			Tree:  nf.Formula.String(),
		})
	}
	for _, inst := range h.driver.List() {
		if inst.EffectID == id {
			content.Instances = append(content.Instances, inst)
		}
	}

	return h.render(c, "effect.html", "effects", content)
}

// --- Template Helpers ---

func timeAgo(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		m := int(d.Minutes())
		if m == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", m)
	case d < 24*time.Hour:
		h := int(d.Hours())
		if h == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", h)
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

// seconds formats an effect-time age.
func seconds(s float64) string {
	if s < 60 {
		return fmt.Sprintf("%.2fs", s)
	}
	m := int(s / 60)
	return fmt.Sprintf("%dm %ds", m, int(s)%60)
}

func stateClass(state runtime.State) string {
	switch state {
	case runtime.StateActive:
		return "state-active"
	case runtime.StateEnding:
		return "state-ending"
	case runtime.StateFinished:
		return "state-finished"
	case runtime.StateDisabled:
		return "state-disabled"
	default:
		return ""
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(strings.TrimSuffix(s, "\n"), "\n") + 1
}
