package frontend

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/a-h/templ"
	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/tempglobe/internal/location"
	"procodus.dev/tempglobe/pkg/metrics"
)

// indexPage is the page shell the client bundle mounts into.
func indexPage(title string, locations []location.Location) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`+
			`<meta name="viewport" content="width=device-width, initial-scale=1"><title>`+
			templ.EscapeString(title)+`</title><link rel="stylesheet" href="/bundle.css"></head><body>`+
			`<div id="app"></div><noscript><ul class="locations">`); err != nil {
			return err
		}

		for _, loc := range locations {
			if _, err := fmt.Fprintf(w, `<li data-id="%d" data-slug="%s">%s</li>`,
				loc.ID, templ.EscapeString(loc.Slug), templ.EscapeString(loc.Name)); err != nil {
				return err
			}
		}

		_, err := io.WriteString(w, `</ul></noscript><script src="/bundle.js"></script></body></html>`)
		return err
	})
}

// renderIndex renders the index page.
func renderIndex(ctx context.Context, w http.ResponseWriter, title string, locations []location.Location, m *metrics.HTTPMetrics) error {
	return trackTemplateRender(m, "index", func() error {
		return indexPage(title, locations).Render(ctx, w)
	})
}

// trackTemplateRender wraps template rendering with metrics tracking.
func trackTemplateRender(m *metrics.HTTPMetrics, templateName string, renderFunc func() error) error {
	if m == nil {
		return renderFunc()
	}

	timer := prometheus.NewTimer(m.TemplateRenderTime.WithLabelValues(templateName))
	defer timer.ObserveDuration()

	if err := renderFunc(); err != nil {
		m.TemplateRenderErrors.WithLabelValues(templateName).Inc()
		return err
	}

	return nil
}
