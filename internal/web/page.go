package web

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"

	"lilcal/internal/availability"
	"lilcal/internal/calendar"
)

// hourHeightEm is the height of one hour row in the expanded week.
const hourHeightEm = 3.0

var pageFuncs = template.FuncMap{
	"top": func(start, boundary float64) string {
		return fmt.Sprintf("%.3fem", (start-boundary)*hourHeightEm)
	},
	"height": func(d float64) string {
		return fmt.Sprintf("%.3fem", d*hourHeightEm)
	},
	"pct": func(v float64) string {
		return fmt.Sprintf("%.1f%%", v)
	},
	"hex":   availability.Hex,
	"width": availability.BarWidth,
	"alpha": func(v float64) string {
		return fmt.Sprintf("%.2f", 0.15+0.6*v)
	},
}

var pageTmpl = template.Must(template.New("calendar").Funcs(pageFuncs).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Lil Cal</title>
<style>
body { font-family: system-ui, sans-serif; line-height: 1.8; margin: 0.5rem; }
.week { display: flex; }
.day { flex: 1; border: 1px groove black; box-sizing: border-box; background: #f66; min-height: 4em; }
.day.over { background: gray; }
.hours { position: relative; }
.hour { color: #555; height: {{.HourHeight}}; border-top: solid #666 1px; box-sizing: border-box; }
.hour.off { background: #0004; }
.seg { position: absolute; right: 0; width: 45%; overflow: hidden; background: pink; opacity: 0.5; }
.battery { width: 100px; height: 48px; padding: 5px; box-sizing: border-box; }
.battery .shell { height: 100%; background: #222; border-radius: 10px; padding: 5%; box-sizing: border-box; display: flex; justify-content: flex-end; }
.battery .fill { height: 100%; border-radius: 8px; }
</style>
</head>
<body>
<div data-ready="true">
<div class="battery"><div class="shell"><div class="fill" style="width: {{pct (width .View.Energy)}}; background-color: {{hex .View.Energy}};"></div></div></div>
{{range .View.Weeks}}
<div class="week">
{{range .Days}}
<div class="day{{if .IsOver}} over{{end}}">
{{.Label}}
{{if .Hours}}
<div class="hours">
{{range .Hours}}<div class="hour{{if .Off}} off{{end}}" style="box-shadow: inset -6px 0 0 rgba(83,221,83,{{alpha .Availability}});">{{.Label}}</div>{{end}}
{{range .Segments}}{{if not .Empty}}<div class="seg" style="top: {{top .Start $.Boundary}}; height: {{height .Duration}};"></div>{{end}}{{end}}
</div>
{{end}}
</div>
{{end}}
</div>
{{end}}
</div>
</body>
</html>
`))

type pageData struct {
	View       calendar.View
	Boundary   float64
	HourHeight string
}

// handleCalendarPage renders the grid as HTML. The root element carries
// data-ready="true" for the screenshot capture.
//
// GET /calendar?week=0
func (s *Server) handleCalendarPage(w http.ResponseWriter, r *http.Request) {
	p, err := s.newPass()
	if err != nil {
		s.renderFailed(w, err)
		return
	}
	focus, ok := parseWeek(r.URL.Query().Get("week"), s.cfg.NumWeeks)
	if !ok {
		http.Error(w, "week out of range", http.StatusBadRequest)
		return
	}

	data := pageData{
		View:       calendar.Build(p.now, p.snap.Events, p.scorer, s.options(focus)),
		Boundary:   s.cfg.DayBoundaryHour,
		HourHeight: fmt.Sprintf("%.1fem", hourHeightEm),
	}

	// Render fully before writing so a template error never ships half a page.
	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, data); err != nil {
		s.renderFailed(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}
