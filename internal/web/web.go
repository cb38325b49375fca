package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/goccy/go-json"

	"lilcal/internal/availability"
	"lilcal/internal/calendar"
	"lilcal/internal/config"
	appLog "lilcal/internal/log"
	"lilcal/internal/model"
	"lilcal/internal/refresh"
)

// SnapshotSource provides the current merged events and energy reading.
type SnapshotSource interface {
	Snapshot() refresh.Snapshot
}

// Server exposes the calendar layout over HTTP.
type Server struct {
	cfg    *config.Config
	src    SnapshotSource
	now    func() time.Time
	router chi.Router
}

// Option customizes a Server.
type Option func(*Server)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func NewServer(cfg *config.Config, src SnapshotSource, opts ...Option) *Server {
	s := &Server{
		cfg: cfg,
		src: src,
		now: time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler, wrapped in basic auth when configured.
func (s *Server) Handler() http.Handler {
	if s.basicAuthEnabled() {
		return s.basicAuthMiddleware(s.router)
	}
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/calendar", s.handleCalendarPage)
	r.Get("/preview.png", s.handlePreview)

	r.Route("/api", func(r chi.Router) {
		r.Get("/events", s.handleEvents)
		r.Get("/day", s.handleDay)
		r.Get("/calendar", s.handleCalendar)
		r.Get("/energy", s.handleEnergy)
	})
	return r
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen, "basic_auth", s.basicAuthEnabled())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="lilcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// pass is everything one request needs, with now captured exactly once.
type pass struct {
	now    time.Time
	loc    *time.Location
	snap   refresh.Snapshot
	scorer *availability.Scorer
}

func (s *Server) newPass() (pass, error) {
	loc, err := s.cfg.Location()
	if err != nil {
		return pass{}, err
	}
	snap := s.src.Snapshot()
	scorer, err := availability.NewScorer(snap.Energy.Level, s.cfg.DecayRate)
	if err != nil {
		return pass{}, err
	}
	return pass{
		now:    s.now().In(loc),
		loc:    loc,
		snap:   snap,
		scorer: scorer,
	}, nil
}

func (s *Server) options(focus int) calendar.Options {
	return calendar.Options{
		WeekStart:       s.cfg.Weekday(),
		NumWeeks:        s.cfg.NumWeeks,
		DayBoundaryHour: s.cfg.DayBoundaryHour,
		RetiringHour:    s.cfg.RetiringHour,
		ReadyHour:       s.cfg.ReadyHour,
		FocusWeek:       focus,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type eventsResponse struct {
	Events    []model.FlattenedEvent `json:"events"`
	UpdatedAt time.Time              `json:"updated_at"`
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	snap := s.src.Snapshot()
	events := snap.Events
	if events == nil {
		events = []model.FlattenedEvent{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: events, UpdatedAt: snap.UpdatedAt})
}

// handleDay returns one detailed day.
//
// GET /api/day?date=2025-03-14 (defaults to today)
func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	p, err := s.newPass()
	if err != nil {
		s.renderFailed(w, err)
		return
	}

	date := p.now
	if v := r.URL.Query().Get("date"); v != "" {
		date, err = time.ParseInLocation("2006-01-02", v, p.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
	}

	day := calendar.BuildDay(p.now, date, p.snap.Events, p.scorer, s.options(-1), true)
	writeJSON(w, http.StatusOK, day)
}

// handleCalendar returns the full grid.
//
// GET /api/calendar?week=0 (omit week to collapse every week)
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	p, err := s.newPass()
	if err != nil {
		s.renderFailed(w, err)
		return
	}
	focus, ok := parseWeek(r.URL.Query().Get("week"), s.cfg.NumWeeks)
	if !ok {
		writeError(w, http.StatusBadRequest, "week out of range")
		return
	}
	writeJSON(w, http.StatusOK, calendar.Build(p.now, p.snap.Events, p.scorer, s.options(focus)))
}

type energyResponse struct {
	Level     float64 `json:"level"`
	Source    string  `json:"source"`
	Percent   int     `json:"percent,omitempty"`
	VoltageMv int     `json:"voltage_mv,omitempty"`
	Color     string  `json:"color"`
	BarWidth  float64 `json:"bar_width"`
}

func (s *Server) handleEnergy(w http.ResponseWriter, _ *http.Request) {
	rd := s.src.Snapshot().Energy
	writeJSON(w, http.StatusOK, energyResponse{
		Level:     rd.Level,
		Source:    rd.Source,
		Percent:   rd.Percent,
		VoltageMv: rd.VoltageMv,
		Color:     availability.Hex(rd.Level),
		BarWidth:  availability.BarWidth(rd.Level),
	})
}

// handlePreview serves the last captured PNG from disk.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Capture.Output == "" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, s.cfg.Capture.Output)
}

// renderFailed reports a pass that could not be built. No partial layout is
// ever returned.
func (s *Server) renderFailed(w http.ResponseWriter, err error) {
	appLog.Error("render failed", err)
	status := http.StatusInternalServerError
	if errors.Is(err, availability.ErrInvalidEnergy) || errors.Is(err, availability.ErrInvalidConfig) {
		status = http.StatusUnprocessableEntity
	}
	writeError(w, status, err.Error())
}

// parseWeek returns -1 for an empty value.
func parseWeek(v string, numWeeks int) (int, bool) {
	if v == "" {
		return -1, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n >= numWeeks {
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
