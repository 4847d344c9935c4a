package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"autoplan/internal/config"
	appLog "autoplan/internal/log"
	"autoplan/internal/model"
	"autoplan/internal/planner"
	"autoplan/internal/slots"
	"autoplan/internal/store"
	"autoplan/internal/tz"
)

// EventSource returns the calendar occurrences of one local day.
type EventSource interface {
	Day(ctx context.Context, date tz.Date, zone tz.Zone) ([]model.Occurrence, error)
}

// PlacementStore persists placements per local day.
type PlacementStore interface {
	ListByDay(ctx context.Context, day tz.Date) ([]model.Placement, error)
	Save(ctx context.Context, day tz.Date, placements ...model.Placement) error
	Delete(ctx context.Context, id string) error
}

// errUpstream marks failures of the calendar source.
var errUpstream = errors.New("calendar source unavailable")

// Server provides the HTTP API for planning and placement management.
type Server struct {
	mux *http.ServeMux

	mu     sync.RWMutex
	cfg    *config.Config
	events EventSource

	store   PlacementStore
	limiter *rate.Limiter

	now   func() time.Time
	newID func() string
}

// NewServer constructs a new Server. /api/plan is limited to one call per
// second with a burst of five.
func NewServer(cfg *config.Config, events EventSource, st PlacementStore) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		cfg:     cfg,
		events:  events,
		store:   st,
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	s.registerRoutes()
	return s
}

// Update swaps the configuration and calendar source after a reload.
func (s *Server) Update(cfg *config.Config, events EventSource) {
	s.mu.Lock()
	s.cfg = cfg
	s.events = events
	s.mu.Unlock()
}

func (s *Server) snapshot() (*config.Config, EventSource) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.events
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.basicAuthMiddleware(s.mux)
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic
// Auth when credentials are configured. The configuration is read per
// request so reloads take effect immediately.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg, _ := s.snapshot()
		if r.URL.Path == "/health" || !basicAuthEnabled(cfg) {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, cfg.BasicAuth.Username) || !secureCompare(p, cfg.BasicAuth.Password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="autoplan", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// basicAuthEnabled treats an empty username or password as disabled.
func basicAuthEnabled(cfg *config.Config) bool {
	return cfg != nil && cfg.BasicAuth != nil && cfg.BasicAuth.Username != "" && cfg.BasicAuth.Password != ""
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/plan", s.handlePlan)
	s.mux.HandleFunc("GET /api/slots", s.handleSlots)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/placements", s.handleListPlacements)
	s.mux.HandleFunc("PUT /api/placements", s.handlePutPlacement)
	s.mux.HandleFunc("DELETE /api/placements", s.handleDeletePlacement)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// dayRequest is the resolved (date, zone) pair of a request. ZoneRaw is
// what planner.Input expects; Zone is its parsed form.
type dayRequest struct {
	Date    tz.Date
	Zone    tz.Zone
	ZoneRaw string
}

// resolveDay falls back to the configured timezone and to today in that
// zone when date or zone are empty.
func resolveDay(cfg *config.Config, date, zone string, now time.Time) (dayRequest, error) {
	if zone == "" {
		zone = cfg.Timezone
	}
	z, ok := tz.Parse(zone)
	if !ok && zone != "" {
		appLog.Warn("api: unknown zone, using UTC", "zone", zone)
	}
	if date == "" {
		return dayRequest{Date: z.Today(now), Zone: z, ZoneRaw: zone}, nil
	}
	d, err := tz.ParseDate(date)
	if err != nil {
		return dayRequest{}, err
	}
	return dayRequest{Date: d, Zone: z, ZoneRaw: zone}, nil
}

// loadDay gathers the busy inputs of a day.
func (s *Server) loadDay(ctx context.Context, events EventSource, day dayRequest) ([]model.Occurrence, []model.Placement, error) {
	var occs []model.Occurrence
	if events != nil {
		var err error
		occs, err = events.Day(ctx, day.Date, day.Zone)
		if err != nil {
			return nil, nil, errors.Wrap(errUpstream, err.Error())
		}
	}
	placed, err := s.store.ListByDay(ctx, day.Date)
	if err != nil {
		return nil, nil, err
	}
	return occs, placed, nil
}

type planRequest struct {
	Date   string       `json:"date"`
	Zone   string       `json:"zone"`
	Tasks  []model.Task `json:"tasks"`
	DryRun bool         `json:"dry_run"`
}

type planResponse struct {
	Date   string `json:"date"`
	Zone   string `json:"zone"`
	DryRun bool   `json:"dry_run"`
	planner.Result
}

// handlePlan schedules the posted tasks into the requested day. Tasks that
// already hold a placement on that day are not placed again.
//
// POST /api/plan {"date":"2025-03-10","zone":"Asia/Seoul","tasks":[...],"dry_run":false}
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "too many plan requests")
		return
	}

	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	ctx := r.Context()
	cfg, events := s.snapshot()
	now := s.now()

	day, err := resolveDay(cfg, req.Date, req.Zone, now)
	if err != nil {
		writeErr(w, err)
		return
	}
	occs, placed, err := s.loadDay(ctx, events, day)
	if err != nil {
		writeErr(w, err)
		return
	}

	res, err := planner.Plan(planner.Input{
		Tasks:      planner.Unscheduled(req.Tasks, placed),
		Events:     occs,
		Placements: placed,
		Settings:   cfg.Settings,
		Date:       day.Date.String(),
		Zone:       day.ZoneRaw,
		Now:        now,
		NewID:      s.newID,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	if !req.DryRun {
		if err := s.store.Save(ctx, day.Date, res.Placements...); err != nil {
			writeErr(w, err)
			return
		}
	}

	appLog.Info("api plan",
		"date", day.Date.String(),
		"zone", day.Zone.ID(),
		"placed", len(res.Placements),
		"unplaced", len(res.Unplaced),
		"dry_run", req.DryRun,
	)

	writeJSON(w, http.StatusOK, planResponse{
		Date:   day.Date.String(),
		Zone:   day.Zone.ID(),
		DryRun: req.DryRun,
		Result: res,
	})
}

type slotsResponse struct {
	Date  string       `json:"date"`
	Zone  string       `json:"zone"`
	Slots []slots.Slot `json:"slots"`
}

// handleSlots returns the free time of a day.
//
// GET /api/slots?date=2025-03-10&zone=Asia/Seoul
func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg, events := s.snapshot()
	now := s.now()
	q := r.URL.Query()

	day, err := resolveDay(cfg, q.Get("date"), q.Get("zone"), now)
	if err != nil {
		writeErr(w, err)
		return
	}
	occs, placed, err := s.loadDay(ctx, events, day)
	if err != nil {
		writeErr(w, err)
		return
	}

	free, err := planner.FreeSlots(planner.Input{
		Events:     occs,
		Placements: placed,
		Settings:   cfg.Settings,
		Date:       day.Date.String(),
		Zone:       day.ZoneRaw,
		Now:        now,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	if free == nil {
		free = []slots.Slot{}
	}
	writeJSON(w, http.StatusOK, slotsResponse{Date: day.Date.String(), Zone: day.Zone.ID(), Slots: free})
}

type eventsResponse struct {
	Date        string          `json:"date"`
	Zone        string          `json:"zone"`
	Occurrences []occurrenceDTO `json:"occurrences"`
}

// occurrenceDTO is a JSON-friendly view of occurrences.
type occurrenceDTO struct {
	SourceID    string     `json:"source_id"`
	UID         string     `json:"uid"`
	InstanceKey string     `json:"instance_key"`
	Summary     string     `json:"summary"`
	Location    string     `json:"location,omitempty"`
	AllDay      bool       `json:"all_day"`
	Start       time.Time  `json:"start"`
	End         *time.Time `json:"end,omitempty"`
}

// handleEvents returns the calendar occurrences of a day.
//
// GET /api/events?date=2025-03-10&zone=Asia/Seoul
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	cfg, events := s.snapshot()
	q := r.URL.Query()

	day, err := resolveDay(cfg, q.Get("date"), q.Get("zone"), s.now())
	if err != nil {
		writeErr(w, err)
		return
	}

	resp := eventsResponse{Date: day.Date.String(), Zone: day.Zone.ID(), Occurrences: []occurrenceDTO{}}
	if events == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	occs, err := events.Day(r.Context(), day.Date, day.Zone)
	if err != nil {
		writeErr(w, errors.Wrap(errUpstream, err.Error()))
		return
	}
	for _, occ := range occs {
		dto := occurrenceDTO{
			SourceID:    occ.SourceID,
			UID:         occ.UID,
			InstanceKey: occ.InstanceKey,
			Summary:     occ.Summary,
			Location:    occ.Location,
			AllDay:      occ.AllDay,
			Start:       occ.Start,
		}
		if !occ.End.IsZero() {
			end := occ.End
			dto.End = &end
		}
		resp.Occurrences = append(resp.Occurrences, dto)
	}
	writeJSON(w, http.StatusOK, resp)
}

type placementsResponse struct {
	Date       string            `json:"date"`
	Placements []model.Placement `json:"placements"`
}

// handleListPlacements returns the stored placements of a day.
//
// GET /api/placements?date=2025-03-10
func (s *Server) handleListPlacements(w http.ResponseWriter, r *http.Request) {
	cfg, _ := s.snapshot()
	q := r.URL.Query()

	day, err := resolveDay(cfg, q.Get("date"), q.Get("zone"), s.now())
	if err != nil {
		writeErr(w, err)
		return
	}
	placed, err := s.store.ListByDay(r.Context(), day.Date)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, placementsResponse{Date: day.Date.String(), Placements: placed})
}

// placementRequest describes a manual placement. The start is either an
// absolute instant or a local date and time of day in zone.
type placementRequest struct {
	ID              string    `json:"id"`
	TaskID          string    `json:"task_id"`
	TaskTitle       string    `json:"task_title"`
	Start           time.Time `json:"start"`
	Date            string    `json:"date"`
	Time            string    `json:"time"`
	Zone            string    `json:"zone"`
	DurationMinutes int       `json:"duration_minutes"`
}

// handlePutPlacement stores a manually placed task. Manual placements block
// time on the next plan exactly like planned ones.
//
// PUT /api/placements {"task_id":"a","date":"2025-03-10","time":"14:30","duration_minutes":30}
func (s *Server) handlePutPlacement(w http.ResponseWriter, r *http.Request) {
	var req placementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	cfg, _ := s.snapshot()
	p, day, err := s.placementFrom(cfg, req)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.store.Save(r.Context(), day, p); err != nil {
		writeErr(w, err)
		return
	}

	appLog.Info("api placement saved", "id", p.ID, "task_id", p.TaskID, "day", day.String())
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) placementFrom(cfg *config.Config, req placementRequest) (model.Placement, tz.Date, error) {
	if req.TaskID == "" {
		return model.Placement{}, tz.Date{}, errors.Wrap(planner.ErrMalformedInput, "task_id is required")
	}
	dur := req.DurationMinutes
	if dur == 0 {
		dur = cfg.Settings.DefaultTaskDuration
	}
	if dur <= 0 {
		return model.Placement{}, tz.Date{}, errors.Wrapf(planner.ErrMalformedInput, "duration must be positive, got %d", dur)
	}

	day, err := resolveDay(cfg, req.Date, req.Zone, s.now())
	if err != nil {
		return model.Placement{}, tz.Date{}, err
	}

	start := req.Start
	if start.IsZero() {
		if req.Date == "" || req.Time == "" {
			return model.Placement{}, tz.Date{}, errors.Wrap(planner.ErrMalformedInput, "start or date and time are required")
		}
		clock, err := tz.ParseClock(req.Time)
		if err != nil {
			return model.Placement{}, tz.Date{}, errors.Wrap(planner.ErrMalformedInput, err.Error())
		}
		if start, err = day.Zone.WallTimeToInstant(day.Date, clock); err != nil {
			return model.Placement{}, tz.Date{}, err
		}
	} else {
		day.Date = day.Zone.InstantToParts(start).Date
	}

	id := req.ID
	if id == "" {
		id = s.newID()
	}
	return model.Placement{
		ID:              id,
		TaskID:          req.TaskID,
		TaskTitle:       req.TaskTitle,
		Start:           start.UTC(),
		DurationMinutes: dur,
	}, day.Date, nil
}

// handleDeletePlacement removes a placement.
//
// DELETE /api/placements?id=...
func (s *Server) handleDeletePlacement(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := s.store.Delete(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tz.ErrInvalidDate), errors.Is(err, tz.ErrInvalidClock), errors.Is(err, planner.ErrMalformedInput):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tz.ErrInvalidWallTime):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		appLog.Error("api request failed", err, "status", status)
	}
	writeError(w, status, err.Error())
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
