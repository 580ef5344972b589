// Package api serves the running simulation over HTTP.
// GET endpoints are public (read-only observation).
// POST endpoints require an admin JWT and are rate limited per IP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/talgya/statecraft/internal/dispatch"
	"github.com/talgya/statecraft/internal/engine"
	"github.com/talgya/statecraft/internal/events"
	"github.com/talgya/statecraft/internal/persistence"
	"github.com/talgya/statecraft/internal/war"
	"github.com/talgya/statecraft/internal/world"
)

// MaxSpeed bounds the speed multiplier accepted by POST /speed.
const MaxSpeed = 1000

// Server serves the world state over HTTP.
type Server struct {
	Engine   *engine.Engine
	Dispatch *dispatch.Dispatcher
	DB       *persistence.DB // nil disables snapshots
	Auth     *Auth
	Limiter  *RateLimiter
	Feed     *Feed
	Hub      *Hub
	Port     string

	// CleanupEvery is how often idle rate-limit clients are dropped.
	CleanupEvery time.Duration

	srv      *http.Server
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewServer wires a server with an empty feed and hub.
func NewServer(eng *engine.Engine, d *dispatch.Dispatcher, db *persistence.DB, auth *Auth, limiter *RateLimiter, feedSize int) *Server {
	return &Server{
		Engine:   eng,
		Dispatch: d,
		DB:       db,
		Auth:     auth,
		Limiter:  limiter,
		Feed:     NewFeed(feedSize),
		Hub:      NewHub(),
		Port:     "8080",

		CleanupEvery: time.Hour,
		done:         make(chan struct{}),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/nations", s.handleNations)
	mux.HandleFunc("GET /api/v1/market", s.handleMarket)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)

	// Admin endpoints.
	mux.HandleFunc("POST /api/v1/action", s.admin(s.handleAction))
	mux.HandleFunc("POST /api/v1/speed", s.admin(s.handleSpeed))
	mux.HandleFunc("POST /api/v1/snapshot", s.admin(s.handleSnapshot))
	mux.HandleFunc("POST /api/v1/merchants", s.admin(s.handleMerchants))
	mux.HandleFunc("POST /api/v1/preferences", s.admin(s.handlePreferences))

	return corsMiddleware(mux)
}

// admin stacks the rate limit in front of the token check.
func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc {
	h := s.Auth.adminOnly(next)
	if s.Limiter == nil {
		return h
	}
	return RateLimitMiddleware(s.Limiter, h)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := ":" + s.Port
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info().Str("addr", addr).Bool("admin_auth", s.Auth.Enabled()).Msg("HTTP API starting")

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()
	if s.Limiter != nil {
		s.sweep()
	}
}

// sweep drops idle rate-limit clients until Shutdown.
func (s *Server) sweep() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(s.CleanupEvery)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				s.Limiter.Cleanup()
			case <-s.done:
				return
			}
		}
	}()
}

// Shutdown stops accepting requests, closes stream clients and stops the
// background sweeper. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.done) })
	s.Hub.Close()
	s.wg.Wait()
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Record feeds one batch of events to polling and streaming clients. It is
// the engine's OnDay hook and also runs after every admin action.
func (s *Server) Record(st world.State, evs []events.Event) {
	added := s.Feed.Append(st.Day, evs)
	s.Hub.Broadcast(Frame{Type: FrameDay, Day: st.Day, Data: engine.Summarize(&st)})
	for _, e := range added {
		s.Hub.Broadcast(Frame{Type: FrameEvent, Day: e.Day, Data: e})
	}
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.Engine.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        "Statecraft",
		"date":        engine.Calendar(st.Day),
		"speed":       s.Engine.Speed(),
		"running":     s.Engine.Running(),
		"stages":      s.Engine.Pipeline.Stages(),
		"connections": s.Hub.ConnectionCount(),
		"report":      engine.Summarize(&st),
	})
}

type nationView struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Population int      `json:"population"`
	Wealth     float64  `json:"wealth"`
	Epoch      int      `json:"epoch"`
	Relation   float64  `json:"relation"`
	Aggression float64  `json:"aggression"`
	War        string   `json:"war"`
	WarScore   float64  `json:"war_score,omitempty"`
	Treaties   []string `json:"treaties"`
	Allies     []string `json:"allies,omitempty"`
	VassalOf   string   `json:"vassal_of,omitempty"`
	Merchants  int      `json:"merchants"`
	Annexed    bool     `json:"annexed"`
}

func (s *Server) handleNations(w http.ResponseWriter, r *http.Request) {
	st := s.Engine.State()
	includeAnnexed := r.URL.Query().Get("all") == "true"

	out := make([]nationView, 0, len(st.Nations))
	for _, n := range st.Nations {
		if n.Annexed && !includeAnnexed {
			continue
		}
		v := nationView{
			ID:         n.ID,
			Name:       n.Name,
			Population: n.Population,
			Wealth:     n.Wealth,
			Epoch:      n.Epoch,
			Relation:   n.Relation,
			Aggression: n.Aggression,
			War:        n.Wars.Get(world.PlayerID).Kind(),
			Treaties:   []string{},
			Allies:     n.Allies,
			VassalOf:   n.VassalOf,
			Merchants:  st.Assignments[n.ID],
			Annexed:    n.Annexed,
		}
		if aw, ok := n.Wars[world.PlayerID].(world.AtWar); ok {
			v.WarScore = aw.Score
		}
		for _, t := range st.TreatiesWith(n.ID) {
			v.Treaties = append(v.Treaties, t.Type)
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

type marketView struct {
	Resource   string  `json:"resource"`
	Price      float64 `json:"price"`
	Supply     float64 `json:"supply"`
	Demand     float64 `json:"demand"`
	CostFloor  float64 `json:"cost_floor"`
	Multiplier float64 `json:"multiplier"`
	Stock      float64 `json:"stock"`
	Preference float64 `json:"preference"`
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	st := s.Engine.State()
	cat := s.Engine.Pipeline.Catalog()

	out := make([]marketView, 0, len(st.Market))
	for _, key := range cat.TradableKeys() {
		m := st.Market[key]
		pref, ok := st.Preferences[key]
		if !ok {
			pref = 1
		}
		out = append(out, marketView{
			Resource:   key,
			Price:      m.Price,
			Supply:     m.Supply,
			Demand:     m.Demand,
			CostFloor:  m.CostFloor,
			Multiplier: m.Multiplier,
			Stock:      st.Player.Inventory[key],
			Preference: pref,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	var since int64
	if v := q.Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "since must be a non-negative sequence number")
			return
		}
		since = n
	}

	entries := s.Feed.Since(since, limit)
	if tag := q.Get("tag"); tag != "" {
		filtered := make([]FeedEntry, 0, len(entries))
		for _, e := range entries {
			if e.Tag == tag {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.Hub.serveWS(w, r, s.Engine.State().Day, s.Feed.Since(0, catchUp))
}

type actionRequest struct {
	Nation  string          `json:"nation_id"`
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	var (
		next world.State
		evs  []events.Event
	)
	err := s.Engine.Apply(func(st world.State) (world.State, error) {
		var err error
		next, evs, err = s.Dispatch.Do(r.Context(), st, req.Nation, req.Action, req.Payload)
		return next, err
	})
	if err != nil {
		writeError(w, actionStatus(err), err.Error())
		return
	}

	s.Record(next, evs)
	s.saveEvents(r.Context(), next.Day, evs)
	log.Info().Str("subject", SubjectFromContext(r.Context())).Str("action", req.Action).Str("nation", req.Nation).Msg("admin action")

	lines := events.Lines(evs)
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"day":    next.Day,
		"events": lines,
		"report": engine.Summarize(&next),
	})
}

// actionStatus maps dispatch and war errors to HTTP status codes.
func actionStatus(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrUnknownNation), errors.Is(err, war.ErrUnknownParty):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrNationAnnexed),
		errors.Is(err, dispatch.ErrAtWar),
		errors.Is(err, war.ErrNotAtWar),
		errors.Is(err, war.ErrAlreadyAtWar),
		errors.Is(err, war.ErrArmistice),
		errors.Is(err, war.ErrAllied),
		errors.Is(err, war.ErrOverlord),
		errors.Is(err, war.ErrNoArmy),
		errors.Is(err, war.ErrPeaceRefused):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadRequest
}

func (s *Server) saveEvents(ctx context.Context, day int, evs []events.Event) {
	if s.DB == nil || len(evs) == 0 {
		return
	}
	if err := s.DB.SaveEvents(ctx, day, evs); err != nil {
		log.Error().Err(err).Msg("failed to store action events")
	}
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Speed *float64 `json:"speed"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Speed == nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if *req.Speed < 0 || *req.Speed > MaxSpeed {
		writeError(w, http.StatusBadRequest, "speed must be 0-1000")
		return
	}
	s.Engine.SetSpeed(*req.Speed)
	log.Info().Float64("speed", *req.Speed).Msg("speed changed")
	writeJSON(w, http.StatusOK, map[string]float64{"speed": s.Engine.Speed()})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		writeError(w, http.StatusServiceUnavailable, "database not available")
		return
	}
	info, err := s.DB.SaveSnapshot(r.Context(), s.Engine.State())
	if err != nil {
		log.Error().Err(err).Msg("snapshot save failed")
		writeError(w, http.StatusInternalServerError, "snapshot failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshot": info,
		"message":  "snapshot saved",
	})
}

func (s *Server) handleMerchants(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Nation string `json:"nation_id"`
		Count  int    `json:"count"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	err := s.Engine.Apply(func(st world.State) (world.State, error) {
		return dispatch.SetMerchantAssignment(st, req.Nation, req.Count)
	})
	if err != nil {
		writeError(w, actionStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": s.Engine.State().Assignments})
}

func (s *Server) handlePreferences(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Resource   string  `json:"resource"`
		Multiplier float64 `json:"multiplier"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	cat := s.Engine.Pipeline.Catalog()
	err := s.Engine.Apply(func(st world.State) (world.State, error) {
		return dispatch.SetTradePreference(cat, st, req.Resource, req.Multiplier)
	})
	if err != nil {
		writeError(w, actionStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"preferences": s.Engine.State().Preferences})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("error encoding response")
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads and decodes JSON from a request body.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(v)
}
