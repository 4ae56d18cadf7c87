package server

import (
	"net/http"
	"strconv"

	"github.com/teranos/janus/errors"
	"github.com/teranos/janus/journal"
	"github.com/teranos/janus/version"
)

type createRequest struct {
	AutoSync *bool `json:"auto_sync"`
}

type listeningRequest struct {
	Enabled bool `json:"enabled"`
}

// HandleHealth reports build info and connection counts.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	v := version.Get()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"version":    v.Version,
		"commit":     v.CommitHash,
		"build_time": v.BuildTime,
		"clients":    s.clientCount(),
		"session_id": s.host.SessionID(),
	})
}

// HandleMetrics serves the host's prometheus collectors.
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	m := s.host.Metrics()
	if m == nil {
		writeError(w, http.StatusNotFound, "metrics are disabled")
		return
	}
	m.Handler().ServeHTTP(w, r)
}

func (s *Server) HandleState(w http.ResponseWriter, r *http.Request) {
	st, err := s.host.State(r.Context())
	if err != nil {
		s.writeHostError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleCreateSurface creates a surface. Creation is rate limited because
// every surface is a browser tab.
func (s *Server) HandleCreateSurface(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !readJSON(w, r, &req) {
		return
	}
	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "surface creation rate limit exceeded")
		return
	}

	autoSync := s.cfg.AutoSyncDefault
	if req.AutoSync != nil {
		autoSync = *req.AutoSync
	}
	id, err := s.host.CreateSurface(r.Context(), autoSync)
	if err != nil {
		s.writeHostError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id, "auto_sync": autoSync})
}

func (s *Server) HandleRemoveAll(w http.ResponseWriter, r *http.Request) {
	s.noContent(w, s.host.RemoveAll(r.Context()))
}

func (s *Server) HandleRemoveSurface(w http.ResponseWriter, r *http.Request) {
	id, ok := surfaceID(w, r)
	if !ok {
		return
	}
	s.noContent(w, s.host.RemoveSurface(r.Context(), id))
}

func (s *Server) HandleToggleExpanded(w http.ResponseWriter, r *http.Request) {
	id, ok := surfaceID(w, r)
	if !ok {
		return
	}
	s.noContent(w, s.host.ToggleExpanded(r.Context(), id))
}

func (s *Server) HandleSelect(w http.ResponseWriter, r *http.Request) {
	id, ok := surfaceID(w, r)
	if !ok {
		return
	}
	s.noContent(w, s.host.Select(r.Context(), id))
}

func (s *Server) HandleRefreshSurface(w http.ResponseWriter, r *http.Request) {
	id, ok := surfaceID(w, r)
	if !ok {
		return
	}
	s.noContent(w, s.host.RefreshSurfaceNow(r.Context(), id))
}

// HandleShowModal opens the consent modal on a surface. Unknown ids are a
// no-op like every other command.
func (s *Server) HandleShowModal(w http.ResponseWriter, r *http.Request) {
	id, ok := surfaceID(w, r)
	if !ok {
		return
	}
	shown, err := s.host.ShowModal(r.Context(), id)
	if errors.IsUnknownSurface(err) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		s.writeHostError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"shown": shown})
}

func (s *Server) HandleSurfaceEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := surfaceID(w, r)
	if !ok {
		return
	}
	events, err := s.host.SurfaceEvents(r.Context(), id)
	if err != nil {
		s.writeHostError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "events": events})
}

func (s *Server) HandleListening(w http.ResponseWriter, r *http.Request) {
	var req listeningRequest
	if !readJSON(w, r, &req) {
		return
	}
	s.noContent(w, s.host.SetListening(r.Context(), req.Enabled))
}

func (s *Server) HandleClearEventLog(w http.ResponseWriter, r *http.Request) {
	s.noContent(w, s.host.ClearEventLog(r.Context()))
}

func (s *Server) HandleClearCaches(w http.ResponseWriter, r *http.Request) {
	s.noContent(w, s.host.ClearLocalCaches(r.Context()))
}

func (s *Server) HandleRefreshCanonical(w http.ResponseWriter, r *http.Request) {
	s.noContent(w, s.host.RefreshCanonical(r.Context()))
}

// HandleJournal lists journaled events of the current session.
// Query parameters: surface, source, limit.
func (s *Server) HandleJournal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f journal.Filter

	if raw := q.Get("surface"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid surface parameter")
			return
		}
		f.SurfaceID = &n
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		f.Limit = n
	}
	switch src := journal.Source(q.Get("source")); src {
	case "", journal.SourceSurface, journal.SourceCanonical:
		f.Source = src
	default:
		writeError(w, http.StatusBadRequest, "Invalid source parameter")
		return
	}

	entries, err := s.host.Journal(r.Context(), f)
	if err != nil {
		s.writeHostError(w, err)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// noContent answers 204 or maps err.
func (s *Server) noContent(w http.ResponseWriter, err error) {
	if err != nil {
		s.writeHostError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
