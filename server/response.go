package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/teranos/janus/bridge"
	"github.com/teranos/janus/errors"
	"github.com/teranos/janus/internal/loop"
	"github.com/teranos/janus/logger"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return errors.Wrap(err, "failed to encode JSON")
	}
	return nil
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// readJSON decodes an optional JSON body. An empty body leaves v untouched.
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// surfaceID parses the {id} path value.
func surfaceID(w http.ResponseWriter, r *http.Request) (bridge.SurfaceID, bool) {
	n, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "Invalid surface id")
		return 0, false
	}
	return bridge.SurfaceID(n), true
}

// writeHostError maps a host error to a status code.
func (s *Server) writeHostError(w http.ResponseWriter, err error) {
	switch {
	case errors.IsUnknownSurface(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.IsInvalidRequestError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errors.ErrServiceUnavailable),
		errors.Is(err, loop.ErrStopped),
		errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		s.logger.Errorw("Request failed", logger.FieldError, err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
