package logger

import (
	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across janus.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity
	FieldSurfaceID = "surface_id"
	FieldSessionID = "session_id"
	FieldTargetID  = "target_id"
	FieldListener  = "listener_id"

	// Components
	FieldComponent = "component"
	FieldChannel   = "channel"

	// Events
	FieldEventType = "event_type"
	FieldEventKind = "event_kind"
	FieldCount     = "count"
	FieldPending   = "pending"

	// Consent
	FieldPurposes    = "purposes"
	FieldFidesString = "fides_string_len"
	FieldMethod      = "method"

	// Errors
	FieldError = "error"

	// Network
	FieldURL     = "url"
	FieldAddress = "address"
	FieldSize    = "size_bytes"
)

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	type Registry struct {
//	    logger *zap.SugaredLogger
//	}
//
//	func New() *Registry {
//	    return &Registry{
//	        logger: logger.ComponentLogger("registry"),
//	    }
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// SurfaceLogger returns a child logger that tags every entry with the surface id.
func SurfaceLogger(parent *zap.SugaredLogger, id int) *zap.SugaredLogger {
	return parent.With(FieldSurfaceID, id)
}
