// Package errors provides error handling for janus.
//
// This package re-exports github.com/cockroachdb/errors so every package wraps
// and inspects errors the same way, and it defines the failure taxonomy of the
// consent bridge:
//
//   - ErrProtocolAnomaly: a surface sent a message the codec could not accept.
//     The message is dropped and logged.
//   - ErrQueryFailure: an on-demand consent query against a surface failed.
//     Cached values stay as they were.
//   - ErrUnknownSurface: a command referenced a surface id that is not live.
//     Callers treat it as a no-op.
//   - ErrCanonicalRefresh: pulling the canonical snapshot from the native SDK
//     failed. The last known snapshot is kept and the message is shown to the user.
//
// None of these are fatal. The worst outcome of any of them is a stale cache.
//
// Usage:
//
//	if err := s.Evaluate(ctx, expr); err != nil {
//	    return errors.Mark(errors.Wrap(err, "query consent"), errors.ErrQueryFailure)
//	}
//
//	if errors.IsQueryFailure(err) {
//	    // log and keep the cache
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSafeDetails    = crdb.WithSafeDetails
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapOnce     = crdb.UnwrapOnce
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Bridge failure taxonomy.
var (
	// ErrProtocolAnomaly marks a malformed or unrecognised inbound message.
	ErrProtocolAnomaly = New("protocol anomaly")

	// ErrQueryFailure marks a failed on-demand consent query.
	ErrQueryFailure = New("consent query failed")

	// ErrUnknownSurface marks an operation on a surface id that is not live.
	ErrUnknownSurface = New("unknown surface")

	// ErrCanonicalRefresh marks a failed pull from the native SDK.
	ErrCanonicalRefresh = New("canonical refresh failed")

	// ErrReleased is returned by operations on a bridge or surface after release.
	ErrReleased = New("released")
)

// General purpose sentinels.
var (
	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrServiceUnavailable indicates a required service is not available
	ErrServiceUnavailable = New("service unavailable")
)

// IsProtocolAnomaly reports whether err is or wraps ErrProtocolAnomaly.
func IsProtocolAnomaly(err error) bool {
	return err != nil && Is(err, ErrProtocolAnomaly)
}

// IsQueryFailure reports whether err is or wraps ErrQueryFailure.
func IsQueryFailure(err error) bool {
	return err != nil && Is(err, ErrQueryFailure)
}

// IsUnknownSurface reports whether err is or wraps ErrUnknownSurface.
func IsUnknownSurface(err error) bool {
	return err != nil && Is(err, ErrUnknownSurface)
}

// IsCanonicalRefresh reports whether err is or wraps ErrCanonicalRefresh.
func IsCanonicalRefresh(err error) bool {
	return err != nil && Is(err, ErrCanonicalRefresh)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// QueryFailure wraps err with context and marks it as a query failure.
func QueryFailure(err error, context string) error {
	return Mark(Wrap(err, context), ErrQueryFailure)
}

// CanonicalRefresh wraps err with context and marks it as a canonical refresh failure.
func CanonicalRefresh(err error, context string) error {
	return Mark(Wrap(err, context), ErrCanonicalRefresh)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}
