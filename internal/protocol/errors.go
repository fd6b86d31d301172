package protocol

// Error codes surfaced by the admin API and recorded on failed
// decisions. Codes are stable strings; clients switch on them.
const (
	// Request validation.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrInvalidPatch  = "E_INVALID_PATCH"
	ErrUnknownField  = "E_UNKNOWN_FIELD"
	ErrOutOfRange    = "E_OUT_OF_RANGE"
	ErrInvalidTarget = "E_INVALID_TARGET"

	// Simulation state.
	ErrNotPaused     = "E_NOT_PAUSED"
	ErrTickInFlight  = "E_TICK_IN_FLIGHT"
	ErrDuplicateVote = "E_DUPLICATE_VOTE"
	ErrNoFunds       = "E_NO_FUNDS"
	ErrConflict      = "E_CONFLICT"
	ErrNotFound      = "E_NOT_FOUND"

	// Decision providers.
	ErrProviderTimeout = "E_PROVIDER_TIMEOUT"
	ErrProviderFailed  = "E_PROVIDER_FAILED"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrBadRequest:      {},
	ErrInvalidPatch:    {},
	ErrUnknownField:    {},
	ErrOutOfRange:      {},
	ErrInvalidTarget:   {},
	ErrNotPaused:       {},
	ErrTickInFlight:    {},
	ErrDuplicateVote:   {},
	ErrNoFunds:         {},
	ErrConflict:        {},
	ErrNotFound:        {},
	ErrProviderTimeout: {},
	ErrProviderFailed:  {},
	ErrInternal:        {},
}

// IsKnownCode reports whether code is part of the published taxonomy.
// The empty string counts as known: it means "no error".
func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
