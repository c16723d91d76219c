package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// World routing.
	ErrWorldNotFound = "E_WORLD_NOT_FOUND"
	ErrWorldUnloaded = "E_WORLD_UNLOADED"

	// Request layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrUnknownKind   = "E_UNKNOWN_KIND"
	ErrRateLimit     = "E_RATE_LIMIT"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrWorldNotFound:   {},
	ErrWorldUnloaded:   {},
	ErrBadRequest:      {},
	ErrUnknownKind:     {},
	ErrRateLimit:       {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
