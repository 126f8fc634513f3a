package artfight

import "github.com/rotisserie/eris"

// Failure taxonomy for one poll cycle. Network and parse failures end the
// cycle and are retried on the next scheduled tick; auth failures
// additionally flip the process-wide authentication status so polling is
// suppressed until credentials are refreshed externally.
var (
	// ErrNetwork covers connection errors, timeouts and 5xx responses.
	ErrNetwork = eris.New("network failure")
	// ErrAuth means the origin rejected our session cookies.
	ErrAuth = eris.New("authentication failure")
	// ErrParse means required document structure was missing.
	ErrParse = eris.New("parse failure")
)

// IsNetwork reports whether err classifies as a network failure.
func IsNetwork(err error) bool { return eris.Is(err, ErrNetwork) }

// IsAuth reports whether err classifies as an authentication failure.
func IsAuth(err error) bool { return eris.Is(err, ErrAuth) }

// IsParse reports whether err classifies as a parse failure.
func IsParse(err error) bool { return eris.Is(err, ErrParse) }
