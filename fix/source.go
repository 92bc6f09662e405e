package fix

import "errors"

// ErrSourceStopped is returned by Next once the underlying device
// session has ended. It is terminal until Restart succeeds; the
// position of a moving vehicle cannot be replayed.
var ErrSourceStopped = errors.New("fix source stopped")

// Source produces a lazy, effectively infinite sequence of fixes.
// Implementations carry a single logical stream: no two Next calls
// may be in flight concurrently.
type Source interface {
	Next() (Fix, error)
	Restart() error
}
