package store

// KV is the injected persistence interface. The store consumes it: it
// serializes its state into a couple of entries and never cares what is
// behind them. Writes after a commit are best-effort; a failed save is
// logged and never rolls back in-memory state.
type KV interface {
	Get(key string) (value []byte, ok bool, err error)
	Set(key string, value []byte) error
}

const (
	keySheets = "sheets"
	keyTheme  = "theme"
)
