package core

// KVStore is a scoped key-value store used to persist engine state (the
// offline queue envelope and the event log) across agent restarts.
// Implementations live under storage/kv; callers must treat write failures
// as degraded durability, never as fatal.
type KVStore interface {
	// Get returns the raw record for key, and whether it exists.
	Get(key string) ([]byte, bool, error)
	// Set writes the raw record for key, replacing any previous value.
	Set(key string, value []byte) error
}
