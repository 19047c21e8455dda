package cache

// Registry holds the three process-global caches the coordinator consults.
// Construct once at boot (see cmd/ragd) and share the pointer; never lazily
// initialize these per-request.
type Registry struct {
	Response  *Cache[string]
	Retrieval *Cache[any]
	WebSearch *Cache[any]
}
