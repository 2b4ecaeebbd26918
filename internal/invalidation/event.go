// Package invalidation defines catalog-change events that purge cached
// search results.
package invalidation

// Event announces a change to a catalog collection. Op is informational
// ("update", "delete", "reindex"); any event for a collection drops its
// cached searches.
type Event struct {
	Op         string `json:"op"`
	Collection string `json:"collection"`
}
