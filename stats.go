package funcache

// Stats describes one wrapped function's cache effectiveness. Hits and
// Misses are maintained by the wrapped call path and persist wherever
// the function's backend persists them; direct Get, Set, Invalidate and
// Original calls never move the counters. Size is the number of live
// entries under the function's key namespace, measured on demand.
type Stats struct {
	Hits   int64
	Misses int64
	Size   int64
}
