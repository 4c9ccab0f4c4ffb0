// Package preflight checks that amanrag can run before it indexes or serves.
//
// Local checks (data directory, disk space, file descriptors) are required:
// a failure stops `amanrag index`. Remote checks ping the embedding,
// generation and rerank endpoints and only warn, because retrieval degrades
// instead of failing when a remote is down.
//
//	checker := preflight.New(cfg)
//	results := checker.RunAll(ctx)
//	if preflight.HasCriticalFailures(results) {
//	    // stop
//	}
package preflight
