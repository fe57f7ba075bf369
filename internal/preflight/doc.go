// Package preflight runs the health checks behind 'newsline doctor'.
//
// Local checks cover the data directory (free space, write access) and the
// process file descriptor limit. Upstream checks ping the embedder, the
// oracle and any configured shared cache or vector service. The index check
// compares stored articles against stored vectors without repairing them.
//
//	checker := preflight.New(dataDir,
//	    preflight.WithUpstream("embedder", true, embedder, "Start Ollama"),
//	    preflight.WithIndex(index.NewConsistencyChecker(articles, vectors)))
//	results := checker.RunAll(ctx)
//	if checker.HasCriticalFailures(results) {
//	    // refuse to index
//	}
package preflight
