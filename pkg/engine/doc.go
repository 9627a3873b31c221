// Package engine is the reference host for the Quarry evaluator. It keeps an
// in-memory graph of packages and targets, implements the host half of the
// bridge, and schedules BUILD file parses across worker goroutines.
//
// The engine records and schedules parses only; it does not build anything.
// A target counts as ready for subinclusion once its declaring package has
// finished parsing, and its outputs are resolved against the source tree.
//
// # Parse sessions
//
// A Session drives a set of BUILD files to completion:
//
//	host := engine.NewHost(root, engine.HostOptions{Logger: logger})
//	eval := parse.New(host, parse.Options{Logger: logger})
//	session := engine.NewSession(host, eval, engine.SessionOptions{})
//	report, err := session.Parse(ctx, packages)
//
// Files are parsed in rounds. Each round evaluates every pending file on its
// own goroutine; files that defer on a not-yet-parsed target go back on the
// queue for the next round, and the packages they wait on are queued too. A
// round that completes no file while deferred files remain means the files
// are waiting on each other, and the session reports the deferral cycle
// instead of retrying forever.
package engine
