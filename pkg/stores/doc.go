// Package stores persists parse runs for later querying.
//
// The SQLite store records one row per session plus the packages and
// targets the session's graph contained. A few target fields are broken out
// into queryable columns (kind, binary, test, test-only, default command);
// the full target record travels as JSON and can be decoded back into the
// graph's target type. The schema lives in embedded migrations and is
// applied with Migrate.
package stores
