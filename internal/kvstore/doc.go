// Package kvstore is the application's general key/value settings store. The
// image cache keeps its whole metadata mapping under one reserved key here, so
// the store only needs whole-value Get/Set semantics. Two backends exist: an
// embedded SQLite database (default) and a single JSON document rewritten via
// temp file + rename. Both guarantee that readers never observe a partially
// written value.
package kvstore
