// Package cache keeps remotely hosted novel images (covers and in-chapter
// illustrations) on local disk so the reader can display them offline.
//
// Three layers cooperate: an in-process memory layer keyed by cache key, a
// metadata map persisted as a single record in the settings store, and the
// files themselves under <root>/covers and <root>/content. The Manager is the
// only writer of the metadata record; it serialises every read-modify-write
// and runs downloads outside that lock. Files are written with temp file +
// rename so a reader never observes a partial image. Age and size sweeps keep
// the directory bounded.
package cache
