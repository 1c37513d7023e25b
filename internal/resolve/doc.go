// Package resolve is the consumer-facing helper used by the novel detail and
// chapter views: given an image reference it returns a local file URI,
// preferring the cache and fetching on miss. Screens never touch the cache
// coordinator directly.
package resolve
