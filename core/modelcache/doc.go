// Package modelcache remembers discovered model catalogs across restarts and
// the model the user selected last.
//
// Entries are stored under aimux_models_v1_<provider>. An entry is ignored
// when it was written by a different build fingerprint, for a different API
// key, or more than the TTL (24h by default) ago. Development builds never
// read the cache.
package modelcache
