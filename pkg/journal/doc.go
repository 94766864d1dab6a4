// Package journal persists the bundles an engine session sends.
//
// The journal is a SQLite database (modernc.org/sqlite, no cgo) whose schema
// is managed by golang-migrate from embedded migrations. A Recorder attached
// to the engine's event publisher writes one row per engine session and one
// per bundle, sent or failed, with its sequence number, time tag, size and
// OSC addresses.
package journal
