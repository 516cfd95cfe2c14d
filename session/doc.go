// Package session persists the durable state of a conversation (history,
// tracked resource baselines, tool preferences and template variables) and
// restores it later.
//
// Optional values keep their present/absent distinction through every codec:
// the DTO layer encodes them as nil-able pointers, so an absent value is
// omitted from the encoded form while a present empty value is written out.
//
// Backends:
//
//   - InMemoryStore: process-local, for tests and ephemeral runs
//   - FileStore: one zstd-compressed CBOR file per session
//   - SQLiteStore: a single SQLite database, JSON encoded rows
package session
