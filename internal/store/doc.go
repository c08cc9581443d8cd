// Package store provides KeyedStore, a persisted and observable mapping from
// string keys to JSON-serializable records scoped to a named container.
//
// # Persistence Medium
//
// A Store never talks to storage directly. It reads and writes one opaque
// string blob per container through a Medium, and learns about mutations made
// by other contexts through the Medium's Watch stream. Implementations live in
// the memory, sqlite, redis and postgres sub-packages.
//
// # Convergence
//
// Two Stores over the same container, each with its own Medium handle,
// converge to the same logical content after each one's next Load. Writes are
// whole-container: the last writer wins, and readers always re-derive truth
// from the freshest blob instead of trusting notification order.
//
// # Corruption
//
// A blob that fails to deserialize yields an empty store. A corrupt backing
// record must never poison the rest of a session.
package store
