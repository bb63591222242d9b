// Package raft implements the core of the Raft consensus algorithm as a
// deterministic, I/O-free state machine: leader election with Pre-Vote,
// log replication, single-step membership change with a non-voting
// catch-up phase, log compaction via snapshots, and leader leases for
// safe leadership handoff and linearizable reads.
//
// The package performs no networking, disk I/O, timing, or randomness of
// its own. Every side effect is delegated to the embedding host through
// the Callbacks record: sending messages, persisting term and vote,
// applying committed entries, producing and consuming snapshots,
// observing log mutations, reading the clock and a uniform random.
//
// A Server is single-threaded. The host drives it by delivering received
// messages (RecvRequestVote, RecvAppendEntries, ...), ticking Periodic
// often enough for timeouts to fire, and submitting client entries with
// RecvEntry. Callbacks are invoked synchronously and must not re-enter
// the Server. The host is responsible for serializing all calls into a
// Server from its own event loop.
package raft
