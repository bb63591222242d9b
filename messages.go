package raft

// The message records below are exchanged between servers through the
// host transport. No wire encoding is dictated; the host serializes
// them however it likes. Request records are borrowed from the caller
// for the duration of the receiving call; response records are filled
// in by the engine.

// VoteResult is the tri-state answer to a RequestVote.
type VoteResult int8

const (
	// VoteNotGranted means the vote was refused.
	VoteNotGranted VoteResult = 0

	// VoteGranted means the vote was granted.
	VoteGranted VoteResult = 1

	// VoteUnknownNode means the grantor does not know the candidate.
	// The candidate may have been removed from the cluster without
	// having learned of its removal yet.
	VoteUnknownNode VoteResult = -1
)

// RequestVote solicits a vote, or a prevote, from a peer.
type RequestVote struct {
	Term        uint64
	CandidateID uint64
	LastLogIdx  uint64
	LastLogTerm uint64

	// Prevote marks a probe round that does not bump terms. The
	// grantor applies the usual up-to-dateness and lease checks but
	// does not persist a vote.
	Prevote bool
}

// RequestVoteResponse answers a RequestVote.
type RequestVoteResponse struct {
	Term        uint64
	VoteGranted VoteResult

	// Prevote echoes the request so the candidate can discard
	// responses from the wrong phase.
	Prevote bool
}

// AppendEntries replicates log entries, or acts as a heartbeat when
// Entries is empty.
type AppendEntries struct {
	Term         uint64
	PrevLogIdx   uint64
	PrevLogTerm  uint64
	LeaderCommit uint64

	// Entries is borrowed from the sender for the duration of the
	// receiving call.
	Entries []Entry
}

// AppendEntriesResponse answers an AppendEntries.
type AppendEntriesResponse struct {
	Term    uint64
	Success bool

	// CurrentIdx is the index of the last matched entry on success,
	// or the follower's current index on failure, letting the leader
	// backtrack NextIdx without a round trip per entry.
	CurrentIdx uint64

	// FirstIdx is the index of the first entry of the request this
	// responds to.
	FirstIdx uint64

	// Lease is the absolute time until which the follower promises
	// not to grant votes away from the leader, as computed at the
	// follower when it accepted the message.
	Lease int64
}

// InstallSnapshot tells a lagging follower to fetch a snapshot from
// the leader. The payload transfer itself is host-defined.
type InstallSnapshot struct {
	Term     uint64
	LastIdx  uint64
	LastTerm uint64
}

// InstallSnapshotResponse answers an InstallSnapshot.
type InstallSnapshotResponse struct {
	Term    uint64
	LastIdx uint64

	// Complete is true once the follower has the full snapshot.
	Complete bool

	Lease int64
}

// EntryResponse is handed back to the client entry submission path; it
// pins the (index, term, id) triple a submission landed at, so that
// Server.EntryResponseCommitted can later decide its fate.
type EntryResponse struct {
	ID   uint64
	Term uint64
	Idx  uint64
}
