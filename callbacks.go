package raft

// MembershipEvent tells the host whether a node joined or left the
// node table.
type MembershipEvent uint8

const (
	MembershipAdd MembershipEvent = iota
	MembershipRemove
)

// LogLevel grades messages handed to the Log callback.
type LogLevel uint8

const (
	LogError LogLevel = iota
	LogInfo
	LogDebug
)

// Callbacks is the capability record through which the engine performs
// every side effect. The host installs it with Server.SetCallbacks.
//
// All callbacks are invoked synchronously from within engine calls and
// must not re-enter the Server. Nil members are skipped where the
// engine can proceed without them; GetTime is mandatory.
type Callbacks struct {
	// SendRequestVote ships a RequestVote to a peer. The message is
	// borrowed for the duration of the call.
	SendRequestVote func(s *Server, n *Node, msg *RequestVote) error

	// SendAppendEntries ships an AppendEntries to a peer. msg.Entries
	// aliases log storage and is only valid for the duration of the
	// call.
	SendAppendEntries func(s *Server, n *Node, msg *AppendEntries) error

	// SendInstallSnapshot ships an InstallSnapshot to a peer. The host
	// arranges the actual snapshot payload transfer.
	SendInstallSnapshot func(s *Server, n *Node, msg *InstallSnapshot) error

	// RecvInstallSnapshot hands an accepted InstallSnapshot offer to
	// the host, which loads the payload. It returns complete=false
	// while the transfer is still in progress. This is the one
	// callback that may call back into the engine: once the payload
	// is fully received the host loads it with BeginLoadSnapshot,
	// repopulates membership, and finishes with EndLoadSnapshot
	// before returning complete=true.
	RecvInstallSnapshot func(s *Server, n *Node, msg *InstallSnapshot, resp *InstallSnapshotResponse) (complete bool, err error)

	// RecvInstallSnapshotResponse lets the sending host observe a
	// follower's snapshot progress before the engine updates the
	// node's replication indexes.
	RecvInstallSnapshotResponse func(s *Server, n *Node, resp *InstallSnapshotResponse) error

	// ApplyLog feeds one committed entry to the host state machine.
	// Entries are applied in strictly increasing index order exactly
	// once. Returning ErrShutdown aborts the server.
	ApplyLog func(s *Server, e *Entry, idx uint64) error

	// PersistVote records voted-for durably. It must not return until
	// the vote would survive a restart; the engine will not emit a
	// granting RequestVoteResponse otherwise.
	PersistVote func(s *Server, votedFor uint64) error

	// PersistTerm records the current term durably. A failure aborts
	// the term transition.
	PersistTerm func(s *Server, term uint64) error

	// LogOffer observes entries being appended. idx is the index of
	// entries[0]. The host may accept a shorter prefix by returning
	// n < len(entries); the append is shortened accordingly.
	LogOffer func(s *Server, entries []Entry, idx uint64) (n int, err error)

	// LogPoll observes entries leaving the head of the log after a
	// snapshot. Batches arrive in strictly increasing index order.
	LogPoll func(s *Server, entries []Entry, idx uint64) (n int, err error)

	// LogPop observes entries truncated from the tail. Batches arrive
	// in the reverse of the order LogOffer saw them.
	LogPop func(s *Server, entries []Entry, idx uint64) (n int, err error)

	// LogGetNodeID extracts the target node ID from a configuration
	// change entry. The engine does not interpret entry data itself.
	LogGetNodeID func(s *Server, e *Entry, idx uint64) uint64

	// NodeHasSufficientLogs fires once per non-voting node when it has
	// caught up to within one entry of the leader's tail. The host
	// typically answers by submitting a promotion.
	NodeHasSufficientLogs func(s *Server, n *Node) error

	// NotifyMembershipEvent reports node table changes. e is nil for
	// removals and bootstrap additions.
	NotifyMembershipEvent func(s *Server, n *Node, e *Entry, ev MembershipEvent)

	// GetTime reads the host's monotonic clock, in the same unit the
	// timeouts are configured in. Mandatory; must be non-decreasing.
	GetTime func(s *Server) int64

	// GetRand returns a uniform random in [0, 1). When nil the engine
	// falls back to the standard library source.
	GetRand func(s *Server) float64

	// Log receives engine diagnostics. When nil the package Logger is
	// used instead.
	Log func(s *Server, n *Node, level LogLevel, msg string)
}
