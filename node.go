package raft

// Node is one peer in the cluster, including the local server itself.
// Beyond its identity it carries the leader-side replication
// bookkeeping for the peer: how far its log is known to match, where
// the next append starts, the lease it last granted, and its standing
// in the voting configuration.
type Node struct {
	id uint64

	// votedForMe is the candidate-phase tally flag, reset every time
	// an election round starts.
	votedForMe bool

	// nextIdx is the index of the next entry to replicate to this
	// peer; matchIdx is the highest index known to be replicated.
	nextIdx  uint64
	matchIdx uint64

	voting bool

	// hasSufficientLogs latches once the NodeHasSufficientLogs
	// callback has fired for this non-voting peer, or when
	// EndLoadSnapshot marks a voting node.
	hasSufficientLogs bool

	// lease is the absolute time until which this peer has promised
	// not to vote for anyone else.
	lease int64

	// effectiveTime is when this peer became effective for the
	// current leader: the leader's election, or the peer's addition,
	// whichever came later. A leader has no lease from a fresh peer,
	// so lease accounting gives it this anchor plus grace to acquire
	// one.
	effectiveTime int64

	// udata is an opaque host cookie, typically the peer's address.
	udata interface{}
}

func newNode(id uint64, udata interface{}) *Node {
	return &Node{
		id:      id,
		voting:  true,
		nextIdx: 1,
		udata:   udata,
	}
}

// ID returns the stable numeric identity of the node.
func (n *Node) ID() uint64 { return n.id }

// IsVoting returns true if the node counts toward majorities.
func (n *Node) IsVoting() bool { return n.voting }

// HasSufficientLogs returns true once the node has been reported
// caught up via the NodeHasSufficientLogs callback, or once
// EndLoadSnapshot has marked it as a voting node of the snapshot.
func (n *Node) HasSufficientLogs() bool { return n.hasSufficientLogs }

// NextIdx returns the index of the next entry to send to this node.
func (n *Node) NextIdx() uint64 { return n.nextIdx }

// MatchIdx returns the highest index known replicated on this node.
func (n *Node) MatchIdx() uint64 { return n.matchIdx }

// Lease returns the absolute time until which the node has promised
// not to vote for anyone else.
func (n *Node) Lease() int64 { return n.lease }

// EffectiveTime returns when the node became effective for the
// current leader.
func (n *Node) EffectiveTime() int64 { return n.effectiveTime }

// Udata returns the host cookie attached to the node.
func (n *Node) Udata() interface{} { return n.udata }

// SetUdata attaches a host cookie to the node.
func (n *Node) SetUdata(udata interface{}) { n.udata = udata }

func (n *Node) setNextIdx(idx uint64) {
	// log indexes start at 1
	if idx < 1 {
		idx = 1
	}
	n.nextIdx = idx
}
