package raft

import "errors"

var (
	// ErrNotLeader is returned when an operation that requires
	// leadership, such as RecvEntry, is invoked on a non-leader.
	ErrNotLeader = errors.New("raft: not leader")

	// ErrOneVotingChangeOnly is returned when a voting-configuration
	// change is submitted while another one is still uncommitted.
	ErrOneVotingChangeOnly = errors.New("raft: only one voting configuration change may be pending")

	// ErrSnapshotInProgress is returned when a configuration change is
	// submitted while a snapshot is being taken.
	ErrSnapshotInProgress = errors.New("raft: snapshot already in progress")

	// ErrSnapshotAlreadyLoaded is returned by BeginLoadSnapshot when
	// the snapshot matches the one already loaded.
	ErrSnapshotAlreadyLoaded = errors.New("raft: snapshot already loaded")

	// ErrInvalidCfgChange is returned when a configuration change
	// entry targets a node in a state that does not admit the change.
	ErrInvalidCfgChange = errors.New("raft: invalid configuration change")

	// ErrNoMem is returned by RecvEntry when the host's LogOffer
	// accepts none of the submitted entry. The log itself grows on
	// demand and never reports this error.
	ErrNoMem = errors.New("raft: out of memory")

	// ErrMightViolateLease is returned when starting an election could
	// break a lease this server may have granted to another leader.
	ErrMightViolateLease = errors.New("raft: election might violate a granted lease")

	// ErrShutdown reports a detected state machine impossibility, such
	// as an attempt to truncate committed history. The host must stop
	// the server rather than let it corrupt state.
	ErrShutdown = errors.New("raft: server must shut down")
)
