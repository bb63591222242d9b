package raft

import "math/rand"

const (
	defaultElectionTimeout = 1000
	defaultRequestTimeout  = 200
)

// Server is a single Raft consensus state machine. It owns its log and
// node table exclusively; everything else belongs to the host.
//
// A Server is not safe for concurrent use. The host serializes all
// calls into it from one event loop and drives time by calling
// Periodic.
type Server struct {
	cb    Callbacks
	udata interface{}

	state   StateType
	prevote bool

	currentTerm uint64
	votedFor    uint64

	log *raftLog

	commitIdx      uint64
	lastAppliedIdx uint64

	nodes  []*Node
	nodeID uint64

	leaderID uint64

	// votingCfgChangeLogIdx is the index of the appended but not yet
	// applied voting-configuration change, or 0 when none is pending.
	votingCfgChangeLogIdx uint64

	// electionTimer anchors election and lease timing: the last time
	// this server heard from a valid leader, granted a vote, started
	// an election, or (as leader) broadcast appends.
	electionTimer       int64
	electionTimeout     int64
	electionTimeoutRand int64
	requestTimeout      int64

	// leaseMaintenanceGrace extends how long a leader tolerates a
	// missing lease before stepping down, covering the start of a term
	// when no lease has been acquired yet.
	leaseMaintenanceGrace int64

	startTime int64

	// firstStart is true iff this server has never run before. A
	// restarted server may have granted a lease it no longer
	// remembers, so unless firstStart is set it refuses to grant
	// votes for an election timeout after start.
	firstStart bool

	snapshotLastIdx  uint64
	snapshotLastTerm uint64

	snapshotInProgress bool

	// lastKnownTime clamps a backwards-moving host clock.
	lastKnownTime int64
}

// New creates a Server in the follower state with an empty log and an
// empty node table. The host must install Callbacks and add nodes (or
// load a snapshot) before driving it.
func New() *Server {
	s := &Server{
		state:           StateFollower,
		votedFor:        NoNodeID,
		leaderID:        NoNodeID,
		electionTimeout: defaultElectionTimeout,
		requestTimeout:  defaultRequestTimeout,
	}
	s.log = newRaftLog(s)
	s.randomizeElectionTimeout()
	return s
}

// Clear resets role, term, vote, indexes, node table, log, lease
// grace and the first-start flag to their post-New values. The
// installed callbacks and the configured election and request
// timeouts are kept.
func (s *Server) Clear() {
	s.state = StateFollower
	s.prevote = false
	s.currentTerm = 0
	s.votedFor = NoNodeID
	s.commitIdx = 0
	s.lastAppliedIdx = 0
	s.nodes = nil
	s.nodeID = NoNodeID
	s.leaderID = NoNodeID
	s.votingCfgChangeLogIdx = 0
	s.electionTimer = 0
	s.randomizeElectionTimeout()
	s.startTime = 0
	s.leaseMaintenanceGrace = 0
	s.firstStart = false
	s.snapshotLastIdx = 0
	s.snapshotLastTerm = 0
	s.snapshotInProgress = false
	s.log.clear()
}

// SetCallbacks installs the host capability record and an opaque host
// cookie retrievable with Udata. GetTime is mandatory: the time fields
// cannot be initialized without it.
func (s *Server) SetCallbacks(cb *Callbacks, udata interface{}) {
	if cb == nil || cb.GetTime == nil {
		panic("raft: Callbacks.GetTime is mandatory")
	}

	s.cb = *cb
	s.udata = udata

	now := s.now()
	s.electionTimer = now
	s.startTime = now
}

// Udata returns the host cookie installed by SetCallbacks.
func (s *Server) Udata() interface{} { return s.udata }

// SetElectionTimeout sets the election timeout, in the host clock's
// unit, and resamples the randomized timeout.
func (s *Server) SetElectionTimeout(timeout int64) {
	s.electionTimeout = timeout
	s.randomizeElectionTimeout()
}

// SetRequestTimeout sets the leader's heartbeat interval.
func (s *Server) SetRequestTimeout(timeout int64) {
	s.requestTimeout = timeout
}

// SetLeaseMaintenanceGrace sets the extra time a leader is given to
// acquire or re-acquire a lease before it steps down.
func (s *Server) SetLeaseMaintenanceGrace(grace int64) {
	s.leaseMaintenanceGrace = grace
}

// SetFirstStart declares that this server has never run before, so it
// cannot have granted anyone a lease and need not hold back votes
// after start.
func (s *Server) SetFirstStart() {
	s.firstStart = true
}

// now reads the host clock, clamped to be non-decreasing.
func (s *Server) now() int64 {
	t := s.cb.GetTime(s)
	if t < s.lastKnownTime {
		s.logf(nil, LogError, "host clock moved backwards (%d < %d); clamping", t, s.lastKnownTime)
		return s.lastKnownTime
	}
	s.lastKnownTime = t
	return t
}

func (s *Server) rand() float64 {
	if s.cb.GetRand != nil {
		return s.cb.GetRand(s)
	}
	return rand.Float64()
}

// randomizeElectionTimeout samples the follower's timeout uniformly
// from [electionTimeout, 2*electionTimeout).
func (s *Server) randomizeElectionTimeout() {
	s.electionTimeoutRand = s.electionTimeout + int64(float64(s.electionTimeout)*s.rand())
	s.logf(nil, LogInfo, "randomized election timeout to %d", s.electionTimeoutRand)
}

// State returns the current role.
func (s *Server) State() StateType { return s.state }

// IsFollower returns true if the server is a follower.
func (s *Server) IsFollower() bool { return s.state == StateFollower }

// IsCandidate returns true if the server is a candidate, in either
// the prevote or the voted phase.
func (s *Server) IsCandidate() bool { return s.state == StateCandidate }

// IsLeader returns true if the server is the leader.
func (s *Server) IsLeader() bool { return s.state == StateLeader }

// IsPrevoteCandidate returns true while a candidate is still in its
// prevote phase.
func (s *Server) IsPrevoteCandidate() bool { return s.state == StateCandidate && s.prevote }

// CurrentTerm returns the server's current term.
func (s *Server) CurrentTerm() uint64 { return s.currentTerm }

// VotedFor returns the node voted for in the current term, or
// NoNodeID.
func (s *Server) VotedFor() uint64 { return s.votedFor }

// LeaderID returns the known leader of the current term, or NoNodeID.
func (s *Server) LeaderID() uint64 { return s.leaderID }

// NodeID returns the local node's ID, or NoNodeID before bootstrap.
func (s *Server) NodeID() uint64 { return s.nodeID }

// CommitIdx returns the highest log index known committed.
func (s *Server) CommitIdx() uint64 { return s.commitIdx }

// LastAppliedIdx returns the highest log index fed to ApplyLog.
func (s *Server) LastAppliedIdx() uint64 { return s.lastAppliedIdx }

// CurrentIdx returns the index of the newest log entry.
func (s *Server) CurrentIdx() uint64 { return s.log.currentIdx() }

// LogCount returns the number of entries currently in the log window.
func (s *Server) LogCount() int { return s.log.count }

// LogBase returns the index of the last entry covered by the latest
// snapshot prefix.
func (s *Server) LogBase() uint64 { return s.log.base }

// FirstEntryIdx returns the index of the oldest entry still in the
// log window.
func (s *Server) FirstEntryIdx() uint64 { return s.log.base + 1 }

// SnapshotLastIdx returns the last index covered by the latest
// snapshot.
func (s *Server) SnapshotLastIdx() uint64 { return s.snapshotLastIdx }

// SnapshotLastTerm returns the term at SnapshotLastIdx.
func (s *Server) SnapshotLastTerm() uint64 { return s.snapshotLastTerm }

// SnapshotInProgress returns true between BeginSnapshot and
// EndSnapshot.
func (s *Server) SnapshotInProgress() bool { return s.snapshotInProgress }

// NumSnapshottableLogs returns how many committed entries a snapshot
// taken now could compact away.
func (s *Server) NumSnapshottableLogs() uint64 {
	return s.commitIdx - s.log.base
}

// VotingChangeInProgress returns true while a voting-configuration
// change is appended but not yet applied.
func (s *Server) VotingChangeInProgress() bool {
	return s.votingCfgChangeLogIdx != 0
}

// GetEntry returns the entry at idx, or nil if it is compacted or not
// yet present. The entry is borrowed from the log.
func (s *Server) GetEntry(idx uint64) *Entry {
	return s.log.getAt(idx)
}

// GetEntries returns the entries from idx on, as far as they are
// stored contiguously. The slice is borrowed from the log.
func (s *Server) GetEntries(idx uint64) []Entry {
	return s.log.getFrom(idx)
}

// LastLogTerm returns the term of the newest log entry, falling back
// to the snapshot boundary term when the window is empty.
func (s *Server) LastLogTerm() uint64 {
	term, _ := s.entryTerm(s.log.currentIdx())
	return term
}

// entryTerm reports the term at idx. The term of the base index is
// known from the snapshot even though the entry itself is gone.
func (s *Server) entryTerm(idx uint64) (uint64, bool) {
	if e := s.log.getAt(idx); e != nil {
		return e.Term, true
	}
	if idx == s.log.base {
		return s.log.baseTerm, true
	}
	return 0, false
}

// setCurrentTerm advances the term, persisting it before any state
// depends on it. Terms never move backwards.
func (s *Server) setCurrentTerm(term uint64) error {
	if s.currentTerm < term {
		if s.cb.PersistTerm != nil {
			if err := s.cb.PersistTerm(s, term); err != nil {
				return err
			}
		}
		s.currentTerm = term
		s.votedFor = NoNodeID
	}
	return nil
}

// voteForNodeID persists and records a real vote.
func (s *Server) voteForNodeID(nodeID uint64) error {
	if s.cb.PersistVote != nil {
		if err := s.cb.PersistVote(s, nodeID); err != nil {
			return err
		}
	}
	s.votedFor = nodeID
	return nil
}

func (s *Server) setCommitIdx(idx uint64) {
	if idx < s.commitIdx || s.log.currentIdx() < idx {
		s.logf(nil, LogError, "refusing commit index %d outside [%d, %d]", idx, s.commitIdx, s.log.currentIdx())
		return
	}
	s.commitIdx = idx
}

// deleteEntriesFrom truncates the log tail from idx. Truncating at or
// below the commit index would destroy committed history; that is a
// state machine impossibility and surfaces as ErrShutdown.
func (s *Server) deleteEntriesFrom(idx uint64) error {
	if idx <= s.commitIdx {
		return ErrShutdown
	}

	if s.votingCfgChangeLogIdx != 0 && idx <= s.votingCfgChangeLogIdx {
		s.votingCfgChangeLogIdx = 0
	}

	return s.log.truncateFrom(idx)
}
