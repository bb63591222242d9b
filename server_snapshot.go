package raft

import "errors"

var (
	errSnapshotNotInProgress = errors.New("raft: no snapshot in progress")
	errSnapshotBadIndex      = errors.New("raft: snapshot index out of range")
)

// sendInstallSnapshot offers a snapshot to a peer whose NextIdx has
// fallen behind the compacted log prefix. The payload transfer itself
// is the host's business; the engine only names the boundary.
func (s *Server) sendInstallSnapshot(n *Node) error {
	if s.cb.SendInstallSnapshot == nil {
		return errNoSendCallback
	}

	is := InstallSnapshot{
		Term:     s.currentTerm,
		LastIdx:  s.log.base,
		LastTerm: s.log.baseTerm,
	}

	s.logf(n, LogDebug, "sending installsnapshot: ci:%d comi:%d t:%d lli:%d llt:%d",
		s.CurrentIdx(), s.commitIdx, is.Term, is.LastIdx, is.LastTerm)

	return s.cb.SendInstallSnapshot(s, n, &is)
}

// RecvInstallSnapshot handles a leader's snapshot offer. Offers at or
// below the commit index are already satisfied; an offer whose boundary
// entry is present locally just advances the commit index. Everything
// else is delegated to the host's RecvInstallSnapshot callback, which
// reports whether the transfer has completed.
func (s *Server) RecvInstallSnapshot(n *Node, is *InstallSnapshot, resp *InstallSnapshotResponse) error {
	if n == nil {
		return errNodeUnknown
	}

	resp.Term = s.currentTerm
	resp.LastIdx = is.LastIdx
	resp.Complete = false

	if is.Term < s.currentTerm {
		return nil
	}

	if s.currentTerm < is.Term {
		if err := s.setCurrentTerm(is.Term); err != nil {
			return err
		}
		resp.Term = s.currentTerm
	}

	if !s.IsFollower() {
		s.becomeFollower()
	}

	s.leaderID = n.id
	s.electionTimer = s.now()
	resp.Lease = s.electionTimer + s.electionTimeout

	if is.LastIdx <= s.commitIdx {
		// Committed entries must match the snapshot.
		resp.Complete = true
		return nil
	}

	if term, got := s.entryTerm(is.LastIdx); got && term == is.LastTerm {
		s.setCommitIdx(is.LastIdx)
		resp.Complete = true
		return nil
	}

	if s.cb.RecvInstallSnapshot == nil {
		return errNoSendCallback
	}
	complete, err := s.cb.RecvInstallSnapshot(s, n, is, resp)
	if err != nil {
		return err
	}
	if complete {
		resp.Complete = true
	}

	return nil
}

// RecvInstallSnapshotResponse digests a follower's snapshot progress
// report on the leader.
func (s *Server) RecvInstallSnapshotResponse(n *Node, resp *InstallSnapshotResponse) error {
	if n == nil {
		return errNodeUnknown
	}

	if !s.IsLeader() {
		return ErrNotLeader
	}

	if s.currentTerm < resp.Term {
		if err := s.setCurrentTerm(resp.Term); err != nil {
			return err
		}
		s.becomeFollower()
		s.leaderID = NoNodeID
		return nil
	}
	if s.currentTerm != resp.Term {
		return nil
	}

	n.lease = resp.Lease

	if s.cb.RecvInstallSnapshotResponse != nil {
		if err := s.cb.RecvInstallSnapshotResponse(s, n, resp); err != nil {
			return err
		}
	}

	// The installation completed; resume replication after the
	// snapshot boundary.
	if resp.Complete && n.matchIdx < resp.LastIdx {
		n.matchIdx = resp.LastIdx
		n.setNextIdx(resp.LastIdx + 1)
	}

	if n.nextIdx <= s.CurrentIdx() {
		s.sendAppendEntries(n)
	}

	return nil
}

// BeginSnapshot starts compaction up to idx, which must be committed.
// All pending committed entries are applied first, up to the commit
// index, which may lie beyond idx. While the
// snapshot is in progress elections and applies are held off.
func (s *Server) BeginSnapshot(idx uint64) error {
	if s.commitIdx < idx {
		return errSnapshotBadIndex
	}

	ety := s.log.getAt(idx)
	if ety == nil {
		return errSnapshotBadIndex
	}

	// Catch the state machine up to the commit index.
	if err := s.applyAll(); err != nil {
		return err
	}

	s.snapshotLastTerm = ety.Term
	s.snapshotLastIdx = idx
	s.snapshotInProgress = true

	s.logf(nil, LogDebug, "begin snapshot sli:%d slt:%d slogs:%d",
		s.snapshotLastIdx, s.snapshotLastTerm, s.NumSnapshottableLogs())

	return nil
}

// EndSnapshot finishes compaction: the prefix up to the snapshot
// boundary leaves the log via LogPoll and the base advances.
func (s *Server) EndSnapshot() error {
	if !s.snapshotInProgress || s.snapshotLastIdx == 0 {
		return errSnapshotNotInProgress
	}

	if err := s.log.pollTo(s.snapshotLastIdx); err != nil {
		return err
	}

	s.snapshotInProgress = false

	s.logf(nil, LogDebug, "end snapshot base:%d commit-index:%d current-index:%d",
		s.log.base, s.commitIdx, s.CurrentIdx())

	return nil
}

// BeginLoadSnapshot replaces the server's state with a received
// snapshot's boundary: the log is reset to a seed entry, commit and
// applied move to the snapshot index, and the node table empties to be
// repopulated as the host replays the snapshot's membership.
func (s *Server) BeginLoadSnapshot(lastIncludedTerm, lastIncludedIdx uint64) error {
	if lastIncludedIdx == 0 {
		return errSnapshotBadIndex
	}

	if lastIncludedTerm == s.snapshotLastTerm && lastIncludedIdx == s.snapshotLastIdx {
		return ErrSnapshotAlreadyLoaded
	}

	if lastIncludedIdx <= s.commitIdx {
		return errSnapshotBadIndex
	}

	s.log.loadFromSnapshot(lastIncludedIdx, lastIncludedTerm)

	s.commitIdx = lastIncludedIdx
	s.lastAppliedIdx = lastIncludedIdx
	s.snapshotLastTerm = lastIncludedTerm
	s.snapshotLastIdx = lastIncludedIdx

	for len(s.nodes) > 0 {
		s.removeNode(s.nodes[0])
	}

	s.logf(nil, LogDebug, "loaded snapshot sli:%d slt:%d slogs:%d",
		s.snapshotLastIdx, s.snapshotLastTerm, s.NumSnapshottableLogs())

	return nil
}

// EndLoadSnapshot marks the membership recovered from the snapshot as
// committed: every voting node in it has, by definition, sufficient
// logs.
func (s *Server) EndLoadSnapshot() {
	for _, n := range s.nodes {
		if n.voting {
			n.hasSufficientLogs = true
		}
	}
}
