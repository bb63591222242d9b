package raft

// cfgChangeIsValid checks a configuration change entry against the
// current node table before it may enter the log.
func (s *Server) cfgChangeIsValid(ety *Entry) bool {
	// A membership change targeting the leader itself is either
	// nonsense or dangerous: the entry lands in the log before voting
	// nodes are recounted, with ourself possibly no longer among them.
	nodeID := s.entryNodeID(ety, 0)
	if nodeID == s.nodeID {
		return false
	}

	n := s.GetNode(nodeID)
	switch ety.Type {
	case EntryAddNonVotingNode, EntryAddNode:
		if n != nil {
			return false
		}

	case EntryDemoteNode, EntryRemoveNode:
		if n == nil || !n.voting {
			return false
		}

	case EntryPromoteNode, EntryRemoveNonVotingNode:
		if n == nil || n.voting {
			return false
		}
	}

	return true
}

// RecvEntry submits a client entry on the leader. The engine assigns
// the term, appends, pushes the entry to peers that are ready for it,
// and fills resp with the (idx, term, id) triple the caller can later
// hand to EntryResponseCommitted.
func (s *Server) RecvEntry(ety *Entry, resp *EntryResponse) error {
	if !s.IsLeader() {
		return ErrNotLeader
	}

	if ety.isCfgChange() {
		// The host might be snapshotting membership right now; a
		// change underneath it would tear the snapshot.
		if s.snapshotInProgress {
			return ErrSnapshotInProgress
		}

		if ety.isVotingCfgChange() && s.VotingChangeInProgress() {
			return ErrOneVotingChangeOnly
		}

		if !s.cfgChangeIsValid(ety) {
			return ErrInvalidCfgChange
		}
	}

	s.logf(nil, LogDebug, "received entry t:%d id:%d idx:%d",
		s.currentTerm, ety.ID, s.CurrentIdx()+1)

	ety.Term = s.currentTerm
	n, err := s.log.appendEntries([]Entry{*ety})
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrNoMem
	}

	for _, node := range s.nodes {
		if s.isSelf(node) || !node.voting {
			continue
		}

		// Only push to peers that are exactly ready for this entry;
		// lagging peers catch up at their own pace without being
		// flooded.
		if node.nextIdx == s.CurrentIdx() {
			s.sendAppendEntries(node)
		}
	}

	// A single-node voting cluster commits by itself.
	if s.NumVotingNodes() == 1 {
		s.setCommitIdx(s.CurrentIdx())
	}

	resp.ID = ety.ID
	resp.Idx = s.CurrentIdx()
	resp.Term = s.currentTerm

	if ety.isVotingCfgChange() {
		s.votingCfgChangeLogIdx = s.CurrentIdx()
	}

	return nil
}

// EntryResponseCommitted reports the fate of a submitted entry:
// 1 if it is committed, 0 if not yet, and -1 if another leader's entry
// took its place.
func (s *Server) EntryResponseCommitted(r *EntryResponse) int {
	term, got := s.entryTerm(r.Idx)
	if !got {
		if r.Idx <= s.log.base {
			// The entry has been compacted away.
			if r.Term == s.currentTerm {
				// Committed in this very term, so it must be ours.
				return 1
			}
			// Impossible to know for sure.
			return -1
		}
		// Not stored on this replica yet.
		return 0
	}

	// An entry from another leader has overwritten this index.
	if r.Term != term {
		return -1
	}
	if r.Idx <= s.commitIdx {
		return 1
	}
	return 0
}
