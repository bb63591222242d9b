package raft

// shouldGrantVote applies the up-to-dateness checks of the vote
// predicate. The lease check has already happened by the time this
// runs.
func (s *Server) shouldGrantVote(n *Node, vr *RequestVote) bool {
	// For a prevote we could in principle consult votedFor when
	// vr.Term == currentTerm-1, but that would only matter after
	// rejecting a RequestVote from a third server that already won a
	// prevote phase. Not worth the complexity.
	if vr.Term < s.currentTerm {
		s.logf(n, LogInfo, "rejected requestvote%s for %d: stale term: %d < %d",
			prevoteSuffix(vr.Prevote), vr.CandidateID, vr.Term, s.currentTerm)
		return false
	}

	if !vr.Prevote && s.votedFor != NoNodeID && s.votedFor != vr.CandidateID {
		s.logf(n, LogInfo, "rejected requestvote%s for %d: voted for %d",
			prevoteSuffix(vr.Prevote), vr.CandidateID, s.votedFor)
		return false
	}

	currentIdx := s.CurrentIdx()
	term, _ := s.entryTerm(currentIdx)

	if term < vr.LastLogTerm {
		return true
	}
	if vr.LastLogTerm == term && currentIdx <= vr.LastLogIdx {
		return true
	}

	s.logf(n, LogInfo, "rejected requestvote%s for %d: stale log: (%d, %d) < (%d, %d)",
		prevoteSuffix(vr.Prevote), vr.CandidateID, vr.LastLogTerm, vr.LastLogIdx, term, currentIdx)
	return false
}

// RecvRequestVote handles a RequestVote from a candidate, filling in
// resp. A granting real vote is persisted through PersistVote before
// resp reports it granted.
func (s *Server) RecvRequestVote(n *Node, vr *RequestVote, resp *RequestVoteResponse) error {
	now := s.now()
	var err error

	if n == nil {
		n = s.GetNode(vr.CandidateID)
	}

	// Reject if we are the leader, or if we might have granted a
	// still-live lease to someone other than the candidate.
	if s.IsLeader() || s.leaseGranted(vr.CandidateID, now) {
		s.logf(n, LogInfo, "rejected requestvote%s for %d: might violate lease",
			prevoteSuffix(vr.Prevote), vr.CandidateID)
		resp.VoteGranted = VoteNotGranted
		goto done
	}

	if s.currentTerm < vr.Term {
		if err = s.setCurrentTerm(vr.Term); err != nil {
			s.logf(n, LogError, "rejected requestvote%s for %d: could not update term: %v",
				prevoteSuffix(vr.Prevote), vr.CandidateID, err)
			resp.VoteGranted = VoteNotGranted
			goto done
		}
		s.becomeFollower()
		s.leaderID = NoNodeID
	}

	if s.shouldGrantVote(n, vr) {
		resp.VoteGranted = VoteGranted
		if !vr.Prevote {
			if err = s.voteForNodeID(vr.CandidateID); err != nil {
				s.logf(n, LogError, "rejected requestvote%s for %d: could not update vote: %v",
					prevoteSuffix(vr.Prevote), vr.CandidateID, err)
				resp.VoteGranted = VoteNotGranted
			}

			// A real grant means an election is underway.
			s.leaderID = NoNodeID
			s.electionTimer = now
		}
	} else {
		if n == nil {
			// The candidate may have been removed from the cluster
			// without having learned of it; telling it so lets its
			// host decide to shut down.
			resp.VoteGranted = VoteUnknownNode
			goto done
		}
		resp.VoteGranted = VoteNotGranted
	}

done:
	if resp.VoteGranted == VoteGranted {
		s.logf(n, LogInfo, "granted requestvote%s for %d", prevoteSuffix(vr.Prevote), vr.CandidateID)
	}

	resp.Term = s.currentTerm
	resp.Prevote = vr.Prevote
	return err
}

// RecvRequestVoteResponse handles a vote answer while campaigning.
func (s *Server) RecvRequestVoteResponse(n *Node, resp *RequestVoteResponse) error {
	s.logf(n, LogInfo, "requestvote%s response: granted=%d term=%d (current term %d)",
		prevoteSuffix(resp.Prevote), resp.VoteGranted, resp.Term, s.currentTerm)

	if !s.IsCandidate() || s.prevote != resp.Prevote {
		return nil
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
		// A node that voted for us must have adopted our term, so
		// this is a stale answer from an earlier round.
		return nil
	}

	switch resp.VoteGranted {
	case VoteGranted:
		if n != nil {
			n.votedForMe = true
		}
		return s.countVotes()

	case VoteUnknownNode:
		// The grantor does not know us; we may have been removed from
		// the cluster while partitioned. The host learns about it
		// through its own channels; nothing to do here.
		s.logf(n, LogInfo, "requestvote%s response: peer does not know us", prevoteSuffix(resp.Prevote))
	}

	return nil
}
