package raft

// RecvAppendEntries handles a leader's AppendEntries, filling in resp.
// On success the local log is reconciled with the leader's: the first
// conflicting entry and everything after it is truncated, the new
// entries are appended, and the commit index follows the leader's up
// to the last new entry. The response carries a lease promise lasting
// one election timeout from acceptance.
func (s *Server) RecvAppendEntries(n *Node, ae *AppendEntries, resp *AppendEntriesResponse) error {
	var err error

	if n == nil {
		return errNodeUnknown
	}

	if len(ae.Entries) > 0 {
		s.logf(n, LogDebug, "recvd appendentries t:%d ci:%d lc:%d pli:%d plt:%d #%d",
			ae.Term, s.CurrentIdx(), ae.LeaderCommit, ae.PrevLogIdx, ae.PrevLogTerm, len(ae.Entries))
	}

	resp.Success = false

	if s.IsCandidate() && s.currentTerm == ae.Term {
		s.becomeFollower()
	} else if s.currentTerm < ae.Term {
		if err = s.setCurrentTerm(ae.Term); err != nil {
			goto out
		}
		s.becomeFollower()
	} else if ae.Term < s.currentTerm {
		s.logf(n, LogDebug, "AE term %d is less than current term %d", ae.Term, s.currentTerm)
		goto out
	}

	// ae.Term is up to date, so the sender is the leader of this term.
	s.leaderID = n.id

	s.electionTimer = s.now()
	resp.Lease = s.electionTimer + s.electionTimeout

	// The log starts at 1; PrevLogIdx 0 is the very first append.
	if ae.PrevLogIdx > 0 {
		term, got := s.entryTerm(ae.PrevLogIdx)
		if !got && s.CurrentIdx() < ae.PrevLogIdx {
			s.logf(n, LogDebug, "AE no log at prev_idx %d", ae.PrevLogIdx)
			goto out
		} else if got && term != ae.PrevLogTerm {
			s.logf(n, LogDebug, "AE term doesn't match prev_term (ie. %d vs %d) ci:%d comi:%d lcomi:%d pli:%d",
				term, ae.PrevLogTerm, s.CurrentIdx(), s.commitIdx, ae.LeaderCommit, ae.PrevLogIdx)
			if ae.PrevLogIdx <= s.commitIdx {
				// Should never happen; committed history diverged.
				s.logf(n, LogError, "AE prev conflicts with committed entry ci:%d comi:%d lcomi:%d pli:%d",
					s.CurrentIdx(), s.commitIdx, ae.LeaderCommit, ae.PrevLogIdx)
				err = ErrShutdown
				goto out
			}
			// The entries after the mismatch cannot be the leader's.
			err = s.deleteEntriesFrom(ae.PrevLogIdx)
			goto out
		}
	}

	resp.Success = true
	resp.CurrentIdx = ae.PrevLogIdx

	{
		// Skip entries we already have; an existing entry whose term
		// conflicts with an incoming one takes everything after it
		// down with it.
		i := 0
		for ; i < len(ae.Entries); i++ {
			etyIndex := ae.PrevLogIdx + 1 + uint64(i)
			term, got := s.entryTerm(etyIndex)
			if got && term != ae.Entries[i].Term {
				if etyIndex <= s.commitIdx {
					// Should never happen; committed history diverged.
					s.logf(n, LogError, "AE entry conflicts with committed entry ci:%d comi:%d lcomi:%d pli:%d",
						s.CurrentIdx(), s.commitIdx, ae.LeaderCommit, ae.PrevLogIdx)
					err = ErrShutdown
					goto out
				}
				if err = s.deleteEntriesFrom(etyIndex); err != nil {
					goto out
				}
				break
			} else if !got && s.CurrentIdx() < etyIndex {
				break
			}
			resp.CurrentIdx = etyIndex
		}

		// Append what is genuinely new.
		k, appendErr := s.log.appendEntries(ae.Entries[i:])
		i += k
		resp.CurrentIdx = ae.PrevLogIdx + uint64(i)
		if appendErr != nil {
			err = appendErr
			goto out
		}
	}

	if s.commitIdx < ae.LeaderCommit {
		if newCommitIdx := minUint64(ae.LeaderCommit, resp.CurrentIdx); s.commitIdx < newCommitIdx {
			s.setCommitIdx(newCommitIdx)
		}
	}

out:
	resp.Term = s.currentTerm
	if !resp.Success {
		resp.CurrentIdx = s.CurrentIdx()
	}
	resp.FirstIdx = ae.PrevLogIdx + 1
	return err
}

// RecvAppendEntriesResponse digests a follower's answer: refresh its
// lease, advance or backtrack its replication indexes, fire the
// one-shot sufficient-logs report for caught-up non-voting peers, and
// move the commit index over entries of the current term that a
// majority holds.
func (s *Server) RecvAppendEntriesResponse(n *Node, resp *AppendEntriesResponse) error {
	s.logf(n, LogDebug, "received appendentries response %s ci:%d rci:%d 1stidx:%d ls:%d",
		successString(resp.Success), s.CurrentIdx(), resp.CurrentIdx, resp.FirstIdx, resp.Lease)

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

	matchIdx := n.matchIdx

	if !resp.Success {
		// The follower's log diverges: walk NextIdx back, bounded by
		// the follower's own current index, and retry.
		nextIdx := n.nextIdx
		if matchIdx == nextIdx-1 {
			// Stale response; this probe already succeeded.
			return nil
		}
		if resp.CurrentIdx < nextIdx-1 {
			n.setNextIdx(minUint64(resp.CurrentIdx+1, s.CurrentIdx()))
		} else {
			n.setNextIdx(nextIdx - 1)
		}

		s.sendAppendEntries(n)
		return nil
	}

	// A non-voting peer within one entry of our tail has sufficient
	// logs to be promoted; tell the host exactly once.
	if !n.voting &&
		!s.VotingChangeInProgress() &&
		s.CurrentIdx() <= resp.CurrentIdx+1 &&
		s.cb.NodeHasSufficientLogs != nil &&
		!n.hasSufficientLogs {
		if err := s.cb.NodeHasSufficientLogs(s, n); err == nil {
			n.hasSufficientLogs = true
		}
	}

	if resp.CurrentIdx <= matchIdx {
		return nil
	}

	n.setNextIdx(resp.CurrentIdx + 1)
	n.matchIdx = resp.CurrentIdx

	// Try to advance the commit index: only entries of the current
	// term count, and only when a majority of voters matches them.
	point := resp.CurrentIdx
	if point != 0 && s.commitIdx < point {
		if term, got := s.entryTerm(point); got && term == s.currentTerm {
			votes := 1
			for _, node := range s.nodes {
				if !s.isSelf(node) && node.voting && point <= node.matchIdx {
					votes++
				}
			}

			if s.NumVotingNodes()/2 < votes {
				s.setCommitIdx(point)
			}
		}
	}

	// Aggressively ship what is left.
	if n.nextIdx <= s.CurrentIdx() {
		s.sendAppendEntries(n)
	}

	// Periodic applies committed entries lazily.

	return nil
}

// sendAppendEntries replicates to one peer from its NextIdx, falling
// back to a snapshot offer when the needed entries are already
// compacted away.
func (s *Server) sendAppendEntries(n *Node) error {
	if s.cb.SendAppendEntries == nil {
		return errNoSendCallback
	}

	nextIdx := n.nextIdx
	if nextIdx <= s.log.base {
		return s.sendInstallSnapshot(n)
	}

	ae := AppendEntries{
		Term:         s.currentTerm,
		LeaderCommit: s.commitIdx,
		PrevLogIdx:   nextIdx - 1,
		Entries:      s.log.getFrom(nextIdx),
	}

	prevLogTerm, got := s.entryTerm(nextIdx - 1)
	if !got {
		return ErrShutdown
	}
	ae.PrevLogTerm = prevLogTerm

	s.logf(n, LogDebug, "sending appendentries: ci:%d comi:%d t:%d lc:%d pli:%d plt:%d",
		s.CurrentIdx(), s.commitIdx, ae.Term, ae.LeaderCommit, ae.PrevLogIdx, ae.PrevLogTerm)

	return s.cb.SendAppendEntries(s, n, &ae)
}

// sendAppendEntriesAll heartbeats every peer and re-anchors the lease
// timer.
func (s *Server) sendAppendEntriesAll() error {
	s.electionTimer = s.now()
	for _, n := range s.nodes {
		if s.isSelf(n) {
			continue
		}
		if err := s.sendAppendEntries(n); err != nil {
			return err
		}
	}
	return nil
}

func successString(success bool) string {
	if success {
		return "SUCCESS"
	}
	return "fail"
}
