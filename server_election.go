package raft

// leaseGranted reports whether this server has, or might have, granted
// a lease that has not expired to someone other than exceptID. While
// such a lease may be outstanding the server must neither start an
// election nor vote for another candidate.
func (s *Server) leaseGranted(exceptID uint64, now int64) bool {
	// Just after a restart we cannot remember whether we granted a
	// lease in our previous life, so unless this is the first start
	// ever, assume the worst for one election timeout.
	if !s.firstStart && now-s.startTime < s.electionTimeout {
		return true
	}

	if s.leaderID != NoNodeID && s.leaderID != exceptID &&
		now-s.electionTimer < s.electionTimeout {
		return true
	}

	return false
}

// hasLease reports whether the leader holds node's lease at time now.
// With grace, a missing lease is tolerated while the node has only
// recently become effective for this leader, since a leader starts
// its term with no lease from anyone.
func (s *Server) hasLease(n *Node, now int64, withGrace bool) bool {
	if s.isSelf(n) {
		return true
	}

	if withGrace {
		if now < n.lease+s.leaseMaintenanceGrace {
			return true
		}
		if now-n.effectiveTime < s.electionTimeout+s.leaseMaintenanceGrace {
			return true
		}
		return false
	}

	return now < n.lease
}

func (s *Server) hasMajorityLeases(now int64, withGrace bool) bool {
	n, voting := 0, 0
	for _, node := range s.nodes {
		if node.voting {
			voting++
			if s.hasLease(node, now, withGrace) {
				n++
			}
		}
	}
	return voting/2+1 <= n
}

// HasMajorityLeases reports whether the leader currently holds leases
// from a majority of the voting nodes, without grace. A true result
// makes local reads linearizable: no other leader can have been
// elected.
func (s *Server) HasMajorityLeases() bool {
	if !s.IsLeader() {
		return false
	}
	return s.hasMajorityLeases(s.now(), false)
}

func (s *Server) becomeFollower() {
	s.logf(nil, LogInfo, "becoming follower at term %d", s.currentTerm)
	s.state = StateFollower
	s.prevote = false
	s.randomizeElectionTimeout()
	s.electionTimer = s.now()
}

// electionStart begins the prevote phase of an election.
func (s *Server) electionStart() error {
	s.logf(nil, LogInfo, "election starting: timeout %d, timer %d, term %d, current index %d",
		s.electionTimeoutRand, s.electionTimer, s.currentTerm, s.CurrentIdx())

	return s.becomeCandidate()
}

// becomeCandidate enters the prevote candidate phase: no term bump and
// no persisted self-vote until a prevote majority proves the election
// could be won.
func (s *Server) becomeCandidate() error {
	now := s.now()

	if s.leaseGranted(s.nodeID, now) {
		return ErrMightViolateLease
	}

	s.logf(nil, LogInfo, "becoming candidate (prevote) at term %d", s.currentTerm)

	s.state = StateCandidate
	s.prevote = true

	for _, n := range s.nodes {
		n.votedForMe = false
	}
	if my := s.MyNode(); my != nil {
		my.votedForMe = true
	}

	s.leaderID = NoNodeID
	s.randomizeElectionTimeout()
	s.electionTimer = now

	for _, n := range s.nodes {
		if !s.isSelf(n) && n.voting {
			s.sendRequestVote(n)
		}
	}

	// The prevote from ourself is already enough if we are the only
	// voting node.
	return s.countVotes()
}

// becomePrevotedCandidate leaves the prevote phase: bump the term,
// persist the self-vote, and ask for real votes.
func (s *Server) becomePrevotedCandidate() error {
	s.logf(nil, LogInfo, "becoming prevoted candidate at term %d", s.currentTerm+1)

	if err := s.setCurrentTerm(s.currentTerm + 1); err != nil {
		return err
	}
	for _, n := range s.nodes {
		n.votedForMe = false
	}
	if err := s.voteForNodeID(s.nodeID); err != nil {
		return err
	}
	if my := s.MyNode(); my != nil {
		my.votedForMe = true
	}
	s.prevote = false

	for _, n := range s.nodes {
		if !s.isSelf(n) && n.voting {
			s.sendRequestVote(n)
		}
	}

	return s.countVotes()
}

// countVotes tallies the election round and advances to the next
// phase on a majority.
func (s *Server) countVotes() error {
	votes := s.numVotesForMe()
	if votesAreMajority(s.NumVotingNodes(), votes) {
		if s.prevote {
			return s.becomePrevotedCandidate()
		}
		s.becomeLeader()
	}
	return nil
}

func (s *Server) becomeLeader() {
	s.logf(nil, LogInfo, "becoming leader at term %d", s.currentTerm)

	s.state = StateLeader
	s.prevote = false
	s.leaderID = s.nodeID

	now := s.now()
	s.electionTimer = now

	for _, n := range s.nodes {
		if s.isSelf(n) {
			continue
		}

		n.setNextIdx(s.CurrentIdx() + 1)
		n.matchIdx = 0
		n.effectiveTime = now
		s.sendAppendEntries(n)
	}
}

func (s *Server) sendRequestVote(n *Node) error {
	rv := RequestVote{
		Term:        s.currentTerm,
		CandidateID: s.nodeID,
		LastLogIdx:  s.CurrentIdx(),
		LastLogTerm: s.LastLogTerm(),
		Prevote:     s.prevote,
	}

	s.logf(n, LogInfo, "sending requestvote%s to %d", prevoteSuffix(s.prevote), n.id)

	if s.cb.SendRequestVote != nil {
		return s.cb.SendRequestVote(s, n, &rv)
	}
	return nil
}

func prevoteSuffix(prevote bool) string {
	if prevote {
		return " (prevote)"
	}
	return ""
}
