package raft

// Periodic advances everything that is driven by time: leader lease
// checks and heartbeats, follower and candidate election timeouts, and
// the apply loop. The host must call it often enough for its timeout
// granularity; the engine performs no waiting of its own.
//
// An ErrShutdown from the apply path, an ErrMightViolateLease from a
// held-back election, and persistence failures all surface here.
func (s *Server) Periodic() error {
	myNode := s.MyNode()
	now := s.now()

	if s.IsLeader() {
		if !s.hasMajorityLeases(now, true) {
			// A leader who cannot maintain majority leases shall step
			// down.
			s.logf(nil, LogError, "unable to maintain majority leases")
			s.becomeFollower()
			s.leaderID = NoNodeID
		} else if s.requestTimeout <= now-s.electionTimer {
			if err := s.sendAppendEntriesAll(); err != nil {
				return err
			}
		}
	} else if s.electionTimeoutRand <= now-s.electionTimer &&
		// Don't run for leader while building a snapshot, or the
		// first client request will arrive at a half-frozen state
		// machine.
		!s.snapshotInProgress {
		if myNode != nil && myNode.voting {
			if err := s.electionStart(); err != nil {
				return err
			}
		}
	}

	if s.lastAppliedIdx < s.commitIdx && !s.snapshotInProgress {
		if err := s.applyAll(); err != nil {
			return err
		}
	}

	return nil
}

// applyEntry feeds the next committed entry to the host state machine.
func (s *Server) applyEntry() error {
	if s.snapshotInProgress {
		return errApplyBlocked
	}

	if s.lastAppliedIdx == s.commitIdx {
		return errApplyBlocked
	}

	logIdx := s.lastAppliedIdx + 1

	ety := s.log.getAt(logIdx)
	if ety == nil {
		return errApplyBlocked
	}

	s.logf(nil, LogDebug, "applying log: %d, id: %d size: %d", logIdx, ety.ID, len(ety.Data))

	s.lastAppliedIdx++
	if s.cb.ApplyLog != nil {
		if err := s.cb.ApplyLog(s, ety, s.lastAppliedIdx); err == ErrShutdown {
			return ErrShutdown
		}
	}

	// An applied voting configuration change is committed, which
	// completes it; the next one may now be submitted.
	if logIdx == s.votingCfgChangeLogIdx {
		s.votingCfgChangeLogIdx = 0
	}

	return nil
}

// applyAll catches the state machine up to the commit index.
func (s *Server) applyAll() error {
	if s.snapshotInProgress {
		return nil
	}

	for s.lastAppliedIdx < s.commitIdx {
		if err := s.applyEntry(); err != nil {
			return err
		}
	}

	return nil
}
