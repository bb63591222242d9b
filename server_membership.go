package raft

import "errors"

var errNodeExists = errors.New("raft: node already exists")

// GetNode returns the node with the given ID, or nil.
func (s *Server) GetNode(id uint64) *Node {
	if id == NoNodeID {
		return nil
	}
	for _, n := range s.nodes {
		if n.id == id {
			return n
		}
	}
	return nil
}

// MyNode returns the local node, or nil before bootstrap.
func (s *Server) MyNode() *Node { return s.GetNode(s.nodeID) }

func (s *Server) isSelf(n *Node) bool {
	return n != nil && n.id == s.nodeID && s.nodeID != NoNodeID
}

// Nodes returns the node table. The slice and the nodes are owned by
// the engine; callers must not mutate them.
func (s *Server) Nodes() []*Node { return s.nodes }

// NumNodes returns the size of the node table.
func (s *Server) NumNodes() int { return len(s.nodes) }

// NumVotingNodes returns how many nodes count toward majorities.
func (s *Server) NumVotingNodes() int {
	voting := 0
	for _, n := range s.nodes {
		if n.voting {
			voting++
		}
	}
	return voting
}

func (s *Server) numVotesForMe() int {
	votes := 0
	for _, n := range s.nodes {
		if n.voting && n.votedForMe {
			votes++
		}
	}
	return votes
}

// votesAreMajority returns true if nvotes is a majority of numNodes
// voters.
func votesAreMajority(numNodes, nvotes int) bool {
	if numNodes < nvotes {
		return false
	}
	return numNodes/2+1 <= nvotes
}

// AddNode adds a voting node to the node table, with isSelf true for
// the local server. Use only for bootstrap, before the first entries
// flow: once the cluster runs, membership changes ride the log.
func (s *Server) AddNode(id uint64, isSelf bool) (*Node, error) {
	return s.addNode(nil, id, isSelf)
}

// AddNonVotingNode adds a node that receives the log but does not
// count toward majorities. Bootstrap only, like AddNode.
func (s *Server) AddNonVotingNode(id uint64, isSelf bool) (*Node, error) {
	return s.addNonVotingNode(nil, id, isSelf)
}

func (s *Server) addNode(ety *Entry, id uint64, isSelf bool) (*Node, error) {
	if s.GetNode(id) != nil {
		return nil, errNodeExists
	}

	n := newNode(id, nil)
	if s.IsLeader() {
		n.effectiveTime = s.now()
	}
	s.nodes = append(s.nodes, n)
	if isSelf {
		s.nodeID = id
	}

	if s.cb.NotifyMembershipEvent != nil {
		s.cb.NotifyMembershipEvent(s, n, ety, MembershipAdd)
	}

	return n, nil
}

func (s *Server) addNonVotingNode(ety *Entry, id uint64, isSelf bool) (*Node, error) {
	n, err := s.addNode(ety, id, isSelf)
	if err != nil {
		return nil, err
	}
	n.voting = false
	return n, nil
}

// RemoveNode removes a node from the node table.
func (s *Server) RemoveNode(id uint64) {
	s.removeNode(s.GetNode(id))
}

func (s *Server) removeNode(n *Node) {
	if n == nil {
		return
	}

	if s.cb.NotifyMembershipEvent != nil {
		s.cb.NotifyMembershipEvent(s, n, nil, MembershipRemove)
	}

	for i, cur := range s.nodes {
		if cur == n {
			s.nodes = append(s.nodes[:i], s.nodes[i+1:]...)
			break
		}
	}
}

// entryNodeID asks the host which node a configuration entry targets.
func (s *Server) entryNodeID(ety *Entry, idx uint64) uint64 {
	if s.cb.LogGetNodeID == nil {
		return NoNodeID
	}
	return s.cb.LogGetNodeID(s, ety, idx)
}

// offerLog applies the membership side effects of entries that just
// entered the log. Membership follows log identity: a configuration
// change takes effect when appended, not when committed.
func (s *Server) offerLog(entries []Entry, idx uint64) {
	for i := range entries {
		ety := &entries[i]
		if !ety.isCfgChange() {
			continue
		}

		if ety.isVotingCfgChange() {
			s.votingCfgChangeLogIdx = idx + uint64(i)
		}

		nodeID := s.entryNodeID(ety, idx+uint64(i))
		n := s.GetNode(nodeID)
		isSelf := nodeID != NoNodeID && nodeID == s.nodeID

		switch ety.Type {
		case EntryAddNonVotingNode:
			if _, err := s.addNonVotingNode(ety, nodeID, isSelf); err != nil {
				s.logf(n, LogError, "offer: adding non-voting node %d: %v", nodeID, err)
			}

		case EntryAddNode:
			if _, err := s.addNode(ety, nodeID, isSelf); err != nil {
				s.logf(n, LogError, "offer: adding node %d: %v", nodeID, err)
			}

		case EntryPromoteNode:
			if n != nil {
				n.voting = true
			}

		case EntryDemoteNode:
			if n != nil {
				n.voting = false
			}

		case EntryRemoveNode, EntryRemoveNonVotingNode:
			s.removeNode(n)
		}
	}
}

// popLog inverts offerLog for entries truncated from the tail,
// walking the batch in reverse so nested changes unwind in order.
func (s *Server) popLog(entries []Entry, idx uint64) {
	for i := len(entries) - 1; i >= 0; i-- {
		ety := &entries[i]
		if !ety.isCfgChange() {
			continue
		}

		if s.votingCfgChangeLogIdx != 0 && idx+uint64(i) <= s.votingCfgChangeLogIdx {
			s.votingCfgChangeLogIdx = 0
		}

		nodeID := s.entryNodeID(ety, idx+uint64(i))
		n := s.GetNode(nodeID)
		isSelf := nodeID != NoNodeID && nodeID == s.nodeID

		switch ety.Type {
		case EntryDemoteNode:
			if n != nil {
				n.voting = true
			}

		case EntryRemoveNode:
			if restored, err := s.addNode(ety, nodeID, isSelf); err == nil {
				restored.voting = true
			}

		case EntryRemoveNonVotingNode:
			if _, err := s.addNonVotingNode(ety, nodeID, isSelf); err != nil {
				s.logf(n, LogError, "pop: restoring non-voting node %d: %v", nodeID, err)
			}

		case EntryAddNonVotingNode, EntryAddNode:
			s.removeNode(n)

		case EntryPromoteNode:
			if n != nil {
				n.voting = false
			}
		}
	}
}
