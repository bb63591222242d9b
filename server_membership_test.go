package raft

import (
	"reflect"
	"testing"
)

// The submission-time validity matrix for configuration changes.
func Test_server_cfg_change_validity(t *testing.T) {
	tests := []struct {
		name   string
		etype  EntryType
		target uint64
		wErr   error
	}{
		{"add existing node", EntryAddNode, 2, ErrInvalidCfgChange},
		{"add existing as non-voting", EntryAddNonVotingNode, 2, ErrInvalidCfgChange},
		{"add fresh node", EntryAddNonVotingNode, 9, nil},
		{"promote voting node", EntryPromoteNode, 2, ErrInvalidCfgChange},
		{"promote non-voting node", EntryPromoteNode, 4, nil},
		{"demote non-voting node", EntryDemoteNode, 4, ErrInvalidCfgChange},
		{"demote voting node", EntryDemoteNode, 2, nil},
		{"remove-voting on non-voting node", EntryRemoveNode, 4, ErrInvalidCfgChange},
		{"remove-non-voting on voting node", EntryRemoveNonVotingNode, 2, ErrInvalidCfgChange},
		{"remove missing node", EntryRemoveNode, 9, ErrInvalidCfgChange},
		{"change targeting the leader itself", EntryRemoveNode, 1, ErrInvalidCfgChange},
	}

	for _, tt := range tests {
		s, _ := newTestServer(t, 1, 2, 3)
		s.AddNonVotingNode(4, false)
		s.state = StateLeader
		s.leaderID = 1

		ety := Entry{ID: 1, Type: tt.etype, Data: cfgData(tt.target)}
		var resp EntryResponse
		if err := s.RecvEntry(&ety, &resp); err != tt.wErr {
			t.Fatalf("%s: error expected %v, got %v", tt.name, tt.wErr, err)
		}
	}
}

func Test_server_one_voting_change_at_a_time(t *testing.T) {
	s, _ := newTestServer(t, 1, 2, 3)
	s.state = StateLeader
	s.leaderID = 1

	var resp EntryResponse
	if err := s.RecvEntry(&Entry{ID: 1, Type: EntryDemoteNode, Data: cfgData(2)}, &resp); err != nil {
		t.Fatalf("recv entry error (%v)", err)
	}
	if !s.VotingChangeInProgress() {
		t.Fatalf("voting change expected in progress")
	}

	err := s.RecvEntry(&Entry{ID: 2, Type: EntryRemoveNode, Data: cfgData(3)}, &resp)
	if err != ErrOneVotingChangeOnly {
		t.Fatalf("error expected %v, got %v", ErrOneVotingChangeOnly, err)
	}

	// non-voting changes may interleave freely
	if err := s.RecvEntry(&Entry{ID: 3, Type: EntryAddNonVotingNode, Data: cfgData(9)}, &resp); err != nil {
		t.Fatalf("recv entry error (%v)", err)
	}
}

func Test_server_cfg_change_rejected_while_snapshotting(t *testing.T) {
	s, _ := newTestServer(t, 1, 2, 3)
	s.state = StateLeader
	s.leaderID = 1
	s.snapshotInProgress = true

	var resp EntryResponse
	err := s.RecvEntry(&Entry{ID: 1, Type: EntryAddNonVotingNode, Data: cfgData(9)}, &resp)
	if err != ErrSnapshotInProgress {
		t.Fatalf("error expected %v, got %v", ErrSnapshotInProgress, err)
	}

	// normal entries still flow during a snapshot
	if err := s.RecvEntry(&Entry{ID: 2, Type: EntryNormal}, &resp); err != nil {
		t.Fatalf("recv entry error (%v)", err)
	}
}

// Membership follows log identity: the node table changes when the
// entry is appended and unwinds when it is truncated.
func Test_server_membership_offer_pop_roundtrip(t *testing.T) {
	s, _ := newTestServer(t, 1, 2)

	ae := AppendEntries{Term: 1, Entries: []Entry{
		{Term: 1, ID: 1, Type: EntryNormal},
		{Term: 1, ID: 2, Type: EntryAddNonVotingNode, Data: cfgData(5)},
		{Term: 1, ID: 3, Type: EntryPromoteNode, Data: cfgData(5)},
	}}
	var resp AppendEntriesResponse
	if err := s.RecvAppendEntries(s.GetNode(2), &ae, &resp); err != nil {
		t.Fatalf("recv appendentries error (%v)", err)
	}

	n5 := s.GetNode(5)
	if n5 == nil || !n5.IsVoting() {
		t.Fatalf("node 5 expected voting after promote, got %+v", n5)
	}
	if s.votingCfgChangeLogIdx != 3 {
		t.Fatalf("pending voting change expected at 3, got %d", s.votingCfgChangeLogIdx)
	}

	// a conflicting leader truncates the cfg suffix; the table unwinds
	if err := s.deleteEntriesFrom(2); err != nil {
		t.Fatalf("delete entries error (%v)", err)
	}

	if s.GetNode(5) != nil {
		t.Fatalf("node 5 expected gone after pop")
	}
	if s.VotingChangeInProgress() {
		t.Fatalf("pending voting change expected cleared")
	}
	if s.CurrentIdx() != 1 {
		t.Fatalf("current index expected 1, got %d", s.CurrentIdx())
	}
}

// Scenario: a single-node cluster adds node 2 as non-voting, catches
// it up, is told exactly once that it has sufficient logs, promotes
// it, and ends with voting set {1, 2} and no pending change.
func Test_server_membership_add_and_promote(t *testing.T) {
	c := newTestCluster(t, 1)
	leader := c.electLeader(1)

	var resp EntryResponse
	if err := leader.RecvEntry(&Entry{ID: 1, Type: EntryAddNonVotingNode, Data: cfgData(2)}, &resp); err != nil {
		t.Fatalf("recv entry error (%v)", err)
	}
	if leader.CommitIdx() != 1 {
		t.Fatalf("single-voter commit expected 1, got %d", leader.CommitIdx())
	}

	n2 := leader.GetNode(2)
	if n2 == nil || n2.IsVoting() {
		t.Fatalf("node 2 expected non-voting in the leader's table, got %+v", n2)
	}

	// the new server comes up knowing itself (non-voting) and the leader
	s2 := New()
	h2 := &testHost{id: 2, cluster: c, clock: c.clock}
	s2.SetCallbacks(h2.callbacks(), h2)
	s2.SetElectionTimeout(1000)
	s2.SetRequestTimeout(200)
	s2.SetFirstStart()
	s2.AddNode(1, false)
	s2.AddNonVotingNode(2, true)
	c.servers[2] = s2
	c.hosts[2] = h2

	// heartbeats catch node 2 up and report it exactly once
	c.tick(200)
	c.tick(200)

	if s2.CurrentIdx() != 1 {
		t.Fatalf("server 2: current index expected 1, got %d", s2.CurrentIdx())
	}
	if !reflect.DeepEqual(c.hosts[1].sufficient, []uint64{2}) {
		t.Fatalf("sufficient-logs reports expected [2], got %v", c.hosts[1].sufficient)
	}

	// host answers with a promotion
	if err := leader.RecvEntry(&Entry{ID: 2, Type: EntryPromoteNode, Data: cfgData(2)}, &resp); err != nil {
		t.Fatalf("recv entry error (%v)", err)
	}
	if !leader.VotingChangeInProgress() {
		t.Fatalf("voting change expected in progress")
	}
	c.deliver()

	if !leader.GetNode(2).IsVoting() {
		t.Fatalf("node 2 expected voting after promote")
	}
	if leader.NumVotingNodes() != 2 {
		t.Fatalf("voting nodes expected 2, got %d", leader.NumVotingNodes())
	}
	if leader.CommitIdx() != 2 {
		t.Fatalf("commit index expected 2, got %d", leader.CommitIdx())
	}

	// applying the promotion completes the voting change
	for i := 0; i < 2; i++ {
		c.tick(200)
	}
	if leader.VotingChangeInProgress() {
		t.Fatalf("pending voting change expected cleared after apply")
	}
	if !reflect.DeepEqual(c.hosts[1].sufficient, []uint64{2}) {
		t.Fatalf("sufficient-logs must fire exactly once, got %v", c.hosts[1].sufficient)
	}
}

func Test_server_bootstrap_add_remove(t *testing.T) {
	s := New()
	h := &testHost{id: 1, clock: &testClock{}}
	h.cluster = &testCluster{servers: map[uint64]*Server{}, hosts: map[uint64]*testHost{}, cut: map[[2]uint64]bool{}, clock: h.clock}
	s.SetCallbacks(h.callbacks(), h)

	if _, err := s.AddNode(1, true); err != nil {
		t.Fatalf("add node error (%v)", err)
	}
	if _, err := s.AddNode(1, true); err != errNodeExists {
		t.Fatalf("error expected %v, got %v", errNodeExists, err)
	}
	if _, err := s.AddNonVotingNode(2, false); err != nil {
		t.Fatalf("add non-voting node error (%v)", err)
	}

	if s.NumNodes() != 2 || s.NumVotingNodes() != 1 {
		t.Fatalf("expected 2 nodes with 1 voting, got %d/%d", s.NumNodes(), s.NumVotingNodes())
	}
	if s.NodeID() != 1 || s.MyNode() == nil {
		t.Fatalf("self expected node 1, got %d", s.NodeID())
	}

	s.RemoveNode(2)
	if s.GetNode(2) != nil {
		t.Fatalf("node 2 expected removed")
	}
}
