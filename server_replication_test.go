package raft

import (
	"reflect"
	"testing"
)

// Leader at term 1 accepts entry id=42 at index 1; once two followers
// acknowledge it the commit index advances, every server applies it
// exactly once, and the submission response reads as committed.
func Test_server_replication_commit(t *testing.T) {
	c := newTestCluster(t, 3)
	leader := c.electLeader(1)

	ety := Entry{ID: 42, Type: EntryNormal, Data: []byte("hello")}
	var resp EntryResponse
	if err := leader.RecvEntry(&ety, &resp); err != nil {
		t.Fatalf("recv entry error (%v)", err)
	}

	if resp.Idx != 1 || resp.Term != 1 || resp.ID != 42 {
		t.Fatalf("entry response expected (idx=1, term=1, id=42), got (%d, %d, %d)", resp.Idx, resp.Term, resp.ID)
	}

	if committed := leader.EntryResponseCommitted(&resp); committed != 0 {
		t.Fatalf("committed expected 0 before acks, got %d", committed)
	}

	c.deliver()

	if leader.CommitIdx() != 1 {
		t.Fatalf("commit index expected 1, got %d", leader.CommitIdx())
	}
	if committed := leader.EntryResponseCommitted(&resp); committed != 1 {
		t.Fatalf("committed expected 1, got %d", committed)
	}

	// commit travels to the followers with the next heartbeat
	c.tick(200)
	for id, s := range c.servers {
		if err := s.Periodic(); err != nil {
			t.Fatalf("server %d: periodic error (%v)", id, err)
		}
	}

	for id, h := range c.hosts {
		if !reflect.DeepEqual(h.appliedIdxs, []uint64{1}) {
			t.Fatalf("server %d: applied idxs expected [1], got %v", id, h.appliedIdxs)
		}
		if h.applied[0].ID != 42 {
			t.Fatalf("server %d: applied entry id expected 42, got %d", id, h.applied[0].ID)
		}
	}
}

// Entries are applied in strictly increasing index order exactly once,
// across heartbeats, retries and duplicated deliveries.
func Test_server_apply_exactly_once_in_order(t *testing.T) {
	c := newTestCluster(t, 3)
	leader := c.electLeader(1)

	for i := uint64(1); i <= 5; i++ {
		var resp EntryResponse
		if err := leader.RecvEntry(&Entry{ID: 100 + i, Type: EntryNormal}, &resp); err != nil {
			t.Fatalf("recv entry error (%v)", err)
		}
		c.deliver()
	}

	for i := 0; i < 5; i++ {
		c.tick(200)
	}

	wIdxs := []uint64{1, 2, 3, 4, 5}
	for id, h := range c.hosts {
		if !reflect.DeepEqual(h.appliedIdxs, wIdxs) {
			t.Fatalf("server %d: applied idxs expected %v, got %v", id, wIdxs, h.appliedIdxs)
		}
	}
}

// Scenario: leader 1 is isolated with an uncommitted tail; node 2 wins
// term 2; when node 1 rejoins it steps down and its conflicting tail
// is truncated away.
func Test_server_leader_failure_recovery(t *testing.T) {
	c := newTestCluster(t, 3)
	leader := c.electLeader(1)

	// replicate one committed entry first
	var resp EntryResponse
	if err := leader.RecvEntry(&Entry{ID: 1, Type: EntryNormal}, &resp); err != nil {
		t.Fatalf("recv entry error (%v)", err)
	}
	c.deliver()
	if leader.CommitIdx() != 1 {
		t.Fatalf("commit index expected 1, got %d", leader.CommitIdx())
	}

	// isolate the leader, give it an entry nobody will see
	c.isolate(1, 2)
	c.isolate(1, 3)
	if err := leader.RecvEntry(&Entry{ID: 99, Type: EntryNormal}, &resp); err != nil {
		t.Fatalf("recv entry error (%v)", err)
	}
	if leader.CurrentIdx() != 2 {
		t.Fatalf("current index expected 2, got %d", leader.CurrentIdx())
	}

	// node 2 times out and wins term 2
	c.clock.advance(2500)
	if err := c.servers[2].Periodic(); err != nil {
		t.Fatalf("server 2: periodic error (%v)", err)
	}
	c.deliver()
	if !c.servers[2].IsLeader() {
		t.Fatalf("server 2: state expected %q, got %q", StateLeader, c.servers[2].State())
	}
	if c.servers[2].CurrentTerm() != 2 {
		t.Fatalf("server 2: term expected 2, got %d", c.servers[2].CurrentTerm())
	}

	// the new leader commits an entry of its own term
	if err := c.servers[2].RecvEntry(&Entry{ID: 2, Type: EntryNormal}, &resp); err != nil {
		t.Fatalf("server 2: recv entry error (%v)", err)
	}
	c.deliver()

	// old leader rejoins and hears from the new one
	c.heal(1, 2)
	c.heal(1, 3)
	c.tick(200)
	c.tick(200)

	old := c.servers[1]
	if !old.IsFollower() {
		t.Fatalf("server 1: state expected %q, got %q", StateFollower, old.State())
	}
	if old.CurrentTerm() != 2 {
		t.Fatalf("server 1: term expected 2, got %d", old.CurrentTerm())
	}
	if old.LeaderID() != 2 {
		t.Fatalf("server 1: leader expected 2, got %d", old.LeaderID())
	}

	// the uncommitted id=99 tail was truncated and replaced
	if e := old.GetEntry(2); e == nil || e.ID != 2 {
		t.Fatalf("server 1: entry at 2 expected id 2, got %+v", e)
	}
	if !reflect.DeepEqual(c.hosts[1].popped, []uint64{2}) {
		t.Fatalf("server 1: popped expected [2], got %v", c.hosts[1].popped)
	}

	// the invalidated submission reports -1
	if committed := old.EntryResponseCommitted(&EntryResponse{Idx: 2, Term: 1, ID: 99}); committed != -1 {
		t.Fatalf("invalidated entry expected -1, got %d", committed)
	}
}

func Test_server_recv_entry_not_leader(t *testing.T) {
	s, _ := newTestServer(t, 1, 2, 3)

	var resp EntryResponse
	if err := s.RecvEntry(&Entry{ID: 7, Type: EntryNormal}, &resp); err != ErrNotLeader {
		t.Fatalf("error expected %v, got %v", ErrNotLeader, err)
	}
}

// A follower that is behind makes the leader walk NextIdx back using
// the current-index hint, then catch it up.
func Test_server_nextidx_backtracks_to_follower(t *testing.T) {
	c := newTestCluster(t, 3)
	leader := c.electLeader(1)

	// cut node 3 off and commit a few entries with node 2 only
	c.isolate(1, 3)
	for i := uint64(1); i <= 4; i++ {
		var resp EntryResponse
		if err := leader.RecvEntry(&Entry{ID: i, Type: EntryNormal}, &resp); err != nil {
			t.Fatalf("recv entry error (%v)", err)
		}
		c.deliver()
	}
	if leader.CommitIdx() != 4 {
		t.Fatalf("commit index expected 4, got %d", leader.CommitIdx())
	}

	c.heal(1, 3)

	// pretend NextIdx ran ahead of the follower; the failure hint in
	// the response walks it straight back to the follower's log end
	leader.GetNode(3).setNextIdx(5)
	c.tick(200)
	c.tick(200)

	n3 := leader.GetNode(3)
	if n3.MatchIdx() != 4 {
		t.Fatalf("match index expected 4, got %d", n3.MatchIdx())
	}
	if c.servers[3].CurrentIdx() != 4 {
		t.Fatalf("server 3: current index expected 4, got %d", c.servers[3].CurrentIdx())
	}
}
