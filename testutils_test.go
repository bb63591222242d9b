package raft

import (
	"encoding/binary"
	"testing"
)

// cfgData encodes the node a configuration change entry targets, the
// way a host state machine would.
func cfgData(nodeID uint64) []byte {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, nodeID)
	return data
}

func cfgNodeID(e *Entry) uint64 {
	if len(e.Data) < 8 {
		return NoNodeID
	}
	return binary.LittleEndian.Uint64(e.Data)
}

// testClock is a scripted monotonic clock shared by a cluster.
type testClock struct {
	now int64
}

func (c *testClock) advance(d int64) { c.now += d }

type sentMessage struct {
	from, to uint64

	rv *RequestVote
	ae *AppendEntries
	is *InstallSnapshot
}

// testHost implements the callback record for one server: it records
// every side effect and queues outbound messages on the cluster.
type testHost struct {
	id      uint64
	cluster *testCluster
	clock   *testClock

	// rand is the next value GetRand returns; 0 pins the randomized
	// election timeout to exactly the election timeout.
	rand float64

	persistedTerm uint64
	persistedVote uint64
	persistCalls  int

	applied        []Entry
	appliedIdxs    []uint64
	offered        []uint64
	popped         []uint64
	polled         []uint64
	sufficient     []uint64
	installedSnaps []InstallSnapshot

	// offerLimit, when non-zero, caps how many entries LogOffer
	// accepts in total, exercising partial accepts.
	offerLimit int

	// snapshotComplete scripts the host side of RecvInstallSnapshot.
	snapshotComplete bool

	applyErr error
}

func (h *testHost) callbacks() *Callbacks {
	return &Callbacks{
		SendRequestVote: func(s *Server, n *Node, msg *RequestVote) error {
			rv := *msg
			h.cluster.outbox = append(h.cluster.outbox, sentMessage{from: h.id, to: n.ID(), rv: &rv})
			return nil
		},
		SendAppendEntries: func(s *Server, n *Node, msg *AppendEntries) error {
			ae := *msg
			ae.Entries = append([]Entry(nil), msg.Entries...)
			h.cluster.outbox = append(h.cluster.outbox, sentMessage{from: h.id, to: n.ID(), ae: &ae})
			return nil
		},
		SendInstallSnapshot: func(s *Server, n *Node, msg *InstallSnapshot) error {
			is := *msg
			h.cluster.outbox = append(h.cluster.outbox, sentMessage{from: h.id, to: n.ID(), is: &is})
			return nil
		},
		RecvInstallSnapshot: func(s *Server, n *Node, msg *InstallSnapshot, resp *InstallSnapshotResponse) (bool, error) {
			h.installedSnaps = append(h.installedSnaps, *msg)
			return h.snapshotComplete, nil
		},
		RecvInstallSnapshotResponse: func(s *Server, n *Node, resp *InstallSnapshotResponse) error {
			return nil
		},
		ApplyLog: func(s *Server, e *Entry, idx uint64) error {
			if h.applyErr != nil {
				return h.applyErr
			}
			h.applied = append(h.applied, *e)
			h.appliedIdxs = append(h.appliedIdxs, idx)
			return nil
		},
		PersistVote: func(s *Server, votedFor uint64) error {
			h.persistedVote = votedFor
			h.persistCalls++
			return nil
		},
		PersistTerm: func(s *Server, term uint64) error {
			h.persistedTerm = term
			h.persistCalls++
			return nil
		},
		LogOffer: func(s *Server, entries []Entry, idx uint64) (int, error) {
			n := len(entries)
			if h.offerLimit != 0 {
				if room := h.offerLimit - len(h.offered); room < n {
					n = room
				}
			}
			for i := 0; i < n; i++ {
				h.offered = append(h.offered, idx+uint64(i))
			}
			return n, nil
		},
		LogPoll: func(s *Server, entries []Entry, idx uint64) (int, error) {
			for i := range entries {
				h.polled = append(h.polled, idx+uint64(i))
			}
			return len(entries), nil
		},
		LogPop: func(s *Server, entries []Entry, idx uint64) (int, error) {
			for i := range entries {
				h.popped = append(h.popped, idx+uint64(i))
			}
			return len(entries), nil
		},
		LogGetNodeID: func(s *Server, e *Entry, idx uint64) uint64 {
			return cfgNodeID(e)
		},
		NodeHasSufficientLogs: func(s *Server, n *Node) error {
			h.sufficient = append(h.sufficient, n.ID())
			return nil
		},
		GetTime: func(s *Server) int64 { return h.clock.now },
		GetRand: func(s *Server) float64 { return h.rand },
	}
}

// testCluster wires servers together through an in-memory message
// queue, the way a host event loop would.
type testCluster struct {
	t     *testing.T
	clock *testClock

	servers map[uint64]*Server
	hosts   map[uint64]*testHost

	// cut pairs drop messages in either direction.
	cut map[[2]uint64]bool

	outbox []sentMessage
}

// newTestCluster bootstraps n voting servers with IDs 1..n, all at
// time 0 on a shared clock, all first-started.
func newTestCluster(t *testing.T, n int) *testCluster {
	c := &testCluster{
		t:       t,
		clock:   &testClock{},
		servers: make(map[uint64]*Server),
		hosts:   make(map[uint64]*testHost),
		cut:     make(map[[2]uint64]bool),
	}

	for id := uint64(1); id <= uint64(n); id++ {
		c.addServer(id, n)
	}
	return c
}

func (c *testCluster) addServer(id uint64, numPeers int) (*Server, *testHost) {
	s := New()
	h := &testHost{id: id, cluster: c, clock: c.clock}
	s.SetCallbacks(h.callbacks(), h)
	s.SetElectionTimeout(1000)
	s.SetRequestTimeout(200)
	s.SetFirstStart()

	for peer := uint64(1); peer <= uint64(numPeers); peer++ {
		if _, err := s.AddNode(peer, peer == id); err != nil {
			c.t.Fatalf("server %d: adding node %d: %v", id, peer, err)
		}
	}

	c.servers[id] = s
	c.hosts[id] = h
	return s, h
}

func (c *testCluster) isolate(a, b uint64) {
	c.cut[[2]uint64{a, b}] = true
	c.cut[[2]uint64{b, a}] = true
}

func (c *testCluster) heal(a, b uint64) {
	delete(c.cut, [2]uint64{a, b})
	delete(c.cut, [2]uint64{b, a})
}

// deliver pumps the outbox until no messages remain, synchronously
// feeding each message to its target and routing the filled response
// back to the sender.
func (c *testCluster) deliver() {
	for len(c.outbox) > 0 {
		msg := c.outbox[0]
		c.outbox = c.outbox[1:]

		if c.cut[[2]uint64{msg.from, msg.to}] {
			continue
		}

		target, ok := c.servers[msg.to]
		if !ok {
			continue
		}
		sender := c.servers[msg.from]
		fromNode := target.GetNode(msg.from)

		switch {
		case msg.rv != nil:
			var resp RequestVoteResponse
			if err := target.RecvRequestVote(fromNode, msg.rv, &resp); err != nil {
				c.t.Fatalf("server %d: recv requestvote: %v", msg.to, err)
			}
			if sender != nil && !c.cut[[2]uint64{msg.to, msg.from}] {
				if err := sender.RecvRequestVoteResponse(sender.GetNode(msg.to), &resp); err != nil {
					c.t.Fatalf("server %d: recv requestvote response: %v", msg.from, err)
				}
			}

		case msg.ae != nil:
			var resp AppendEntriesResponse
			if err := target.RecvAppendEntries(fromNode, msg.ae, &resp); err != nil {
				c.t.Fatalf("server %d: recv appendentries: %v", msg.to, err)
			}
			if sender != nil && sender.IsLeader() && !c.cut[[2]uint64{msg.to, msg.from}] {
				if err := sender.RecvAppendEntriesResponse(sender.GetNode(msg.to), &resp); err != nil {
					c.t.Fatalf("server %d: recv appendentries response: %v", msg.from, err)
				}
			}

		case msg.is != nil:
			var resp InstallSnapshotResponse
			if err := target.RecvInstallSnapshot(fromNode, msg.is, &resp); err != nil {
				c.t.Fatalf("server %d: recv installsnapshot: %v", msg.to, err)
			}
			if sender != nil && sender.IsLeader() && !c.cut[[2]uint64{msg.to, msg.from}] {
				if err := sender.RecvInstallSnapshotResponse(sender.GetNode(msg.to), &resp); err != nil {
					c.t.Fatalf("server %d: recv installsnapshot response: %v", msg.from, err)
				}
			}
		}
	}
}

// tick advances the shared clock and runs one Periodic pass plus
// message delivery on every server.
func (c *testCluster) tick(d int64) {
	c.clock.advance(d)
	for id := uint64(1); id <= uint64(len(c.servers)); id++ {
		if s, ok := c.servers[id]; ok {
			if err := s.Periodic(); err != nil && err != ErrMightViolateLease {
				c.t.Fatalf("server %d: periodic: %v", id, err)
			}
		}
	}
	c.deliver()
}

// electLeader drives server id to leadership and returns it.
func (c *testCluster) electLeader(id uint64) *Server {
	s := c.servers[id]
	c.clock.advance(2100)
	if err := s.Periodic(); err != nil {
		c.t.Fatalf("server %d: periodic: %v", id, err)
	}
	c.deliver()
	if !s.IsLeader() {
		c.t.Fatalf("server %d: expected to become leader, got %q", id, s.State())
	}
	return s
}

// newTestServer builds one stand-alone server with the given voting
// peers, bootstrap style, for handler-level tests.
func newTestServer(t *testing.T, id uint64, peers ...uint64) (*Server, *testHost) {
	c := &testCluster{
		t:       t,
		clock:   &testClock{},
		servers: make(map[uint64]*Server),
		hosts:   make(map[uint64]*testHost),
		cut:     make(map[[2]uint64]bool),
	}

	s := New()
	h := &testHost{id: id, cluster: c, clock: c.clock}
	s.SetCallbacks(h.callbacks(), h)
	s.SetElectionTimeout(1000)
	s.SetRequestTimeout(200)
	s.SetFirstStart()

	if _, err := s.AddNode(id, true); err != nil {
		t.Fatalf("adding self: %v", err)
	}
	for _, peer := range peers {
		if _, err := s.AddNode(peer, false); err != nil {
			t.Fatalf("adding node %d: %v", peer, err)
		}
	}

	c.servers[id] = s
	c.hosts[id] = h
	return s, h
}
