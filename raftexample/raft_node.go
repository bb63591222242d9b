package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	raft "github.com/daos-stack/raft"
)

// message is what travels between nodes. A real deployment would put
// a codec and a network here; the example keeps the cluster in one
// process and delivers over channels.
type message struct {
	from uint64

	rv     *raft.RequestVote
	rvResp *raft.RequestVoteResponse
	ae     *raft.AppendEntries
	aeResp *raft.AppendEntriesResponse
	is     *raft.InstallSnapshot
	isResp *raft.InstallSnapshotResponse
}

// raftNode runs one engine instance. The engine is single-threaded:
// everything that touches it, messages, ticks and proposals alike,
// funnels through the run loop.
type raftNode struct {
	id     uint64
	server *raft.Server
	store  *boltStore
	kv     *kvStore
	lg     *zap.SugaredLogger

	peers map[uint64]*raftNode

	inbox chan message
	execC chan func()
	stopC chan struct{}
	doneC chan struct{}

	rand *rand.Rand
	t0   time.Time
}

func newRaftNode(id uint64, storePath string, lg *zap.Logger) (*raftNode, error) {
	store, err := openBoltStore(storePath)
	if err != nil {
		return nil, err
	}

	rn := &raftNode{
		id:     id,
		server: raft.New(),
		store:  store,
		kv:     newKVStore(),
		lg:     lg.Sugar().With("node", id),
		peers:  make(map[uint64]*raftNode),
		inbox:  make(chan message, 1024),
		execC:  make(chan func()),
		stopC:  make(chan struct{}),
		doneC:  make(chan struct{}),
		rand:   rand.New(rand.NewSource(int64(id))),
		t0:     time.Now(),
	}

	rn.server.SetCallbacks(rn.callbacks(), rn)
	rn.server.SetElectionTimeout(1000)
	rn.server.SetRequestTimeout(200)
	rn.server.SetLeaseMaintenanceGrace(500)
	return rn, nil
}

// send queues a message for a peer, dropping it when the peer's inbox
// is full; raft tolerates lost messages.
func (rn *raftNode) send(to uint64, msg message) {
	peer, ok := rn.peers[to]
	if !ok {
		return
	}
	select {
	case peer.inbox <- msg:
	default:
		rn.lg.Warnf("dropping message to %d: inbox full", to)
	}
}

func (rn *raftNode) callbacks() *raft.Callbacks {
	return &raft.Callbacks{
		SendRequestVote: func(s *raft.Server, n *raft.Node, msg *raft.RequestVote) error {
			rv := *msg
			rn.send(n.ID(), message{from: rn.id, rv: &rv})
			return nil
		},
		SendAppendEntries: func(s *raft.Server, n *raft.Node, msg *raft.AppendEntries) error {
			ae := *msg
			ae.Entries = append([]raft.Entry(nil), msg.Entries...)
			rn.send(n.ID(), message{from: rn.id, ae: &ae})
			return nil
		},
		SendInstallSnapshot: func(s *raft.Server, n *raft.Node, msg *raft.InstallSnapshot) error {
			is := *msg
			rn.send(n.ID(), message{from: rn.id, is: &is})
			return nil
		},
		RecvInstallSnapshot: func(s *raft.Server, n *raft.Node, msg *raft.InstallSnapshot, resp *raft.InstallSnapshotResponse) (bool, error) {
			// The example never compacts, so nothing ever offers us a
			// snapshot; refuse rather than pretend.
			return false, errors.New("snapshot transfer not supported by this example")
		},
		ApplyLog: func(s *raft.Server, e *raft.Entry, idx uint64) error {
			rn.kv.apply(e)
			return nil
		},
		PersistTerm: func(s *raft.Server, term uint64) error {
			return rn.store.PersistTerm(term)
		},
		PersistVote: func(s *raft.Server, votedFor uint64) error {
			return rn.store.PersistVote(votedFor)
		},
		LogOffer: func(s *raft.Server, entries []raft.Entry, idx uint64) (int, error) {
			return rn.store.AppendEntries(entries, idx)
		},
		LogPop: func(s *raft.Server, entries []raft.Entry, idx uint64) (int, error) {
			return len(entries), rn.store.DeleteEntries(idx, len(entries))
		},
		LogPoll: func(s *raft.Server, entries []raft.Entry, idx uint64) (int, error) {
			return len(entries), rn.store.DeleteEntries(idx, len(entries))
		},
		LogGetNodeID: func(s *raft.Server, e *raft.Entry, idx uint64) uint64 {
			if len(e.Data) < 8 {
				return raft.NoNodeID
			}
			return binary.BigEndian.Uint64(e.Data)
		},
		NodeHasSufficientLogs: func(s *raft.Server, n *raft.Node) error {
			rn.lg.Infof("node %d has sufficient logs for promotion", n.ID())
			return nil
		},
		NotifyMembershipEvent: func(s *raft.Server, n *raft.Node, e *raft.Entry, ev raft.MembershipEvent) {
			rn.lg.Infof("membership event %d for node %d", ev, n.ID())
		},
		GetTime: func(s *raft.Server) int64 {
			return time.Since(rn.t0).Milliseconds()
		},
		GetRand: func(s *raft.Server) float64 {
			return rn.rand.Float64()
		},
		Log: func(s *raft.Server, n *raft.Node, level raft.LogLevel, msg string) {
			switch level {
			case raft.LogError:
				rn.lg.Error(msg)
			case raft.LogDebug:
				rn.lg.Debug(msg)
			default:
				rn.lg.Info(msg)
			}
		},
	}
}

// bootstrap seeds the initial voting configuration on every node.
func (rn *raftNode) bootstrap(ids []uint64) error {
	rn.server.SetFirstStart()
	for _, id := range ids {
		if _, err := rn.server.AddNode(id, id == rn.id); err != nil {
			return err
		}
	}
	return nil
}

func (rn *raftNode) start() { go rn.run() }

func (rn *raftNode) stop() {
	close(rn.stopC)
	<-rn.doneC
	rn.store.Close()
}

func (rn *raftNode) run() {
	defer close(rn.doneC)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-rn.stopC:
			return

		case <-ticker.C:
			if err := rn.server.Periodic(); err != nil && err != raft.ErrMightViolateLease {
				rn.lg.Errorf("periodic: %v", err)
				if err == raft.ErrShutdown {
					return
				}
			}

		case msg := <-rn.inbox:
			rn.step(msg)

		case fn := <-rn.execC:
			fn()
		}
	}
}

// step dispatches one incoming message into the engine and ships the
// filled response back.
func (rn *raftNode) step(msg message) {
	from := rn.server.GetNode(msg.from)

	switch {
	case msg.rv != nil:
		var resp raft.RequestVoteResponse
		if err := rn.server.RecvRequestVote(from, msg.rv, &resp); err != nil {
			rn.lg.Errorf("recv requestvote: %v", err)
			return
		}
		rn.send(msg.from, message{from: rn.id, rvResp: &resp})

	case msg.rvResp != nil:
		if err := rn.server.RecvRequestVoteResponse(from, msg.rvResp); err != nil {
			rn.lg.Errorf("recv requestvote response: %v", err)
		}

	case msg.ae != nil:
		var resp raft.AppendEntriesResponse
		if err := rn.server.RecvAppendEntries(from, msg.ae, &resp); err != nil {
			rn.lg.Errorf("recv appendentries: %v", err)
			return
		}
		rn.send(msg.from, message{from: rn.id, aeResp: &resp})

	case msg.aeResp != nil:
		err := rn.server.RecvAppendEntriesResponse(from, msg.aeResp)
		if err != nil && err != raft.ErrNotLeader {
			rn.lg.Errorf("recv appendentries response: %v", err)
		}

	case msg.is != nil:
		var resp raft.InstallSnapshotResponse
		if err := rn.server.RecvInstallSnapshot(from, msg.is, &resp); err != nil {
			rn.lg.Errorf("recv installsnapshot: %v", err)
			return
		}
		rn.send(msg.from, message{from: rn.id, isResp: &resp})

	case msg.isResp != nil:
		err := rn.server.RecvInstallSnapshotResponse(from, msg.isResp)
		if err != nil && err != raft.ErrNotLeader {
			rn.lg.Errorf("recv installsnapshot response: %v", err)
		}
	}
}

// onRaftLoop runs fn on the engine's goroutine and waits for it.
func (rn *raftNode) onRaftLoop(fn func()) {
	done := make(chan struct{})
	rn.execC <- func() {
		fn()
		close(done)
	}
	<-done
}

// propose submits a client entry and waits until it commits, is
// invalidated, or times out.
func (rn *raftNode) propose(e raft.Entry, timeout time.Duration) (raft.EntryResponse, error) {
	var (
		resp raft.EntryResponse
		err  error
	)
	rn.onRaftLoop(func() {
		err = rn.server.RecvEntry(&e, &resp)
	})
	if err != nil {
		return resp, err
	}

	deadline := time.Now().Add(timeout)
	for {
		var committed int
		rn.onRaftLoop(func() {
			committed = rn.server.EntryResponseCommitted(&resp)
		})

		switch committed {
		case 1:
			return resp, nil
		case -1:
			return resp, errors.New("entry invalidated by another leader")
		}

		if time.Now().After(deadline) {
			return resp, fmt.Errorf("entry %d not committed after %v", resp.Idx, timeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// leaderID reads the engine's current view of the leader.
func (rn *raftNode) leaderID() uint64 {
	var id uint64
	rn.onRaftLoop(func() {
		id = rn.server.LeaderID()
	})
	return id
}
