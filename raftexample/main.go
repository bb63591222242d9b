// Command raftexample runs a three-node raft cluster in one process,
// backed by per-node BoltDB stores, and serves a tiny replicated
// key-value API over HTTP:
//
//	curl -X PUT 'http://localhost:8081/kv/greeting?value=hello'
//	curl 'http://localhost:8082/kv/greeting'
//	curl 'http://localhost:8083/status'
//
// Writes are forwarded to nothing: a non-leader answers 421 with the
// leader's node ID and the client retries there, which keeps the
// example honest about where proposals must land.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	raft "github.com/daos-stack/raft"
)

func main() {
	var (
		dataDir  = flag.String("data-dir", "raftexample-data", "directory for the per-node bolt stores")
		basePort = flag.Int("base-port", 8080, "HTTP API listens on base-port+1 .. base-port+3")
		debug    = flag.Bool("debug", false, "verbose engine logging")
	)
	flag.Parse()

	cfg := zap.NewDevelopmentConfig()
	if !*debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	lg, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	if *debug {
		raft.SetLogLevel(raft.LogDebug)
	}

	if err := os.MkdirAll(*dataDir, 0700); err != nil {
		lg.Sugar().Fatalf("creating data dir: %v", err)
	}

	ids := []uint64{1, 2, 3}
	nodes := make(map[uint64]*raftNode, len(ids))
	for _, id := range ids {
		path := filepath.Join(*dataDir, fmt.Sprintf("node-%d.db", id))
		rn, err := newRaftNode(id, path, lg)
		if err != nil {
			lg.Sugar().Fatalf("creating node %d: %v", id, err)
		}
		nodes[id] = rn
	}

	// wire the loopback transport and the initial configuration
	for _, rn := range nodes {
		for _, peer := range nodes {
			if peer.id != rn.id {
				rn.peers[peer.id] = peer
			}
		}
		if err := rn.bootstrap(ids); err != nil {
			lg.Sugar().Fatalf("bootstrapping node %d: %v", rn.id, err)
		}
	}

	for _, rn := range nodes {
		rn.start()
	}

	for _, id := range ids {
		rn := nodes[id]
		addr := fmt.Sprintf("localhost:%d", *basePort+int(id))
		go func() {
			lg.Sugar().Infof("node %d serving on http://%s", rn.id, addr)
			if err := http.ListenAndServe(addr, newHandler(rn)); err != nil {
				lg.Sugar().Fatalf("node %d: http: %v", rn.id, err)
			}
		}()
	}

	select {}
}

func newHandler(rn *raftNode) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/kv/", func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/kv/")
		if key == "" {
			http.Error(w, "missing key", http.StatusBadRequest)
			return
		}

		switch r.Method {
		case http.MethodGet:
			value, ok := rn.kv.get(key)
			if !ok {
				http.NotFound(w, r)
				return
			}
			fmt.Fprintln(w, value)

		case http.MethodPut:
			ety := raft.Entry{
				ID:   entryID(),
				Type: raft.EntryNormal,
				Data: []byte(key + "=" + r.URL.Query().Get("value")),
			}

			resp, err := rn.propose(ety, 5*time.Second)
			if err == raft.ErrNotLeader {
				w.Header().Set("X-Raft-Leader", fmt.Sprint(rn.leaderID()))
				http.Error(w, "not leader", http.StatusMisdirectedRequest)
				return
			}
			if err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			fmt.Fprintf(w, "committed at index %d in term %d\n", resp.Idx, resp.Term)

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		rn.onRaftLoop(func() {
			s := rn.server
			fmt.Fprintf(w, "node:   %d\nstate:  %s\nterm:   %d\nleader: %d\ncommit: %d\napplied: %d\nleases: %v\n",
				s.NodeID(), s.State(), s.CurrentTerm(), s.LeaderID(),
				s.CommitIdx(), s.LastAppliedIdx(), s.HasMajorityLeases())
		})
	})

	return mux
}

// entryID derives the opaque client-visible entry ID from a random
// UUID.
func entryID() uint64 {
	u := uuid.New()
	return binary.BigEndian.Uint64(u[:8])
}
