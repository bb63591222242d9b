package main

import (
	"bytes"
	"sync"

	raft "github.com/daos-stack/raft"
)

// kvStore is the replicated state machine: a map fed committed
// key=value entries in log order. Reads may come from any goroutine;
// applies come only from the raft loop.
type kvStore struct {
	mu   sync.RWMutex
	data map[string]string
}

func newKVStore() *kvStore {
	return &kvStore{data: make(map[string]string)}
}

func (kv *kvStore) apply(e *raft.Entry) {
	if e.Type != raft.EntryNormal || len(e.Data) == 0 {
		return
	}

	key, value, ok := bytes.Cut(e.Data, []byte{'='})
	if !ok {
		return
	}

	kv.mu.Lock()
	kv.data[string(key)] = string(value)
	kv.mu.Unlock()
}

func (kv *kvStore) get(key string) (string, bool) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	value, ok := kv.data[key]
	return value, ok
}
