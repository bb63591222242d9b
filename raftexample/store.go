package main

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/boltdb/bolt"

	raft "github.com/daos-stack/raft"
)

var (
	bucketMeta = []byte("meta")
	bucketLog  = []byte("log")

	keyTerm     = []byte("term")
	keyVotedFor = []byte("voted_for")
	keySnapshot = []byte("snapshot")
)

// boltStore persists a node's hard state the way the engine dictates:
// term and vote flushed before they are acted on, log entries written
// in offer order and removed in pop/poll order, snapshot metadata
// keyed by (last_idx, last_term).
type boltStore struct {
	db *bolt.DB
}

type storedEntry struct {
	Term uint64         `json:"term"`
	ID   uint64         `json:"id"`
	Type raft.EntryType `json:"type"`
	Data []byte         `json:"data,omitempty"`
}

type storedSnapshot struct {
	LastIdx  uint64 `json:"last_idx"`
	LastTerm uint64 `json:"last_term"`
}

func openBoltStore(path string) (*boltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening bolt store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketMeta); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketLog)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &boltStore{db: db}, nil
}

func (st *boltStore) Close() error { return st.db.Close() }

func idxKey(idx uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, idx)
	return key
}

func (st *boltStore) putMetaUint64(key []byte, v uint64) error {
	return st.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(key, idxKey(v))
	})
}

func (st *boltStore) PersistTerm(term uint64) error {
	return st.putMetaUint64(keyTerm, term)
}

func (st *boltStore) PersistVote(votedFor uint64) error {
	return st.putMetaUint64(keyVotedFor, votedFor)
}

// AppendEntries stores entries[0] at idx, entries[1] at idx+1, and so
// on, in one transaction. It accepts the whole batch.
func (st *boltStore) AppendEntries(entries []raft.Entry, idx uint64) (int, error) {
	err := st.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLog)
		for i := range entries {
			se := storedEntry{
				Term: entries[i].Term,
				ID:   entries[i].ID,
				Type: entries[i].Type,
				Data: entries[i].Data,
			}
			value, err := json.Marshal(&se)
			if err != nil {
				return err
			}
			if err := b.Put(idxKey(idx+uint64(i)), value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// DeleteEntries removes the n entries starting at idx; truncation and
// compaction both land here since bolt does not care which end the
// range came from.
func (st *boltStore) DeleteEntries(idx uint64, n int) error {
	return st.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLog)
		for i := 0; i < n; i++ {
			if err := b.Delete(idxKey(idx + uint64(i))); err != nil {
				return err
			}
		}
		return nil
	})
}

func (st *boltStore) SaveSnapshotMeta(lastIdx, lastTerm uint64) error {
	value, err := json.Marshal(&storedSnapshot{LastIdx: lastIdx, LastTerm: lastTerm})
	if err != nil {
		return err
	}
	return st.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keySnapshot, value)
	})
}

// Term reads back the persisted term; zero when never persisted.
func (st *boltStore) Term() (uint64, error) {
	return st.metaUint64(keyTerm)
}

// VotedFor reads back the persisted vote; raft.NoNodeID when never
// persisted.
func (st *boltStore) VotedFor() (uint64, error) {
	return st.metaUint64(keyVotedFor)
}

func (st *boltStore) metaUint64(key []byte) (uint64, error) {
	var v uint64
	err := st.db.View(func(tx *bolt.Tx) error {
		if value := tx.Bucket(bucketMeta).Get(key); len(value) == 8 {
			v = binary.BigEndian.Uint64(value)
		}
		return nil
	})
	return v, err
}

// Entry reads back a stored log entry, or nil.
func (st *boltStore) Entry(idx uint64) (*raft.Entry, error) {
	var e *raft.Entry
	err := st.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketLog).Get(idxKey(idx))
		if value == nil {
			return nil
		}
		var se storedEntry
		if err := json.Unmarshal(value, &se); err != nil {
			return err
		}
		e = &raft.Entry{Term: se.Term, ID: se.ID, Type: se.Type, Data: se.Data}
		return nil
	})
	return e, err
}
