package raft

import "errors"

var errLogIndexOutOfWindow = errors.New("raft: log index out of window")

const initialLogCapacity = 10

// raftLog stores the entries with indexes in (base, base+count] in a
// growable ring buffer. base is the index of the last entry covered by
// the latest snapshot prefix; pollTo only moves it forward, while
// clear and loadFromSnapshot reset it.
//
// Host callbacks always see contiguous entry ranges: every operation
// that crosses the ring wrap is split into per-run batches.
type raftLog struct {
	s *Server

	entries []Entry

	// front is the slot of the oldest entry; back is one past the
	// slot of the newest, modulo len(entries).
	front int
	back  int
	count int

	base     uint64
	baseTerm uint64
}

func newRaftLog(s *Server) *raftLog {
	return &raftLog{
		s:       s,
		entries: make([]Entry, initialLogCapacity),
	}
}

func (lg *raftLog) size() int { return len(lg.entries) }

// currentIdx returns the index of the newest entry, or base when the
// log window is empty.
func (lg *raftLog) currentIdx() uint64 { return lg.base + uint64(lg.count) }

// ensureCapacity linearizes and doubles the ring until n more entries
// fit.
func (lg *raftLog) ensureCapacity(n int) {
	if lg.count+n <= lg.size() {
		return
	}

	newSize := lg.size() * 2
	for newSize < lg.count+n {
		newSize *= 2
	}

	temp := make([]Entry, newSize)
	for i, j := 0, lg.front; i < lg.count; i, j = i+1, j+1 {
		if j == lg.size() {
			j = 0
		}
		temp[i] = lg.entries[j]
	}

	lg.entries = temp
	lg.front = 0
	lg.back = lg.count
}

// appendEntries reserves the next indexes, copies the entries in, and
// offers each contiguous batch to the host. The host may accept a
// shorter prefix; appendEntries returns how many entries actually
// entered the log. Membership side effects run via Server.offerLog for
// exactly the accepted entries.
func (lg *raftLog) appendEntries(ents []Entry) (int, error) {
	if len(ents) == 0 {
		return 0, nil
	}

	lg.ensureCapacity(len(ents))

	appended := 0
	for appended < len(ents) {
		run := lg.size() - lg.back
		if remaining := len(ents) - appended; run > remaining {
			run = remaining
		}

		idx := lg.currentIdx() + 1
		batch := lg.entries[lg.back : lg.back+run]
		copy(batch, ents[appended:appended+run])

		accepted := run
		if lg.s.cb.LogOffer != nil {
			var err error
			accepted, err = lg.s.cb.LogOffer(lg.s, batch, idx)
			if accepted < 0 {
				accepted = 0
			} else if accepted > run {
				accepted = run
			}

			if accepted > 0 {
				lg.s.offerLog(batch[:accepted], idx)
				lg.count += accepted
				lg.back = (lg.back + accepted) % lg.size()
				appended += accepted
			}
			if err != nil {
				return appended, err
			}
			if accepted < run { // host partial-accepted; stop here
				return appended, nil
			}
			continue
		}

		lg.s.offerLog(batch, idx)
		lg.count += run
		lg.back = (lg.back + run) % lg.size()
		appended += run
	}

	return appended, nil
}

// truncateFrom removes the entries with index >= idx from the tail.
// Batches are handed to LogPop in reverse of the order LogOffer saw
// them, and membership side effects are inverted via Server.popLog.
func (lg *raftLog) truncateFrom(idx uint64) error {
	if idx <= lg.base || idx > lg.currentIdx() {
		return errLogIndexOutOfWindow
	}

	for {
		lastIdx := lg.currentIdx()
		if lastIdx < idx {
			return nil
		}

		// The suffix to remove ends one slot before back. Walk it in
		// reverse per contiguous run; a run never extends below slot 0,
		// so the wrap case becomes two batches popped back to front.
		backPos := lg.back
		if backPos == 0 {
			backPos = lg.size()
		}

		run := int(lastIdx - idx + 1)
		if run > backPos {
			run = backPos
		}
		start := backPos - run

		batch := lg.entries[start:backPos]
		batchStartIdx := lastIdx - uint64(run) + 1

		if lg.s.cb.LogPop != nil {
			if _, err := lg.s.cb.LogPop(lg.s, batch, batchStartIdx); err != nil {
				return err
			}
		}
		lg.s.popLog(batch, batchStartIdx)

		lg.count -= run
		lg.back = start
	}
}

// pollTo removes the entries with index <= idx from the head, handing
// each contiguous batch to LogPoll in increasing index order, and
// advances base.
func (lg *raftLog) pollTo(idx uint64) error {
	if idx <= lg.base || idx > lg.currentIdx() {
		return errLogIndexOutOfWindow
	}

	for lg.base < idx {
		run := int(idx - lg.base)
		if max := lg.size() - lg.front; run > max {
			run = max
		}

		batch := lg.entries[lg.front : lg.front+run]

		if lg.s.cb.LogPoll != nil {
			if _, err := lg.s.cb.LogPoll(lg.s, batch, lg.base+1); err != nil {
				return err
			}
		}

		lg.baseTerm = batch[len(batch)-1].Term
		lg.front = (lg.front + run) % lg.size()
		lg.count -= run
		lg.base += uint64(run)
	}

	return nil
}

// getAt returns the entry at idx, or nil if idx is outside the current
// log window. The entry is owned by the log; callers borrow it.
func (lg *raftLog) getAt(idx uint64) *Entry {
	if idx == 0 || idx <= lg.base || lg.currentIdx() < idx {
		return nil
	}

	i := (lg.front + int(idx-1-lg.base)) % lg.size()
	return &lg.entries[i]
}

// getFrom returns the entries from idx on, as far as they are
// contiguous in ring memory. Callers that need more call again with a
// higher idx. The slice aliases log storage.
func (lg *raftLog) getFrom(idx uint64) []Entry {
	if idx == 0 || idx <= lg.base || lg.currentIdx() < idx {
		return nil
	}

	i := (lg.front + int(idx-1-lg.base)) % lg.size()

	var run int
	if i < lg.back {
		run = lg.back - i
	} else {
		run = lg.size() - i
	}
	return lg.entries[i : i+run]
}

// peekTail returns the newest entry, or nil when the window is empty.
func (lg *raftLog) peekTail() *Entry {
	if lg.count == 0 {
		return nil
	}
	if lg.back == 0 {
		return &lg.entries[lg.size()-1]
	}
	return &lg.entries[lg.back-1]
}

func (lg *raftLog) clear() {
	lg.front = 0
	lg.back = 0
	lg.count = 0
	lg.base = 0
	lg.baseTerm = 0
}

// loadFromSnapshot resets the log to a single seed entry standing in
// for the snapshot boundary: afterwards currentIdx == idx, base ==
// idx-1, and the seed carries the snapshot's last term. The seed is
// not offered to the host; a snapshot load replaces the host log
// wholesale.
func (lg *raftLog) loadFromSnapshot(idx, term uint64) {
	lg.clear()

	lg.entries[lg.back] = Entry{
		Term: term,
		ID:   1,
		Type: EntrySnapshot,
	}
	lg.count = 1
	lg.back = 1
	lg.base = idx - 1
	lg.baseTerm = term
}
