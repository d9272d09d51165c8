package session

import (
	"github.com/rbxsync/rbxsync/internal/debug"
	"github.com/rbxsync/rbxsync/internal/snapshot"
)

// publish stamps an applied patch with the next cursor and fans it out.
// A subscriber that cannot keep up has its stream closed; it reconnects
// with the last cursor it saw and replays what it missed.
func (s *Session) publish(patch *snapshot.PatchSet) uint64 {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.cursor++
	stamped := StampedPatch{Cursor: s.cursor, Patch: patch}
	s.history = append(s.history, stamped)
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}

	for id, ch := range s.subscribers {
		select {
		case ch <- stamped:
		default:
			debug.LogSession("subscriber %d overflowed at cursor %d, closing\n", id, s.cursor)
			close(ch)
			delete(s.subscribers, id)
		}
	}
	return s.cursor
}

// Subscribe returns a stream of patches applied after the given cursor.
// Patches still held in history are replayed first, then the stream goes
// live. The returned cancel function must be called to release the stream.
//
// A cursor older than the retained history yields only what is retained;
// callers that fall that far behind should re-read the tree instead.
func (s *Session) Subscribe(afterCursor uint64) (<-chan StampedPatch, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	var replay []StampedPatch
	for _, stamped := range s.history {
		if stamped.Cursor > afterCursor {
			replay = append(replay, stamped)
		}
	}

	ch := make(chan StampedPatch, len(replay)+subscriberQueue)
	for _, stamped := range replay {
		ch <- stamped
	}

	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if stream, ok := s.subscribers[id]; ok {
			close(stream)
			delete(s.subscribers, id)
		}
	}
	return ch, cancel
}
