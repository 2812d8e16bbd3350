package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/actyx-go/ax/core/aql"
	"github.com/actyx-go/ax/core/banyan"
	"github.com/actyx-go/ax/core/offset"
	"github.com/actyx-go/ax/pkg/utils"
)

// session tracks one subscribe_monotonic client's bookmark, so a
// reconnect with the same session id resumes instead of replaying from
// the start (spec.md §4.9 "Design Note" on subscribe_monotonic).
type session struct {
	mu         sync.Mutex
	lowerBound offset.OffsetMap
	lastKey    banyan.AxKey
	haveLast   bool
	touchedAt  time.Time
}

type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session
	idleTime time.Duration
	stop     chan struct{}
}

func newSessionStore(idleTime time.Duration) *sessionStore {
	s := &sessionStore{sessions: make(map[string]*session), idleTime: idleTime, stop: make(chan struct{})}
	go s.reap()
	return s
}

func (s *sessionStore) reap() {
	ticker := time.NewTicker(s.idleTime / 2)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.idleTime)
			s.mu.Lock()
			for id, sess := range s.sessions {
				sess.mu.Lock()
				stale := sess.touchedAt.Before(cutoff)
				sess.mu.Unlock()
				if stale {
					delete(s.sessions, id)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *sessionStore) Close() { close(s.stop) }

func (s *sessionStore) get(id string, from offset.OffsetMap) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{lowerBound: from, touchedAt: time.Now()}
		s.sessions[id] = sess
	}
	return sess
}

// handleSubscribeMonotonic streams events from the session's bookmark,
// injecting a "timeTravel" record and restarting the tail from a lower
// bound preceding the offender whenever an event with a key lower than
// the last one emitted on this session surfaces — i.e. the local replica
// received, out of causal order, an event that predates what the client
// already saw (spec.md §4.9, §9 "subscribe_monotonic ... emits a
// TimeTravel marker instead of silently reordering").
func (s *Server) handleSubscribeMonotonic(w http.ResponseWriter, r *http.Request) {
	var req subscribeMonotonicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, utils.Wrapk(utils.KindInvalidInput, "malformed subscribe_monotonic body", err))
		return
	}
	if req.Session == "" {
		writeError(w, utils.New(utils.KindInvalidInput, "subscribe_monotonic requires a session id"))
		return
	}
	parsed, pipeline, _, err := s.compileQuery(queryRequest{Query: req.Query})
	if err != nil {
		writeError(w, err)
		return
	}

	from := offset.Empty()
	if req.From != nil {
		if from, err = decodeOffsetMap(*req.From); err != nil {
			writeError(w, utils.Wrapk(utils.KindInvalidInput, "malformed from", err))
			return
		}
	}

	sess := s.sessions.get(req.Session, from)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	emit := func(rec ndjsonRecord) {
		_ = enc.Encode(rec)
		if flusher != nil {
			flusher.Flush()
		}
	}

	for {
		restarted, err := s.runMonotonicTail(r.Context(), sess, parsed, pipeline, emit)
		if err != nil {
			return
		}
		if !restarted {
			return
		}
	}
}

// runMonotonicTail tails events from sess's current bookmark until the
// underlying connection closes (returns false), or a time-travel is
// detected (returns true) and the caller should reopen the tail from the
// now-rolled-back bookmark.
func (s *Server) runMonotonicTail(parent context.Context, sess *session, q banyan.Query, pipeline *aql.Pipeline, emit func(ndjsonRecord)) (bool, error) {
	sess.mu.Lock()
	cursor := sess.lowerBound
	sess.mu.Unlock()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	events, err := s.actor.UnboundedForward(ctx, q, cursor)
	if err != nil {
		return false, err
	}

	for {
		select {
		case <-parent.Done():
			return false, parent.Err()
		case ev, ok := <-events:
			if !ok {
				return false, nil
			}
			sess.mu.Lock()
			if sess.haveLast && keyLess(ev.Key, sess.lastKey) {
				rollback := sess.lowerBound.Clone()
				if ev.Offset > 0 {
					rollback.Set(ev.Stream, offset.FromOffset(ev.Offset-1))
				} else {
					rollback.Set(ev.Stream, offset.MinOffset)
				}
				sess.lowerBound = rollback
				sess.haveLast = false
				sess.touchedAt = time.Now()
				sess.mu.Unlock()
				emit(ndjsonRecord{Type: "timeTravel", Message: "replica observed an event preceding the last one delivered on this session"})
				return true, nil
			}
			sess.lastKey = ev.Key
			sess.haveLast = true
			sess.lowerBound.Update(ev.Stream, ev.Offset)
			sess.touchedAt = time.Now()
			sess.mu.Unlock()

			emitEvent(emit, pipeline, ev)
		}
	}
}

func keyLess(a, b banyan.AxKey) bool {
	return a.Lamport < b.Lamport
}
