// Package eventstore implements C7: a single bounded-mailbox actor with
// exclusive write access to the block store, tree engine and stream log,
// and read access to the tag planner, per spec.md §4.6.
package eventstore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/actyx-go/ax/core/banyan"
	"github.com/actyx-go/ax/core/offset"
	"github.com/actyx-go/ax/core/streamlog"
	"github.com/actyx-go/ax/core/tagindex"
	"github.com/actyx-go/ax/pkg/utils"
)

// Order selects how bounded_forward/bounded_backward merge events across
// streams (spec.md §4.8/§5 "Ordering guarantees").
type Order int

const (
	OrderAsc Order = iota
	OrderDesc
	OrderStreamAsc
)

// Event is one delivered (stream, offset, key, payload) tuple.
type Event struct {
	Stream  offset.StreamId
	Offset  offset.Offset
	Key     banyan.AxKey
	Payload []byte
}

// less orders two events by EventKey (lamport, then stream bytes), the
// total order spec.md §5 names for Asc/Desc.
func less(a, b Event) bool {
	if a.Key.Lamport != b.Key.Lamport {
		return a.Key.Lamport < b.Key.Lamport
	}
	return a.Stream.Less(b.Stream)
}

// PersistItem is one event to publish: its tags and opaque payload.
type PersistItem struct {
	Tags    tagindex.TagSet
	Payload []byte
}

// tailPollInterval bounds how often unbounded_forward re-checks a stream's
// header for new events once it has caught up to present (spec.md §4.7
// notes replication is push-driven via C6, but the actor itself has no
// dedicated wake-up channel from C3, so it polls; kept short enough that
// it is not user-visible latency in practice).
const tailPollInterval = 50 * time.Millisecond

// defaultMailboxSize bounds the number of in-flight requests; beyond this,
// new requests receive Overloaded immediately rather than queueing (spec.md
// §4.6 "Overloaded is returned without waiting"). Used by New; tests that
// need to force backpressure call NewWithMailboxSize directly.
const defaultMailboxSize = 256

type request struct {
	run func()
}

// Actor is the event store reference: the only writer of stream data,
// generalizing the teacher's core/txpool_addtx.go-style request-queue
// actor (a bounded channel in front of a single-goroutine consumer) from
// mempool admission to the five request kinds of spec.md §4.6.
type Actor struct {
	table  *streamlog.Table
	engine *banyan.Engine

	self offset.NodeId

	mailbox  chan request
	shutdown int32 // atomic bool

	streamsMu sync.RWMutex
	streams   map[offset.StreamId]struct{}

	wg  sync.WaitGroup
	log *logrus.Entry
}

// New creates an Actor bound to table/engine for node self, with a mailbox
// sized for ordinary operation, and starts its mailbox-processing goroutine.
func New(table *streamlog.Table, engine *banyan.Engine, self offset.NodeId) *Actor {
	return NewWithMailboxSize(table, engine, self, defaultMailboxSize)
}

// NewWithMailboxSize is New with an explicit mailbox capacity, so tests can
// exercise the Overloaded backpressure path (spec.md §8 scenario 6) without
// needing hundreds of concurrent callers against the production default.
func NewWithMailboxSize(table *streamlog.Table, engine *banyan.Engine, self offset.NodeId, mailboxSize int) *Actor {
	a := &Actor{
		table:   table,
		engine:  engine,
		self:    self,
		mailbox: make(chan request, mailboxSize),
		streams: make(map[offset.StreamId]struct{}),
		log:     logrus.WithField("component", "eventstore"),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Actor) run() {
	defer a.wg.Done()
	for req := range a.mailbox {
		req.run()
	}
}

// Shutdown stops admitting new requests, drains the mailbox, and waits for
// the processing goroutine to exit (spec.md §4.10 "Shutdown drains the
// event store actor").
func (a *Actor) Shutdown() {
	if !atomic.CompareAndSwapInt32(&a.shutdown, 0, 1) {
		return
	}
	close(a.mailbox)
	a.wg.Wait()
}

func (a *Actor) isShutdown() bool { return atomic.LoadInt32(&a.shutdown) == 1 }

// admit enqueues fn for the single processing goroutine, returning
// Overloaded immediately if the mailbox is full, or a KindShutdown error
// once Shutdown has run.
func (a *Actor) admit(fn func()) error {
	if a.isShutdown() {
		return utils.New(utils.KindShutdown, "eventstore: actor is shutting down")
	}
	select {
	case a.mailbox <- request{run: fn}:
		return nil
	default:
		return utils.New(utils.KindOverloaded, "eventstore: mailbox full")
	}
}

func (a *Actor) trackStream(id offset.StreamId) {
	a.streamsMu.Lock()
	a.streams[id] = struct{}{}
	a.streamsMu.Unlock()
}

func (a *Actor) knownStreams() []offset.StreamId {
	a.streamsMu.RLock()
	defer a.streamsMu.RUnlock()
	out := make([]offset.StreamId, 0, len(a.streams))
	for id := range a.streams {
		out = append(out, id)
	}
	return out
}

// Offsets returns (present, toReplicate) across every known stream
// (spec.md §4.6). toReplicate is always returned empty: nothing in this
// module records remote offsets that are not yet replicated locally.
func (a *Actor) Offsets(ctx context.Context) (offset.OffsetsResponse, error) {
	type result struct {
		resp offset.OffsetsResponse
		err  error
	}
	done := make(chan result, 1)
	err := a.admit(func() {
		present := offset.Empty()
		for _, id := range a.knownStreams() {
			p, ok, err := a.table.Present(ctx, id)
			if err != nil {
				done <- result{err: err}
				return
			}
			if ok {
				present.Update(id, p)
			}
		}
		done <- result{resp: offset.OffsetsResponse{Present: present, ToReplicate: map[offset.StreamId]uint64{}}}
	})
	if err != nil {
		return offset.OffsetsResponse{}, err
	}
	r := <-done
	return r.resp, r.err
}

// Persist publishes a batch of events on behalf of appId to stream, via
// the streamlog's 5-step protocol (spec.md §4.3/§4.6).
func (a *Actor) Persist(ctx context.Context, stream offset.StreamId, appId string, items []PersistItem) ([]streamlog.PersistenceMeta, error) {
	type result struct {
		metas []streamlog.PersistenceMeta
		err   error
	}
	done := make(chan result, 1)
	err := a.admit(func() {
		batch := make([]streamlog.TagsPayload, len(items))
		for i, it := range items {
			batch[i] = streamlog.TagsPayload{Tags: it.Tags, Payload: it.Payload}
		}
		metas, err := a.table.Publish(ctx, stream, appId, time.Now().UnixMicro(), batch)
		if err == nil {
			a.trackStream(stream)
		}
		done <- result{metas: metas, err: err}
	})
	if err != nil {
		return nil, err
	}
	r := <-done
	return r.metas, r.err
}

// AdoptRemote installs a header learned from the swarm layer (C6) for a
// stream this node does not own, after C6 has validated lamport
// monotonicity and offset contiguity (spec.md §4.7 "Replication commit").
// Routed through the same mailbox as Persist so stream-header writes stay
// single-threaded, matching spec.md §5 ("Stream roots are written only by
// the owning node" locally, i.e. by this one writer goroutine).
func (a *Actor) AdoptRemote(ctx context.Context, stream offset.StreamId, hdr banyan.Header) error {
	done := make(chan error, 1)
	err := a.admit(func() {
		err := a.table.AdoptRemote(ctx, stream, hdr)
		if err == nil {
			a.trackStream(stream)
		}
		done <- err
	})
	if err != nil {
		return err
	}
	return <-done
}

// Header exposes the current header for a known stream, used by the swarm
// layer to build root-map gossip and by C9's node-info endpoint.
func (a *Actor) Header(ctx context.Context, stream offset.StreamId) (banyan.Header, bool, error) {
	type result struct {
		hdr banyan.Header
		had bool
		err error
	}
	done := make(chan result, 1)
	err := a.admit(func() {
		hdr, had, err := a.table.Header(ctx, stream)
		done <- result{hdr: hdr, had: had, err: err}
	})
	if err != nil {
		return banyan.Header{}, false, err
	}
	r := <-done
	return r.hdr, r.had, r.err
}

// KnownStreams returns every stream id this actor has published or adopted
// a remote header for.
func (a *Actor) KnownStreams() []offset.StreamId {
	return a.knownStreams()
}
