package eventstore

import (
	"context"
	"sort"
	"time"

	"github.com/actyx-go/ax/core/banyan"
	"github.com/actyx-go/ax/core/offset"
	"github.com/actyx-go/ax/pkg/utils"
)

// BoundedForward returns a channel of events matching q across every
// stream present in from..to, emitted in the requested order, and closed
// when the bound is exhausted or ctx is cancelled (spec.md §4.6/§4.8).
func (a *Actor) BoundedForward(ctx context.Context, q banyan.Query, from offset.OffsetMap, to offset.OffsetMapOrMax, order Order) (<-chan Event, error) {
	if to.Map == nil {
		return nil, utils.New(utils.KindInvalidInput, "bounded_forward: upper bound must not be open (use unbounded_forward)")
	}

	type result struct {
		events []Event
		err    error
	}
	done := make(chan result, 1)
	err := a.admit(func() {
		events, err := a.collectBounded(ctx, q, from, *to.Map)
		done <- result{events: events, err: err}
	})
	if err != nil {
		return nil, err
	}
	r := <-done
	if r.err != nil {
		return nil, r.err
	}

	sortEvents(r.events, order)
	out := make(chan Event)
	go func() {
		defer close(out)
		for _, e := range r.events {
			select {
			case <-ctx.Done():
				return
			case out <- e:
			}
		}
	}()
	return out, nil
}

// BoundedBackward is BoundedForward with the merge order reversed
// (ascending order's reverse), still honoring the requested Order for
// within-bound interleaving ties.
func (a *Actor) BoundedBackward(ctx context.Context, q banyan.Query, from offset.OffsetMap, to offset.OffsetMapOrMax, order Order) (<-chan Event, error) {
	if to.Map == nil {
		return nil, utils.New(utils.KindInvalidInput, "bounded_backward: upper bound must not be open")
	}

	type result struct {
		events []Event
		err    error
	}
	done := make(chan result, 1)
	err := a.admit(func() {
		events, err := a.collectBounded(ctx, q, from, *to.Map)
		done <- result{events: events, err: err}
	})
	if err != nil {
		return nil, err
	}
	r := <-done
	if r.err != nil {
		return nil, r.err
	}

	sortEvents(r.events, order)
	out := make(chan Event)
	go func() {
		defer close(out)
		for i := len(r.events) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				return
			case out <- r.events[i]:
			}
		}
	}()
	return out, nil
}

// collectBounded gathers every event across all known streams whose offset
// lies in (from(stream), to(stream)] and whose key matches q: from is the
// last offset already seen, to is the last offset included. Bounded
// queries are materialized in memory before sorting/streaming out, since
// an upper bound makes the result set finite by construction.
func (a *Actor) collectBounded(ctx context.Context, q banyan.Query, from offset.OffsetMap, to offset.OffsetMap) ([]Event, error) {
	var events []Event
	for _, id := range a.knownStreams() {
		upper := to.Offset(id)
		upperOff, ok := upper.AsOffset()
		if !ok {
			continue
		}
		lowerOrMin := from.Offset(id)
		startOffset := uint64(0)
		if o, ok := lowerOrMin.AsOffset(); ok {
			startOffset = uint64(o) + 1
		}

		hdr, had, err := a.table.Header(ctx, id)
		if err != nil {
			return nil, err
		}
		if !had {
			continue
		}

		err = a.engine.IterFrom(ctx, hdr.Root, startOffset, q, func(e banyan.LeafEntry) bool {
			if e.Offset > uint64(upperOff) {
				return false
			}
			events = append(events, Event{Stream: id, Offset: offset.Offset(e.Offset), Key: e.Key, Payload: e.Payload})
			return true
		})
		if err != nil {
			return nil, err
		}
	}
	return events, nil
}

func sortEvents(events []Event, order Order) {
	switch order {
	case OrderStreamAsc:
		sort.SliceStable(events, func(i, j int) bool {
			if events[i].Stream != events[j].Stream {
				return events[i].Stream.Less(events[j].Stream)
			}
			return events[i].Offset < events[j].Offset
		})
	case OrderDesc:
		sort.SliceStable(events, func(i, j int) bool { return less(events[j], events[i]) })
	default: // OrderAsc
		sort.SliceStable(events, func(i, j int) bool { return less(events[i], events[j]) })
	}
}

// UnboundedForward streams matching events from "from" onward forever,
// catching up to present and then tailing new publishes by polling stream
// headers (spec.md §4.6 "stream (never ends)"). The returned channel is
// closed when ctx is cancelled or the actor shuts down.
func (a *Actor) UnboundedForward(ctx context.Context, q banyan.Query, from offset.OffsetMap) (<-chan Event, error) {
	type result struct{ err error }
	done := make(chan result, 1)
	err := a.admit(func() { done <- result{} })
	if err != nil {
		return nil, err
	}
	if r := <-done; r.err != nil {
		return nil, r.err
	}

	cursor := from.Clone()
	out := make(chan Event)
	go a.tailLoop(ctx, q, cursor, out)
	return out, nil
}

func (a *Actor) tailLoop(ctx context.Context, q banyan.Query, cursor offset.OffsetMap, out chan<- Event) {
	defer close(out)
	for {
		if a.isShutdown() {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		var round []Event
		for _, id := range a.knownStreams() {
			hdr, had, err := a.table.Header(ctx, id)
			if err != nil || !had {
				continue
			}
			startOffset := uint64(0)
			if o, ok := cursor.Offset(id).AsOffset(); ok {
				startOffset = uint64(o) + 1
			}
			_ = a.engine.IterFrom(ctx, hdr.Root, startOffset, q, func(e banyan.LeafEntry) bool {
				round = append(round, Event{Stream: id, Offset: offset.Offset(e.Offset), Key: e.Key, Payload: e.Payload})
				return true
			})
		}

		sortEvents(round, OrderAsc)
		for _, e := range round {
			select {
			case <-ctx.Done():
				return
			case out <- e:
			}
			cursor.Update(e.Stream, e.Offset)
		}

		if len(round) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(tailPollInterval):
			}
		}
	}
}
