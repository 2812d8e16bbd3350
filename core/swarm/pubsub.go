package swarm

import (
	"context"

	"github.com/fxamacker/cbor/v2"
	pubsub "github.com/libp2p/go-libp2p-pubsub"

	"github.com/actyx-go/ax/core/offset"
	"github.com/actyx-go/ax/pkg/utils"
)

// DiscoveryMessage is gossiped on the "discovery" topic: a digest of peers
// this node knows about (spec.md §4.7 "Discovery").
type DiscoveryMessage struct {
	Peers []PeerAddr `cbor:"p"`
}

// PeerAddr is one (peer, multiaddr) pair.
type PeerAddr struct {
	PeerID   string `cbor:"i"`
	Multiaddr string `cbor:"a"`
}

// RootMapMessage is gossiped on "<topic>-root-map": the sender's view of
// stream roots (spec.md §4.7 "Root map").
type RootMapMessage struct {
	From    string                `cbor:"f"`
	Streams []RootMapEntry        `cbor:"s"`
}

// RootMapEntry names one stream's current header, lamport and event count.
type RootMapEntry struct {
	Node    [32]byte `cbor:"n"`
	Nr      uint64   `cbor:"r"`
	Header  []byte   `cbor:"h"` // CID bytes
	Lamport uint64   `cbor:"l"`
	Count   uint64   `cbor:"c"`
}

// FastPathMessage is broadcast immediately on local publish, one per event
// (spec.md §4.7 "Fast path").
type FastPathMessage struct {
	Node    [32]byte `cbor:"n"`
	Nr      uint64   `cbor:"r"`
	Offset  uint64   `cbor:"o"`
	Lamport uint64   `cbor:"l"`
	Micros  int64    `cbor:"t"`
	Tags    []string `cbor:"g"`
	AppId   string   `cbor:"a"`
	Payload []byte   `cbor:"p"`
}

func (m FastPathMessage) Stream() offset.StreamId {
	return offset.StreamId{Node: m.Node, Nr: offset.StreamNr(m.Nr)}
}

// OnRootMap registers the callback invoked for every decoded root-map
// message received from a peer; messages this host published itself are
// skipped by subscribeLoop.
func (s *Swarm) OnRootMap(fn func(RootMapMessage)) { s.onRootMap = fn }

// OnFastPath registers the callback invoked for every decoded fast-path
// event received.
func (s *Swarm) OnFastPath(fn func(FastPathMessage)) { s.onFastPath = fn }

// OnDiscovery registers the callback invoked for every decoded discovery
// digest received.
func (s *Swarm) OnDiscovery(fn func(DiscoveryMessage)) { s.onDiscovery = fn }

// PublishFastPath broadcasts a single freshly-published event on the
// events topic (spec.md §4.3 step 5, §4.7 "Fast path").
func (s *Swarm) PublishFastPath(ctx context.Context, m FastPathMessage) error {
	data, err := cbor.Marshal(m)
	if err != nil {
		return utils.Wrapk(utils.KindInternal, "swarm: encode fast-path", err)
	}
	return s.eventsTopic.Publish(ctx, data)
}

// PublishRootMap broadcasts this node's current view of stream roots
// (spec.md §4.7 "Root map").
func (s *Swarm) PublishRootMap(ctx context.Context, m RootMapMessage) error {
	m.From = s.HostID()
	data, err := cbor.Marshal(m)
	if err != nil {
		return utils.Wrapk(utils.KindInternal, "swarm: encode root-map", err)
	}
	return s.rootMapTopic.Publish(ctx, data)
}

// PublishDiscovery broadcasts a peer digest (spec.md §4.7 "Discovery").
func (s *Swarm) PublishDiscovery(ctx context.Context, m DiscoveryMessage) error {
	data, err := cbor.Marshal(m)
	if err != nil {
		return utils.Wrapk(utils.KindInternal, "swarm: encode discovery", err)
	}
	return s.discoveryTopic.Publish(ctx, data)
}

// Subscribe starts background readers for all three topics, dispatching to
// whichever On* callbacks are registered. Grounded on the teacher's
// core/network.go Node.Subscribe goroutine-per-topic pattern.
func (s *Swarm) Subscribe() error {
	if err := s.subscribeLoop(s.discoveryTopic, func(data []byte) {
		var m DiscoveryMessage
		if err := cbor.Unmarshal(data, &m); err != nil {
			s.log.WithError(err).Warn("discovery: decode failed")
			return
		}
		if s.onDiscovery != nil {
			s.onDiscovery(m)
		}
	}); err != nil {
		return err
	}

	if err := s.subscribeLoop(s.rootMapTopic, func(data []byte) {
		var m RootMapMessage
		if err := cbor.Unmarshal(data, &m); err != nil {
			s.log.WithError(err).Warn("root-map: decode failed")
			return
		}
		if s.onRootMap != nil {
			s.onRootMap(m)
		}
	}); err != nil {
		return err
	}

	return s.subscribeLoop(s.eventsTopic, func(data []byte) {
		var m FastPathMessage
		if err := cbor.Unmarshal(data, &m); err != nil {
			s.log.WithError(err).Warn("fast-path: decode failed")
			return
		}
		if s.onFastPath != nil {
			s.onFastPath(m)
		}
	})
}

func (s *Swarm) subscribeLoop(topic *pubsub.Topic, handle func([]byte)) error {
	sub, err := topic.Subscribe()
	if err != nil {
		return utils.Wrapk(utils.KindInternal, "swarm: subscribe", err)
	}
	go func() {
		for {
			msg, err := sub.Next(s.ctx)
			if err != nil {
				return
			}
			if msg.ReceivedFrom == s.host.ID() {
				continue
			}
			handle(msg.Data)
		}
	}()
	return nil
}
