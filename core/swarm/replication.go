package swarm

import (
	"context"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/actyx-go/ax/core/banyan"
	"github.com/actyx-go/ax/core/offset"
)

// ReplicationHooks lets the caller (the node coordinator, which owns the
// event store actor) wire the swarm's gossip into local stream state
// without the swarm package depending on core/eventstore directly.
type ReplicationHooks struct {
	// LocalHeader returns the current header for stream, if known locally.
	LocalHeader func(ctx context.Context, stream offset.StreamId) (banyan.Header, bool, error)
	// AdoptRemote installs hdr as stream's header once its full transitive
	// closure of blocks has been fetched.
	AdoptRemote func(ctx context.Context, stream offset.StreamId, hdr banyan.Header) error
	// KnownStreams lists the streams this node tracks, for root-map
	// broadcasts.
	KnownStreams func() []offset.StreamId
}

// StartReplication wires root-map and fast-path gossip into hooks and
// starts the periodic discovery/root-map publish loops (spec.md §4.7
// "Discovery"/"Root map"/"Fast path"). It must be called once per Swarm,
// after New, and before the swarm is considered ready to replicate.
func (s *Swarm) StartReplication(hooks ReplicationHooks) error {
	s.OnRootMap(func(msg RootMapMessage) {
		s.handleRootMap(msg, hooks)
	})
	s.OnFastPath(func(msg FastPathMessage) {
		s.handleFastPath(msg)
	})
	s.OnDiscovery(func(msg DiscoveryMessage) {
		s.handleDiscovery(msg)
	})

	if err := s.Subscribe(); err != nil {
		return err
	}

	go s.discoveryLoop()
	go s.rootMapLoop(hooks)
	return nil
}

func (s *Swarm) discoveryLoop() {
	interval := s.cfg.DiscoveryInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			peers := s.Peers()
			msg := DiscoveryMessage{Peers: make([]PeerAddr, 0, len(peers))}
			for _, p := range peers {
				msg.Peers = append(msg.Peers, PeerAddr{PeerID: p.String()})
			}
			if err := s.PublishDiscovery(s.ctx, msg); err != nil {
				s.log.WithError(err).Warn("discovery: publish failed")
			}
		}
	}
}

func (s *Swarm) rootMapLoop(hooks ReplicationHooks) {
	interval := s.cfg.RootMapInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.publishRootMap(hooks)
		}
	}
}

func (s *Swarm) publishRootMap(hooks ReplicationHooks) {
	if hooks.KnownStreams == nil || hooks.LocalHeader == nil {
		return
	}
	streams := hooks.KnownStreams()
	msg := RootMapMessage{Streams: make([]RootMapEntry, 0, len(streams))}
	for _, id := range streams {
		hdr, ok, err := hooks.LocalHeader(s.ctx, id)
		if err != nil || !ok {
			continue
		}
		msg.Streams = append(msg.Streams, RootMapEntry{
			Node:    id.Node,
			Nr:      uint64(id.Nr),
			Header:  hdr.Root.Bytes(),
			Lamport: hdr.Lamport,
			Count:   hdr.Count,
		})
	}
	if len(msg.Streams) == 0 {
		return
	}
	if err := s.PublishRootMap(s.ctx, msg); err != nil {
		s.log.WithError(err).Warn("root-map: publish failed")
	}
}

// handleRootMap compares every entry in an incoming root map against local
// knowledge, and for any stream where the peer's lamport is strictly ahead
// of ours, fetches the peer's transitive closure and adopts its header
// (spec.md §4.7 "Root map" drives catch-up sync).
func (s *Swarm) handleRootMap(msg RootMapMessage, hooks ReplicationHooks) {
	if hooks.LocalHeader == nil || hooks.AdoptRemote == nil {
		return
	}
	sender, err := peer.Decode(msg.From)
	candidates := s.Peers()
	if err == nil {
		candidates = append([]peer.ID{sender}, candidates...)
	}

	for _, entry := range msg.Streams {
		stream := offset.StreamId{Node: entry.Node, Nr: offset.StreamNr(entry.Nr)}

		local, ok, err := hooks.LocalHeader(s.ctx, stream)
		if err != nil {
			s.log.WithError(err).WithField("stream", stream.String()).Warn("root-map: local header lookup failed")
			continue
		}
		if ok && local.Lamport >= entry.Lamport {
			continue
		}

		remoteRoot, err := cid.Cast(entry.Header)
		if err != nil {
			s.log.WithError(err).Warn("root-map: malformed header CID")
			continue
		}

		ss := s.StartSync(s.ctx, remoteRoot, candidates)
		go s.finishAdopt(ss, stream, banyan.Header{Root: remoteRoot, Lamport: entry.Lamport, Count: entry.Count}, hooks)
	}
}

func (s *Swarm) finishAdopt(ss *SyncStream, stream offset.StreamId, hdr banyan.Header, hooks ReplicationHooks) {
	for {
		_, missing, done := ss.Progress()
		if done {
			break
		}
		if missing == 0 {
			break
		}
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	if err := ss.Err(); err != nil {
		s.log.WithError(err).WithField("stream", stream.String()).Warn("root-map: sync failed")
		return
	}
	if err := hooks.AdoptRemote(s.ctx, stream, hdr); err != nil {
		s.log.WithError(err).WithField("stream", stream.String()).Warn("root-map: adopt failed")
	}
}

// handleFastPath logs a debug line for an announced event (spec.md §4.7
// "Fast path"). It does not apply the event, does not update the lamport
// clock, and records no liveness cycle (RecordCycle is not called here);
// root-map gossip drives the actual stream-header adoption.
func (s *Swarm) handleFastPath(msg FastPathMessage) {
	stream := msg.Stream()
	s.log.WithField("stream", stream.String()).WithField("lamport", msg.Lamport).Debug("fast-path: peer announced new data")
}

func (s *Swarm) handleDiscovery(msg DiscoveryMessage) {
	for _, p := range msg.Peers {
		id, err := peer.Decode(p.PeerID)
		if err != nil {
			continue
		}
		if id == s.host.ID() {
			continue
		}
		s.trackPeer(id)
	}
}
