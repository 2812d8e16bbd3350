package swarm

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Liveness classifies a peer by how many of its last five gossip cycles
// acknowledged replication (spec.md §4.7).
type Liveness int

const (
	LivenessUnknown Liveness = iota
	LivenessLowLatency
	LivenessHighLatency
	LivenessPartial
	LivenessNotWorking
)

func (l Liveness) String() string {
	switch l {
	case LivenessLowLatency:
		return "low-latency"
	case LivenessHighLatency:
		return "high-latency"
	case LivenessPartial:
		return "partial"
	case LivenessNotWorking:
		return "not-working"
	default:
		return "unknown"
	}
}

const livenessWindow = 5

type peerState struct {
	connectedAt time.Time
	// cycles holds, most recent last, whether each of the last
	// livenessWindow gossip cycles was acknowledged by this peer.
	cycles []bool
}

func (s *Swarm) trackPeer(id peer.ID) {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	if _, ok := s.peers[id]; !ok {
		s.peers[id] = &peerState{connectedAt: time.Now()}
	}
}

// RecordCycle records whether id acknowledged replication in the most
// recent gossip cycle, sliding the window.
func (s *Swarm) RecordCycle(id peer.ID, acked bool) {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	ps, ok := s.peers[id]
	if !ok {
		ps = &peerState{connectedAt: time.Now()}
		s.peers[id] = ps
	}
	ps.cycles = append(ps.cycles, acked)
	if len(ps.cycles) > livenessWindow {
		ps.cycles = ps.cycles[len(ps.cycles)-livenessWindow:]
	}
}

// Classify reports id's liveness given cfg's cycle thresholds. The
// DetectionCyclesLowLat/DetectionCyclesHighLat config values are the number
// of missed cycles (out of the last five) still tolerated for that
// classification — fewer tolerated misses is a stricter bar, so the
// default (low=1, high=5) makes low-latency the hardest to earn.
func (s *Swarm) Classify(id peer.ID) Liveness {
	s.peersMu.RLock()
	ps, ok := s.peers[id]
	s.peersMu.RUnlock()
	if !ok {
		return LivenessUnknown
	}
	if len(ps.cycles) < livenessWindow {
		return LivenessUnknown
	}

	acked := 0
	for _, c := range ps.cycles {
		if c {
			acked++
		}
	}
	missed := livenessWindow - acked

	switch {
	case missed <= s.cfg.DetectionCyclesLowLat:
		return LivenessLowLatency
	case missed <= s.cfg.DetectionCyclesHighLat:
		return LivenessHighLatency
	case acked > 0:
		return LivenessPartial
	default:
		return LivenessNotWorking
	}
}

// Peers returns the set of peer ids currently tracked.
func (s *Swarm) Peers() []peer.ID {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()
	out := make([]peer.ID, 0, len(s.peers))
	for id := range s.peers {
		out = append(out, id)
	}
	return out
}
