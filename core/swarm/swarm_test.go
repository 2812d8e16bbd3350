package swarm

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicNaming(t *testing.T) {
	cfg := Config{Topic: "my-topic"}
	assert.Equal(t, "discovery", cfg.discoveryTopic())
	assert.Equal(t, "my-topic-root-map", cfg.rootMapTopic())
	assert.Equal(t, "my-topic-events", cfg.eventsTopic())
}

func TestFastPathMessageRoundtrip(t *testing.T) {
	m := FastPathMessage{
		Nr:      3,
		Offset:  7,
		Lamport: 42,
		Micros:  1000,
		Tags:    []string{"a", "b"},
		AppId:   "app1",
		Payload: []byte("hello"),
	}
	m.Node[0] = 9

	data, err := cbor.Marshal(m)
	require.NoError(t, err)

	var decoded FastPathMessage
	require.NoError(t, cbor.Unmarshal(data, &decoded))
	assert.Equal(t, m, decoded)
	assert.Equal(t, uint64(3), uint64(decoded.Stream().Nr))
}

func TestRootMapMessageRoundtrip(t *testing.T) {
	m := RootMapMessage{
		From: "peerA",
		Streams: []RootMapEntry{
			{Nr: 1, Header: []byte("cid-bytes"), Lamport: 10},
		},
	}
	data, err := cbor.Marshal(m)
	require.NoError(t, err)

	var decoded RootMapMessage
	require.NoError(t, cbor.Unmarshal(data, &decoded))
	assert.Equal(t, m, decoded)
}

func newSwarmForLiveness(low, high int) *Swarm {
	return &Swarm{
		cfg:   Config{DetectionCyclesLowLat: low, DetectionCyclesHighLat: high},
		peers: make(map[peer.ID]*peerState),
	}
}

func TestClassifyUnknownBeforeFullWindow(t *testing.T) {
	s := newSwarmForLiveness(1, 5)
	id := peer.ID("p1")
	s.RecordCycle(id, true)
	assert.Equal(t, LivenessUnknown, s.Classify(id))
}

func TestClassifyLowLatencyAllAcked(t *testing.T) {
	s := newSwarmForLiveness(1, 5)
	id := peer.ID("p1")
	for i := 0; i < 5; i++ {
		s.RecordCycle(id, true)
	}
	assert.Equal(t, LivenessLowLatency, s.Classify(id))
}

func TestClassifyHighLatencyWithSomeMisses(t *testing.T) {
	s := newSwarmForLiveness(1, 5)
	id := peer.ID("p1")
	s.RecordCycle(id, true)
	s.RecordCycle(id, false)
	s.RecordCycle(id, true)
	s.RecordCycle(id, false)
	s.RecordCycle(id, true)
	assert.Equal(t, LivenessHighLatency, s.Classify(id))
}

func TestClassifyNotWorkingAllMissed(t *testing.T) {
	s := newSwarmForLiveness(1, 3)
	id := peer.ID("p1")
	for i := 0; i < 5; i++ {
		s.RecordCycle(id, false)
	}
	assert.Equal(t, LivenessNotWorking, s.Classify(id))
}

func TestClassifyUnknownPeer(t *testing.T) {
	s := newSwarmForLiveness(1, 5)
	assert.Equal(t, LivenessUnknown, s.Classify(peer.ID("ghost")))
}
