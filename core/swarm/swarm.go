// Package swarm implements C6: libp2p-based peer discovery, gossip
// replication (discovery/root-map/fast-path topics) and on-demand block
// sync, per spec.md §4.7.
package swarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"

	"github.com/actyx-go/ax/core/blockstore"
	"github.com/actyx-go/ax/core/offset"
	"github.com/actyx-go/ax/pkg/utils"
)

// Config bounds the swarm's scheduling (spec.md §4.7/§6 swarm.* keys).
type Config struct {
	Topic                  string
	ListenAddr             string
	InitialPeers           []string
	DiscoveryInterval      time.Duration
	RootMapInterval        time.Duration
	PingTimeout            time.Duration
	BitswapTimeout         time.Duration
	DetectionCyclesLowLat  int
	DetectionCyclesHighLat int
	Mdns                   bool
}

func (c Config) discoveryTopic() string { return "discovery" }
func (c Config) rootMapTopic() string   { return c.Topic + "-root-map" }
func (c Config) eventsTopic() string    { return c.Topic + "-events" }

// Swarm owns a libp2p host, its GossipSub router, and the three pubsub
// topics Actyx replication uses.
type Swarm struct {
	cfg  Config
	self offset.NodeId
	bs   *blockstore.Store

	host   host.Host
	pubsub *pubsub.PubSub

	discoveryTopic *pubsub.Topic
	rootMapTopic   *pubsub.Topic
	eventsTopic    *pubsub.Topic

	ctx    context.Context
	cancel context.CancelFunc

	peersMu sync.RWMutex
	peers   map[peer.ID]*peerState

	onRootMap   func(msg RootMapMessage)
	onFastPath  func(msg FastPathMessage)
	onDiscovery func(msg DiscoveryMessage)

	log *logrus.Entry
}

// New creates a libp2p host bound to cfg.ListenAddr, joins the three
// replication topics, and starts mDNS discovery if enabled. Grounded on the
// teacher's core/network.go NewNode: libp2p.New + pubsub.NewGossipSub +
// mdns.NewMdnsService wired the same way, generalized to Actyx's topic set.
func New(ctx context.Context, cfg Config, self offset.NodeId, bs *blockstore.Store) (*Swarm, error) {
	sctx, cancel := context.WithCancel(ctx)

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, utils.Wrapk(utils.KindInternal, "swarm: create host", err)
	}

	ps, err := pubsub.NewGossipSub(sctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, utils.Wrapk(utils.KindInternal, "swarm: create pubsub", err)
	}

	s := &Swarm{
		cfg:    cfg,
		self:   self,
		bs:     bs,
		host:   h,
		pubsub: ps,
		ctx:    sctx,
		cancel: cancel,
		peers:  make(map[peer.ID]*peerState),
		log:    logrus.WithField("component", "swarm"),
	}

	if s.discoveryTopic, err = ps.Join(cfg.discoveryTopic()); err != nil {
		s.Close()
		return nil, utils.Wrapk(utils.KindInternal, "swarm: join discovery topic", err)
	}
	if s.rootMapTopic, err = ps.Join(cfg.rootMapTopic()); err != nil {
		s.Close()
		return nil, utils.Wrapk(utils.KindInternal, "swarm: join root-map topic", err)
	}
	if s.eventsTopic, err = ps.Join(cfg.eventsTopic()); err != nil {
		s.Close()
		return nil, utils.Wrapk(utils.KindInternal, "swarm: join events topic", err)
	}

	for _, addr := range cfg.InitialPeers {
		if err := s.dial(addr); err != nil {
			s.log.WithError(err).Warn("initial peer dial failed")
		}
	}

	if cfg.Mdns {
		mdns.NewMdnsService(h, cfg.Topic, s)
	}

	s.registerBlockSyncHandler()

	return s, nil
}

func (s *Swarm) dial(addr string) error {
	pi, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return fmt.Errorf("invalid peer addr %s: %w", addr, err)
	}
	if err := s.host.Connect(s.ctx, *pi); err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	s.trackPeer(pi.ID)
	return nil
}

// HandlePeerFound implements mdns.Notifee (teacher's core/network.go does
// the same): connect to peers discovered on the local network and register
// them for liveness tracking.
func (s *Swarm) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == s.host.ID() {
		return
	}
	if err := s.host.Connect(s.ctx, info); err != nil {
		s.log.WithError(err).WithField("peer", info.ID.String()).Warn("mdns connect failed")
		return
	}
	s.trackPeer(info.ID)
	s.log.WithField("peer", info.ID.String()).Info("connected via mdns")
}

var _ mdns.Notifee = (*Swarm)(nil)

// HostID returns the local libp2p peer id as a string, used for logging and
// the node info endpoint.
func (s *Swarm) HostID() string { return s.host.ID().String() }

// Addrs returns this host's listen addresses as full peer multiaddrs
// (/ip4/.../p2p/<id>), suitable for another node's InitialPeers.
func (s *Swarm) Addrs() []string {
	info := peer.AddrInfo{ID: s.host.ID(), Addrs: s.host.Addrs()}
	p2pAddrs, err := peer.AddrInfoToP2pAddrs(&info)
	if err != nil {
		return nil
	}
	out := make([]string, len(p2pAddrs))
	for i, a := range p2pAddrs {
		out[i] = a.String()
	}
	return out
}

// Close tears down the host and stops all background loops.
func (s *Swarm) Close() error {
	s.cancel()
	return s.host.Close()
}
