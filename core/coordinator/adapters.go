package coordinator

import (
	"context"

	"github.com/actyx-go/ax/core/blockstore"
	"github.com/actyx-go/ax/core/events"
	"github.com/actyx-go/ax/core/eventstore"
	"github.com/actyx-go/ax/core/swarm"
	"github.com/actyx-go/ax/pkg/identity"
)

// BlockStoreComponent adapts blockstore.Store (already open once
// blockstore.Open returns) to Component.
type BlockStoreComponent struct {
	Store *blockstore.Store
}

func (c *BlockStoreComponent) Name() string { return "blockstore" }

func (c *BlockStoreComponent) Start(ctx context.Context) error { return nil }

func (c *BlockStoreComponent) Stop(ctx context.Context) error {
	return c.Store.Close()
}

// KeystoreComponent adapts an already-loaded identity.Identity to
// Component purely for ordering and logging: LoadOrCreate runs
// synchronously before the coordinator exists, so Start/Stop are no-ops,
// but registering it first still documents and enforces that nothing
// else is allowed to start before the node's identity is available
// (spec.md §4.10's dependency order "keystore → block store → ...").
type KeystoreComponent struct {
	Identity *identity.Identity
}

func (c *KeystoreComponent) Name() string { return "keystore" }

func (c *KeystoreComponent) Start(ctx context.Context) error { return nil }

func (c *KeystoreComponent) Stop(ctx context.Context) error { return nil }

// EventStoreComponent adapts an already-constructed eventstore.Actor (its
// mailbox goroutine is started by eventstore.New itself) to Component, so
// the coordinator drains it on shutdown in the correct dependency order
// (spec.md §4.10 "Shutdown drains the event store actor").
type EventStoreComponent struct {
	Actor *eventstore.Actor
}

func (c *EventStoreComponent) Name() string { return "eventstore" }

func (c *EventStoreComponent) Start(ctx context.Context) error { return nil }

func (c *EventStoreComponent) Stop(ctx context.Context) error {
	c.Actor.Shutdown()
	return nil
}

// SwarmComponent adapts swarm.Swarm (already dialed/listening once
// swarm.New returns) to Component, and starts gossip replication against
// the node's own event store actor so the swarm actually exchanges root
// maps and fast-path events instead of only answering block requests
// (spec.md §4.7 "Root map"/"Fast path"/"Replication commit").
type SwarmComponent struct {
	Swarm *swarm.Swarm
	Actor *eventstore.Actor
}

func (c *SwarmComponent) Name() string { return "swarm" }

func (c *SwarmComponent) Start(ctx context.Context) error {
	return c.Swarm.StartReplication(swarm.ReplicationHooks{
		LocalHeader:  c.Actor.Header,
		AdoptRemote:  c.Actor.AdoptRemote,
		KnownStreams: c.Actor.KnownStreams,
	})
}

func (c *SwarmComponent) Stop(ctx context.Context) error {
	return c.Swarm.Close()
}

// EventsServiceComponent adapts the HTTP/WebSocket events.Server so the
// coordinator starts it last (after swarm and the event store) and stops
// it first, rejecting new client requests before the components it
// depends on tear down.
type EventsServiceComponent struct {
	Server *events.Server
}

func (c *EventsServiceComponent) Name() string { return "events-service" }

func (c *EventsServiceComponent) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := c.Server.Start(); err != nil {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func (c *EventsServiceComponent) Stop(ctx context.Context) error {
	return c.Server.Shutdown(ctx)
}
