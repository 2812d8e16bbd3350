// Command axnode runs a single Actyx-style node: it loads or creates the
// node's identity, opens the block store and stream log, starts the
// libp2p swarm and the /api/v2/events HTTP/WebSocket service, and
// supervises all of it with a coordinator that stops things in dependency
// order on SIGINT/SIGTERM. Grounded on the teacher's cmd/synnergy/main.go
// (a cobra root command wiring subcommands) and cmd/cli/swarm.go's
// viper-backed config lookup.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/actyx-go/ax/core/banyan"
	"github.com/actyx-go/ax/core/blockstore"
	"github.com/actyx-go/ax/core/coordinator"
	"github.com/actyx-go/ax/core/events"
	"github.com/actyx-go/ax/core/eventstore"
	"github.com/actyx-go/ax/core/streamlog"
	"github.com/actyx-go/ax/core/swarm"
	"github.com/actyx-go/ax/pkg/config"
	"github.com/actyx-go/ax/pkg/identity"
)

func main() {
	root := &cobra.Command{
		Use:   "axnode",
		Short: "run an Actyx-style event-sourcing node",
		RunE:  runNode,
	}
	root.Flags().String("working-dir", "", "node working directory (overrides storage.working_dir)")
	root.Flags().String("env", "", "config environment name, e.g. 'prod' merges prod.yaml over default.yaml")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runNode(cmd *cobra.Command, _ []string) error {
	env, _ := cmd.Flags().GetString("env")
	cfg, err := config.Load(env)
	if err != nil {
		return err
	}

	if wd, _ := cmd.Flags().GetString("working-dir"); wd != "" {
		cfg.Storage.WorkingDir = wd
	}
	if cfg.Storage.WorkingDir == "" {
		cfg.Storage.WorkingDir = "."
	}

	configureLogging(cfg.Logging.Level)
	log := logrus.WithField("component", "axnode")

	id, err := identity.LoadOrCreate(cfg.Storage.WorkingDir)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	log.Infof("node identity %s", id)

	bs, err := blockstore.Open(cfg.Storage.WorkingDir, cfg.Swarm.BlockCacheCount)
	if err != nil {
		return fmt.Errorf("open block store: %w", err)
	}

	engine := banyan.New(bs, banyan.DefaultConfig())
	table := streamlog.New(bs, engine, id.NodeId)
	actor := eventstore.New(table, engine, id.NodeId)

	sw, err := swarm.New(cmd.Context(), swarm.Config{
		Topic:                  cfg.Swarm.Topic,
		ListenAddr:             cfg.Swarm.ListenAddr,
		InitialPeers:           cfg.Swarm.InitialPeers,
		DiscoveryInterval:      cfg.Swarm.GossipInterval,
		RootMapInterval:        cfg.Swarm.GossipInterval,
		PingTimeout:            cfg.Swarm.PingTimeout,
		BitswapTimeout:         cfg.Swarm.BitswapTimeout,
		DetectionCyclesLowLat:  cfg.Swarm.DetectionCyclesLowLat,
		DetectionCyclesHighLat: cfg.Swarm.DetectionCyclesHighLat,
		Mdns:                   cfg.Swarm.Mdns,
	}, id.NodeId, bs)
	if err != nil {
		return fmt.Errorf("start swarm: %w", err)
	}

	var authenticator events.Authenticator
	if secret := os.Getenv("AX_JWT_SECRET"); secret != "" {
		authenticator = events.NewHMACAuthenticator([]byte(secret))
	}

	eventsServer := events.NewServer(events.Options{
		Addr:  cfg.API.BindTo,
		Actor: actor,
		Self:  id.NodeId,
		Auth:  authenticator,
		NodeInfo: func() events.NodeInfo {
			return events.NodeInfo{
				NodeId:      id.NodeId.String(),
				DisplayName: cfg.Admin.DisplayName,
				Version:     "0.1.0",
			}
		},
	})

	coord := coordinator.New(*cfg)
	coord.Register(&coordinator.KeystoreComponent{Identity: id})
	coord.Register(&coordinator.BlockStoreComponent{Store: bs})
	coord.Register(&coordinator.EventStoreComponent{Actor: actor})
	coord.Register(&coordinator.SwarmComponent{Swarm: sw, Actor: actor})
	coord.Register(&coordinator.EventsServiceComponent{Server: eventsServer})

	adminAddr := os.Getenv("AX_ADMIN_ADDR")
	if adminAddr == "" {
		adminAddr = ":9090"
	}
	coord.Register(&adminComponent{srv: newAdminServer(adminAddr, coord)})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	log.Infof("axnode listening on %s", cfg.API.BindTo)

	<-ctx.Done()
	log.Info("shutting down")
	return coord.Shutdown(context.Background())
}

func configureLogging(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
