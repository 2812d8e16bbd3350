// Package coordinator implements C10: a component supervisor that starts
// the node's pieces in dependency order, applies settings snapshots, and
// sequences shutdown on failure or request (spec.md §4.10, Design Note
// "Supervision"). It generalizes the teacher's core/swarm.go Swarm type
// (a mutex-guarded registry with AddNode/RemoveNode/Start/Stop) from a
// peer-node registry into a dependency-ordered component registry with
// panic recovery.
package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/actyx-go/ax/pkg/config"
	"github.com/actyx-go/ax/pkg/utils"
)

// Component is one supervised piece of the node: keystore, block store,
// event store, swarm, events service, and so on. Start must block until
// the component is ready to serve or fails; Stop must be safe to call
// even if Start never completed.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// SettingsAware is implemented by components that react to a settings
// change broadcast (spec.md §4.10 "on settings change broadcasts
// NewSettings(snapshot) to interested components").
type SettingsAware interface {
	NewSettings(cfg config.Config)
}

type componentState int

const (
	stateStopped componentState = iota
	stateRunning
	stateFailed
)

type componentRecord struct {
	component Component
	state     componentState
	err       error
}

// Coordinator starts Components in registration order (the caller is
// responsible for registering them in dependency order: keystore, block
// store, event store, swarm, events service, per spec.md §4.10), and
// tears them down in reverse order on Shutdown or component failure.
type Coordinator struct {
	mu         sync.Mutex
	components []*componentRecord
	cfg        config.Config
	log        *logrus.Entry

	failures chan failureReport
	done     chan struct{}
	stopOnce sync.Once

	registry        *prometheus.Registry
	componentsGauge prometheus.Gauge
	failuresCounter prometheus.Counter
}

type failureReport struct {
	name  string
	cause error
}

// New builds a Coordinator bound to the initial settings snapshot.
func New(cfg config.Config) *Coordinator {
	reg := prometheus.NewRegistry()
	c := &Coordinator{
		cfg:      cfg,
		log:      logrus.WithField("component", "coordinator"),
		failures: make(chan failureReport, 8),
		done:     make(chan struct{}),
		registry: reg,
		componentsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ax_coordinator_components_running",
			Help: "Number of supervised components currently running",
		}),
		failuresCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ax_coordinator_component_failures_total",
			Help: "Total number of component failures observed by the coordinator",
		}),
	}
	reg.MustRegister(c.componentsGauge, c.failuresCounter)
	return c
}

// Registry exposes the Prometheus registry so an admin HTTP server (e.g.
// cmd/axnode's debug mux) can serve it via promhttp.
func (c *Coordinator) Registry() *prometheus.Registry { return c.registry }

// Register adds a component to the supervision set. Must be called
// before Start.
func (c *Coordinator) Register(comp Component) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components = append(c.components, &componentRecord{component: comp})
}

// Start brings up every registered component in registration order,
// stopping and returning an error if any component fails to start. Each
// component that implements SettingsAware immediately receives the
// current settings snapshot once running.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	records := append([]*componentRecord(nil), c.components...)
	c.mu.Unlock()

	for _, rec := range records {
		if err := c.startOne(ctx, rec); err != nil {
			c.log.WithError(err).WithField("component", rec.component.Name()).Error("component failed to start")
			_ = c.shutdownFrom(ctx, rec)
			return utils.Wrapk(utils.KindInternal, fmt.Sprintf("start %s", rec.component.Name()), err)
		}
	}
	go c.superviseFailures(ctx)
	return nil
}

func (c *Coordinator) startOne(ctx context.Context, rec *componentRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic starting %s: %v", rec.component.Name(), r)
		}
	}()
	if err = rec.component.Start(ctx); err != nil {
		rec.state = stateFailed
		rec.err = err
		return err
	}
	rec.state = stateRunning
	c.componentsGauge.Inc()
	if aware, ok := rec.component.(SettingsAware); ok {
		aware.NewSettings(c.currentSettings())
	}
	return nil
}

func (c *Coordinator) currentSettings() config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// ReportFailure lets a running component (or anything supervising it)
// tell the coordinator it died outside of a normal Stop call — e.g. a
// goroutine that caught its own panic and wants supervised shutdown
// rather than crashing the process (spec.md §4.10 "child death is
// reported via a supervision message carrying either success or a panic
// payload").
func (c *Coordinator) ReportFailure(name string, cause error) {
	select {
	case c.failures <- failureReport{name: name, cause: cause}:
	default:
		c.log.WithField("component", name).Warn("failure channel full, dropping report")
	}
}

func (c *Coordinator) superviseFailures(ctx context.Context) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case f := <-c.failures:
			c.failuresCounter.Inc()
			c.log.WithError(f.cause).WithField("component", f.name).Error("component reported failure, shutting down")
			_ = c.Shutdown(context.Background())
			return
		}
	}
}

// ApplySettings updates the current settings snapshot and broadcasts it
// to every running SettingsAware component (spec.md §4.10).
func (c *Coordinator) ApplySettings(cfg config.Config) {
	c.mu.Lock()
	c.cfg = cfg
	records := append([]*componentRecord(nil), c.components...)
	c.mu.Unlock()

	for _, rec := range records {
		if rec.state != stateRunning {
			continue
		}
		if aware, ok := rec.component.(SettingsAware); ok {
			aware.NewSettings(cfg)
		}
	}
}

// Shutdown stops every running component in reverse registration order,
// so dependents (e.g. the events service) stop before their dependencies
// (e.g. the event store). Safe to call more than once.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	var shutdownErr error
	c.stopOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		records := append([]*componentRecord(nil), c.components...)
		c.mu.Unlock()
		shutdownErr = c.stopAll(ctx, records)
	})
	return shutdownErr
}

func (c *Coordinator) stopAll(ctx context.Context, records []*componentRecord) error {
	var firstErr error
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if rec.state != stateRunning {
			continue
		}
		if err := c.stopOne(ctx, rec); err != nil && firstErr == nil {
			firstErr = err
		}
		rec.state = stateStopped
		c.componentsGauge.Dec()
	}
	return firstErr
}

func (c *Coordinator) stopOne(ctx context.Context, rec *componentRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic stopping %s: %v", rec.component.Name(), r)
		}
	}()
	if err = rec.component.Stop(ctx); err != nil {
		c.log.WithError(err).WithField("component", rec.component.Name()).Warn("component stop returned error")
	}
	return err
}

// shutdownFrom stops every component that started before rec failed,
// in reverse order, used when Start itself aborts partway through.
func (c *Coordinator) shutdownFrom(ctx context.Context, failed *componentRecord) error {
	c.mu.Lock()
	records := append([]*componentRecord(nil), c.components...)
	c.mu.Unlock()

	started := records[:0:0]
	for _, rec := range records {
		if rec == failed {
			break
		}
		started = append(started, rec)
	}
	return c.stopAll(ctx, started)
}
