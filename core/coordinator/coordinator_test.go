package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actyx-go/ax/pkg/config"
)

type fakeComponent struct {
	name        string
	startErr    error
	stopErr     error
	panicOnStop bool

	mu       sync.Mutex
	started  bool
	stopped  bool
	settings []config.Config
}

func (f *fakeComponent) Name() string { return f.name }

func (f *fakeComponent) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeComponent) Stop(ctx context.Context) error {
	if f.panicOnStop {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return f.stopErr
}

func (f *fakeComponent) NewSettings(cfg config.Config) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = append(f.settings, cfg)
}

func (f *fakeComponent) wasStarted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *fakeComponent) wasStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func TestStartRunsComponentsInOrderAndBroadcastsSettings(t *testing.T) {
	cfg := config.Default()
	c := New(cfg)

	var order []string
	var mu sync.Mutex
	track := func(name string) *fakeComponent {
		return &fakeComponent{name: name}
	}
	a, b := track("a"), track("b")
	wrapA := &orderTracking{fakeComponent: a, order: &order, mu: &mu}
	wrapB := &orderTracking{fakeComponent: b, order: &order, mu: &mu}

	c.Register(wrapA)
	c.Register(wrapB)

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, []string{"a", "b"}, order)
	assert.True(t, a.wasStarted())
	assert.True(t, b.wasStarted())
	require.Len(t, a.settings, 1)

	require.NoError(t, c.Shutdown(context.Background()))
	assert.True(t, a.wasStopped())
	assert.True(t, b.wasStopped())
}

// orderTracking wraps a fakeComponent to record start order without racing
// on the shared order slice from multiple component goroutines.
type orderTracking struct {
	*fakeComponent
	order *[]string
	mu    *sync.Mutex
}

func (o *orderTracking) Start(ctx context.Context) error {
	if err := o.fakeComponent.Start(ctx); err != nil {
		return err
	}
	o.mu.Lock()
	*o.order = append(*o.order, o.Name())
	o.mu.Unlock()
	return nil
}

func TestStartFailureRollsBackAlreadyStartedComponents(t *testing.T) {
	c := New(config.Default())
	good := &fakeComponent{name: "good"}
	bad := &fakeComponent{name: "bad", startErr: errors.New("cannot start")}

	c.Register(good)
	c.Register(bad)

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.True(t, good.wasStarted())
	assert.True(t, good.wasStopped())
}

func TestShutdownStopsInReverseOrder(t *testing.T) {
	c := New(config.Default())
	var order []string
	var mu sync.Mutex

	makeStopTracking := func(name string) *fakeComponent {
		return &fakeComponent{name: name}
	}
	a, b := makeStopTracking("a"), makeStopTracking("b")
	c.Register(&stopTracking{fakeComponent: a, order: &order, mu: &mu})
	c.Register(&stopTracking{fakeComponent: b, order: &order, mu: &mu})

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Shutdown(context.Background()))
	assert.Equal(t, []string{"b", "a"}, order)
}

type stopTracking struct {
	*fakeComponent
	order *[]string
	mu    *sync.Mutex
}

func (s *stopTracking) Stop(ctx context.Context) error {
	s.mu.Lock()
	*s.order = append(*s.order, s.Name())
	s.mu.Unlock()
	return s.fakeComponent.Stop(ctx)
}

func TestStopPanicIsRecoveredAndReportedAsError(t *testing.T) {
	c := New(config.Default())
	panicky := &fakeComponent{name: "panicky", panicOnStop: true}
	c.Register(panicky)

	require.NoError(t, c.Start(context.Background()))
	err := c.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic stopping panicky")
}

func TestShutdownIsIdempotent(t *testing.T) {
	c := New(config.Default())
	comp := &fakeComponent{name: "solo"}
	c.Register(comp)
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, c.Shutdown(context.Background()))
	require.NoError(t, c.Shutdown(context.Background()))
}

func TestApplySettingsBroadcastsToRunningComponentsOnly(t *testing.T) {
	c := New(config.Default())
	comp := &fakeComponent{name: "solo"}
	c.Register(comp)
	require.NoError(t, c.Start(context.Background()))

	cfg2 := config.Default()
	cfg2.Swarm.Topic = "changed"
	c.ApplySettings(cfg2)

	require.Len(t, comp.settings, 2)
	assert.Equal(t, "changed", comp.settings[1].Swarm.Topic)

	require.NoError(t, c.Shutdown(context.Background()))
	c.ApplySettings(config.Default())
	assert.Len(t, comp.settings, 2)
}

func TestReportFailureTriggersShutdown(t *testing.T) {
	c := New(config.Default())
	comp := &fakeComponent{name: "solo"}
	c.Register(comp)
	require.NoError(t, c.Start(context.Background()))

	c.ReportFailure("solo", errors.New("died"))

	require.Eventually(t, func() bool {
		return comp.wasStopped()
	}, time.Second, 10*time.Millisecond)
}
