package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/romeways/connector"
	"github.com/drblury/romeways/connector/memory"
	configpkg "github.com/drblury/romeways/internal/runtime/config"
	"github.com/drblury/romeways/internal/runtime/envelope"
	errspkg "github.com/drblury/romeways/internal/runtime/errors"
)

func memoryQueue(connectorName string, frequency time.Duration, chunk int) memory.QueueConfig {
	return memory.QueueConfig{QueueConfig: connector.QueueConfig{
		ConnectorName: connectorName,
		Frequency:     frequency,
		MaxChunkSize:  chunk,
	}}
}

type collector struct {
	mu       sync.Mutex
	payloads []string
}

func (c *collector) Handle(_ context.Context, msg envelope.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, msg.Payload)
	return nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func TestNewServiceValidation(t *testing.T) {
	reg := NewRegistry(nil)
	conf := &configpkg.Config{}
	logger := newTestLogger()

	_, err := NewService(nil, conf, logger, ServiceDependencies{})
	assert.ErrorIs(t, err, errspkg.ErrRegistryRequired)

	_, err = NewService(reg, nil, logger, ServiceDependencies{})
	assert.ErrorIs(t, err, errspkg.ErrConfigRequired)

	_, err = NewService(reg, conf, nil, ServiceDependencies{})
	assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)

	_, err = NewService(reg, &configpkg.Config{StatusPort: 70000}, logger, ServiceDependencies{})
	var validation errspkg.ConfigValidationError
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, err.Error(), "status: invalid port 70000")

	_, err = NewService(reg, conf, logger, ServiceDependencies{
		Middlewares: []MiddlewareRegistration{{Name: "empty"}},
	})
	assert.Error(t, err)
}

func TestServiceRunsInProcessWorkers(t *testing.T) {
	memory.ResetNamed()
	t.Cleanup(memory.ResetNamed)

	reg := NewRegistry(nil)
	require.NoError(t, reg.RegisterConnector(memory.Type, memory.Config{Config: connector.Config{ConnectorName: "jobs"}}, false))

	emails := &collector{}
	sms := &collector{}
	require.NoError(t, reg.RegisterRoute("emails", memoryQueue("jobs", 10*time.Millisecond, 2), emails.Handle))
	require.NoError(t, reg.RegisterRoute("sms", memoryQueue("jobs", 10*time.Millisecond, 2), sms.Handle))

	for _, p := range []string{"a", "b", "c"} {
		memory.Named("jobs", "emails").Put([]byte(p))
	}
	memory.Named("jobs", "sms").Put([]byte("d"))

	svc, err := NewService(reg, &configpkg.Config{}, newTestLogger(), ServiceDependencies{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svc.Start(context.Background()) }()

	assert.Eventually(t, func() bool { return emails.count() == 3 && sms.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, reg.RegisterRoute("late", memoryQueue("jobs", time.Second, 1), noopCallback), errspkg.ErrRegistryFrozen)

	routes := svc.Routes()
	require.Len(t, routes, 1)
	assert.True(t, routes[0].Alive)
	require.Len(t, routes[0].Queues, 2)
	assert.Eventually(t, func() bool {
		return svc.Routes()[0].Queues[0].Stats.MessagesProcessed == 3
	}, time.Second, 5*time.Millisecond)

	svc.Stop()
	svc.Stop()
	require.NoError(t, <-done)
	assert.ErrorIs(t, svc.Start(context.Background()), errspkg.ErrServiceStarted)
}

func TestServiceResendsThroughSameConnector(t *testing.T) {
	memory.ResetNamed()
	t.Cleanup(memory.ResetNamed)

	reg := NewRegistry(nil)
	require.NoError(t, reg.RegisterConnector(memory.Type, memory.Config{Config: connector.Config{ConnectorName: "jobs"}}, false))

	var mu sync.Mutex
	var seen []envelope.Message
	cfg := memoryQueue("jobs", 5*time.Millisecond, 1)
	cfg.ResendOnResolveFail = true
	require.NoError(t, reg.RegisterRoute("emails", cfg, func(_ context.Context, msg envelope.Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, msg)
		if msg.ResendCount < 2 {
			return errspkg.Resend(errors.New("smtp down"))
		}
		return nil
	}))
	memory.Named("jobs", "emails").Put([]byte("10"))

	var resent []int
	hooks := DispatchHooks{OnResend: func(dc DispatchContext) {
		mu.Lock()
		defer mu.Unlock()
		resent = append(resent, dc.Message.ResendCount)
	}}
	svc, err := NewService(reg, &configpkg.Config{}, newTestLogger(), ServiceDependencies{Hooks: hooks})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svc.Start(context.Background()) }()
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, 2*time.Second, 5*time.Millisecond)
	svc.Stop()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []envelope.Message{
		{Payload: "10"},
		{Payload: "10", ResendCount: 1},
		{Payload: "10", ResendCount: 2},
	}, seen)
	assert.Equal(t, []int{1, 2}, resent)
	assert.Zero(t, memory.Named("jobs", "emails").Len())
}

func TestServiceStopsOnContextCancel(t *testing.T) {
	memory.ResetNamed()
	t.Cleanup(memory.ResetNamed)

	reg := NewRegistry(nil)
	require.NoError(t, reg.RegisterConnector(memory.Type, memory.Config{Config: connector.Config{ConnectorName: "jobs"}}, false))
	require.NoError(t, reg.RegisterRoute("emails", memoryQueue("jobs", time.Hour, 1), noopCallback))

	svc, err := NewService(reg, &configpkg.Config{}, newTestLogger(), ServiceDependencies{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop after cancel")
	}
}

func TestServiceStopBeforeStart(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.RegisterConnector(memory.Type, memory.Config{Config: connector.Config{ConnectorName: "jobs"}}, false))
	require.NoError(t, reg.RegisterRoute("emails", memoryQueue("jobs", time.Hour, 1), noopCallback))

	svc, err := NewService(reg, &configpkg.Config{}, newTestLogger(), ServiceDependencies{})
	require.NoError(t, err)
	svc.Stop()

	done := make(chan error, 1)
	go func() { done <- svc.Start(context.Background()) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stopped service kept running")
	}
}

func TestServiceSkipsConnectorsWithoutWork(t *testing.T) {
	logger := newRecordingLogger()
	reg := NewRegistry(nil)
	require.NoError(t, reg.RegisterConnector(stubType("stub"), connectorSettings("idle"), false))
	require.NoError(t, reg.RegisterConnector(stubType("stub"), connectorSettings("shared"), true))
	require.NoError(t, reg.RegisterRoute("q", queueSettings("shared", time.Second, 1), noopCallback))
	require.NoError(t, reg.RegisterRoute("lost", queueSettings("ghost", time.Second, 1), noopCallback))

	svc, err := NewService(reg, &configpkg.Config{}, logger, ServiceDependencies{})
	require.NoError(t, err)

	svc.logOrphanQueues()
	spawners := svc.buildSpawners()
	require.Len(t, spawners, 1)
	assert.Equal(t, "shared", spawners[0].ConnectorName())

	assert.True(t, logger.has("debug", "Connector has no itineraries, no worker spawned"))
	assert.True(t, logger.has("debug", "Queues registered for an unknown connector are not scheduled"))
	assert.True(t, logger.has("warn", "Isolated connector does not share state across processes"))
}

func TestServiceWorkerMode(t *testing.T) {
	memory.ResetNamed()
	t.Cleanup(memory.ResetNamed)

	reg := NewRegistry(nil)
	require.NoError(t, reg.RegisterConnector(memory.Type, memory.Config{Config: connector.Config{ConnectorName: "jobs"}}, true))
	require.NoError(t, reg.RegisterConnector(memory.Type, memory.Config{Config: connector.Config{ConnectorName: "other"}}, false))
	jobs := &collector{}
	other := &collector{}
	require.NoError(t, reg.RegisterRoute("emails", memoryQueue("jobs", 5*time.Millisecond, 5), jobs.Handle))
	require.NoError(t, reg.RegisterRoute("emails", memoryQueue("other", 5*time.Millisecond, 5), other.Handle))
	memory.Named("jobs", "emails").Put([]byte("x"))
	memory.Named("other", "emails").Put([]byte("y"))

	t.Setenv(WorkerEnvKey, "jobs")
	svc, err := NewService(reg, &configpkg.Config{}, newTestLogger(), ServiceDependencies{})
	require.NoError(t, err)

	stdin, parent := io.Pipe()
	svc.stdin = stdin

	done := make(chan error, 1)
	go func() { done <- svc.Start(context.Background()) }()

	assert.Eventually(t, func() bool { return jobs.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, other.count())

	require.NoError(t, parent.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop when its parent went away")
	}
}

func TestServiceWorkerModeUnknownConnector(t *testing.T) {
	t.Setenv(WorkerEnvKey, "missing")
	svc, err := NewService(NewRegistry(nil), &configpkg.Config{}, newTestLogger(), ServiceDependencies{})
	require.NoError(t, err)

	err = svc.Start(context.Background())
	assert.ErrorIs(t, err, errspkg.ErrUnknownConnector)
	assert.Contains(t, err.Error(), `"missing"`)
	assert.True(t, IsWorkerProcess())
}

func TestServiceReportsConnectorFailure(t *testing.T) {
	reg := NewRegistry(nil)
	broken := &stubConnector{startErr: errors.New("cannot connect")}
	require.NoError(t, reg.RegisterConnector(stubType("stub", broken), connectorSettings("jobs"), false))
	require.NoError(t, reg.RegisterRoute("q", queueSettings("jobs", time.Second, 1), noopCallback))

	logger := newRecordingLogger()
	svc, err := NewService(reg, &configpkg.Config{}, logger, ServiceDependencies{})
	require.NoError(t, err)

	err = svc.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot connect")
	assert.True(t, logger.has("error", "Worker stopped"))
}

func TestServiceStopsInProcessAndIsolatedWorkers(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a worker process")
	}
	memory.ResetNamed()
	t.Cleanup(memory.ResetNamed)

	reg := NewRegistry(nil)
	require.NoError(t, reg.RegisterConnector(memory.Type, memory.Config{Config: connector.Config{ConnectorName: "local"}}, false))
	require.NoError(t, reg.RegisterConnector(stubType("stub"), connectorSettings("remote"), true))
	require.NoError(t, reg.RegisterRoute("emails", memoryQueue("local", 10*time.Millisecond, 1), noopCallback))
	require.NoError(t, reg.RegisterRoute("jobs", queueSettings("remote", time.Hour, 1), noopCallback))

	svc, err := NewService(reg, &configpkg.Config{}, newTestLogger(), ServiceDependencies{
		WorkerCommand: helperCommand("block"),
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svc.Start(context.Background()) }()

	require.Eventually(t, func() bool {
		local, remote := svc.spawnerFor("local"), svc.spawnerFor("remote")
		return local != nil && remote != nil && local.Alive() && remote.Alive()
	}, 5*time.Second, 10*time.Millisecond)

	svc.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("service did not stop")
	}

	assert.Eventually(t, func() bool {
		return !svc.spawnerFor("local").Alive() && !svc.spawnerFor("remote").Alive()
	}, time.Second, 5*time.Millisecond)
	for _, route := range svc.Routes() {
		assert.False(t, route.Alive, route.Connector)
	}
}

func TestServiceStopDoesNotWaitForOpenHTTPConnections(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	memory.ResetNamed()
	t.Cleanup(memory.ResetNamed)

	reg := NewRegistry(nil)
	require.NoError(t, reg.RegisterConnector(memory.Type, memory.Config{Config: connector.Config{ConnectorName: "jobs"}}, false))
	require.NoError(t, reg.RegisterRoute("emails", memoryQueue("jobs", 10*time.Millisecond, 1), noopCallback))
	svc, err := NewService(reg, &configpkg.Config{StatusEnabled: true, StatusPort: port}, newTestLogger(), ServiceDependencies{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svc.Start(context.Background()) }()

	// A connection that never sends a request keeps a graceful shutdown
	// waiting for several seconds.
	var conn net.Conn
	require.Eventually(t, func() bool {
		c, dialErr := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if dialErr != nil {
			return false
		}
		conn = c
		return true
	}, 2*time.Second, 10*time.Millisecond)
	defer func() { _ = conn.Close() }()

	stopped := make(chan struct{})
	go func() {
		svc.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on the HTTP server shutdown")
	}
	require.NoError(t, <-done)
}
