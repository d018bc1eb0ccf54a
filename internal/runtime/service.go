package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	configpkg "github.com/drblury/romeways/internal/runtime/config"
	errspkg "github.com/drblury/romeways/internal/runtime/errors"
	loggingpkg "github.com/drblury/romeways/internal/runtime/logging"
)

const shutdownTimeout = 5 * time.Second

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to get the defaults.
type ServiceDependencies struct {
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips the default middleware chain when true.
	Hooks                     DispatchHooks
	// MetricsRegisterer receives the dispatch collectors when metrics are
	// enabled. If it is also a prometheus.Gatherer it backs /metrics.
	MetricsRegisterer prometheus.Registerer
	// WorkerCommand builds isolated worker processes. Defaults to
	// DefaultWorkerCommand(conf).
	WorkerCommand WorkerCommand
}

// Service runs the itineraries of a Registry: one worker per registered
// connector, one scheduler per itinerary.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	registry      *Registry
	middlewares   []CallbackMiddleware
	hooks         DispatchHooks
	metrics       *DispatchMetrics
	gatherer      prometheus.Gatherer
	workerCommand WorkerCommand
	clock         clock
	stdin         io.Reader

	mu       sync.Mutex
	started  bool
	spawners []*Spawner
	servers  []*http.Server

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewService validates conf and prepares a Service for the registrations held
// by reg. Registrations can still be added until Start is called.
func NewService(reg *Registry, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if reg == nil {
		return nil, errspkg.ErrRegistryRequired
	}
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := errspkg.NewConfigValidationError(conf.Validate()); err != nil {
		return nil, err
	}

	log.Info("Creating romeways service", loggingpkg.LogFields{"config": conf})

	s := &Service{
		Conf:          conf,
		Logger:        log,
		registry:      reg,
		hooks:         deps.Hooks,
		workerCommand: deps.WorkerCommand,
		clock:         realClock(),
		stdin:         os.Stdin,
		stopped:       make(chan struct{}),
	}
	if s.workerCommand == nil {
		s.workerCommand = DefaultWorkerCommand(conf)
	}

	if conf.MetricsEnabled {
		s.metrics = NewDispatchMetrics(conf.ResolvedMetricsNamespace(), deps.MetricsRegisterer)
		if err := s.metrics.Register(); err != nil {
			return nil, fmt.Errorf("romeways: register metrics: %w", err)
		}
		if g, ok := deps.MetricsRegisterer.(prometheus.Gatherer); ok {
			s.gatherer = g
		}
	}

	var registrations []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		registrations = append(registrations, DefaultMiddlewares()...)
	}
	registrations = append(registrations, deps.Middlewares...)
	mws, err := buildMiddlewares(s, registrations)
	if err != nil {
		return nil, err
	}
	s.middlewares = mws

	return s, nil
}

// Registry returns the registry the service runs.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Metrics returns the dispatch collectors, or nil when metrics are disabled.
func (s *Service) Metrics() *DispatchMetrics {
	return s.metrics
}

// Start freezes the registry and runs every worker. In an isolated worker
// process it runs only the itineraries of the connector named by
// WorkerEnvKey. Start returns once ctx is done, Stop is called, or every
// worker finished.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errspkg.ErrServiceStarted
	}
	s.started = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopped:
			cancel()
		case <-ctx.Done():
		}
	}()

	if name, ok := WorkerConnector(); ok {
		return s.runWorker(ctx, cancel, name)
	}
	return s.runParent(ctx)
}

// Stop cancels every worker, kills isolated worker processes and shuts the
// HTTP servers down in the background. It is idempotent and waits neither for
// in-flight callbacks nor for open HTTP connections.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopped)

		s.mu.Lock()
		spawners := append([]*Spawner(nil), s.spawners...)
		s.mu.Unlock()

		for _, sp := range spawners {
			sp.Close()
		}
		go s.shutdownHTTPServers()
	})
}

func (s *Service) runWorker(ctx context.Context, cancel context.CancelFunc, name string) error {
	s.registry.freeze()

	rm, ok := s.registry.RegionMap(name)
	if !ok {
		return fmt.Errorf("%w: %q", errspkg.ErrUnknownConnector, name)
	}
	itineraries := s.registry.Itineraries(name)

	s.Logger.Info("Starting isolated worker", loggingpkg.LogFields{
		"connector":   name,
		"itineraries": len(itineraries),
		"pid":         os.Getpid(),
	})
	watchParent(s.stdin, cancel)
	return runItineraries(ctx, rm, itineraries, s.dispatchOptions())
}

func (s *Service) runParent(ctx context.Context) error {
	s.registry.freeze()
	s.logOrphanQueues()

	spawners := s.buildSpawners()
	s.mu.Lock()
	s.spawners = spawners
	s.mu.Unlock()

	select {
	case <-s.stopped:
		for _, sp := range spawners {
			sp.Close()
		}
	default:
	}

	s.startHTTPServers()
	defer s.shutdownHTTPServers()

	s.Logger.Info("Starting workers", loggingpkg.LogFields{"workers": len(spawners)})

	var g errgroup.Group
	for _, sp := range spawners {
		g.Go(func() error {
			err := sp.Start(ctx)
			if err != nil {
				s.Logger.Error("Worker stopped", err, loggingpkg.LogFields{"connector": sp.ConnectorName()})
			}
			return err
		})
	}
	return g.Wait()
}

func (s *Service) buildSpawners() []*Spawner {
	names := s.registry.ConnectorNames()
	spawners := make([]*Spawner, 0, len(names))
	for _, name := range names {
		rm, _ := s.registry.RegionMap(name)
		itineraries := s.registry.Itineraries(name)
		if len(itineraries) == 0 {
			s.Logger.Debug("Connector has no itineraries, no worker spawned", loggingpkg.LogFields{"connector": name})
			continue
		}
		if rm.SpawnIsolated && !rm.Type.Capabilities.SupportsIsolation() {
			s.Logger.Warn("Isolated connector does not share state across processes", loggingpkg.LogFields{
				"connector": name,
				"type":      rm.Type.Name,
			})
		}
		spawners = append(spawners, newSpawner(rm, itineraries, s.runGroup, s.workerCommand, s.Logger))
	}
	return spawners
}

func (s *Service) runGroup(ctx context.Context, rm RegionMap, itineraries []Itinerary) error {
	return runItineraries(ctx, rm, itineraries, s.dispatchOptions())
}

func (s *Service) dispatchOptions() dispatchOptions {
	return dispatchOptions{
		logger:      s.Logger,
		metrics:     s.metrics,
		hooks:       s.hooks,
		middlewares: s.middlewares,
		clock:       s.clock,
	}
}

func (s *Service) logOrphanQueues() {
	orphans := s.registry.OrphanQueues()
	names := make([]string, 0, len(orphans))
	for name := range orphans {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s.Logger.Debug("Queues registered for an unknown connector are not scheduled", loggingpkg.LogFields{
			"connector": name,
			"queues":    orphans[name],
		})
	}
}

// spawnerFor returns the spawner of a connector, if one was built.
func (s *Service) spawnerFor(name string) *Spawner {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sp := range s.spawners {
		if sp.ConnectorName() == name {
			return sp
		}
	}
	return nil
}

func (s *Service) startHTTPServers() {
	handlers := s.httpHandlers()
	ports := make([]int, 0, len(handlers))
	for port := range handlers {
		ports = append(ports, port)
	}
	sort.Ints(ports)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, port := range ports {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handlers[port],
			ReadHeaderTimeout: 10 * time.Second,
		}
		s.servers = append(s.servers, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
	}
}

func (s *Service) shutdownHTTPServers() {
	s.mu.Lock()
	servers := s.servers
	s.servers = nil
	s.mu.Unlock()

	for _, srv := range servers {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := srv.Shutdown(ctx); err != nil {
			s.Logger.Error("Failed to shut down HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
		}
		cancel()
	}
}
