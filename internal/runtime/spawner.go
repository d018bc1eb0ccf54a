package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	configpkg "github.com/drblury/romeways/internal/runtime/config"
	loggingpkg "github.com/drblury/romeways/internal/runtime/logging"
)

// groupRunner executes every itinerary of one connector.
type groupRunner func(ctx context.Context, rm RegionMap, itineraries []Itinerary) error

// WorkerCommand builds the command that re-executes the program as an
// isolated worker for connectorName.
type WorkerCommand func(connectorName string) (*exec.Cmd, error)

// Spawner owns the single worker of one connector. The worker is a goroutine
// or, when the connector was registered with spawnIsolated, a child process.
type Spawner struct {
	regionMap   RegionMap
	itineraries []Itinerary
	run         groupRunner
	command     WorkerCommand
	logger      loggingpkg.ServiceLogger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	done    chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

func newSpawner(rm RegionMap, itineraries []Itinerary, run groupRunner, command WorkerCommand, logger loggingpkg.ServiceLogger) *Spawner {
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	return &Spawner{
		regionMap:   rm,
		itineraries: itineraries,
		run:         run,
		command:     command,
		logger: logger.With(loggingpkg.LogFields{
			"connector": rm.ConnectorName(),
			"isolated":  rm.SpawnIsolated,
		}),
		closed: make(chan struct{}),
	}
}

// ConnectorName returns the connector the spawner runs.
func (s *Spawner) ConnectorName() string {
	return s.regionMap.ConnectorName()
}

// Start launches the worker and blocks until it finishes, ctx is done, or
// Close is called. It can only be called once.
func (s *Spawner) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("romeways: spawner already started")
	}
	s.started = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	select {
	case <-s.closed:
		close(s.done)
		return nil
	default:
	}

	if s.regionMap.SpawnIsolated {
		return s.startProcess(ctx)
	}
	return s.startInProcess(ctx)
}

func (s *Spawner) startInProcess(ctx context.Context) error {
	wctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	done := s.done
	s.mu.Unlock()
	defer cancel()

	var runErr error
	go func() {
		defer close(done)
		runErr = s.run(wctx, s.regionMap, s.itineraries)
	}()

	s.logger.Info("Worker started", loggingpkg.LogFields{"itineraries": len(s.itineraries)})

	select {
	case <-done:
		return runErr
	case <-wctx.Done():
		return nil
	case <-s.closed:
		return nil
	}
}

func (s *Spawner) startProcess(ctx context.Context) error {
	if s.command == nil {
		close(s.done)
		return errors.New("romeways: isolated worker requires a worker command")
	}
	cmd, err := s.command(s.ConnectorName())
	if err != nil {
		close(s.done)
		return fmt.Errorf("romeways: build worker command: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		close(s.done)
		return fmt.Errorf("romeways: worker stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		close(s.done)
		return fmt.Errorf("romeways: start worker process: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	done := s.done
	s.mu.Unlock()

	s.logger.Info("Worker process started", loggingpkg.LogFields{
		"pid":         cmd.Process.Pid,
		"itineraries": len(s.itineraries),
	})

	var waitErr error
	go func() {
		defer close(done)
		waitErr = cmd.Wait()
	}()

	// Close may have raced with cmd.Start and seen no process yet.
	select {
	case <-s.closed:
		s.kill()
	default:
	}

	select {
	case <-done:
		select {
		case <-s.closed:
			return nil
		default:
		}
		if waitErr != nil {
			return fmt.Errorf("romeways: worker process for connector %q exited: %w", s.ConnectorName(), waitErr)
		}
		return nil
	case <-ctx.Done():
		s.Close()
		<-done
		return nil
	case <-s.closed:
		<-done
		return nil
	}
}

// Close terminates the worker without waiting for in-flight work. It is safe
// to call more than once and before Start.
func (s *Spawner) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.kill()
	})
}

func (s *Spawner) kill() {
	s.mu.Lock()
	cmd, stdin := s.cmd, s.stdin
	s.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.logger.Error("Failed to kill worker process", err, nil)
		}
	}
}

// Alive reports whether the worker is running.
func (s *Spawner) Alive() bool {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// DefaultWorkerCommand re-executes the running program with the worker
// environment variable set. conf may override the executable, its arguments
// and extra environment entries.
func DefaultWorkerCommand(conf *configpkg.Config) WorkerCommand {
	return func(connectorName string) (*exec.Cmd, error) {
		exe := ""
		var args []string
		var extraEnv []string
		if conf != nil {
			exe = conf.WorkerExecutable
			args = conf.WorkerArgs
			extraEnv = conf.WorkerEnv
		}
		if exe == "" {
			var err error
			exe, err = os.Executable()
			if err != nil {
				return nil, err
			}
		}
		if args == nil && len(os.Args) > 1 {
			args = os.Args[1:]
		}

		cmd := exec.Command(exe, args...)
		cmd.Env = append(append(os.Environ(), extraEnv...), WorkerEnvKey+"="+connectorName)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return cmd, nil
	}
}
