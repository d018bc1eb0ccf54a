package runtime

import (
	"context"
	"io"
	"os"
)

// WorkerEnvKey names the environment variable that turns a process into the
// isolated worker of one connector. Its value is the connector name.
const WorkerEnvKey = "ROMEWAYS_WORKER_CONNECTOR"

// WorkerConnector returns the connector an isolated worker process must run.
func WorkerConnector() (string, bool) {
	name := os.Getenv(WorkerEnvKey)
	return name, name != ""
}

// IsWorkerProcess reports whether the running process is an isolated worker.
// Programs use it to skip work that only the parent process should do, such
// as producing test messages.
func IsWorkerProcess() bool {
	_, ok := WorkerConnector()
	return ok
}

// watchParent cancels the worker once the parent closes its end of the stdin
// pipe, which also happens when the parent dies.
func watchParent(r io.Reader, cancel context.CancelFunc) {
	if r == nil {
		return
	}
	go func() {
		_, _ = io.Copy(io.Discard, r)
		cancel()
	}()
}
