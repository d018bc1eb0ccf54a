package runtime

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/romeways/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/romeways/internal/runtime/logging"
)

// RouteStatus describes one registered connector and its itineraries.
type RouteStatus struct {
	Connector     string        `json:"connector"`
	Type          string        `json:"type"`
	SpawnIsolated bool          `json:"spawn_isolated"`
	Alive         bool          `json:"alive"`
	Queues        []QueueStatus `json:"queues"`
}

// QueueStatus describes one itinerary. Stats of isolated workers stay in the
// worker process and are reported as zero.
type QueueStatus struct {
	Queue        string                 `json:"queue"`
	Callback     string                 `json:"callback"`
	Frequency    string                 `json:"frequency"`
	MaxChunkSize int                    `json:"max_chunk_size"`
	Sequential   bool                   `json:"sequential"`
	Resend       bool                   `json:"resend_on_resolve_fail"`
	Stats        ItineraryStatsSnapshot `json:"stats"`
}

// Routes returns the status of every registered connector in registration
// order.
func (s *Service) Routes() []RouteStatus {
	names := s.registry.ConnectorNames()
	out := make([]RouteStatus, 0, len(names))
	for _, name := range names {
		rm, _ := s.registry.RegionMap(name)
		rs := RouteStatus{
			Connector:     name,
			Type:          rm.Type.Name,
			SpawnIsolated: rm.SpawnIsolated,
			Queues:        []QueueStatus{},
		}
		if sp := s.spawnerFor(name); sp != nil {
			rs.Alive = sp.Alive()
		}
		for _, it := range s.registry.Itineraries(name) {
			rs.Queues = append(rs.Queues, QueueStatus{
				Queue:        it.QueueName,
				Callback:     it.CallbackName,
				Frequency:    it.Config.Frequency.String(),
				MaxChunkSize: it.Config.MaxChunkSize,
				Sequential:   it.Config.Sequential,
				Resend:       it.Config.ResendOnResolveFail,
				Stats:        it.Stats().Snapshot(),
			})
		}
		out = append(out, rs)
	}
	return out
}

// httpHandlers returns one router per listening port. Status and metrics
// share a router when they are configured on the same port.
func (s *Service) httpHandlers() map[int]http.Handler {
	routers := make(map[int]*chi.Mux)
	routerFor := func(port int) *chi.Mux {
		if r, ok := routers[port]; ok {
			return r
		}
		r := chi.NewRouter()
		r.Use(middleware.Recoverer)
		r.Use(s.requestLogger)
		routers[port] = r
		return r
	}

	if s.Conf.StatusEnabled {
		r := routerFor(s.Conf.ResolvedStatusPort())
		r.Get("/healthz", s.handleHealthz)
		r.Get("/api/routes", s.handleGetRoutes)
		r.Options("/api/routes", s.handleGetRoutes)
	}

	if s.metrics != nil && s.Conf.MetricsPort > 0 {
		r := routerFor(s.Conf.MetricsPort)
		if s.gatherer != nil {
			r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
		} else {
			r.Handle("/metrics", promhttp.Handler())
		}
	}

	out := make(map[int]http.Handler, len(routers))
	for port, r := range routers {
		out[port] = r
	}
	return out
}

func (s *Service) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.Logger.Trace("HTTP request", loggingpkg.LogFields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}

func (s *Service) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Service) handleGetRoutes(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if len(s.Conf.StatusCORSAllowedOrigins) > 0 {
		if allowed := s.getAllowedCORSOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := jsoncodec.Encode(w, s.Routes()); err != nil {
		s.Logger.Error("Failed to encode routes", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// getAllowedCORSOrigin returns the Access-Control-Allow-Origin value for the
// request origin, or "" when it is not allowed.
func (s *Service) getAllowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range s.Conf.StatusCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
