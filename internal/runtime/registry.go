package runtime

import (
	"fmt"
	"reflect"
	goruntime "runtime"
	"strings"
	"sync"

	"github.com/drblury/romeways/connector"
	errspkg "github.com/drblury/romeways/internal/runtime/errors"
	loggingpkg "github.com/drblury/romeways/internal/runtime/logging"
)

// Registry collects connector registrations and route registrations before
// the Service starts. Registration order is preserved.
type Registry struct {
	mu sync.RWMutex

	regionMaps     map[string]RegionMap
	itineraries    map[string][]Itinerary
	connectorOrder []string
	frozen         bool

	logger loggingpkg.ServiceLogger
}

// NewRegistry returns an empty registry. A nil logger discards the debug
// entries emitted for ignored registrations.
func NewRegistry(logger loggingpkg.ServiceLogger) *Registry {
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	return &Registry{
		regionMaps:  make(map[string]RegionMap),
		itineraries: make(map[string][]Itinerary),
		logger:      logger,
	}
}

// RegisterRoute appends an itinerary for queueName on the connector named by
// settings. Several itineraries can target the same queue; each gets its own
// connector instance and scheduler.
func (r *Registry) RegisterRoute(queueName string, settings connector.QueueSettings, cb Callback) error {
	if isNilSettings(settings) {
		return &errspkg.ConfigTypeError{Field: "queue", Reason: "queue settings are required"}
	}
	if cb == nil {
		return &errspkg.CallbackTypeError{Reason: "callback is nil"}
	}

	qc := settings.QueueOptions()
	if err := qc.Validate(); err != nil {
		return &errspkg.ConfigTypeError{Field: "queue", Reason: err.Error()}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return errspkg.ErrRegistryFrozen
	}

	r.itineraries[qc.ConnectorName] = append(r.itineraries[qc.ConnectorName], Itinerary{
		QueueName:    queueName,
		Settings:     settings,
		Config:       qc,
		Callback:     cb,
		CallbackName: callbackName(cb),
		stats:        newItineraryStats(),
	})
	return nil
}

// RegisterConnector records how to build connectors for the name carried by
// settings. The first registration of a name wins; later ones are ignored.
func (r *Registry) RegisterConnector(t connector.Type, settings connector.Settings, spawnIsolated bool) error {
	if t.New == nil {
		return &errspkg.ConnectorTypeError{Name: t.Name, Reason: "factory is nil"}
	}
	if isNilSettings(settings) {
		return &errspkg.ConfigTypeError{Field: "connector", Reason: "connector settings are required"}
	}
	cc := settings.ConnectorConfig()
	if err := cc.Validate(); err != nil {
		return &errspkg.ConfigTypeError{Field: "connector", Reason: err.Error()}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return errspkg.ErrRegistryFrozen
	}

	if _, exists := r.regionMaps[cc.ConnectorName]; exists {
		r.logger.Debug("Connector already registered, ignoring", loggingpkg.LogFields{
			"connector": cc.ConnectorName,
			"type":      t.Name,
		})
		return nil
	}

	r.regionMaps[cc.ConnectorName] = RegionMap{Type: t, Settings: settings, SpawnIsolated: spawnIsolated}
	r.connectorOrder = append(r.connectorOrder, cc.ConnectorName)
	return nil
}

// Reset clears every registration and unfreezes the registry.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regionMaps = make(map[string]RegionMap)
	r.itineraries = make(map[string][]Itinerary)
	r.connectorOrder = nil
	r.frozen = false
}

// RegionMap returns the registration of a connector name.
func (r *Registry) RegionMap(name string) (RegionMap, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.regionMaps[name]
	return rm, ok
}

// Itineraries returns a copy of the itineraries registered for a connector name.
func (r *Registry) Itineraries(name string) []Itinerary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Itinerary(nil), r.itineraries[name]...)
}

// ConnectorNames returns the registered connector names in registration order.
func (r *Registry) ConnectorNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.connectorOrder...)
}

// OrphanQueues returns connector names that have itineraries but no connector.
func (r *Registry) OrphanQueues() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orphans := make(map[string][]string)
	for name, its := range r.itineraries {
		if _, ok := r.regionMaps[name]; ok {
			continue
		}
		for _, it := range its {
			orphans[name] = append(orphans[name], it.QueueName)
		}
	}
	return orphans
}

func (r *Registry) freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether the registry stopped accepting registrations.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

func isNilSettings(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Ptr && rv.IsNil()
}

// callbackName resolves the function name of cb for log fields, e.g.
// "main.(*controller).Handle" becomes "controller.Handle".
func callbackName(cb Callback) string {
	fn := goruntime.FuncForPC(reflect.ValueOf(cb).Pointer())
	if fn == nil {
		return fmt.Sprintf("%T", cb)
	}
	name := fn.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "."); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, "-fm")
	name = strings.NewReplacer("(*", "", ")", "").Replace(name)
	return name
}
