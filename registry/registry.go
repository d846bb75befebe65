package registry

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config holds configuration for a file-backed Registry
type Config struct {
	Path   string
	Format Format // derived from Path when empty
	Lookup SecretLookup
	Logger *zap.Logger
}

// snapshot is one immutable generation of the service mapping.
type snapshot struct {
	services map[string]ServiceConfig
	names    []string
	loadedAt time.Time
}

func newSnapshot(services map[string]ServiceConfig) *snapshot {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	return &snapshot{
		services: services,
		names:    names,
		loadedAt: time.Now(),
	}
}

// Registry maps service names to their realm and client credentials.
// Reads are lock-free and safe for concurrent use; Reload swaps in a whole
// new snapshot, so readers observe either the old or the new mapping.
type Registry struct {
	path   string
	format Format
	lookup SecretLookup
	logger *zap.Logger

	current  atomic.Pointer[snapshot]
	reloadMu sync.Mutex
}

// Load reads the service definition file and returns a populated Registry.
func Load(cfg Config) (*Registry, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Lookup == nil {
		cfg.Lookup = EnvSecretLookup
	}
	if cfg.Format == "" {
		cfg.Format = FormatFromPath(cfg.Path)
	}

	r := &Registry{
		path:   cfg.Path,
		format: cfg.Format,
		lookup: cfg.Lookup,
		logger: cfg.Logger,
	}

	snap, err := r.build()
	if err != nil {
		return nil, err
	}
	r.current.Store(snap)

	return r, nil
}

// NewStatic creates a Registry from an in-memory set of services.
// A static registry has no source document, so Reload always fails.
func NewStatic(services ...ServiceConfig) *Registry {
	m := make(map[string]ServiceConfig, len(services))
	for _, svc := range services {
		m[svc.Name] = svc
	}
	r := &Registry{logger: zap.NewNop()}
	r.current.Store(newSnapshot(m))
	return r
}

func (r *Registry) build() (*snapshot, error) {
	if r.path == "" {
		return nil, configErrorf(nil, "registry has no configuration file to load")
	}

	r.logger.Info("loading service configuration", zap.String("path", r.path))

	data, err := readDocument(r.path)
	if err != nil {
		return nil, err
	}

	services, err := Parse(data, r.format, r.lookup)
	if err != nil {
		r.logger.Error("invalid service configuration",
			zap.String("path", r.path),
			zap.Error(err))
		return nil, err
	}

	snap := newSnapshot(services)
	if len(snap.names) == 0 {
		r.logger.Warn("no services configured in configuration file", zap.String("path", r.path))
	}
	for _, name := range snap.names {
		svc := snap.services[name]
		r.logger.Debug("loaded service configuration",
			zap.String("service", name),
			zap.String("realm", svc.Realm),
			zap.String("client_id", svc.ClientID),
			zap.Bool("public_client", svc.IsPublic()))
	}
	r.logger.Info("service configuration loaded", zap.Strings("services", snap.names))

	return snap, nil
}

// Get returns the configuration of a service.
func (r *Registry) Get(name string) (ServiceConfig, error) {
	snap := r.current.Load()
	svc, ok := snap.services[name]
	if !ok {
		return ServiceConfig{}, configErrorf(ErrServiceNotFound,
			"service '%s' not found in configuration. Available services: %s",
			name, describeNames(snap.names))
	}
	return svc, nil
}

// Exists reports whether a service is configured
func (r *Registry) Exists(name string) bool {
	_, ok := r.current.Load().services[name]
	return ok
}

// List returns the configured service names in sorted order
func (r *Registry) List() []string {
	names := r.current.Load().names
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// All returns a copy of every configured service
func (r *Registry) All() map[string]ServiceConfig {
	services := r.current.Load().services
	out := make(map[string]ServiceConfig, len(services))
	for name, svc := range services {
		out[name] = svc
	}
	return out
}

// Len returns the number of configured services
func (r *Registry) Len() int {
	return len(r.current.Load().names)
}

// LoadedAt returns when the active mapping was built
func (r *Registry) LoadedAt() time.Time {
	return r.current.Load().loadedAt
}

// Path returns the service definition file backing the registry
func (r *Registry) Path() string {
	return r.path
}

// Reload re-reads the service definition file. The new mapping replaces the
// active one only if the whole document loads; otherwise the previous mapping
// stays in effect and the error is returned.
func (r *Registry) Reload() error {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	r.logger.Info("reloading service configuration")

	snap, err := r.build()
	if err != nil {
		r.logger.Warn("reload failed, keeping previous service configuration",
			zap.Strings("services", r.current.Load().names),
			zap.Error(err))
		return err
	}

	r.current.Store(snap)
	return nil
}
