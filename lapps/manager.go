package lapps

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"log/slog"

	"github.com/lapphost/lapphost/domain/entities"
	"github.com/lapphost/lapphost/host"
)

// sharedLapp pairs a lapp with its own lock. Operations on distinct
// lapps never contend; the manager's registry lock is held only long
// enough to find the handle.
type sharedLapp struct {
	mu   sync.RWMutex
	lapp *Lapp
}

// Manager is the registry of installed lapps. It is safe for
// concurrent use.
type Manager struct {
	mu       sync.RWMutex
	lapps    map[string]*sharedLapp
	lappsDir string

	loader     InstanceLoader
	httpClient *http.Client
	logger     *slog.Logger
	closed     bool
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithLogger routes the manager's (and its lapps') logging.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithHTTPClient sets the outbound client shared by every lapp's HTTP
// host function.
func WithHTTPClient(client *http.Client) ManagerOption {
	return func(m *Manager) { m.httpClient = client }
}

// WithInstanceLoader replaces the module loader. Tests inject fakes
// here.
func WithInstanceLoader(loader InstanceLoader) ManagerOption {
	return func(m *Manager) { m.loader = loader }
}

// NewManager scans lappsDir and registers every subdirectory as a
// lapp. A lapp whose settings fail to parse is still registered — with
// zero-value settings it is disabled and cannot load — so a broken
// file never hides the lapp from administrators.
func NewManager(lappsDir string, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		lapps:    make(map[string]*sharedLapp),
		lappsDir: lappsDir,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.httpClient == nil {
		m.httpClient = &http.Client{}
	}
	if m.loader == nil {
		m.loader = HostLoader{Loader: host.NewLoader(
			host.WithHTTPClient(m.httpClient),
			host.WithLogger(m.logger),
		)}
	}

	entries, err := os.ReadDir(lappsDir)
	if err != nil {
		return nil, fmt.Errorf("scan lapps dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m.register(entry.Name())
	}
	return m, nil
}

// register adds one lapp to the registry. Callers hold m.mu or are in
// construction.
func (m *Manager) register(name string) *sharedLapp {
	lapp := NewLapp(name, filepath.Join(m.lappsDir, name), m.logger)
	if !lapp.IsMain() {
		if err := lapp.ReloadSettings(); err != nil {
			m.logger.Error("loading lapp settings failed",
				slog.String("lapp", name), slog.Any("error", err))
		}
	}
	shared := &sharedLapp{lapp: lapp}
	m.lapps[name] = shared
	return shared
}

// Register adds a lapp that appeared after the initial scan.
func (m *Manager) Register(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return entities.LockUnavailable(name, "manager is shut down")
	}
	if _, ok := m.lapps[name]; ok {
		return fmt.Errorf("lapp %q is already registered", name)
	}
	m.register(name)
	return nil
}

// handle finds the lapp's shared handle without touching its lock.
func (m *Manager) handle(name string) (*sharedLapp, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, entities.LockUnavailable(name, "manager is shut down")
	}
	shared, ok := m.lapps[name]
	if !ok {
		return nil, entities.NotFound(name)
	}
	return shared, nil
}

// Read runs fn with shared access to the named lapp.
func (m *Manager) Read(name string, fn func(*Lapp) error) error {
	shared, err := m.handle(name)
	if err != nil {
		return err
	}
	shared.mu.RLock()
	defer shared.mu.RUnlock()
	return fn(shared.lapp)
}

// Write runs fn with exclusive access to the named lapp.
func (m *Manager) Write(name string, fn func(*Lapp) error) error {
	shared, err := m.handle(name)
	if err != nil {
		return err
	}
	shared.mu.Lock()
	defer shared.mu.Unlock()
	return fn(shared.lapp)
}

// Names returns the registered lapp names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.lapps))
	for name := range m.lapps {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// LappInfo is a point-in-time snapshot of one lapp for the admin
// surface.
type LappInfo struct {
	Name           string                `json:"name"`
	Loaded         bool                  `json:"loaded"`
	ServiceRunning bool                  `json:"service_running"`
	Settings       entities.LappSettings `json:"settings"`
}

// List snapshots every lapp except the reserved main lapp.
func (m *Manager) List() []LappInfo {
	names := m.Names()
	infos := make([]LappInfo, 0, len(names))
	for _, name := range names {
		if name == MainLappName {
			continue
		}
		var info LappInfo
		err := m.Read(name, func(l *Lapp) error {
			info = LappInfo{
				Name:           l.Name(),
				Loaded:         l.IsLoaded(),
				ServiceRunning: l.ServiceRunning(),
				Settings:       *l.Settings(),
			}
			return nil
		})
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos
}

// Load instantiates the named lapp's module.
func (m *Manager) Load(ctx context.Context, name string) error {
	return m.Write(name, func(l *Lapp) error {
		return l.Load(ctx, m.loader)
	})
}

// Unload stops the named lapp's service and tears down its instance.
func (m *Manager) Unload(ctx context.Context, name string) error {
	return m.Write(name, func(l *Lapp) error {
		return l.Unload(ctx)
	})
}

// LoadAll loads every enabled, not-yet-loaded lapp. Failures are
// logged and skipped so one broken lapp never blocks the rest.
func (m *Manager) LoadAll(ctx context.Context) {
	for _, name := range m.Names() {
		if name == MainLappName {
			continue
		}
		err := m.Write(name, func(l *Lapp) error {
			if !l.Enabled() || l.IsLoaded() {
				return nil
			}
			return l.Load(ctx, m.loader)
		})
		if err != nil {
			m.logger.Error("loading lapp failed",
				slog.String("lapp", name), slog.Any("error", err))
		}
	}
}

// Update applies an update query to the named lapp and returns the
// subset of fields that actually changed. Permission changes affect
// the next load, never the running instance.
func (m *Manager) Update(name string, q entities.UpdateQuery) (entities.UpdateQuery, error) {
	var applied entities.UpdateQuery
	err := m.Write(name, func(l *Lapp) error {
		var uerr error
		applied, uerr = l.ApplyUpdate(q)
		return uerr
	})
	return applied, err
}

// ProcessRequest dispatches a request payload to the named lapp under
// shared access, so requests to one lapp proceed in parallel.
func (m *Manager) ProcessRequest(ctx context.Context, name string, payload []byte, required ...entities.Permission) ([]byte, error) {
	var response []byte
	err := m.Read(name, func(l *Lapp) error {
		var perr error
		response, perr = l.ProcessRequest(ctx, payload, required...)
		return perr
	})
	return response, err
}

// RunServiceIfNeeded starts the named lapp's background service if it
// is not already running and returns its sender. Concurrent callers
// get the same endpoint.
func (m *Manager) RunServiceIfNeeded(name string) (*ServiceSender, error) {
	var sender *ServiceSender
	err := m.Write(name, func(l *Lapp) error {
		var serr error
		sender, serr = l.RunServiceIfNeeded()
		return serr
	})
	return sender, err
}

// Close unloads every lapp and rejects further operations.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	handles := make([]*sharedLapp, 0, len(m.lapps))
	for _, shared := range m.lapps {
		handles = append(handles, shared)
	}
	m.mu.Unlock()

	var errs []error
	for _, shared := range handles {
		shared.mu.Lock()
		if err := shared.lapp.Unload(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unload %s: %w", shared.lapp.Name(), err))
		}
		shared.mu.Unlock()
	}
	return errors.Join(errs...)
}
