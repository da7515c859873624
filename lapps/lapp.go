package lapps

import (
	"context"
	"os"
	"path/filepath"

	"log/slog"

	"github.com/lapphost/lapphost/domain/entities"
	"github.com/lapphost/lapphost/host"
)

const (
	// MainLappName is the reserved lapp serving the host's own UI. It
	// has no module and no settings file.
	MainLappName = "lapphost"

	staticDirName      = "static"
	indexFileName      = "index.html"
	serverModuleSuffix = "_server.wasm"

	processRequestExport = "process_http"
)

// ModuleInstance is the slice of a loaded module the lifecycle layer
// needs: invoking exports and tearing the instance down.
type ModuleInstance interface {
	Call(ctx context.Context, export string, payload []byte) ([]byte, error)
	Close(ctx context.Context) error
}

// InstanceLoader turns a load spec into a running module instance.
type InstanceLoader interface {
	Load(ctx context.Context, spec host.LoadSpec) (ModuleInstance, error)
}

// HostLoader adapts *host.Loader to the InstanceLoader interface.
type HostLoader struct {
	Loader *host.Loader
}

func (h HostLoader) Load(ctx context.Context, spec host.LoadSpec) (ModuleInstance, error) {
	return h.Loader.Load(ctx, spec)
}

// Lapp is one installed application: its directory on disk, its
// settings, and — once loaded — its module instance and background
// service. A Lapp is not safe for concurrent use; the Manager
// serializes access through per-lapp locks.
type Lapp struct {
	name     string
	rootDir  string
	settings entities.LappSettings
	instance ModuleInstance
	service  *ServiceSender
	logger   *slog.Logger
}

// NewLapp describes the lapp rooted at rootDir. Settings start at
// their zero value; call ReloadSettings to pick up the on-disk file.
// The main lapp is enabled unconditionally.
func NewLapp(name, rootDir string, logger *slog.Logger) *Lapp {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Lapp{
		name:    name,
		rootDir: rootDir,
		logger:  logger.With(slog.String("lapp", name)),
	}
	l.settings.Application.Title = name
	if l.IsMain() {
		l.settings.Application.Enabled = true
	}
	return l
}

func (l *Lapp) Name() string    { return l.name }
func (l *Lapp) RootDir() string { return l.rootDir }

// IsMain reports whether this is the reserved host lapp.
func (l *Lapp) IsMain() bool { return l.name == MainLappName }

// Settings exposes the in-memory settings for reading and mutation.
// Mutations are not persisted until SaveSettings.
func (l *Lapp) Settings() *entities.LappSettings { return &l.settings }

func (l *Lapp) Enabled() bool { return l.settings.Application.Enabled }

// IsLoaded reports whether a module instance is currently running.
func (l *Lapp) IsLoaded() bool { return l.instance != nil }

// ServiceRunning reports whether the background service actor has been
// started for the current instance.
func (l *Lapp) ServiceRunning() bool { return l.service != nil }

// SettingsPath is the lapp's settings file.
func (l *Lapp) SettingsPath() string {
	return filepath.Join(l.rootDir, SettingsFileName)
}

// ServerModulePath is the lapp's compiled module, named after the lapp
// itself.
func (l *Lapp) ServerModulePath() string {
	return filepath.Join(l.rootDir, l.name+serverModuleSuffix)
}

// StaticDir holds the lapp's client-side assets.
func (l *Lapp) StaticDir() string {
	return filepath.Join(l.rootDir, staticDirName)
}

// IndexFile is the entry page under StaticDir.
func (l *Lapp) IndexFile() string {
	return filepath.Join(l.StaticDir(), indexFileName)
}

// DataDir is the writable directory exposed to the guest.
func (l *Lapp) DataDir() string {
	return filepath.Join(l.rootDir, host.DataDirName)
}

// ReloadSettings replaces the in-memory settings with the validated
// on-disk file.
func (l *Lapp) ReloadSettings() error {
	settings, err := LoadSettings(l.SettingsPath())
	if err != nil {
		return err
	}
	l.settings = *settings
	return nil
}

// SaveSettings persists the in-memory settings.
func (l *Lapp) SaveSettings() error {
	return SaveSettings(l.SettingsPath(), &l.settings)
}

// CheckAccess verifies the lapp is enabled and every listed permission
// is allowed. Enablement is checked before permissions.
func (l *Lapp) CheckAccess(required ...entities.Permission) error {
	if !l.Enabled() {
		return entities.NotEnabled(l.name)
	}
	for _, perm := range required {
		if !l.settings.Permissions.IsAllowed(perm) {
			return entities.PermissionDenied(l.name, perm)
		}
	}
	return nil
}

// Load instantiates the lapp's module. Loading an already-loaded lapp
// is an error; callers unload first.
func (l *Lapp) Load(ctx context.Context, loader InstanceLoader) error {
	if l.instance != nil {
		err := entities.InstantiationError("load", nil)
		err.Lapp = l.name
		err.Detail = "already loaded"
		return err
	}

	module, err := os.ReadFile(l.ServerModulePath())
	if err != nil {
		werr := entities.InstantiationError("read-module", err)
		werr.Lapp = l.name
		return werr
	}

	instance, err := loader.Load(ctx, host.LoadSpec{
		Name:     l.name,
		RootDir:  l.rootDir,
		Module:   module,
		Settings: &l.settings,
	})
	if err != nil {
		return err
	}
	l.instance = instance
	return nil
}

// Unload stops the background service, if any, and tears down the
// module instance. Unloading an unloaded lapp is a no-op.
func (l *Lapp) Unload(ctx context.Context) error {
	if l.service != nil {
		if !l.StopService(ctx) {
			l.logger.Warn("service did not acknowledge stop")
		}
	}
	if l.instance == nil {
		return nil
	}
	err := l.instance.Close(ctx)
	l.instance = nil
	return err
}

// ProcessRequest dispatches one request payload to the guest's HTTP
// handler. The loaded check comes first so an unloaded lapp reports
// not_loaded regardless of its settings.
func (l *Lapp) ProcessRequest(ctx context.Context, payload []byte, required ...entities.Permission) ([]byte, error) {
	if l.instance == nil {
		return nil, entities.NotLoaded(l.name)
	}
	if err := l.CheckAccess(required...); err != nil {
		return nil, err
	}
	return l.instance.Call(ctx, processRequestExport, payload)
}

// RunServiceIfNeeded starts the background service actor, or returns
// the existing sender if it is already running. The caller must hold
// the lapp exclusively, which makes concurrent callers converge on a
// single actor.
func (l *Lapp) RunServiceIfNeeded() (*ServiceSender, error) {
	if l.service != nil {
		return l.service, nil
	}
	if l.instance == nil {
		return nil, entities.NotLoaded(l.name)
	}
	service, sender := NewLappService(l.name, l.instance, l.logger)
	go service.Run()
	l.service = sender
	return sender, nil
}

// StopService stops the background service actor and reports whether
// it acknowledged. Stopping a lapp whose service never started returns
// false.
func (l *Lapp) StopService(ctx context.Context) bool {
	if l.service == nil {
		return false
	}
	sender := l.service
	l.service = nil
	return sender.stop(ctx)
}

// ApplyUpdate applies an update query to the settings and persists
// them. The returned query contains only the fields that actually
// changed: enabling an already-enabled lapp, or allowing an
// already-allowed permission, reports no change. Permission changes
// take effect on the next load.
func (l *Lapp) ApplyUpdate(q entities.UpdateQuery) (entities.UpdateQuery, error) {
	if q.Enabled != nil {
		if *q.Enabled == l.settings.Application.Enabled {
			q.Enabled = nil
		} else {
			l.settings.Application.Enabled = *q.Enabled
		}
	}
	if q.AllowPermission != nil {
		if !l.settings.Permissions.Allow(*q.AllowPermission) {
			q.AllowPermission = nil
		}
	}
	if q.DenyPermission != nil {
		if !l.settings.Permissions.Deny(*q.DenyPermission) {
			q.DenyPermission = nil
		}
	}

	if err := l.SaveSettings(); err != nil {
		return entities.UpdateQuery{}, err
	}
	return q, nil
}
