package host

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/lapphost/lapphost/codec"
	"github.com/lapphost/lapphost/domain/entities"
	"github.com/lapphost/lapphost/hostfuncs"
)

// hostModuleName is the import namespace lapp modules link against.
const hostModuleName = "env"

// Startup exports, run in order when present.
var startExports = []string{"_initialize", "_start"}

// initExport is the optional application-level initializer. Its packed
// return value decodes to an InitResult through the bridge.
const initExport = "init"

// InitResult is the payload the guest's init export returns. A guest
// reporting OK=false failed its own initialization, which is distinct
// from a host or boundary failure.
type InitResult struct {
	OK    bool   `cbor:"ok"`
	Error string `cbor:"error,omitempty"`
}

// LoadSpec carries everything the loader needs for one instantiation.
type LoadSpec struct {
	// Name of the lapp, used for the module name and log correlation.
	Name string

	// RootDir is the lapp's root storage location. The filesystem
	// sandbox (when granted) is rooted at its data/ subdirectory and a
	// relative database path resolves against it.
	RootDir string

	// Module is the compiled module bytecode.
	Module []byte

	// Settings is the lapp's durable configuration; its permission
	// declaration decides which host functions get registered.
	Settings *entities.LappSettings
}

// DataDirName is the per-lapp directory exposed to sandboxed modules.
const DataDirName = "data"

// DefaultDatabaseFile is used when settings name no database path.
const DefaultDatabaseFile = "data.db"

// Loader builds module instances: compile, assemble capability-gated
// imports, instantiate, run startup exports. It either returns a fully
// usable instance or none at all — a failure at any step tears down
// everything built so far.
type Loader struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithHTTPClient sets the outbound HTTP client shared by every lapp's
// invoke_http host function.
func WithHTTPClient(client *http.Client) LoaderOption {
	return func(l *Loader) { l.httpClient = client }
}

// WithLogger sets the loader's logger.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader creates a Loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{}
	for _, opt := range opts {
		opt(l)
	}
	if l.httpClient == nil {
		l.httpClient = http.DefaultClient
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Load instantiates a lapp module against the imports its granted
// permissions allow. Each instance gets its own wazero runtime so
// teardown is a single Close and host modules of different lapps can
// never collide.
func (l *Loader) Load(ctx context.Context, spec LoadSpec) (*Instance, error) {
	if spec.Settings == nil {
		return nil, entities.InstantiationError("settings", errors.New("load spec carries no settings"))
	}
	perms := &spec.Settings.Permissions

	runtime := wazero.NewRuntime(ctx)
	var closers []io.Closer
	success := false
	defer func() {
		if success {
			return
		}
		for _, c := range closers {
			_ = c.Close()
		}
		_ = runtime.Close(ctx)
	}()

	compiled, err := runtime.CompileModule(ctx, spec.Module)
	if err != nil {
		return nil, entities.InstantiationError("compile", err)
	}

	modConfig, err := l.baseImports(ctx, runtime, spec, perms)
	if err != nil {
		return nil, err
	}

	bridge := newMemoryBridge()
	bundleClosers, err := l.registerHostFunctions(ctx, runtime, bridge, spec, perms)
	closers = append(closers, bundleClosers...)
	if err != nil {
		return nil, err
	}

	mod, err := runtime.InstantiateModule(ctx, compiled, modConfig)
	if err != nil {
		return nil, entities.InstantiationError("instantiate", err)
	}
	if err := bridge.bind(mod); err != nil {
		return nil, err
	}

	if err := runStartup(ctx, mod); err != nil {
		return nil, err
	}
	if err := runGuestInit(ctx, spec.Name, mod, bridge); err != nil {
		return nil, err
	}

	l.logger.Info("lapp module instantiated",
		"lapp", spec.Name,
		"granted", perms.Allowed,
	)

	success = true
	return &Instance{
		name:    spec.Name,
		runtime: runtime,
		module:  mod,
		bridge:  bridge,
		closers: closers,
		logger:  l.logger,
	}, nil
}

// baseImports prepares WASI and the filesystem sandbox. WASI is wired
// iff FileRead or FileWrite is *required*; the mount's access flags
// follow the *granted* permissions — a module that only requires
// FileRead never receives write access.
func (l *Loader) baseImports(ctx context.Context, runtime wazero.Runtime, spec LoadSpec, perms *entities.PermissionsSettings) (wazero.ModuleConfig, error) {
	modConfig := wazero.NewModuleConfig().
		WithName(spec.Name).
		WithStartFunctions() // startup exports run explicitly, in order

	if !perms.IsRequired(entities.PermissionFileRead) && !perms.IsRequired(entities.PermissionFileWrite) {
		return modConfig, nil
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		return nil, entities.InstantiationError("wasi", err)
	}

	readGranted := perms.IsAllowed(entities.PermissionFileRead)
	writeGranted := perms.IsAllowed(entities.PermissionFileWrite)
	if !readGranted && !writeGranted {
		return modConfig, nil
	}

	dataDir := filepath.Join(spec.RootDir, DataDirName)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, entities.InstantiationError("data-dir", err)
	}

	fsConfig := wazero.NewFSConfig()
	if writeGranted {
		fsConfig = fsConfig.WithDirMount(dataDir, "/")
	} else {
		fsConfig = fsConfig.WithFSMount(os.DirFS(dataDir), "/")
	}
	return modConfig.WithFSConfig(fsConfig), nil
}

// bundleFactory ties one permission to the host function bundle it gates.
type bundleFactory struct {
	perm  entities.Permission
	build func() (hostfuncs.Bundle, error)
}

// bundleFactories enumerates the permission-to-bundle mapping once; the
// loader folds every granted bundle into the env import module.
func (l *Loader) bundleFactories(spec LoadSpec) []bundleFactory {
	return []bundleFactory{
		{entities.PermissionDatabase, func() (hostfuncs.Bundle, error) {
			return hostfuncs.NewDatabaseBundle(databasePath(spec))
		}},
		{entities.PermissionHTTP, func() (hostfuncs.Bundle, error) {
			return hostfuncs.NewHTTPBundle(l.httpClient, spec.Settings.Network.HTTP), nil
		}},
		{entities.PermissionSleep, func() (hostfuncs.Bundle, error) {
			return hostfuncs.SleepBundle(), nil
		}},
	}
}

func (l *Loader) registerHostFunctions(ctx context.Context, runtime wazero.Runtime, bridge *MemoryBridge, spec LoadSpec, perms *entities.PermissionsSettings) ([]io.Closer, error) {
	var closers []io.Closer
	builder := runtime.NewHostModuleBuilder(hostModuleName)

	// log_message is ambient: registered for every lapp, no permission.
	logBundle := hostfuncs.LogBundle(l.logger.With(slog.String("lapp", spec.Name)))
	for name, handler := range logBundle.Handlers() {
		builder.NewFunctionBuilder().
			WithFunc(l.bridgeHandler(bridge, spec.Name, name, handler)).
			Export(name)
	}

	for _, factory := range l.bundleFactories(spec) {
		if !perms.IsAllowed(factory.perm) {
			continue
		}
		bundle, err := factory.build()
		if err != nil {
			return closers, entities.InstantiationError(string(factory.perm), err)
		}
		if c, ok := bundle.(io.Closer); ok {
			closers = append(closers, c)
		}
		for name, handler := range bundle.Handlers() {
			builder.NewFunctionBuilder().
				WithFunc(l.bridgeHandler(bridge, spec.Name, name, handler)).
				Export(name)
		}
	}

	if _, err := builder.Instantiate(ctx); err != nil {
		return closers, entities.InstantiationError("host-functions", err)
	}
	return closers, nil
}

// bridgeHandler adapts a ByteHandler to the packed-word calling
// convention. Each registered function closes over the shared bridge so
// it marshals its own arguments and results independently.
func (l *Loader) bridgeHandler(bridge *MemoryBridge, lapp, name string, handler hostfuncs.ByteHandler) func(context.Context, api.Module, uint64) uint64 {
	return func(ctx context.Context, _ api.Module, packed uint64) uint64 {
		payload, err := bridge.ReadPacked(packed)
		if err != nil {
			l.logger.Error("host function argument read failed", "lapp", lapp, "func", name, "error", err)
			return 0
		}

		resp, err := handler(ctx, payload)
		if err != nil {
			l.logger.Error("host function failed", "lapp", lapp, "func", name, "error", err)
			return 0
		}

		out, err := bridge.WriteBytes(ctx, resp)
		if err != nil {
			l.logger.Error("host function result write failed", "lapp", lapp, "func", name, "error", err)
			return 0
		}
		return out
	}
}

func runStartup(ctx context.Context, mod api.Module) error {
	for _, name := range startExports {
		fn := mod.ExportedFunction(name)
		if fn == nil {
			continue
		}
		if _, err := fn.Call(ctx); err != nil {
			// A WASI command exiting cleanly is not a failure.
			var exitErr *sys.ExitError
			if errors.As(err, &exitErr) && exitErr.ExitCode() == 0 {
				continue
			}
			return entities.InstantiationError(name, err)
		}
	}
	return nil
}

func runGuestInit(ctx context.Context, lapp string, mod api.Module, bridge *MemoryBridge) error {
	fn := mod.ExportedFunction(initExport)
	if fn == nil {
		return nil
	}

	results, err := fn.Call(ctx)
	if err != nil {
		return entities.InstantiationError(initExport, err)
	}
	if len(results) == 0 || results[0] == 0 {
		return nil
	}

	data, err := bridge.ReadPacked(results[0])
	if err != nil {
		return err
	}
	_ = bridge.Free(ctx, results[0])

	var res InitResult
	if err := codec.Unmarshal(data, &res); err != nil {
		return entities.BoundaryError("decoding init result", err)
	}
	if !res.OK {
		return entities.ApplicationInitError(lapp, res.Error)
	}
	return nil
}

func databasePath(spec LoadSpec) string {
	path := spec.Settings.Database.Path
	if path == "" {
		path = DefaultDatabaseFile
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(spec.RootDir, path)
	}
	return path
}
