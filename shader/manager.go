package shader

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultSelfValidationInterval is the minimum time between self-
// validation sweeps. PerformSelfValidation is cheap to call every frame
// because it returns immediately until the interval has elapsed.
const DefaultSelfValidationInterval = 30 * time.Second

// CompileCallbacks receives progress for an asynchronous compile batch.
//
// Every callback is invoked on the engine main thread, from Update, and
// never concurrently with another callback or with other main-thread
// work. That is what makes it safe for callbacks to touch engine state.
type CompileCallbacks struct {
	// OnProgress reports done out of total shader packs. Counts whole
	// packs, not individual variants.
	OnProgress func(done, total int)

	// OnDiagnostic reports a user-facing compiler diagnostic. The
	// offending pack is dropped, not registered; the batch continues.
	OnDiagnostic func(d *Diagnostic)

	// OnInternalError reports an engine-side failure. The batch is
	// aborted: packs not yet started are skipped, in-flight packs finish.
	// The caller is expected to escalate.
	OnInternalError func(err error)

	// OnCompleted fires once, after the last pack finished or the batch
	// aborted.
	OnCompleted func()
}

// Manager is the process-wide registry mapping shader name → Pack. It
// drives asynchronous batch compilation, enforces globally-unique names,
// performs reference-counted removal and throttled self-validation.
type Manager struct {
	compiler Compiler
	store    *CacheStore

	mu       sync.RWMutex
	packs    map[string]*packEntry
	removals map[string]bool // marked for deferred removal

	// callbackQueue holds closures queued by the compile worker, drained
	// on the main thread by Update.
	cbMu          sync.Mutex
	callbackQueue []func()

	compiling atomic.Bool

	validationInterval time.Duration
	lastValidation     time.Time
}

// packEntry pairs a pack with its reference count.
type packEntry struct {
	pack *Pack
	refs int
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSelfValidationInterval overrides the minimum time between
// self-validation sweeps.
func WithSelfValidationInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.validationInterval = d }
}

// NewManager creates a shader manager compiling through c and caching
// into store.
func NewManager(c Compiler, store *CacheStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		compiler:           c,
		store:              store,
		packs:              make(map[string]*packEntry),
		removals:           make(map[string]bool),
		validationInterval: DefaultSelfValidationInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// nameCharsetOK reports whether a shader name is filesystem-safe across
// platforms: letters, digits, dot, underscore, hyphen. All-dot names are
// rejected; "." and ".." are directory references, not names.
func nameCharsetOK(name string) bool {
	if name == "" {
		return false
	}
	dots := 0
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.':
			dots++
		case r == '_', r == '-':
		default:
			return false
		}
	}
	return dots < len(name)
}

// IsNameAvailable reports whether a shader name is valid and not yet
// registered.
func (m *Manager) IsNameAvailable(name string) bool {
	if !nameCharsetOK(name) {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, taken := m.packs[name]
	return !taken
}

// CompileShaders validates all names, then compiles the described shader
// packs on a background worker, one logical job per pack. Callbacks are
// queued and delivered from Update on the main thread.
//
// Validation errors (bad charset, duplicate name, name collision inside
// the batch) are returned synchronously before any compilation starts.
func (m *Manager) CompileShaders(descs []Description, cb CompileCallbacks) error {
	if len(descs) == 0 {
		return Internalf("Manager.CompileShaders: empty description list")
	}
	if !m.compiling.CompareAndSwap(false, true) {
		return ErrCompilationRunning
	}

	inBatch := make(map[string]bool, len(descs))
	m.mu.RLock()
	for i := range descs {
		name := descs[i].Name
		if !nameCharsetOK(name) {
			m.mu.RUnlock()
			m.compiling.Store(false)
			return fmt.Errorf("%w: %q", ErrNameInvalid, name)
		}
		if _, taken := m.packs[name]; taken || inBatch[name] {
			m.mu.RUnlock()
			m.compiling.Store(false)
			return fmt.Errorf("%w: %q", ErrNameTaken, name)
		}
		inBatch[name] = true
	}
	m.mu.RUnlock()

	go m.runBatch(descs, cb)
	return nil
}

// runBatch executes one compile batch off the main thread. Packs are
// fanned out over an errgroup bounded by GOMAXPROCS; the first internal
// error cancels the remaining jobs.
func (m *Manager) runBatch(descs []Description, cb CompileCallbacks) {
	defer m.compiling.Store(false)

	total := len(descs)
	var done atomic.Int64

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i := range descs {
		desc := descs[i]
		g.Go(func() error {
			if ctx.Err() != nil {
				// A previous pack failed internally; skip the rest.
				return ctx.Err()
			}
			pack, diag, err := CompilePack(m.compiler, m.store, &desc)
			if err != nil {
				return LocateInternal(err, fmt.Sprintf("Manager compile batch shader %q", desc.Name))
			}
			if diag != nil {
				// Malformed user shader: report and drop, batch continues.
				m.enqueue(func() {
					if cb.OnDiagnostic != nil {
						cb.OnDiagnostic(diag)
					}
				})
			} else {
				m.register(desc.Name, pack)
			}
			n := int(done.Add(1))
			m.enqueue(func() {
				if cb.OnProgress != nil {
					cb.OnProgress(n, total)
				}
			})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		m.enqueue(func() {
			if cb.OnInternalError != nil {
				cb.OnInternalError(err)
			}
		})
	}
	m.enqueue(func() {
		if cb.OnCompleted != nil {
			cb.OnCompleted()
		}
	})
}

// register inserts a freshly compiled pack into the table.
func (m *Manager) register(name string, p *Pack) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packs[name] = &packEntry{pack: p}
}

// LoadShadersFromCache loads the described packs synchronously from the
// cache store. Intended for shipped builds where no compiler is
// available; any invalid cache fails the whole call after purging the
// offending shader's cache directory.
func (m *Manager) LoadShadersFromCache(descs []Description) error {
	for i := range descs {
		desc := &descs[i]
		if !m.IsNameAvailable(desc.Name) {
			return fmt.Errorf("%w: %q", ErrNameTaken, desc.Name)
		}
		pack, err := LoadPackFromCache(m.store, desc)
		if err != nil {
			return LocateInternal(err, fmt.Sprintf("Manager.LoadShadersFromCache %q", desc.Name))
		}
		m.register(desc.Name, pack)
	}
	return nil
}

// enqueue appends a callback for delivery on the main thread.
func (m *Manager) enqueue(fn func()) {
	m.cbMu.Lock()
	m.callbackQueue = append(m.callbackQueue, fn)
	m.cbMu.Unlock()
}

// Update drains queued compile callbacks. The engine calls it once per
// frame from the main thread; callbacks therefore never run concurrently
// with each other or with other main-thread work.
func (m *Manager) Update() {
	m.cbMu.Lock()
	queue := m.callbackQueue
	m.callbackQueue = nil
	m.cbMu.Unlock()
	for _, fn := range queue {
		fn()
	}
}

// IsCompiling reports whether a compile batch is currently in flight.
func (m *Manager) IsCompiling() bool {
	return m.compiling.Load()
}

// PackRef is a counted reference to a registered pack. Callers must
// Release exactly once when done; release is what allows a pack marked
// for removal to actually go away.
type PackRef struct {
	m    *Manager
	name string
	pack *Pack
	done atomic.Bool
}

// Pack returns the referenced pack.
func (r *PackRef) Pack() *Pack {
	return r.pack
}

// Release drops the reference. Safe to call once; a second call is a
// no-op returning false.
func (r *PackRef) Release() bool {
	if !r.done.CompareAndSwap(false, true) {
		return false
	}
	r.m.release(r.name)
	return true
}

// AcquirePack returns a counted reference to the named pack, or
// ErrUnknownShader if the name was never registered (or already removed).
func (m *Manager) AcquirePack(name string) (*PackRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.packs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownShader, name)
	}
	entry.refs++
	return &PackRef{m: m, name: name, pack: entry.pack}, nil
}

// release decrements a pack's reference count and completes a deferred
// removal when the last reference drops.
func (m *Manager) release(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.packs[name]
	if !ok {
		return
	}
	if entry.refs > 0 {
		entry.refs--
	}
	if entry.refs == 0 && m.removals[name] {
		m.removeLocked(name, entry)
	}
}

// MarkForRemoval removes the named pack immediately when nothing
// references it, and otherwise marks it for deferred removal completed by
// the last Release or by a self-validation sweep. The report value is
// true when the pack was removed immediately. Cache files stay on disk;
// only memory is freed.
func (m *Manager) MarkForRemoval(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.packs[name]
	if !ok {
		return false
	}
	if entry.refs == 0 {
		m.removeLocked(name, entry)
		return true
	}
	m.removals[name] = true
	logger().Debug("shader pack marked for deferred removal",
		"shader", name, "refs", entry.refs)
	return false
}

// removeLocked erases a pack from the table. Caller holds m.mu.
func (m *Manager) removeLocked(name string, entry *packEntry) {
	entry.pack.ReleaseAllBytecode()
	delete(m.packs, name)
	delete(m.removals, name)
	logger().Info("shader pack removed", "shader", name)
}

// PackCount returns the number of registered packs.
func (m *Manager) PackCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.packs)
}

// SetRendererConfiguration propagates a new global renderer configuration
// to every registered pack. Called by the pipeline manager during a
// settings-change rebuild; callers must hold frame-level exclusion (not
// be mid-draw).
func (m *Manager) SetRendererConfiguration(cfg Configuration) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, entry := range m.packs {
		entry.pack.SetRendererConfiguration(cfg)
	}
}

// PerformSelfValidation runs a throttled consistency sweep: deferred
// removals whose reference count has reached zero are retried, and
// inconsistencies (a removal mark without a pack) are reported. Returns
// true when a sweep actually ran.
func (m *Manager) PerformSelfValidation() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Since(m.lastValidation) < m.validationInterval {
		return false
	}
	m.lastValidation = time.Now()

	for name := range m.removals {
		entry, ok := m.packs[name]
		if !ok {
			logger().Warn("self-validation: removal mark without a registered pack", "shader", name)
			delete(m.removals, name)
			continue
		}
		if entry.refs == 0 {
			m.removeLocked(name, entry)
		}
	}
	logger().Debug("shader manager self-validation completed",
		"packs", len(m.packs), "pending_removals", len(m.removals),
		"resident_shaders", ResidentShaderCount())
	return true
}
