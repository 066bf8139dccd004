package tenancy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chemforge-inc/chemforge-engine/pkg/apperrors"
	"github.com/chemforge-inc/chemforge-engine/pkg/database"
	"github.com/chemforge-inc/chemforge-engine/pkg/logging"
	"github.com/chemforge-inc/chemforge-engine/pkg/metrics"
	"github.com/chemforge-inc/chemforge-engine/pkg/models"
)

// Router defaults.
const (
	DefaultHandleTTL     = 10 * time.Minute
	DefaultMaxHandles    = 200
	DefaultSweepInterval = time.Minute

	maxResolveAttempts = 3
)

// Handle is a live, tenant-bound data access handle.
type Handle interface {
	TenantID() string
	SchemaName() string
	// Acquire returns a connection whose namespace is already the tenant's.
	Acquire(ctx context.Context) (*database.TenantScope, error)
	// Close releases the handle's resources. It blocks until acquired
	// connections are returned.
	Close()
}

// HandleFactory opens a handle for a registered tenant.
type HandleFactory func(ctx context.Context, tenant *models.Tenant) (Handle, error)

// RouterConfig sizes the handle cache. HandleTTL is an idle timeout.
type RouterConfig struct {
	HandleTTL     time.Duration
	MaxHandles    int
	SweepInterval time.Duration
}

// Router resolves tenant ids to handles, opening a handle on first use and
// caching it until it goes idle, is evicted, or is invalidated.
//
// Two concurrent first resolves for the same tenant may both open a handle;
// the later insert closes its own and returns the cached one.
type Router struct {
	registry    *Registry
	factory     HandleFactory
	handles     *boundedCache[Handle]
	invalidator Invalidator
	metrics     *metrics.Metrics
	logger      *zap.Logger

	closers  sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	sweeper  sync.WaitGroup
}

var _ database.TenantAcquirer = (*Router)(nil)

// NewRouter creates a Router and starts its idle-handle sweeper. invalidator
// and m may be nil. Close must be called to stop it.
func NewRouter(registry *Registry, factory HandleFactory, cfg RouterConfig, invalidator Invalidator, m *metrics.Metrics, logger *zap.Logger) *Router {
	if cfg.HandleTTL <= 0 {
		cfg.HandleTTL = DefaultHandleTTL
	}
	if cfg.MaxHandles <= 0 {
		cfg.MaxHandles = DefaultMaxHandles
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if invalidator == nil {
		invalidator = NoopInvalidator{}
	}

	r := &Router{
		registry:    registry,
		factory:     factory,
		invalidator: invalidator,
		metrics:     m,
		logger:      logger.Named("router"),
		stopChan:    make(chan struct{}),
	}
	r.handles = newBoundedCache[Handle](cfg.HandleTTL, cfg.MaxHandles, expireAfterAccess, r.closeHandle)

	r.sweeper.Add(1)
	go r.sweep(cfg.SweepInterval)
	return r
}

// Resolve returns the handle of an active tenant. Unknown tenants yield
// apperrors.ErrTenantNotProvisioned, suspended ones apperrors.ErrTenantSuspended.
//
// A handle opened while the tenant is invalidated is closed instead of cached,
// and the tenant is resolved again against the registry's current row.
func (r *Router) Resolve(ctx context.Context, tenantID string) (Handle, error) {
	for attempt := 1; ; attempt++ {
		h, stale, err := r.resolveOnce(ctx, tenantID)
		if err != nil || !stale {
			return h, err
		}
		if attempt == maxResolveAttempts {
			r.metrics.ObserveRouterResolve("error")
			return nil, fmt.Errorf("tenant %s changed %d times while resolving: %w", tenantID, attempt, apperrors.ErrConflict)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (r *Router) resolveOnce(ctx context.Context, tenantID string) (Handle, bool, error) {
	if h, ok := r.handles.Get(tenantID); ok {
		r.metrics.ObserveRouterResolve("hit")
		return h, false, nil
	}

	gen := r.handles.Generation(tenantID)
	tenant, err := r.registry.Lookup(ctx, tenantID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			r.metrics.ObserveRouterResolve("not_provisioned")
			return nil, false, fmt.Errorf("tenant %s: %w", tenantID, apperrors.ErrTenantNotProvisioned)
		}
		r.metrics.ObserveRouterResolve("error")
		return nil, false, err
	}
	if !tenant.IsActive() {
		r.metrics.ObserveRouterResolve("suspended")
		return nil, false, fmt.Errorf("tenant %s is %s: %w", tenantID, tenant.Status, apperrors.ErrTenantSuspended)
	}

	h, err := r.factory(ctx, tenant)
	if err != nil {
		r.metrics.ObserveRouterResolve("error")
		r.logger.Error("Failed to open tenant handle",
			zap.String("tenant_id", tenantID),
			zap.String("error", logging.SanitizeError(err)))
		return nil, false, fmt.Errorf("open handle for tenant %s: %w", tenantID, err)
	}

	actual, loaded, stale := r.handles.AddIfCurrent(tenantID, h, gen)
	switch {
	case stale:
		h.Close()
		r.metrics.ObserveRouterResolve("stale")
		r.logger.Debug("Discarded handle opened during invalidation", zap.String("tenant_id", tenantID))
		return nil, true, nil
	case loaded:
		// Lost the race to another first resolve.
		h.Close()
		r.metrics.ObserveRouterResolve("hit")
		return actual, false, nil
	}

	r.metrics.ObserveRouterResolve("opened")
	r.metrics.SetRouterHandles(r.handles.Stats().Size)
	r.logger.Info("Opened tenant handle",
		zap.String("tenant_id", tenantID),
		zap.String("schema", h.SchemaName()))
	return h, false, nil
}

// AcquireTenant resolves tenantID and acquires one connection from its handle.
func (r *Router) AcquireTenant(ctx context.Context, tenantID string) (*database.TenantScope, error) {
	h, err := r.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	scope, err := h.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection for tenant %s: %w", tenantID, err)
	}
	return scope, nil
}

// Invalidate drops the tenant's handle and registry entry in this process and
// broadcasts the invalidation to peers. Local state is dropped even when the
// broadcast fails.
func (r *Router) Invalidate(ctx context.Context, tenantID string) error {
	r.invalidateLocal(tenantID, "local")
	if err := r.invalidator.Publish(ctx, tenantID); err != nil {
		r.logger.Warn("Failed to broadcast tenant invalidation",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return err
	}
	return nil
}

// HandleRemoteInvalidation drops local state for a tenant changed by a peer.
func (r *Router) HandleRemoteInvalidation(tenantID string) {
	r.invalidateLocal(tenantID, "remote")
}

// invalidateLocal drops the registry entry before the handle, so a resolve
// that sees the new handle generation also misses the old registry row.
func (r *Router) invalidateLocal(tenantID, source string) {
	r.registry.Invalidate(tenantID)
	removed := r.handles.Remove(tenantID)
	r.metrics.ObserveInvalidation(source)
	r.metrics.SetRouterHandles(r.handles.Stats().Size)
	if removed {
		r.logger.Debug("Tenant handle invalidated",
			zap.String("tenant_id", tenantID),
			zap.String("source", source))
	}
}

// Stats returns handle cache statistics.
func (r *Router) Stats() CacheStats {
	return r.handles.Stats()
}

// Close stops the sweeper and closes every handle. Safe to call more than once.
func (r *Router) Close() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
		r.sweeper.Wait()
		r.handles.Clear()
		r.closers.Wait()
		r.metrics.SetRouterHandles(0)
		r.logger.Info("Connection router closed")
	})
}

// closeHandle runs for every handle leaving the cache. Closing waits for
// in-flight connections, so it happens off the caller's goroutine.
func (r *Router) closeHandle(tenantID string, h Handle) {
	r.closers.Add(1)
	go func() {
		defer r.closers.Done()
		h.Close()
		r.logger.Debug("Closed tenant handle", zap.String("tenant_id", tenantID))
	}()
}

func (r *Router) sweep(interval time.Duration) {
	defer r.sweeper.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := r.handles.Purge(); n > 0 {
				r.metrics.SetRouterHandles(r.handles.Stats().Size)
				r.logger.Info("Closed idle tenant handles", zap.Int("count", n))
			}
		case <-r.stopChan:
			return
		}
	}
}
