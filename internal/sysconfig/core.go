package sysconfig

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"media-pipeline/internal/filesystem"
	"media-pipeline/internal/jobs"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/metrics"
)

var (
	// ErrInvalidConfig wraps validation failures of UpdateConfig.
	ErrInvalidConfig = errors.New("invalid system config")
	// ErrReadOnly is returned by UpdateConfig when a config file is the
	// source of truth.
	ErrReadOnly = errors.New("system config is managed by a config file")
)

// Store persists configuration overrides together with a version that
// increases on every save.
type Store interface {
	LoadSystemConfig(ctx context.Context) (map[string]string, int64, error)
	SystemConfigVersion(ctx context.Context) (int64, error)
	SaveSystemConfig(ctx context.Context, overrides map[string]string) (int64, error)
}

// Queuer enqueues jobs. *jobs.Manager satisfies it.
type Queuer interface {
	Queue(ctx context.Context, job jobs.Job) error
}

// Validator checks a proposed configuration against the current one.
type Validator func(newConfig, oldConfig SystemConfig) error

// Option configures a Core.
type Option func(*Core)

// WithQueue makes UpdateConfig queue a system-config-change job so other
// processes reload.
func WithQueue(q Queuer) Option {
	return func(c *Core) { c.queue = q }
}

// WithConfigFile makes a TOML file the source of truth. UpdateConfig is
// rejected and Watch follows the file.
func WithConfigFile(path string) Option {
	return func(c *Core) {
		if path != "" {
			c.file = filepath.Clean(path)
		}
	}
}

// Core serves the system configuration: a read-through cache over the
// store, validated writes and change notifications.
type Core struct {
	store Store
	queue Queuer
	file  string
	fs    *filesystem.Storage

	mu         sync.RWMutex
	config     *SystemConfig
	version    int64
	validators []Validator

	subsMu  sync.Mutex
	subs    map[int]chan SystemConfig
	nextSub int
}

// New creates a Core over store.
func New(store Store, opts ...Option) *Core {
	c := &Core{
		store: store,
		fs:    filesystem.NewStorage(filesystem.DefaultRetryConfig()),
		subs:  make(map[int]chan SystemConfig),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FileMode reports whether a config file is the source of truth.
func (c *Core) FileMode() bool { return c.file != "" }

// GetDefaults returns the built-in configuration.
func (c *Core) GetDefaults() SystemConfig { return Defaults() }

// AddValidator registers fn to run on every UpdateConfig.
func (c *Core) AddValidator(fn Validator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validators = append(c.validators, fn)
}

// GetConfig returns the current configuration, loading it on first use.
func (c *Core) GetConfig(ctx context.Context) (SystemConfig, error) {
	c.mu.RLock()
	if c.config != nil {
		cfg := c.config.Clone()
		c.mu.RUnlock()
		return cfg, nil
	}
	c.mu.RUnlock()

	cfg, version, err := c.load(ctx)
	if err != nil {
		return SystemConfig{}, err
	}
	c.mu.Lock()
	c.config = &cfg
	c.version = version
	c.mu.Unlock()
	return cfg.Clone(), nil
}

func (c *Core) load(ctx context.Context) (SystemConfig, int64, error) {
	if c.FileMode() {
		cfg, err := loadFile(c.file)
		return cfg, 0, err
	}
	overrides, version, err := c.store.LoadSystemConfig(ctx)
	if err != nil {
		return SystemConfig{}, 0, fmt.Errorf("load system config: %w", err)
	}
	cfg, err := applyOverrides(Defaults(), overrides)
	if err != nil {
		return SystemConfig{}, 0, err
	}
	return cfg, version, nil
}

// UpdateConfig validates and persists cfg, then notifies subscribers and
// other processes. The stored form is the diff against the defaults, so
// the returned configuration is the normalized result.
func (c *Core) UpdateConfig(ctx context.Context, cfg SystemConfig) (SystemConfig, error) {
	if c.FileMode() {
		return SystemConfig{}, ErrReadOnly
	}
	old, err := c.GetConfig(ctx)
	if err != nil {
		return SystemConfig{}, err
	}

	if err := c.validate(cfg, old); err != nil {
		return SystemConfig{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	overrides, err := diffOverrides(cfg, Defaults())
	if err != nil {
		return SystemConfig{}, err
	}
	version, err := c.store.SaveSystemConfig(ctx, overrides)
	if err != nil {
		return SystemConfig{}, fmt.Errorf("save system config: %w", err)
	}
	updated, err := applyOverrides(Defaults(), overrides)
	if err != nil {
		return SystemConfig{}, err
	}

	c.mu.Lock()
	c.config = &updated
	c.version = version
	c.mu.Unlock()

	logging.Info("System config updated to version %d (%d overrides)", version, len(overrides))
	metrics.ConfigUpdatesTotal.WithLabelValues("api").Inc()
	c.publish(updated)

	if c.queue != nil {
		if err := c.queue.Queue(ctx, jobs.SystemConfigChange{}); err != nil {
			logging.Warn("Failed to queue system config change: %v", err)
		}
		if updated.StorageTemplate.Template != old.StorageTemplate.Template {
			if err := c.queue.Queue(ctx, jobs.QueueAllStorageTemplateMigration{}); err != nil {
				logging.Warn("Failed to queue storage template migration: %v", err)
			}
		}
	}
	return updated.Clone(), nil
}

func (c *Core) validate(cfg, old SystemConfig) error {
	errs := []error{cfg.Validate()}
	c.mu.RLock()
	validators := append([]Validator(nil), c.validators...)
	c.mu.RUnlock()
	for _, fn := range validators {
		errs = append(errs, fn(cfg, old))
	}
	return errors.Join(errs...)
}

// Refresh reloads the configuration when the persisted version moved and
// reports whether it changed.
func (c *Core) Refresh(ctx context.Context) (bool, error) {
	if c.FileMode() {
		return c.reloadFile()
	}
	version, err := c.store.SystemConfigVersion(ctx)
	if err != nil {
		return false, err
	}
	c.mu.RLock()
	current := c.version
	loaded := c.config != nil
	c.mu.RUnlock()
	if loaded && version == current {
		return false, nil
	}

	cfg, version, err := c.load(ctx)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	c.config = &cfg
	c.version = version
	c.mu.Unlock()

	if loaded {
		logging.Info("System config changed to version %d", version)
		metrics.ConfigUpdatesTotal.WithLabelValues("poll").Inc()
		c.publish(cfg)
	}
	return loaded, nil
}

func (c *Core) reloadFile() (bool, error) {
	cfg, err := loadFile(c.file)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	c.config = &cfg
	c.mu.Unlock()
	metrics.ConfigUpdatesTotal.WithLabelValues("file").Inc()
	c.publish(cfg)
	return true, nil
}

// Watch keeps the cache current until ctx is done: it polls the store
// version every interval, or follows the config file in file mode.
func (c *Core) Watch(ctx context.Context, interval time.Duration) error {
	if c.FileMode() {
		return c.fs.Watch(ctx, []string{filepath.Dir(c.file)}, func(ev filesystem.Event) {
			if filepath.Clean(ev.Path) != c.file || ev.Type == filesystem.EventUnlink {
				return
			}
			if _, err := c.reloadFile(); err != nil {
				logging.Error("Keeping previous system config, %s is invalid: %v", c.file, err)
				return
			}
			logging.Info("Reloaded system config from %s", c.file)
		})
	}

	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
				logging.Warn("System config refresh failed: %v", err)
			}
		}
	}
}

// Subscribe returns a channel receiving every new configuration and a
// function that ends the subscription. Slow readers only see the latest
// snapshot.
func (c *Core) Subscribe() (<-chan SystemConfig, func()) {
	ch := make(chan SystemConfig, 1)
	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subsMu.Unlock()

	return ch, func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
	}
}

func (c *Core) publish(cfg SystemConfig) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, ch := range c.subs {
		snapshot := cfg.Clone()
		select {
		case ch <- snapshot:
			continue
		default:
		}
		// drop the stale snapshot the reader has not picked up yet
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snapshot:
		default:
		}
	}
}
