package rollout

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrNoSource is returned when a Refresher is built without a source.
var ErrNoSource = errors.New("rollout: source is required")

// RefresherConfig controls how often the policy is pulled.
type RefresherConfig struct {
	// Interval between pulls. Zero disables the ticker.
	Interval time.Duration

	// WatchPath, when set, is watched with fsnotify and triggers a refresh on change.
	WatchPath string
}

// Refresher pulls snapshots from a Source into a Policy.
//
// A failed load keeps the previous snapshot in place; readers never observe an
// empty policy because a config store was briefly unreachable.
type Refresher struct {
	policy *Policy
	source Source
	config RefresherConfig
	logger *zap.Logger

	mu      sync.Mutex // serializes refreshes
	lastErr error
	lastOK  time.Time
}

// NewRefresher wires source into policy.
func NewRefresher(policy *Policy, source Source, cfg RefresherConfig, logger *zap.Logger) (*Refresher, error) {
	if policy == nil {
		return nil, errors.New("rollout: policy is required")
	}
	if source == nil {
		return nil, ErrNoSource
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("rollout: refresh interval must be non-negative, got %s", cfg.Interval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{
		policy: policy,
		source: source,
		config: cfg,
		logger: logger,
	}, nil
}

// Refresh loads the source once and installs the result.
func (r *Refresher) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, err := r.source.Load(ctx)
	if err != nil {
		r.lastErr = err
		recordReload(false)
		r.logger.Warn("rollout: refresh failed, keeping previous snapshot",
			zap.Error(err),
			zap.Uint64("version", r.policy.Version()))
		return fmt.Errorf("rollout: refresh: %w", err)
	}

	r.policy.Replace(snap)
	r.lastErr = nil
	r.lastOK = time.Now()
	recordReload(true)
	updateModeGauges(snap)

	r.logger.Info("rollout: policy refreshed",
		zap.Int("operations", snap.Len()),
		zap.Uint64("version", r.policy.Version()))
	return nil
}

// Status reports the outcome of the most recent refresh.
func (r *Refresher) Status() (lastSuccess time.Time, lastErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastOK, r.lastErr
}

// Run refreshes on every tick and file change until ctx is done. It loads
// once up front unless a Refresh has already succeeded. Load errors are
// logged and do not stop the loop.
func (r *Refresher) Run(ctx context.Context) error {
	if last, _ := r.Status(); last.IsZero() {
		_ = r.Refresh(ctx)
	}

	var tick <-chan time.Time
	if r.config.Interval > 0 {
		ticker := time.NewTicker(r.config.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var (
		fileEvents <-chan fsnotify.Event
		fileErrors <-chan error
		target     string
	)
	if r.config.WatchPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("rollout: create watcher: %w", err)
		}
		defer watcher.Close()

		// Watch the directory: editors and config-map mounts replace files by rename.
		target = filepath.Clean(r.config.WatchPath)
		if err := watcher.Add(filepath.Dir(target)); err != nil {
			return fmt.Errorf("rollout: watch %s: %w", target, err)
		}
		fileEvents = watcher.Events
		fileErrors = watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			_ = r.Refresh(ctx)
		case event, ok := <-fileEvents:
			if !ok {
				fileEvents = nil
				continue
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			r.logger.Debug("rollout: policy file changed",
				zap.String("path", event.Name),
				zap.String("op", event.Op.String()))
			_ = r.Refresh(ctx)
		case err, ok := <-fileErrors:
			if !ok {
				fileErrors = nil
				continue
			}
			r.logger.Warn("rollout: watcher error", zap.Error(err))
		}
	}
}
