package config

import (
	"context"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Hash returns the content hash used to detect config changes.
func Hash(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// Reloader re-reads a config file and publishes it to a Holder when its
// content hash changes and the new content validates.
type Reloader struct {
	path   string
	holder *Holder
	logger *zap.Logger
	last   uint64

	onReload []func(*Config)
}

// NewReloader returns a Reloader for path. initial is the raw content the
// holder's current snapshot was parsed from.
func NewReloader(path string, holder *Holder, initial []byte, logger *zap.Logger) *Reloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reloader{path: path, holder: holder, logger: logger, last: Hash(initial)}
}

// OnReload registers fn to run with every newly published snapshot. Register
// before Watch starts.
func (r *Reloader) OnReload(fn func(*Config)) {
	r.onReload = append(r.onReload, fn)
}

// Check reloads the file if its content changed. It reports whether a new
// snapshot was published. A malformed file is logged and the previous
// snapshot stays active.
func (r *Reloader) Check() bool {
	data, err := os.ReadFile(r.path)
	if err != nil {
		r.logger.Error("config: reload read failed, keeping previous config",
			zap.String("path", r.path), zap.Error(err))
		return false
	}
	sum := Hash(data)
	if sum == r.last {
		return false
	}

	cfg, err := Parse(data)
	if err != nil {
		r.logger.Error("config: reload failed, keeping previous config",
			zap.String("path", r.path), zap.Error(err))
		// Remember the bad content so it is reported once, not every poll.
		r.last = sum
		return false
	}
	r.last = sum

	prev := r.holder.Load()
	warnStartupOnly(r.logger, prev, cfg)
	r.holder.Store(cfg)
	for _, fn := range r.onReload {
		fn(cfg)
	}
	r.logger.Info("config: reloaded",
		zap.String("path", r.path),
		zap.Int("targets", len(cfg.Targets)),
	)
	return true
}

// warnStartupOnly logs changed fields that only take effect after a restart.
func warnStartupOnly(logger *zap.Logger, prev, next *Config) {
	if prev == nil {
		return
	}
	if prev.SenderInterval != next.SenderInterval ||
		prev.ValidatorInterval != next.ValidatorInterval ||
		prev.HotUpdateInterval != next.HotUpdateInterval {
		logger.Warn("config: interval changes take effect after restart")
	}
	if prev.Storage != next.Storage || prev.MetricsPort != next.MetricsPort {
		logger.Warn("config: storage and metrics_port changes take effect after restart")
	}
}

// Watch runs r until ctx is cancelled. The file is checked on every fsnotify
// write/create event and on every poll tick, so a missed event (network
// filesystems, atomic renames) is picked up within one interval.
func Watch(ctx context.Context, r *Reloader, interval time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(r.path); err != nil {
		// Polling still works without inotify.
		r.logger.Warn("config: fsnotify unavailable, polling only",
			zap.String("path", r.path), zap.Error(err))
	} else {
		r.logger.Info("config: watching for changes", zap.String("path", r.path))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			r.Check()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors often save via rename, so Create counts as a write.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			r.Check()
			// Re-add the file in case an atomic save replaced the inode.
			_ = watcher.Add(r.path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Error("config: watcher error", zap.Error(err))
		}
	}
}
