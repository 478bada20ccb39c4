package http

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reqgate/internal/config"
	"github.com/fyrsmithlabs/reqgate/internal/logging"
)

// Reloader re-reads the policy.
type Reloader interface {
	Reload(ctx context.Context) (*config.Policy, error)
}

// WatchConfig reloads the policy whenever a cascade file changes, until ctx
// is done or the watcher stops. A failed reload keeps the current policy.
func WatchConfig(ctx context.Context, w *config.Watcher, r Reloader, logger *logging.Logger) {
	if logger == nil {
		logger = logging.Nop()
	}
	errs := w.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case path, ok := <-w.Changes():
			if !ok {
				return
			}
			logger.Info(ctx, "config file changed", zap.String("path", path))
			if _, err := r.Reload(ctx); err != nil {
				logger.Error(ctx, "config reload failed", zap.String("path", path), zap.Error(err))
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Warn(ctx, "config watcher error", zap.Error(err))
		}
	}
}
