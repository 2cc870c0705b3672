package promotion

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// Promoter represents the sweep behavior needed by the worker.
type Promoter interface {
	PromoteDue(ctx context.Context) (int, error)
}

// StartWorker launches a periodic promotion sweep across open sessions.
func StartWorker(ctx context.Context, logger *log.Logger, interval time.Duration, promoter Promoter) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := promoter.PromoteDue(ctx)
			if err != nil {
				logger.Warn("promotion sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("promotion sweep moved pending memories to long-term storage", "count", n)
			}
		}
	}
}
