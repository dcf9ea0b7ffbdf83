// Package notify delivers trade and alert notifications to users. Every
// notifier is best-effort: failures are logged and never reach the caller.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/xtrntr/tradebot/internal/market"
	"github.com/xtrntr/tradebot/internal/models"
)

var (
	_ market.Notifier = Fanout(nil)
	_ market.Notifier = (*LogNotifier)(nil)
)

// Fanout sends each notification to every notifier in order
type Fanout []market.Notifier

func (f Fanout) Notify(ctx context.Context, n models.Notification) {
	for _, notifier := range f {
		notifier.Notify(ctx, n)
	}
}

// LogNotifier writes notifications to the log
type LogNotifier struct {
	Logger *zap.Logger
}

func (l *LogNotifier) Notify(ctx context.Context, n models.Notification) {
	l.Logger.Info("Notification",
		zap.Int64("user_id", n.UserID),
		zap.String("kind", string(n.Kind)),
		zap.String("symbol", n.Symbol),
		zap.String("message", n.Message))
}
