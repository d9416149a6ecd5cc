// Package notify pushes session notifications to users who are not watching:
// turn completion (debounced), pending approvals, and agent questions.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/Lmdudester/Clawd-sub001/internal/common/logger"
)

// Notification is one push message.
type Notification struct {
	SessionID   string
	SessionName string
	Title       string
	Body        string
}

// Provider delivers notifications through one channel.
type Provider interface {
	Name() string
	Available() bool
	Send(ctx context.Context, n Notification) error
}

// Notifier fans one notification out to every available provider.
type Notifier struct {
	providers []Provider
	logger    *logger.Logger
}

// NewNotifier creates a notifier over the given providers.
func NewNotifier(log *logger.Logger, providers ...Provider) *Notifier {
	return &Notifier{
		providers: providers,
		logger:    log.WithFields(zap.String("component", "notifier")),
	}
}

// Send delivers n through every available provider. Provider failures are
// logged; one failing channel never blocks the others.
func (n *Notifier) Send(ctx context.Context, notification Notification) {
	for _, p := range n.providers {
		if !p.Available() {
			continue
		}
		if err := p.Send(ctx, notification); err != nil {
			n.logger.Warn("notification send failed",
				zap.String("provider", p.Name()),
				zap.String("session_id", notification.SessionID),
				zap.Error(err))
		}
	}
}
