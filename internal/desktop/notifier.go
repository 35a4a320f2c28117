// Package desktop holds the small OS integrations of the launcher: notifications,
// yes/no prompts, and surfacing the dashboard in a browser.
package desktop

import (
	"github.com/gen2brain/beeep"
	"go.uber.org/zap"
)

// AppName is shown as the notification source.
const AppName = "Sigma Launcher"

// Notifier posts desktop notifications through beeep.
type Notifier struct {
	logger *zap.SugaredLogger
	send   func(title, message string) error
}

// NewNotifier creates a notifier. Delivery failures are logged, never returned.
func NewNotifier(logger *zap.SugaredLogger) *Notifier {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	beeep.AppName = AppName
	return &Notifier{
		logger: logger,
		send: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
	}
}

// Notify shows a notification.
func (n *Notifier) Notify(title, message string) {
	n.logger.Infow("Notification", "title", title, "message", message)
	if err := n.send(title, message); err != nil {
		n.logger.Warnw("Failed to send notification", "title", title, "error", err)
	}
}
