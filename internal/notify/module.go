package notify

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/esimlab/esimbroker/internal/config"
)

// Module wires the webhook notifier behind both notification interfaces.
var Module = fx.Options(
	fx.Provide(newNotifier),
	fx.Provide(
		func(n *WebhookNotifier) UserNotifier { return n },
		func(n *WebhookNotifier) OperatorAlerter { return n },
	),
)

func newNotifier(cfg *config.Config, logger *slog.Logger) *WebhookNotifier {
	return NewWebhookNotifier(cfg.UserWebhookURL, cfg.OperatorWebhookURL, logger)
}
