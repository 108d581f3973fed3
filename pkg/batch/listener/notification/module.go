package notification

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/config"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

// NewListenerProvider creates the notification listener. The summary is
// always logged and additionally posted when a webhook is configured.
func NewListenerProvider(cfg *config.Config) port.BatchListener {
	notifiers := []Notifier{NewLogNotifier()}
	if nc := cfg.Cirrus.Notification; nc.WebhookURL != "" {
		notifiers = append(notifiers, NewWebhookNotifier(nc.WebhookURL, nc.Timeout))
		logger.Debugf("Notification: run summary will be posted to '%s'.", nc.WebhookURL)
	}
	return NewListener(notifiers...)
}

// Module provides the notification listener to the batch listener group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewListenerProvider,
		fx.ResultTags(`group:"batch_listeners"`),
	)),
)
