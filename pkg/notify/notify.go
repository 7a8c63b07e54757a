// Package notify implements per-offering failure and anomaly
// notification over Slack, narrowed from the teacher's general-purpose
// pkg/slack.Notifier down to the one outbound message this core needs:
// "something in this offering's reconciliation needs a human."
package notify

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"
)

// Notifier posts reconciliation failures to one Slack channel per
// offering. A Notifier with an empty channel posts nothing and logs each
// notification as a warning instead, gated like the teacher's IsEnabled.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// New builds a Notifier. If botToken or channel is empty the Notifier
// posts nothing to Slack and logs every notification as a warning.
func New(botToken, channel string, logger *slog.Logger) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{client: client, channel: channel, logger: logger}
}

func (n *Notifier) enabled() bool {
	return n.client != nil && n.channel != ""
}

// ReconciliationFailure reports that processing lane failed for an entity
// within an offering.
func (n *Notifier) ReconciliationFailure(ctx context.Context, offering, lane, entityUUID string, cause error) {
	if !n.enabled() {
		n.logger.Warn("reconciliation failure (notifier disabled)",
			"offering", offering, "lane", lane, "entity", entityUUID, "error", cause)
		return
	}
	text := fmt.Sprintf(":warning: [%s/%s] %s failed: %v", offering, lane, entityUUID, cause)
	if _, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false)); err != nil {
		n.logger.Error("posting reconciliation failure to slack", "error", err)
	}
}

// UsageAnomaly reports a rejected usage submission (spec.md §4.7 step 3).
func (n *Notifier) UsageAnomaly(ctx context.Context, offering, resourceUUID, component string) {
	if !n.enabled() {
		n.logger.Warn("usage anomaly (notifier disabled)",
			"offering", offering, "resource", resourceUUID, "component", component)
		return
	}
	text := fmt.Sprintf(":rotating_light: [%s] usage anomaly on resource %s, component %s: submission rejected for this cycle",
		offering, resourceUUID, component)
	if _, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false)); err != nil {
		n.logger.Error("posting usage anomaly to slack", "error", err)
	}
}
