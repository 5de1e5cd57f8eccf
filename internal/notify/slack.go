// Package notify implements the fire-and-forget ops notification hook the
// Worker calls after a failed settlement commits.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"
)

// SlackNotifier posts a one-line notice to a configured channel on task
// failure. A SlackNotifier built by NewSlackNotifier without a bot token or
// channel is a no-op.
type SlackNotifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewSlackNotifier builds a SlackNotifier. If botToken or channel is empty,
// the notifier disables itself rather than failing.
func NewSlackNotifier(botToken, channel string, logger *slog.Logger) *SlackNotifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &SlackNotifier{client: client, channel: channel, logger: logger}
}

// IsEnabled reports whether this notifier has a usable client and channel.
func (n *SlackNotifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// NotifyTaskFailed implements worker.Notifier. A Slack failure is returned
// wrapped; the Worker logs it and continues, since notification is
// fire-and-forget.
func (n *SlackNotifier) NotifyTaskFailed(ctx context.Context, taskID, resultCode string) error {
	if !n.IsEnabled() {
		n.logger.DebugContext(ctx, "slack notifier disabled, skipping task failure notice",
			slog.String("task_id", taskID), slog.String("result_code", resultCode))
		return nil
	}

	text := fmt.Sprintf(":warning: task `%s` failed: `%s`", taskID, resultCode)
	_, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("posting task failure notice to slack: %w", err)
	}
	return nil
}
