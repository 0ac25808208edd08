// Package notifications posts pipeline run outcomes to Slack.
package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
)

// messagePoster is the slice of the Slack client the notifier uses.
type messagePoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Notifier posts run notifications to one Slack channel. A Notifier built
// without a token is disabled and every call becomes a no-op.
type Notifier struct {
	client  messagePoster
	channel string
}

// NewNotifier creates a Slack notifier. An empty token disables delivery.
func NewNotifier(token, channel string) *Notifier {
	n := &Notifier{channel: channel}
	if token != "" && channel != "" {
		n.client = slack.New(token)
	}
	return n
}

// RunSummary describes a completed pipeline run.
type RunSummary struct {
	JobID    string
	Site     string
	Pages    int
	Flagged  int
	Duration time.Duration
}

// NotifyRunComplete posts a completion message. Delivery failure is
// logged, never returned; notifications must not fail a run.
func (n *Notifier) NotifyRunComplete(ctx context.Context, summary RunSummary) {
	if n.client == nil {
		return
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn",
				fmt.Sprintf(":white_check_mark: *SEO report complete: %s*", summary.Site),
				false, false),
			nil, nil,
		),
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn",
				fmt.Sprintf("%d pages analysed, %d flagged, finished in %s",
					summary.Pages, summary.Flagged, formatDuration(summary.Duration)),
				false, false),
			nil, nil,
		),
	}

	fallback := fmt.Sprintf("SEO report complete: %s (%d pages, %d flagged)",
		summary.Site, summary.Pages, summary.Flagged)

	_, _, err := n.client.PostMessageContext(ctx, n.channel,
		slack.MsgOptionBlocks(blocks...),
		slack.MsgOptionText(fallback, false),
	)
	if err != nil {
		log.Warn().Err(err).Str("job_id", summary.JobID).Msg("Failed to send Slack notification")
		return
	}

	log.Info().
		Str("job_id", summary.JobID).
		Str("channel", n.channel).
		Msg("Slack run notification sent")
}

// NotifyRunFailed posts a failure message.
func (n *Notifier) NotifyRunFailed(ctx context.Context, jobID, site, errorMessage string) {
	if n.client == nil {
		return
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn",
				fmt.Sprintf(":x: *SEO report failed: %s*", site),
				false, false),
			nil, nil,
		),
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", errorMessage, false, false),
			nil, nil,
		),
	}

	_, _, err := n.client.PostMessageContext(ctx, n.channel,
		slack.MsgOptionBlocks(blocks...),
		slack.MsgOptionText(fmt.Sprintf("SEO report failed: %s", site), false),
	)
	if err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("Failed to send Slack notification")
		return
	}

	log.Info().
		Str("job_id", jobID).
		Str("channel", n.channel).
		Msg("Slack failure notification sent")
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
