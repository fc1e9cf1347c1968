package notify

import (
	"context"

	"github.com/slack-go/slack"
)

// SlackSink posts events to a Slack incoming webhook.
type SlackSink struct {
	url  string
	post func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

// NewSlack creates a sink for the webhook URL.
func NewSlack(url string) *SlackSink {
	return &SlackSink{url: url, post: slack.PostWebhookContext}
}

// Name implements Sink.
func (s *SlackSink) Name() string { return "slack" }

// Send implements Sink.
func (s *SlackSink) Send(ctx context.Context, evt Event) error {
	return s.post(ctx, s.url, buildWebhookMessage(evt))
}

// buildWebhookMessage renders an event as a single colored attachment.
func buildWebhookMessage(evt Event) *slack.WebhookMessage {
	att := slack.Attachment{
		Title:    evt.Title,
		Text:     evt.Body,
		Color:    evt.Color(),
		Fallback: evt.Title,
	}
	for _, f := range evt.Fields {
		att.Fields = append(att.Fields, slack.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Short,
		})
	}
	return &slack.WebhookMessage{
		Text:        evt.Title,
		Attachments: []slack.Attachment{att},
	}
}
