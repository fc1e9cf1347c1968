package notify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bwmarrin/discordgo"
)

// webhookSession abstracts the discordgo.Session method we use, enabling
// test mocks.
type webhookSession interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordSink posts events to a Discord webhook.
type DiscordSink struct {
	id    string
	token string
	sess  webhookSession
}

// NewDiscord creates a sink for the webhook. Executing a webhook needs no
// bot token; the webhook token authenticates the request.
func NewDiscord(id, token string) (*DiscordSink, error) {
	if id == "" || token == "" {
		return nil, fmt.Errorf("notify: discord webhook id and token are required")
	}
	dg, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("notify: discord session: %w", err)
	}
	return &DiscordSink{id: id, token: token, sess: dg}, nil
}

// Name implements Sink.
func (d *DiscordSink) Name() string { return "discord" }

// Send implements Sink.
func (d *DiscordSink) Send(ctx context.Context, evt Event) error {
	_, err := d.sess.WebhookExecute(d.id, d.token, false, buildWebhookParams(evt), discordgo.WithContext(ctx))
	return err
}

// buildWebhookParams renders an event as a single embed.
func buildWebhookParams(evt Event) *discordgo.WebhookParams {
	embed := &discordgo.MessageEmbed{
		Title:       evt.Title,
		Description: evt.Body,
		Color:       parseHexColor(evt.Color()),
	}
	for _, f := range evt.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Short,
		})
	}
	return &discordgo.WebhookParams{Embeds: []*discordgo.MessageEmbed{embed}}
}

// parseHexColor converts a hex color string (e.g. "#36a64f") to an int.
func parseHexColor(hex string) int {
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	v, err := strconv.ParseInt(hex, 16, 32)
	if err != nil {
		return 0
	}
	return int(v)
}
