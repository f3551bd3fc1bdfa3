package notify

import (
	"context"
	"time"
)

const discordColor = 0x2F80ED

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp,omitempty"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// DiscordSender posts each notification to a webhook as a single embed.
type DiscordSender struct {
	webhookURL string
	poster     *poster
	now        func() time.Time
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
// Webhooks allow roughly thirty messages a minute.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		poster:     newPoster("discord", 0.5),
		now:        time.Now,
	}
}

func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return d.poster.post(ctx, d.webhookURL, discordPayload{Embeds: []discordEmbed{{
		Title:       title,
		Description: message,
		Color:       discordColor,
		Timestamp:   d.now().UTC().Format(time.RFC3339),
	}}})
}

func (d *DiscordSender) Name() string { return "discord" }
