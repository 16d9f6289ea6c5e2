package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const screenshotFileName = "tradingview_screenshot.png"

// Client delivers formatted notifications to the configured webhook URL.
// Discord-shaped webhook URLs go through discordgo so file attachments get
// the proper multipart encoding; anything else gets a plain POST of
// {"content": ...} or an equivalent multipart form.
type Client struct {
	logger  *zap.Logger
	session *discordgo.Session
	client  *http.Client
}

func NewClient(logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Webhook execution needs no bot token.
	session, err := discordgo.New("")
	if err != nil {
		logger.Warn("failed to create discord session, falling back to generic POST", zap.Error(err))
		session = nil
	}

	return &Client{
		logger:  logger,
		session: session,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// SendText delivers a text-only message.
func (c *Client) SendText(ctx context.Context, webhookURL, content string) error {
	if id, token, ok := parseDiscordWebhookURL(webhookURL); ok && c.session != nil {
		_, err := c.session.WebhookExecute(id, token, false,
			&discordgo.WebhookParams{Content: content},
			discordgo.WithContext(ctx),
		)
		if err != nil {
			return fmt.Errorf("discord webhook execute: %w", err)
		}
		c.logger.Info("sent webhook message", zap.Int("contentLen", len(content)))
		return nil
	}

	return c.postJSON(ctx, webhookURL, content)
}

// SendImage delivers a message with a PNG screenshot attached.
func (c *Client) SendImage(ctx context.Context, webhookURL, content string, image []byte) error {
	if id, token, ok := parseDiscordWebhookURL(webhookURL); ok && c.session != nil {
		_, err := c.session.WebhookExecute(id, token, false,
			&discordgo.WebhookParams{
				Content: content,
				Files: []*discordgo.File{{
					Name:        screenshotFileName,
					ContentType: "image/png",
					Reader:      bytes.NewReader(image),
				}},
			},
			discordgo.WithContext(ctx),
		)
		if err != nil {
			return fmt.Errorf("discord webhook execute with file: %w", err)
		}
		c.logger.Info("sent webhook message with screenshot",
			zap.Int("contentLen", len(content)),
			zap.Int("imageBytes", len(image)),
		)
		return nil
	}

	return c.postMultipart(ctx, webhookURL, content, image)
}

func (c *Client) postJSON(ctx context.Context, webhookURL, content string) error {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

func (c *Client) postMultipart(ctx context.Context, webhookURL, content string, image []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("content", content); err != nil {
		return fmt.Errorf("write content field: %w", err)
	}
	part, err := w.CreateFormFile("file", screenshotFileName)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return fmt.Errorf("write file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, &buf)
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	return c.do(req)
}

func (c *Client) do(req *http.Request) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	c.logger.Info("sent webhook message", zap.Int("status", resp.StatusCode))
	return nil
}

// parseDiscordWebhookURL extracts the webhook ID and token from a Discord
// webhook URL (https://discord.com/api/webhooks/<id>/<token>).
func parseDiscordWebhookURL(raw string) (id, token string, ok bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", false
	}

	host := strings.ToLower(u.Hostname())
	if host != "discord.com" && host != "discordapp.com" &&
		!strings.HasSuffix(host, ".discord.com") && !strings.HasSuffix(host, ".discordapp.com") {
		return "", "", false
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 4 || parts[0] != "api" || parts[1] != "webhooks" {
		return "", "", false
	}
	if parts[2] == "" || parts[3] == "" {
		return "", "", false
	}

	return parts[2], parts[3], true
}
