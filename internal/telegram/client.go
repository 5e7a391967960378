// Package telegram sends report summaries and pipeline alerts via the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/adreport/internal/models"
)

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "ping":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Pong")
		c.bot.Send(reply) //nolint:errcheck
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a pipeline error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(runErr error) error {
	text := fmt.Sprintf("⚠️ *Report run failed*\n`%s`", escapeMarkdownV2(runErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Report runs recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// SendSummary sends the key metrics of a report.
func (c *Client) SendSummary(data *models.NotificationData) error {
	return c.sendMarkdownV2(formatSummary(data))
}

// formatSummary formats key metrics and the top domains into a MarkdownV2 message.
func formatSummary(data *models.NotificationData) string {
	var b strings.Builder

	b.WriteString("📈 *AdSense Report*\n")
	b.WriteString(fmt.Sprintf("📅 %s\n\n", escapeMarkdownV2(data.ReportDate)))

	b.WriteString(fmt.Sprintf("Today: *%s*\n", money(data.KeyMetrics.Today)))
	b.WriteString(fmt.Sprintf("Yesterday: *%s*", money(data.KeyMetrics.Yesterday)))
	if ch := data.YesterdayChange; ch.ShowComparison {
		emoji := "➡️"
		switch ch.Direction {
		case models.DirectionUp:
			emoji = "📈"
		case models.DirectionDown:
			emoji = "📉"
		}
		b.WriteString(fmt.Sprintf(" %s %s vs last week", emoji, escapeMarkdownV2(fmt.Sprintf("%+.2f (%+.1f%%)", ch.Amount, ch.Percentage))))
	}
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("This month: *%s*\n", money(data.KeyMetrics.ThisMonth)))

	const topDomains = 3
	if len(data.DomainBreakdown) > 0 {
		b.WriteString("\n🌐 *Top domains*\n")
		for i, d := range data.DomainBreakdown {
			if i == topDomains {
				break
			}
			b.WriteString(fmt.Sprintf("%d\\. %s: %s\n", i+1, escapeMarkdownV2(d.Domain), money(d.Metrics.Get(models.LabelEarnings))))
		}
	}

	return b.String()
}

func money(v float64) string {
	return escapeMarkdownV2(fmt.Sprintf("%.2f", v))
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
