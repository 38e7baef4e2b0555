// Package telegram pushes notifications to a configured chat. The
// worker uses it as an optional external channel alongside the in-app
// store.
package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Client struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func New(token string, chatID int64) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Client{bot: bot, chatID: chatID}, nil
}

// Send posts a message to the configured chat.
func (c *Client) Send(title, body string) error {
	text := title
	if body != "" {
		text = title + "\n" + body
	}
	msg := tgbotapi.NewMessage(c.chatID, text)
	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
