package messaging

import (
	"context"
	"fmt"
	"io"

	"github.com/line/line-bot-sdk-go/v7/linebot"
)

// LineMessenger delivers messages through the LINE Messaging API.
type LineMessenger struct {
	bot *linebot.Client
}

// NewLineMessenger wraps an already constructed SDK client.
func NewLineMessenger(bot *linebot.Client) *LineMessenger {
	return &LineMessenger{bot: bot}
}

// Reply answers the originating webhook event through its one-shot token.
func (m *LineMessenger) Reply(ctx context.Context, replyToken, text string) error {
	if _, err := m.bot.ReplyMessage(replyToken, linebot.NewTextMessage(text)).WithContext(ctx).Do(); err != nil {
		return fmt.Errorf("reply message: %w", err)
	}
	return nil
}

// Push sends a message addressed to a user identifier.
func (m *LineMessenger) Push(ctx context.Context, userID, text string) error {
	if _, err := m.bot.PushMessage(userID, linebot.NewTextMessage(text)).WithContext(ctx).Do(); err != nil {
		return fmt.Errorf("push message: %w", err)
	}
	return nil
}

// FetchImage downloads the raw image bytes of a message from the platform's
// content API.
func (m *LineMessenger) FetchImage(ctx context.Context, messageID string) ([]byte, error) {
	content, err := m.bot.GetMessageContent(messageID).WithContext(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get message content: %w", err)
	}
	defer content.Content.Close()

	data, err := io.ReadAll(content.Content)
	if err != nil {
		return nil, fmt.Errorf("read message content: %w", err)
	}
	return data, nil
}
