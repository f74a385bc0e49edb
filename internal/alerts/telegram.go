package alerts

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/sirupsen/logrus"
)

// TelegramNotifier sends a single summary message per analytics run to a
// configured chat.
type TelegramNotifier struct {
	bot    *bot.Bot
	chatID int64
	logger *logrus.Logger
}

func NewTelegramNotifier(token string, chatID int64, logger *logrus.Logger) (*TelegramNotifier, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: b, chatID: chatID, logger: logger}, nil
}

func (t *TelegramNotifier) Notify(ctx context.Context, alerts []Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("Market signals\n")
	for _, alert := range alerts {
		fmt.Fprintf(&sb, "%s %s (%s): price %.4f, RSI %.1f\n",
			alert.Signal, strings.ToUpper(alert.Symbol), alert.AssetID, alert.Price, alert.RSI)
	}

	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   sb.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram alert: %w", err)
	}

	t.logger.WithField("alerts", len(alerts)).Info("Telegram alert sent")
	return nil
}
