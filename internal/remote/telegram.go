package remote

import (
	"context"
	"fmt"
	"time"

	tele "gopkg.in/telebot.v4"

	"praxis/internal/content"
)

// TelegramAnnouncer posts an article headline to a channel. It serves
// the "other" publication channel; the dispatcher only sees its error.
type TelegramAnnouncer struct {
	bot  *tele.Bot
	chat *tele.Chat
}

func NewTelegramAnnouncer(token string, chatID int64) (*TelegramAnnouncer, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramAnnouncer{bot: bot, chat: &tele.Chat{ID: chatID}}, nil
}

func (t *TelegramAnnouncer) Publish(ctx context.Context, art *content.Article) error {
	text := fmt.Sprintf("<b>%s</b>\n\n%s", art.Title, art.Body)
	if len(text) > 4000 {
		text = text[:4000]
	}
	_, err := t.bot.Send(t.chat, text, tele.ModeHTML)
	if err != nil {
		return fmt.Errorf("telegram announce: %w", err)
	}
	return nil
}
