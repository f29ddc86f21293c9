package service

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BotSender adapts a BotAPI to domain.TelegramSender.
type BotSender struct {
	*tgbotapi.BotAPI
}

func (w *BotSender) GetSelf() tgbotapi.User {
	return w.Self
}

func NewBotSender(bot *tgbotapi.BotAPI) *BotSender {
	return &BotSender{BotAPI: bot}
}
