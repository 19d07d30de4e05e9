package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/winubot/trading-engine/internal/config"
	"github.com/winubot/trading-engine/internal/subscriptions"
)

// Telegram pushes operator alerts to a Telegram chat. Disabled instances
// swallow notifications, so callers never branch on configuration.
type Telegram struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	enabled bool
}

func NewTelegram(cfg config.TelegramConfig) *Telegram {
	if !cfg.Enabled {
		return &Telegram{enabled: false}
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Error().Err(err).Msg("failed to create telegram bot, alerts disabled")
		return &Telegram{enabled: false}
	}

	log.Info().Str("username", bot.Self.UserName).Msg("telegram bot connected")

	return &Telegram{bot: bot, chatID: cfg.ChatID, enabled: true}
}

// NotifyGap alerts operators about a payment activation gap.
func (t *Telegram) NotifyGap(gap subscriptions.PaymentActivationGap) {
	msg := fmt.Sprintf("⚠️ *Activation gap*\nUser: %s\nPlan: %s\nTx: %s\nAmount: %.2f\nCurrent status: %s",
		gap.UserID, gap.PlanID, gap.ProviderTxID, gap.Amount, gap.SubscriptionStatus)
	t.send(msg)
}

// NotifyStopTrading alerts operators that an account hit its daily loss
// limit.
func (t *Telegram) NotifyStopTrading(apiKeyID string, dailyPnl float64) {
	msg := fmt.Sprintf("🛑 *Stop trading*\nAccount: %s\nDaily PnL: %.2f", apiKeyID, dailyPnl)
	t.send(msg)
}

func (t *Telegram) send(text string) {
	if !t.enabled {
		return
	}

	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := t.bot.Send(msg); err != nil {
		log.Error().Err(err).Msg("failed to send telegram alert")
	}
}
