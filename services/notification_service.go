package services

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	"backend_dooh/config"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Notifier отправляет оповещения оператору
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// LogNotifier пишет оповещения в лог; используется, когда Telegram не настроен
type LogNotifier struct {
	Log zerolog.Logger
}

func (n LogNotifier) Notify(_ context.Context, message string) error {
	n.Log.Info().Str("notification", message).Msg("notification")
	return nil
}

// TelegramNotifier отправляет оповещения в чат Telegram
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
}

// NewTelegramNotifier авторизует бота
func NewTelegramNotifier(cfg config.TelegramConfig, log zerolog.Logger) (*TelegramNotifier, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(cfg.ChatID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat ID: %s", cfg.ChatID)
	}
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	bot.Debug = false

	log.Info().Str("bot", bot.Self.UserName).Msg("telegram bot authorized")
	return &TelegramNotifier{bot: bot, chatID: chatID, log: log}, nil
}

// NewNotifier возвращает TelegramNotifier при заданном токене, иначе LogNotifier
func NewNotifier(cfg config.TelegramConfig, log zerolog.Logger) Notifier {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return LogNotifier{Log: log}
	}
	n, err := NewTelegramNotifier(cfg, log)
	if err != nil {
		log.Warn().Err(err).Msg("telegram unavailable, notifications go to the log")
		return LogNotifier{Log: log}
	}
	return n
}

// Notify отправляет HTML сообщение
func (n *TelegramNotifier) Notify(_ context.Context, message string) error {
	msg := tgbotapi.NewMessage(n.chatID, message)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// FormatExpiryAlert формирует текст оповещения о сроках документов (HTML разметка Telegram)
func FormatExpiryAlert(report *ExpiryReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Documents check %s</b>\n", report.Date)
	fmt.Fprintf(&b, "expired: %d, expiring within %d days: %d\n",
		report.Counts[ExpiryExpired], report.Window, report.Counts[ExpiryExpiring])

	section := func(title string, items []ExpiryReportItem) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n<b>%s</b>\n", title)
		for _, it := range items {
			fmt.Fprintf(&b, "• %s: %s, %s (%s)\n",
				html.EscapeString(it.EntityName), html.EscapeString(it.Type), it.ExpiryDate, daysText(it.DaysLeft))
		}
	}
	section("Expired", report.Expired)
	section("Expiring", report.Expiring)

	if len(report.Vehicles) > 0 {
		b.WriteString("\n<b>Vehicles</b>\n")
		for _, v := range report.Vehicles {
			fmt.Fprintf(&b, "• %s\n", html.EscapeString(v.Text))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatRefreshSummary формирует текст итогов пакетного обновления городов
func FormatRefreshSummary(results []*RefreshResult) string {
	var applied, pending, failed []string
	for _, r := range results {
		switch r.Status {
		case RefreshApplied:
			applied = append(applied, r.City)
		case RefreshNeedsConfirmation:
			pending = append(pending, r.City)
		default:
			failed = append(failed, r.City)
		}
	}
	var b strings.Builder
	b.WriteString("<b>City data refresh</b>\n")
	fmt.Fprintf(&b, "applied: %d, awaiting confirmation: %d, failed: %d", len(applied), len(pending), len(failed))
	if len(pending) > 0 {
		fmt.Fprintf(&b, "\nconfirm: %s", html.EscapeString(strings.Join(pending, ", ")))
	}
	if len(failed) > 0 {
		fmt.Fprintf(&b, "\nfailed: %s", html.EscapeString(strings.Join(failed, ", ")))
	}
	return b.String()
}

func daysText(days int) string {
	switch {
	case days < 0:
		return fmt.Sprintf("%d days ago", -days)
	case days == 0:
		return "today"
	}
	return fmt.Sprintf("in %d days", days)
}
