package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"docverse/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramConfig configures the Telegram Bot API adapter.
type TelegramConfig struct {
	Token   string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Telegram implements domain.Platform over the Bot API. Recipients are
// chat ids in decimal form; media refs are Bot API file ids.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	client *http.Client
	logger *slog.Logger
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg.Logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)
	return &Telegram{
		bot:    bot,
		client: &http.Client{Timeout: timeout},
		logger: cfg.Logger,
	}, nil
}

func (t *Telegram) SendText(ctx context.Context, recipient, body string) (string, error) {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return "", &domain.PermanentError{Op: "telegram send", Err: fmt.Errorf("malformed recipient %q", recipient)}
	}

	sent, err := t.bot.Send(tgbotapi.NewMessage(chatID, body))
	if err != nil {
		return "", classifyTelegram("telegram send", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

func (t *Telegram) FetchMedia(ctx context.Context, ref domain.MediaRef) ([]byte, error) {
	url, err := t.bot.GetFileDirectURL(ref.ID)
	if err != nil {
		return nil, classifyTelegram("telegram media lookup", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &domain.TransientError{Op: "telegram media download", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classify("telegram media download", resp.StatusCode, body)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransientError{Op: "telegram media download", Err: err}
	}
	t.logger.Debug("media downloaded", "file", ref.ID, "bytes", len(data))
	return data, nil
}

// classifyTelegram maps Bot API errors onto the taxonomy. The library
// surfaces API failures as *tgbotapi.Error with the HTTP-style code.
func classifyTelegram(op string, err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return &domain.AuthError{Op: op, Err: err}
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return &domain.TransientError{Op: op, Err: err}
		default:
			return &domain.PermanentError{Op: op, Err: err}
		}
	}
	// Plain transport errors (timeouts, refused connections).
	return &domain.TransientError{Op: op, Err: err}
}
