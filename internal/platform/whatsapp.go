// Package platform adapts messaging platforms to the domain.Platform
// port. Adapters classify failures but never retry; the orchestrator
// owns the attempt budget.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"docverse/internal/domain"
)

const whatsappAPIBase = "https://graph.facebook.com/v21.0"

// StaticCredentials is a CredentialProvider over a fixed token from
// config. Token refresh lives outside the core.
type StaticCredentials struct {
	Token string
}

func (s StaticCredentials) CurrentToken(ctx context.Context) (string, error) {
	if s.Token == "" {
		return "", &domain.AuthError{Op: "credentials", Err: errors.New("no access token configured")}
	}
	return s.Token, nil
}

// WhatsAppConfig configures the WhatsApp Cloud API adapter.
type WhatsAppConfig struct {
	PhoneNumberID string
	BaseURL       string // defaults to the Graph API; overridable for tests
	Timeout       time.Duration
	Logger        *slog.Logger
}

// WhatsApp implements domain.Platform for the WhatsApp Business Cloud API.
type WhatsApp struct {
	phoneNumberID string
	baseURL       string
	creds         domain.CredentialProvider
	client        *http.Client
	logger        *slog.Logger
}

func NewWhatsApp(cfg WhatsAppConfig, creds domain.CredentialProvider) *WhatsApp {
	base := cfg.BaseURL
	if base == "" {
		base = whatsappAPIBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WhatsApp{
		phoneNumberID: cfg.PhoneNumberID,
		baseURL:       strings.TrimSuffix(base, "/"),
		creds:         creds,
		client:        &http.Client{Timeout: timeout},
		logger:        cfg.Logger,
	}
}

// SendText delivers a text message and returns the platform message id.
func (w *WhatsApp) SendText(ctx context.Context, recipient, body string) (string, error) {
	token, err := w.creds.CurrentToken(ctx)
	if err != nil {
		return "", err
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                recipient,
		"type":              "text",
		"text":              map[string]any{"preview_url": false, "body": body},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", w.baseURL, w.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", &domain.TransientError{Op: "whatsapp send", Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", classify("whatsapp send", resp.StatusCode, respBody)
	}

	var out struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil || len(out.Messages) == 0 {
		// Delivered but the id is missing; not worth failing the send.
		w.logger.Warn("whatsapp send: no message id in response")
		return "", nil
	}
	return out.Messages[0].ID, nil
}

// FetchMedia resolves the media id to a signed URL, then downloads the
// bytes. Both steps authenticate with the current token.
func (w *WhatsApp) FetchMedia(ctx context.Context, ref domain.MediaRef) ([]byte, error) {
	token, err := w.creds.CurrentToken(ctx)
	if err != nil {
		return nil, err
	}

	mediaURL, err := w.resolveMediaURL(ctx, ref.ID, token)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", mediaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, &domain.TransientError{Op: "whatsapp media download", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classify("whatsapp media download", resp.StatusCode, body)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransientError{Op: "whatsapp media download", Err: err}
	}
	w.logger.Debug("media downloaded", "media", ref.ID, "bytes", len(data))
	return data, nil
}

func (w *WhatsApp) resolveMediaURL(ctx context.Context, mediaID, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", w.baseURL+"/"+mediaID, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", &domain.TransientError{Op: "whatsapp media lookup", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", classify("whatsapp media lookup", resp.StatusCode, body)
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.URL == "" {
		return "", &domain.PermanentError{Op: "whatsapp media lookup", Err: errors.New("no media url in response")}
	}
	return out.URL, nil
}

// classify maps an HTTP status to the error taxonomy. The Graph API
// reports expired tokens as 401, but also as 400 with an access-token
// message, so the body is checked too.
func classify(op string, status int, body []byte) error {
	cause := fmt.Errorf("HTTP %d: %s", status, truncate(body, 300))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &domain.AuthError{Op: op, Err: cause}
	case status == http.StatusBadRequest && bytes.Contains(bytes.ToLower(body), []byte("access token")):
		return &domain.AuthError{Op: op, Err: cause}
	case status == http.StatusTooManyRequests || status >= 500:
		return &domain.TransientError{Op: op, Err: cause}
	default:
		return &domain.PermanentError{Op: op, Err: cause}
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
