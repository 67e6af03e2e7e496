// Package channel is the inbound HTTP edge: the platform webhook plus
// the health and metrics endpoints. The webhook acknowledges fast and
// hands events to the bus; all real work happens behind it.
package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"time"

	"docverse/internal/domain"
	"docverse/internal/metrics"
)

// Publisher is where accepted events go.
type Publisher interface {
	Publish(msg domain.InboundMessage)
}

// WebhookConfig configures the webhook server.
type WebhookConfig struct {
	Port        int
	Path        string // webhook URL path (default: /webhook)
	VerifyToken string // expected hub.verify_token on GET verification
	AppSecret   string // HMAC secret; empty disables signature checks
	Logger      *slog.Logger
}

// Webhook accepts platform event deliveries over HTTP.
type Webhook struct {
	port        int
	path        string
	verifyToken string
	appSecret   string
	bus         Publisher
	logger      *slog.Logger
	server      *http.Server
}

func NewWebhook(cfg WebhookConfig, bus Publisher) *Webhook {
	if cfg.Path == "" {
		cfg.Path = "/webhook"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	return &Webhook{
		port:        cfg.Port,
		path:        cfg.Path,
		verifyToken: cfg.VerifyToken,
		appSecret:   cfg.AppSecret,
		bus:         bus,
		logger:      cfg.Logger,
	}
}

// Handler returns the full HTTP surface, also used directly in tests.
func (w *Webhook) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+w.path, w.handleVerification)
	mux.HandleFunc("POST "+w.path, w.handleEvents)
	mux.HandleFunc("GET /healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, "ok")
	})
	mux.Handle("GET /metrics", metrics.Collector.Handler())
	return mux
}

// Start runs the server until ctx is cancelled.
func (w *Webhook) Start(ctx context.Context) error {
	w.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", w.port),
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("webhook server starting", "port", w.port, "path", w.path)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

// handleVerification answers the platform's subscription challenge.
func (w *Webhook) handleVerification(rw http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == w.verifyToken {
		w.logger.Info("webhook verified")
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, html.EscapeString(challenge))
		return
	}

	w.logger.Warn("webhook verification failed", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

// handleEvents accepts one delivery batch. The 200 goes out as soon as
// events are on the bus; slow handling here would only earn a
// redelivery of the same batch.
func (w *Webhook) handleEvents(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if w.appSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !verifySignature(body, w.appSecret, sig) {
			w.logger.Warn("invalid webhook signature")
			http.Error(rw, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.logger.Warn("bad webhook payload", "err", err)
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}

	for _, msg := range payload.messages() {
		inbound := msg.toInbound()
		w.logger.Info("event received",
			"kind", inbound.Kind, "from", inbound.Sender, "message", inbound.MessageID)
		w.bus.Publish(inbound)
	}

	rw.WriteHeader(http.StatusOK)
}

// verifySignature checks the X-Hub-Signature-256 header.
func verifySignature(body []byte, secret, signature string) bool {
	if len(signature) < 8 || signature[:7] != "sha256=" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature[7:]), []byte(computed))
}

// Cloud API webhook payload types.

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Messages         []waMessage `json:"messages"`
}

type waMessage struct {
	From     string      `json:"from"`
	ID       string      `json:"id"`
	Type     string      `json:"type"`
	Text     *waText     `json:"text,omitempty"`
	Document *waDocument `json:"document,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

type waDocument struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
}

func (p waPayload) messages() []waMessage {
	var out []waMessage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			out = append(out, change.Value.Messages...)
		}
	}
	return out
}

// toInbound classifies the event once, at the edge.
func (m waMessage) toInbound() domain.InboundMessage {
	inbound := domain.InboundMessage{
		MessageID:  m.ID,
		Sender:     m.From,
		Kind:       domain.KindOther,
		ReceivedAt: time.Now().UTC(),
	}
	switch {
	case m.Type == "text" && m.Text != nil:
		inbound.Kind = domain.KindText
		inbound.Text = m.Text.Body
	case m.Type == "document" && m.Document != nil:
		inbound.Kind = domain.KindDocument
		inbound.Media = &domain.MediaRef{
			ID:       m.Document.ID,
			Filename: m.Document.Filename,
			MimeType: m.Document.MimeType,
			Caption:  m.Document.Caption,
		}
	}
	return inbound
}
