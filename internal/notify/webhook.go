package notify

import (
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Sink delivers human-readable notifications. Delivery is fire-and-forget:
// a failing sink must never block or fail the decision path that called it.
type Sink interface {
	Send(message string)
}

// WebhookSink posts notifications to a chat-webhook endpoint.
type WebhookSink struct {
	client *resty.Client
	url    string
	logger *zap.Logger
}

var _ Sink = (*WebhookSink)(nil)

// NewWebhookSink creates a sink for the given webhook URL. An empty URL
// yields a sink that only logs.
func NewWebhookSink(url string, logger *zap.Logger) *WebhookSink {
	client := resty.New().SetTimeout(5 * time.Second)
	return &WebhookSink{
		client: client,
		url:    url,
		logger: logger.Named("notify"),
	}
}

// Send delivers the message in the background. Errors are logged and dropped.
func (s *WebhookSink) Send(message string) {
	s.logger.Info("Notification", zap.String("message", message))
	if s.url == "" {
		return
	}

	go func() {
		_, err := s.client.R().
			SetHeader("Content-Type", "application/json").
			SetBody(map[string]string{"text": message}).
			Post(s.url)
		if err != nil {
			s.logger.Warn("Failed to deliver notification", zap.Error(err))
		}
	}()
}

// NopSink discards all notifications. Useful in tests and dry runs.
type NopSink struct{}

var _ Sink = (*NopSink)(nil)

// Send implements Sink.
func (NopSink) Send(string) {}
