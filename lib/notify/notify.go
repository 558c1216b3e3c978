// Package notify defines where balance change notifications and audit entries are delivered.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Sink delivers a message to a recipient. Delivery is attempted once.
type Sink interface {
	Deliver(ctx context.Context, recipient, message string) error
}

// ErrDelivery is returned when the receiver did not accept the message.
var ErrDelivery = errors.New("message not accepted")

// Webhook posts messages to a Discord compatible webhook. The recipient is ignored.
type Webhook struct {
	c   *resty.Client
	url string
}

type payload struct {
	Content string `json:"content"`
}

// NewWebhook returns a sink posting to url.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	return &Webhook{
		c:   resty.New().SetTimeout(timeout).SetHeader("Content-Type", "application/json"),
		url: url,
	}
}

// Deliver posts {"content": message}. Only 204 No Content counts as delivered.
func (w *Webhook) Deliver(ctx context.Context, _, message string) error {
	resp, err := w.c.R().SetContext(ctx).SetBody(payload{Content: message}).Post(w.url)
	if err != nil {
		return fmt.Errorf("cannot post to webhook: %w", err)
	}

	if resp.StatusCode() != http.StatusNoContent {
		return fmt.Errorf("%w: %s %s", ErrDelivery, resp.Status(), resp.String())
	}

	return nil
}
