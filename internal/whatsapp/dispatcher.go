package whatsapp

import (
	"context"
	"errors"
	"strings"

	"corretora/api/internal/oplog"
	"corretora/api/internal/phone"
)

// Credentials are resolved by the caller (settings cache merged over env
// config) and passed in per call, never held as package state.
type Credentials struct {
	BaseURL string
	APIKey  string
}

func (c Credentials) configured() bool {
	return strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.BaseURL) != ""
}

// sender is the single-call gateway surface, satisfied by *Client.
type sender interface {
	Send(ctx context.Context, baseURL, apiKey, number, message string, isGroup bool) error
}

// Dispatcher sends one message to one recipient and records the attempt in
// the operation log. It fails closed: every error is converted to a false
// return, with the diagnostic detail kept in the log.
type Dispatcher struct {
	client sender
	log    *oplog.Log
}

func NewDispatcher(client *Client, log *oplog.Log) *Dispatcher {
	return &Dispatcher{client: client, log: log}
}

func newDispatcherWithSender(client sender, log *oplog.Log) *Dispatcher {
	return &Dispatcher{client: client, log: log}
}

// Send dispatches a single message. A missing credential or an invalid phone
// number is resolved at this boundary and never reaches the gateway.
func (d *Dispatcher) Send(ctx context.Context, creds Credentials, rawPhone, message string, isGroup bool) bool {
	if !creds.configured() {
		d.log.Error("configuration", "whatsapp api key not configured", nil)
		return false
	}

	number, err := phone.Normalize(rawPhone)
	if err != nil {
		d.log.Error("format-phone", "invalid phone number", map[string]string{
			"phone": rawPhone,
			"error": err.Error(),
		})
		return false
	}

	if err := d.client.Send(ctx, creds.BaseURL, creds.APIKey, number, message, isGroup); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			d.log.Error("send-message", "gateway rejected message", map[string]any{
				"number": number,
				"status": apiErr.Status,
				"body":   apiErr.Body,
			})
		} else {
			d.log.Error("api-request", "gateway call failed", map[string]string{
				"number": number,
				"error":  err.Error(),
			})
		}
		return false
	}

	d.log.Info("send-message", "message sent", map[string]string{"number": number})
	return true
}

// RecipientResult is one recipient's outcome inside a bulk notification.
type RecipientResult struct {
	Phone string `json:"phone"`
	Sent  bool   `json:"sent"`
}

// Summary aggregates a bulk notification run.
type Summary struct {
	Sent    int               `json:"sent"`
	Skipped int               `json:"skipped"`
	Results []RecipientResult `json:"results"`
}

// Notifier fans one message out to the configured recipient list,
// sequentially, so partial-failure accounting stays ordered.
type Notifier struct {
	dispatcher *Dispatcher
}

func NewNotifier(dispatcher *Dispatcher) *Notifier {
	return &Notifier{dispatcher: dispatcher}
}

// NotifyAll sends message to every non-blank recipient. One recipient's
// failure never aborts the loop; the caller decides whether zero successes
// is a total failure.
func (n *Notifier) NotifyAll(ctx context.Context, creds Credentials, recipients []string, message string) Summary {
	summary := Summary{Results: make([]RecipientResult, 0, len(recipients))}
	for _, recipient := range recipients {
		if strings.TrimSpace(recipient) == "" {
			summary.Skipped++
			continue
		}
		sent := n.dispatcher.Send(ctx, creds, recipient, message, false)
		if sent {
			summary.Sent++
		}
		summary.Results = append(summary.Results, RecipientResult{Phone: recipient, Sent: sent})
	}
	return summary
}
