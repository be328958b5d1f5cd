// Package reminder selects upcoming events and expiring policies and
// dispatches WhatsApp reminders for them.
package reminder

import (
	"context"
	"fmt"
	"time"

	"corretora/api/internal/oplog"
	"corretora/api/internal/store"
	"corretora/api/internal/whatsapp"
)

// Event is a generic dated item with an optional contact phone, e.g. an
// appointment captured in the back office.
type Event struct {
	Title string    `json:"title"`
	Date  time.Time `json:"date"`
	Phone string    `json:"phone,omitempty"`
}

// EventSummary aggregates one event-reminder run.
type EventSummary struct {
	Selected int `json:"selected"`
	Sent     int `json:"sent"`
	Skipped  int `json:"skipped"`
}

// RecordResult is one policy's outcome inside an expiration check.
type RecordResult struct {
	PolicyID     string `json:"policyId"`
	PolicyNumber string `json:"policyNumber"`
	Notified     bool   `json:"notified"`
	MessageSent  bool   `json:"messageSent"`
	Error        string `json:"error,omitempty"`
}

// Result aggregates one expiration-check run.
type Result struct {
	Processed     int            `json:"processed"`
	Notifications int            `json:"notifications"`
	Errors        int            `json:"errors"`
	Results       []RecordResult `json:"results"`
}

// dispatcher is the send surface, satisfied by *whatsapp.Dispatcher.
type dispatcher interface {
	Send(ctx context.Context, creds whatsapp.Credentials, phone, message string, isGroup bool) bool
}

// policyStore is the persistence surface for the expiration job.
type policyStore interface {
	ListDuePolicies(ctx context.Context, now time.Time) ([]store.Policy, error)
	NotifyPolicyReminded(ctx context.Context, n store.PolicyNotification) (store.PolicyNotification, error)
}

type Scheduler struct {
	dispatcher dispatcher
	policies   policyStore
	log        *oplog.Log
	now        func() time.Time
}

func NewScheduler(d *whatsapp.Dispatcher, policies *store.PostgresStore, log *oplog.Log) *Scheduler {
	return &Scheduler{dispatcher: d, policies: policies, log: log, now: time.Now}
}

func newSchedulerWithDeps(d dispatcher, policies policyStore, log *oplog.Log, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{dispatcher: d, policies: policies, log: log, now: now}
}

// EventReminders sends one message per event whose date falls strictly
// inside (now, now+hoursBefore) and that carries a phone. Events without a
// phone are skipped, not errors. This path keeps no sent flag: running it
// again over the same data sends again.
func (s *Scheduler) EventReminders(ctx context.Context, creds whatsapp.Credentials, events []Event, hoursBefore int) EventSummary {
	now := s.now()
	windowEnd := now.Add(time.Duration(hoursBefore) * time.Hour)

	var summary EventSummary
	for _, event := range events {
		if !event.Date.After(now) || !event.Date.Before(windowEnd) {
			continue
		}
		summary.Selected++
		if event.Phone == "" {
			summary.Skipped++
			continue
		}
		message := fmt.Sprintf("Lembrete: %s em %s.", event.Title, event.Date.Format("02/01/2006 15:04"))
		if s.dispatcher.Send(ctx, creds, event.Phone, message, false) {
			summary.Sent++
		}
	}
	return summary
}

// CheckPolicyExpirations processes every due policy independently: create
// the notification record (insert + flag in one transaction), then best-
// effort dispatch a WhatsApp message to the customer. One record's failure
// is counted and reported without halting the rest.
func (s *Scheduler) CheckPolicyExpirations(ctx context.Context, creds whatsapp.Credentials) (Result, error) {
	now := s.now()
	due, err := s.policies.ListDuePolicies(ctx, now)
	if err != nil {
		return Result{}, fmt.Errorf("list due policies: %w", err)
	}

	result := Result{Results: make([]RecordResult, 0, len(due))}
	for _, policy := range due {
		record := RecordResult{PolicyID: policy.ID, PolicyNumber: policy.PolicyNumber}
		result.Processed++

		daysLeft := int(policy.ExpiryDate.Sub(now).Hours() / 24)
		message := fmt.Sprintf(
			"Olá %s! Sua apólice %s (%s) vence em %d dias, em %s. Fale conosco para renovar.",
			policy.CustomerName, policy.PolicyNumber, policy.Insurer,
			daysLeft, policy.ExpiryDate.Format("02/01/2006"),
		)

		_, err := s.policies.NotifyPolicyReminded(ctx, store.PolicyNotification{
			PolicyID: policy.ID,
			Title:    "Apólice prestes a vencer",
			Message:  message,
			Phone:    policy.CustomerPhone,
			DaysLeft: daysLeft,
		})
		if err != nil {
			record.Error = err.Error()
			result.Errors++
			result.Results = append(result.Results, record)
			s.log.Error("policy-reminder", "notification failed", map[string]string{
				"policy": policy.ID,
				"error":  err.Error(),
			})
			continue
		}
		record.Notified = true
		result.Notifications++

		if policy.CustomerPhone != "" {
			record.MessageSent = s.dispatcher.Send(ctx, creds, policy.CustomerPhone, message, false)
		}
		result.Results = append(result.Results, record)
	}

	s.log.Info("policy-reminder", "expiration check finished", map[string]int{
		"processed":     result.Processed,
		"notifications": result.Notifications,
		"errors":        result.Errors,
	})
	return result, nil
}
