package app

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"corretora/api/internal/config"
	"corretora/api/internal/ingest"
	"corretora/api/internal/oplog"
	"corretora/api/internal/phone"
	"corretora/api/internal/reminder"
	"corretora/api/internal/search"
	"corretora/api/internal/settings"
	"corretora/api/internal/store"
	"corretora/api/internal/whatsapp"
)

type dataStore interface {
	InsertPolicy(ctx context.Context, p store.Policy, leadDays int) (store.Policy, error)
	GetPolicy(ctx context.Context, id string) (store.Policy, error)
	ListPoliciesByOwner(ctx context.Context, ownerID string) ([]store.Policy, error)
	UpdatePolicy(ctx context.Context, p store.Policy) (store.Policy, error)
	DeletePolicy(ctx context.Context, id string) error
	ListNotifications(ctx context.Context, policyID string) ([]store.PolicyNotification, error)
	Ping(ctx context.Context) error
}

type settingsStore interface {
	Load(ctx context.Context) (settings.Settings, error)
	Save(ctx context.Context, in settings.Settings) (settings.Settings, error)
}

type messageDispatcher interface {
	Send(ctx context.Context, creds whatsapp.Credentials, phone, message string, isGroup bool) bool
}

type bulkNotifier interface {
	NotifyAll(ctx context.Context, creds whatsapp.Credentials, recipients []string, message string) whatsapp.Summary
}

type ingestPipeline interface {
	Run(ctx context.Context, in ingest.Input) (store.Policy, ingest.Job, error)
}

type reminderScheduler interface {
	EventReminders(ctx context.Context, creds whatsapp.Credentials, events []reminder.Event, hoursBefore int) reminder.EventSummary
	CheckPolicyExpirations(ctx context.Context, creds whatsapp.Credentials) (reminder.Result, error)
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexPolicy(record search.PolicyRecord)
	DeletePolicy(id string)
}

// attachmentStore removes stored documents when a policy is hard-deleted.
type attachmentStore interface {
	Remove(ctx context.Context, key string) error
}

type Service struct {
	cfg         config.Config
	store       dataStore
	settings    settingsStore
	dispatcher  messageDispatcher
	notifier    bulkNotifier
	pipeline    ingestPipeline
	scheduler   reminderScheduler
	search      searchIndex
	attachments attachmentStore
	opLog       *oplog.Log
}

type Deps struct {
	Store       dataStore
	Settings    settingsStore
	Dispatcher  messageDispatcher
	Notifier    bulkNotifier
	Pipeline    ingestPipeline
	Scheduler   reminderScheduler
	Search      searchIndex
	Attachments attachmentStore
	OpLog       *oplog.Log
}

func New(cfg config.Config, deps Deps) *Service {
	return &Service{
		cfg:         cfg,
		store:       deps.Store,
		settings:    deps.Settings,
		dispatcher:  deps.Dispatcher,
		notifier:    deps.Notifier,
		pipeline:    deps.Pipeline,
		scheduler:   deps.Scheduler,
		search:      deps.Search,
		attachments: deps.Attachments,
		opLog:       deps.OpLog,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// loadSettings resolves the effective settings; an unreachable cache falls
// back to env defaults so messaging keeps working.
func (s *Service) loadSettings(ctx context.Context) settings.Settings {
	loaded, err := s.settings.Load(ctx)
	if err != nil {
		log.Printf("settings: load failed, using defaults: %v", err)
		return settings.Settings{
			GatewayAPIKey:       s.cfg.GatewayAPIKey,
			GatewayBaseURL:      s.cfg.GatewayBaseURL,
			ReminderLeadDays:    s.cfg.ReminderLeadDays,
			ReminderHoursBefore: s.cfg.ReminderHoursBefore,
		}
	}
	return loaded
}

func (s *Service) credentials(cfgs settings.Settings) whatsapp.Credentials {
	return whatsapp.Credentials{BaseURL: cfgs.GatewayBaseURL, APIKey: cfgs.GatewayAPIKey}
}

// SendMessage dispatches one message; the boolean mirrors the dispatcher's
// fail-closed contract.
func (s *Service) SendMessage(ctx context.Context, rawPhone, message string, isGroup bool) bool {
	cfgs := s.loadSettings(ctx)
	return s.dispatcher.Send(ctx, s.credentials(cfgs), rawPhone, message, isGroup)
}

// NotifySystem fans a message out to the configured recipient list. The
// caller decides whether zero successes is a total failure.
func (s *Service) NotifySystem(ctx context.Context, message string) whatsapp.Summary {
	cfgs := s.loadSettings(ctx)
	return s.notifier.NotifyAll(ctx, s.credentials(cfgs), cfgs.NotifyNumbers, message)
}

func (s *Service) Logs() []oplog.Entry {
	return s.opLog.Entries()
}

func (s *Service) ClearLogs() {
	s.opLog.Clear()
}

func (s *Service) GetSettings(ctx context.Context) (settings.Settings, error) {
	loaded, err := s.settings.Load(ctx)
	if err != nil {
		return settings.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return loaded, nil
}

func (s *Service) SaveSettings(ctx context.Context, in settings.Settings) (settings.Settings, error) {
	saved, err := s.settings.Save(ctx, in)
	if err != nil {
		if isSettingsInputError(err) {
			return settings.Settings{}, validationError(err.Error(), nil)
		}
		return settings.Settings{}, fmt.Errorf("save settings: %w", err)
	}
	s.opLog.Info("configuration", "settings updated", nil)
	return saved, nil
}

// isSettingsInputError separates bad input (422) from cache/infra failures
// (500). The settings store wraps recipient normalization errors, so the
// phone sentinels survive errors.Is.
func isSettingsInputError(err error) bool {
	return errors.Is(err, settings.ErrTooManyRecipients) ||
		errors.Is(err, phone.ErrInvalidLength) ||
		errors.Is(err, phone.ErrMissingAreaCode) ||
		errors.Is(err, phone.ErrInvalidFormat)
}

// UploadPolicy runs the ingestion pipeline for one uploaded document and
// indexes the resulting record. The returned job carries the terminal
// pipeline state for the UI.
func (s *Service) UploadPolicy(ctx context.Context, ownerID, fileName, contentType string, data []byte) (store.Policy, ingest.Job, error) {
	if strings.TrimSpace(ownerID) == "" {
		return store.Policy{}, ingest.Job{}, validationError("ownerId is required", nil)
	}
	cfgs := s.loadSettings(ctx)

	policy, job, err := s.pipeline.Run(ctx, ingest.Input{
		OwnerID:     ownerID,
		FileName:    fileName,
		ContentType: contentType,
		Data:        data,
		LeadDays:    cfgs.ReminderLeadDays,
	})
	if err != nil {
		return store.Policy{}, job, err
	}

	s.search.IndexPolicy(policyRecord(policy))
	if cfgs.NotifyOnUpload && len(cfgs.NotifyNumbers) > 0 {
		message := fmt.Sprintf("Nova apólice cadastrada: %s (%s), cliente %s.",
			policy.PolicyNumber, policy.Insurer, policy.CustomerName)
		s.notifier.NotifyAll(ctx, s.credentials(cfgs), cfgs.NotifyNumbers, message)
	}
	return policy, job, nil
}

// PolicyInput is the manual-entry shape for create and update.
type PolicyInput struct {
	PolicyNumber   string  `json:"policyNumber"`
	CustomerName   string  `json:"customerName"`
	CustomerPhone  string  `json:"customerPhone"`
	IssueDate      string  `json:"issueDate"`
	ExpiryDate     string  `json:"expiryDate"`
	Insurer        string  `json:"insurer"`
	CoverageAmount float64 `json:"coverageAmount"`
	Premium        float64 `json:"premium"`
	Status         string  `json:"status"`
	Type           string  `json:"type"`
	Notes          string  `json:"notes"`
}

func (s *Service) policyFromInput(ownerID string, in PolicyInput) (store.Policy, error) {
	if strings.TrimSpace(in.PolicyNumber) == "" {
		return store.Policy{}, validationError("policyNumber is required", nil)
	}
	if strings.TrimSpace(in.CustomerName) == "" {
		return store.Policy{}, validationError("customerName is required", nil)
	}
	issue, err := time.Parse("2006-01-02", in.IssueDate)
	if err != nil {
		return store.Policy{}, validationError("issueDate must be YYYY-MM-DD", nil)
	}
	expiry, err := time.Parse("2006-01-02", in.ExpiryDate)
	if err != nil {
		return store.Policy{}, validationError("expiryDate must be YYYY-MM-DD", nil)
	}
	if !expiry.After(issue) {
		return store.Policy{}, validationError("expiryDate must be after issueDate", nil)
	}

	status := store.PolicyStatus(in.Status)
	if in.Status == "" {
		status = store.PolicyActive
	} else if !store.ValidPolicyStatus(status) {
		return store.Policy{}, validationError("invalid status", map[string]string{"status": in.Status})
	}

	customerPhone := strings.TrimSpace(in.CustomerPhone)
	if customerPhone != "" {
		canonical, err := phone.Normalize(customerPhone)
		if err != nil {
			return store.Policy{}, validationError("invalid customerPhone", map[string]string{"error": err.Error()})
		}
		customerPhone = canonical
	}

	return store.Policy{
		OwnerID:        ownerID,
		PolicyNumber:   in.PolicyNumber,
		CustomerName:   in.CustomerName,
		CustomerPhone:  customerPhone,
		IssueDate:      issue,
		ExpiryDate:     expiry,
		Insurer:        in.Insurer,
		CoverageAmount: in.CoverageAmount,
		Premium:        in.Premium,
		Status:         status,
		Type:           store.NormalizePolicyType(in.Type),
		Notes:          in.Notes,
	}, nil
}

func (s *Service) CreatePolicy(ctx context.Context, ownerID string, in PolicyInput) (store.Policy, error) {
	policy, err := s.policyFromInput(ownerID, in)
	if err != nil {
		return store.Policy{}, err
	}
	cfgs := s.loadSettings(ctx)
	saved, err := s.store.InsertPolicy(ctx, policy, cfgs.ReminderLeadDays)
	if err != nil {
		return store.Policy{}, fmt.Errorf("create policy: %w", err)
	}
	s.search.IndexPolicy(policyRecord(saved))
	return saved, nil
}

func (s *Service) GetPolicy(ctx context.Context, ownerID, id string) (store.Policy, error) {
	policy, err := s.store.GetPolicy(ctx, id)
	if err != nil {
		return store.Policy{}, err
	}
	if policy.OwnerID != ownerID {
		return store.Policy{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return policy, nil
}

func (s *Service) ListPolicies(ctx context.Context, ownerID string) ([]store.Policy, error) {
	return s.store.ListPoliciesByOwner(ctx, ownerID)
}

// UpdatePolicy replaces the mutable fields. The reminder flag and date are
// owned by the expiration job and survive updates untouched.
func (s *Service) UpdatePolicy(ctx context.Context, ownerID, id string, in PolicyInput) (store.Policy, error) {
	existing, err := s.GetPolicy(ctx, ownerID, id)
	if err != nil {
		return store.Policy{}, err
	}
	policy, err := s.policyFromInput(ownerID, in)
	if err != nil {
		return store.Policy{}, err
	}
	policy.ID = existing.ID
	policy.AttachmentRef = existing.AttachmentRef

	updated, err := s.store.UpdatePolicy(ctx, policy)
	if err != nil {
		return store.Policy{}, fmt.Errorf("update policy: %w", err)
	}
	s.search.IndexPolicy(policyRecord(updated))
	return updated, nil
}

// DeletePolicy hard-deletes the record, its search entry and its stored
// document. No tombstone is kept.
func (s *Service) DeletePolicy(ctx context.Context, ownerID, id string) error {
	existing, err := s.GetPolicy(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if err := s.store.DeletePolicy(ctx, id); err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	s.search.DeletePolicy(id)
	if s.attachments != nil && existing.AttachmentRef != "" {
		if err := s.attachments.Remove(ctx, existing.AttachmentRef); err != nil {
			log.Printf("delete policy %s: remove attachment: %v", id, err)
		}
	}
	return nil
}

func (s *Service) PolicyNotifications(ctx context.Context, ownerID, policyID string) ([]store.PolicyNotification, error) {
	if _, err := s.GetPolicy(ctx, ownerID, policyID); err != nil {
		return nil, err
	}
	return s.store.ListNotifications(ctx, policyID)
}

func (s *Service) SearchPolicies(ctx context.Context, ownerID, query string, limit int) search.Response {
	return s.search.Search(ctx, search.Query{Text: query, OwnerID: ownerID, Limit: limit})
}

// ScheduleEventReminders sends reminders for events inside the lookahead
// window. hoursBefore <= 0 falls back to the configured default.
func (s *Service) ScheduleEventReminders(ctx context.Context, events []reminder.Event, hoursBefore int) reminder.EventSummary {
	cfgs := s.loadSettings(ctx)
	if hoursBefore <= 0 {
		hoursBefore = cfgs.ReminderHoursBefore
	}
	return s.scheduler.EventReminders(ctx, s.credentials(cfgs), events, hoursBefore)
}

// CheckPolicyExpirations is the cron-triggered job entry point. The token
// is compared against the shared secret before any data is touched; an
// unset secret rejects every call.
func (s *Service) CheckPolicyExpirations(ctx context.Context, token string) (reminder.Result, error) {
	secret := s.cfg.CronSecret
	if secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		return reminder.Result{}, unauthorizedError("invalid job token")
	}
	return s.runExpirationCheck(ctx)
}

// RunLocalExpirationCheck is the dev-mode path: the check runs directly
// against local data on a timer instead of the remote trigger.
func (s *Service) RunLocalExpirationCheck(ctx context.Context) (reminder.Result, error) {
	return s.runExpirationCheck(ctx)
}

func (s *Service) runExpirationCheck(ctx context.Context) (reminder.Result, error) {
	cfgs := s.loadSettings(ctx)
	return s.scheduler.CheckPolicyExpirations(ctx, s.credentials(cfgs))
}

func policyRecord(p store.Policy) search.PolicyRecord {
	return search.PolicyRecord{
		ID:           p.ID,
		OwnerID:      p.OwnerID,
		PolicyNumber: p.PolicyNumber,
		CustomerName: p.CustomerName,
		Insurer:      p.Insurer,
		Status:       string(p.Status),
		Type:         string(p.Type),
	}
}
