package store

import (
	"encoding/json"
	"time"
)

type PolicyStatus string

const (
	PolicyActive    PolicyStatus = "active"
	PolicyExpired   PolicyStatus = "expired"
	PolicyCancelled PolicyStatus = "cancelled"
	PolicyPending   PolicyStatus = "pending"
)

type PolicyType string

const (
	PolicyAuto     PolicyType = "auto"
	PolicyLife     PolicyType = "life"
	PolicyHealth   PolicyType = "health"
	PolicyHome     PolicyType = "home"
	PolicyBusiness PolicyType = "business"
	PolicyOther    PolicyType = "other"
)

// ValidPolicyStatus reports whether s is one of the known status values.
func ValidPolicyStatus(s PolicyStatus) bool {
	switch s {
	case PolicyActive, PolicyExpired, PolicyCancelled, PolicyPending:
		return true
	}
	return false
}

// NormalizePolicyType maps free-form type strings onto the known set,
// defaulting to "other".
func NormalizePolicyType(s string) PolicyType {
	switch PolicyType(s) {
	case PolicyAuto, PolicyLife, PolicyHealth, PolicyHome, PolicyBusiness:
		return PolicyType(s)
	}
	return PolicyOther
}

type Policy struct {
	ID             string       `json:"id"`
	OwnerID        string       `json:"ownerId"`
	PolicyNumber   string       `json:"policyNumber"`
	CustomerName   string       `json:"customerName"`
	CustomerPhone  string       `json:"customerPhone,omitempty"`
	IssueDate      time.Time    `json:"issueDate"`
	ExpiryDate     time.Time    `json:"expiryDate"`
	Insurer        string       `json:"insurer"`
	CoverageAmount float64      `json:"coverageAmount"`
	Premium        float64      `json:"premium"`
	Status         PolicyStatus `json:"status"`
	Type           PolicyType   `json:"type"`
	AttachmentRef  string       `json:"attachmentRef,omitempty"`
	Notes          string       `json:"notes,omitempty"`
	ReminderSent   bool         `json:"reminderSent"`
	ReminderDate   *time.Time   `json:"reminderDate"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// PolicyNotification is the durable record created when an expiration
// reminder fires; exactly one per policy.
type PolicyNotification struct {
	ID        string          `json:"id"`
	PolicyID  string          `json:"policyId"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Phone     string          `json:"phone,omitempty"`
	DaysLeft  int             `json:"daysLeft"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
