package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"corretora/api/internal/util"
)

// ErrExpiryBeforeIssue guards the expiry_date > issue_date invariant at the
// store boundary (also enforced by a CHECK constraint).
var ErrExpiryBeforeIssue = errors.New("store: expiry date must be after issue date")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const policyColumns = `
	id, owner_id, policy_number, customer_name, customer_phone,
	issue_date, expiry_date, insurer, coverage_amount, premium,
	status, type, attachment_ref, notes,
	reminder_sent, reminder_date, created_at, updated_at
`

func scanPolicy(row interface{ Scan(...any) error }) (Policy, error) {
	var p Policy
	var phone, attachment, notes sql.NullString
	var reminderDate sql.NullTime
	err := row.Scan(
		&p.ID, &p.OwnerID, &p.PolicyNumber, &p.CustomerName, &phone,
		&p.IssueDate, &p.ExpiryDate, &p.Insurer, &p.CoverageAmount, &p.Premium,
		&p.Status, &p.Type, &attachment, &notes,
		&p.ReminderSent, &reminderDate, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return Policy{}, err
	}
	p.CustomerPhone = phone.String
	p.AttachmentRef = attachment.String
	p.Notes = notes.String
	if reminderDate.Valid {
		t := reminderDate.Time
		p.ReminderDate = &t
	}
	return p, nil
}

// InsertPolicy creates a policy record. The reminder date is derived once
// here from the expiry date minus leadDays and is never recomputed on
// update.
func (s *PostgresStore) InsertPolicy(ctx context.Context, p Policy, leadDays int) (Policy, error) {
	if !p.ExpiryDate.After(p.IssueDate) {
		return Policy{}, ErrExpiryBeforeIssue
	}
	if p.ID == "" {
		p.ID = util.NewID("pol")
	}
	if p.Status == "" {
		p.Status = PolicyActive
	}
	reminderDate := p.ExpiryDate.AddDate(0, 0, -leadDays)
	p.ReminderDate = &reminderDate

	query := `
		INSERT INTO policies (
			id, owner_id, policy_number, customer_name, customer_phone,
			issue_date, expiry_date, insurer, coverage_amount, premium,
			status, type, attachment_ref, notes, reminder_sent, reminder_date
		)
		VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7,$8,$9,$10,$11,$12,NULLIF($13,''),NULLIF($14,''),FALSE,$15)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		p.ID, p.OwnerID, p.PolicyNumber, p.CustomerName, p.CustomerPhone,
		p.IssueDate, p.ExpiryDate, p.Insurer, p.CoverageAmount, p.Premium,
		p.Status, p.Type, p.AttachmentRef, p.Notes, reminderDate,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Policy{}, fmt.Errorf("insert policy: %w", err)
	}
	p.ReminderSent = false
	return p, nil
}

func (s *PostgresStore) GetPolicy(ctx context.Context, id string) (Policy, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+policyColumns+` FROM policies WHERE id=$1`, id)
	p, err := scanPolicy(row)
	if err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (s *PostgresStore) ListPoliciesByOwner(ctx context.Context, ownerID string) ([]Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+policyColumns+`
		FROM policies
		WHERE owner_id=$1
		ORDER BY expiry_date ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	items := make([]Policy, 0)
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// UpdatePolicy updates the mutable fields. reminder_sent and reminder_date
// are owned by the reminder job and are not touched here.
func (s *PostgresStore) UpdatePolicy(ctx context.Context, p Policy) (Policy, error) {
	if !p.ExpiryDate.After(p.IssueDate) {
		return Policy{}, ErrExpiryBeforeIssue
	}
	query := `
		UPDATE policies SET
			policy_number=$2, customer_name=$3, customer_phone=NULLIF($4,''),
			issue_date=$5, expiry_date=$6, insurer=$7, coverage_amount=$8,
			premium=$9, status=$10, type=$11, attachment_ref=NULLIF($12,''),
			notes=NULLIF($13,''), updated_at=NOW()
		WHERE id=$1
		RETURNING ` + policyColumns
	row := s.db.QueryRowContext(ctx, query,
		p.ID, p.PolicyNumber, p.CustomerName, p.CustomerPhone,
		p.IssueDate, p.ExpiryDate, p.Insurer, p.CoverageAmount,
		p.Premium, p.Status, p.Type, p.AttachmentRef, p.Notes,
	)
	updated, err := scanPolicy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Policy{}, err
		}
		return Policy{}, fmt.Errorf("update policy: %w", err)
	}
	return updated, nil
}

// DeletePolicy hard-deletes the record and its notifications.
func (s *PostgresStore) DeletePolicy(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM policies WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListDuePolicies selects policies whose reminder window has opened and
// whose reminder has not been sent. A policy with reminder_sent=true is
// never selected regardless of its reminder date.
func (s *PostgresStore) ListDuePolicies(ctx context.Context, now time.Time) ([]Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+policyColumns+`
		FROM policies
		WHERE status='active'
			AND reminder_sent=FALSE
			AND reminder_date IS NOT NULL
			AND reminder_date <= $1
		ORDER BY expiry_date ASC
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list due policies: %w", err)
	}
	defer rows.Close()

	items := make([]Policy, 0)
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due policy: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// NotifyPolicyReminded inserts the notification record and flips
// reminder_sent in one transaction, so a crash cannot leave a notification
// without the flag (or re-notify on retry).
func (s *PostgresStore) NotifyPolicyReminded(ctx context.Context, n PolicyNotification) (PolicyNotification, error) {
	if n.ID == "" {
		n.ID = util.NewID("ntf")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PolicyNotification{}, fmt.Errorf("begin reminder tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO policy_notifications (id, policy_id, title, message, phone, days_left, detail)
		VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7)
		RETURNING created_at
	`, n.ID, n.PolicyID, n.Title, n.Message, n.Phone, n.DaysLeft, nullableJSON(n.Detail)).Scan(&n.CreatedAt)
	if err != nil {
		return PolicyNotification{}, fmt.Errorf("insert notification: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE policies SET reminder_sent=TRUE, updated_at=NOW()
		WHERE id=$1 AND reminder_sent=FALSE
	`, n.PolicyID)
	if err != nil {
		return PolicyNotification{}, fmt.Errorf("mark reminder sent: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return PolicyNotification{}, fmt.Errorf("mark reminder sent: %w", err)
	} else if affected == 0 {
		return PolicyNotification{}, fmt.Errorf("mark reminder sent: policy %s already reminded or missing", n.PolicyID)
	}

	if err := tx.Commit(); err != nil {
		return PolicyNotification{}, fmt.Errorf("commit reminder tx: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, policyID string) ([]PolicyNotification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, policy_id, title, message, COALESCE(phone,''), days_left, detail, created_at
		FROM policy_notifications
		WHERE policy_id=$1
		ORDER BY created_at DESC
	`, policyID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]PolicyNotification, 0)
	for rows.Next() {
		var n PolicyNotification
		var detail sql.NullString
		if err := rows.Scan(&n.ID, &n.PolicyID, &n.Title, &n.Message, &n.Phone, &n.DaysLeft, &detail, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if detail.Valid {
			n.Detail = []byte(detail.String)
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

// SearchPolicies is the FTS fallback used when Meilisearch is unavailable.
func (s *PostgresStore) SearchPolicies(ctx context.Context, ownerID, query string, limit int) ([]Policy, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return []Policy{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+policyColumns+`
		FROM policies
		WHERE owner_id=$1
			AND (
				to_tsvector('simple', policy_number || ' ' || customer_name || ' ' || insurer)
					@@ plainto_tsquery('simple', $2)
				OR policy_number ILIKE '%' || $2 || '%'
				OR customer_name ILIKE '%' || $2 || '%'
			)
		ORDER BY expiry_date ASC
		LIMIT $3
	`, ownerID, q, limit)
	if err != nil {
		return nil, fmt.Errorf("search policies: %w", err)
	}
	defer rows.Close()

	items := make([]Policy, 0)
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
