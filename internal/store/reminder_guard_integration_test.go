package store

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// TestReminderGuardBlocksSecondNotification verifies the database-level
// reminder guard: notifying a policy flips reminder_sent inside the same
// transaction, a second notification for the same policy fails, and the
// policy stops appearing in the due list.
func TestReminderGuardBlocksSecondNotification(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db, err := Open(ctx, testDatabaseURL(t))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := ApplyMigrations(ctx, db, "../../db/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	s := NewPostgresStore(db)

	now := time.Now().UTC()
	inserted, err := s.InsertPolicy(ctx, Policy{
		OwnerID:      "own_itest",
		PolicyNumber: "ITEST-001",
		CustomerName: "Maria Silva",
		IssueDate:    now.AddDate(-1, 0, 0),
		ExpiryDate:   now.AddDate(0, 0, 10),
		Insurer:      "Porto Seguro",
		Status:       PolicyActive,
		Type:         PolicyAuto,
	}, 30)
	if err != nil {
		t.Fatalf("insert policy: %v", err)
	}
	defer func() {
		_, _ = db.ExecContext(ctx, `DELETE FROM policies WHERE id=$1`, inserted.ID)
	}()

	// Lead days of 30 against a 10-day expiry puts the reminder date in
	// the past, so the policy is due.
	due, err := s.ListDuePolicies(ctx, now)
	if err != nil {
		t.Fatalf("list due policies: %v", err)
	}
	if !containsPolicy(due, inserted.ID) {
		t.Fatalf("freshly inserted policy not in due list: %+v", due)
	}

	notification := PolicyNotification{
		PolicyID: inserted.ID,
		Title:    "Vencimento próximo",
		Message:  "Sua apólice vence em 10 dias.",
		DaysLeft: 10,
	}
	if _, err := s.NotifyPolicyReminded(ctx, notification); err != nil {
		t.Fatalf("first notification: %v", err)
	}

	if _, err := s.NotifyPolicyReminded(ctx, notification); err == nil {
		t.Fatal("second notification for the same policy should fail")
	} else if !strings.Contains(err.Error(), "already reminded") {
		t.Fatalf("unexpected second-notification error: %v", err)
	}

	due, err = s.ListDuePolicies(ctx, now)
	if err != nil {
		t.Fatalf("list due policies after notify: %v", err)
	}
	if containsPolicy(due, inserted.ID) {
		t.Fatal("reminded policy still selected as due")
	}

	// The failed second attempt must not have left a notification row.
	notifications, err := s.ListNotifications(ctx, inserted.ID)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(notifications) != 1 {
		t.Fatalf("expected exactly 1 notification, got %d", len(notifications))
	}
}

func containsPolicy(policies []Policy, id string) bool {
	for _, p := range policies {
		if p.ID == id {
			return true
		}
	}
	return false
}

// testDatabaseURL returns the integration database URL, skipping the test
// when none is configured.
func testDatabaseURL(t *testing.T) string {
	t.Helper()
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url
	}
	t.Skip("TEST_DATABASE_URL not set; skipping database integration test")
	return ""
}
