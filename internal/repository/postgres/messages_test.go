package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/partsbin/fitment-marketing/internal/domain"
	"github.com/partsbin/fitment-marketing/internal/messaging"
)

func TestMessageInsertReportsConflict(t *testing.T) {
	db, mock, cleanup := setupMock(t)
	defer cleanup()

	repo := NewMessageRepo(db)
	msg := &domain.CampaignMessage{
		CampaignID:  "c1",
		StoreID:     "s1",
		TargetID:    "t1",
		Channel:     domain.ChannelEmail,
		Recipient:   "a@example.com",
		ScheduledAt: time.Now(),
	}

	mock.ExpectExec("INSERT INTO campaign_messages").
		WillReturnResult(sqlmock.NewResult(1, 1))
	inserted, err := repo.Insert(context.Background(), msg)
	if err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if !inserted {
		t.Error("first insert reported inserted=false")
	}

	// ON CONFLICT DO NOTHING: zero rows affected.
	mock.ExpectExec("INSERT INTO campaign_messages").
		WillReturnResult(sqlmock.NewResult(0, 0))
	inserted, err = repo.Insert(context.Background(), msg)
	if err != nil {
		t.Fatalf("Insert() conflict error: %v", err)
	}
	if inserted {
		t.Error("conflicting insert reported inserted=true")
	}
}

func TestExistingPairsKeyedByTargetAndChannel(t *testing.T) {
	db, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectQuery("SELECT target_id, channel FROM campaign_messages").
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"target_id", "channel"}).
			AddRow("t1", "email").
			AddRow("t1", "onsite"))

	repo := NewMessageRepo(db)
	pairs, err := repo.ExistingPairs(context.Background(), "c1")
	if err != nil {
		t.Fatalf("ExistingPairs() error: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("pairs = %d, want 2", len(pairs))
	}
	if _, ok := pairs[messaging.PairKey("t1", domain.ChannelEmail)]; !ok {
		t.Error("missing email pair")
	}
	if _, ok := pairs[messaging.PairKey("t1", domain.ChannelMessaging)]; ok {
		t.Error("unexpected messaging pair")
	}
}

func TestMarkSentAdvancesTarget(t *testing.T) {
	db, mock, cleanup := setupMock(t)
	defer cleanup()

	mock.ExpectExec("UPDATE campaign_messages SET status = 'sent'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE campaign_targets SET status = 'messaged'").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewMessageRepo(db)
	if err := repo.MarkSent(context.Background(), "m1", time.Now()); err != nil {
		t.Fatalf("MarkSent() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMarkFailedTruncatesLongErrors(t *testing.T) {
	db, mock, cleanup := setupMock(t)
	defer cleanup()

	long := make([]byte, 600)
	for i := range long {
		long[i] = 'x'
	}

	mock.ExpectExec("UPDATE campaign_messages SET status = 'failed'").
		WithArgs(sqlmock.AnyArg(), string(long[:500]), "m1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewMessageRepo(db)
	if err := repo.MarkFailed(context.Background(), "m1", time.Now(), string(long)); err != nil {
		t.Fatalf("MarkFailed() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDueScansVehicleLabel(t *testing.T) {
	db, mock, cleanup := setupMock(t)
	defer cleanup()

	now := time.Now()
	cols := []string{
		"id", "campaign_id", "store_id", "target_id", "channel", "recipient",
		"status", "scheduled_at", "created_at", "subject", "body", "vehicle_label", "first_name",
	}
	mock.ExpectQuery("SELECT m.id, m.campaign_id").
		WithArgs(sqlmock.AnyArg(), 10).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"m1", "c1", "s1", "t1", "email", "a@example.com",
			"pending", now, now, "Parts for {{ vehicle }}", "body", "2012 Toyota Corolla", "Ana"))

	repo := NewMessageRepo(db)
	due, err := repo.Due(context.Background(), now, 10)
	if err != nil {
		t.Fatalf("Due() error: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("due = %d, want 1", len(due))
	}
	if due[0].VehicleLabel != "2012 Toyota Corolla" || due[0].CustomerName != "Ana" {
		t.Errorf("label/name = %q/%q", due[0].VehicleLabel, due[0].CustomerName)
	}
}
