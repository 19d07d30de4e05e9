package subscriptions

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/winubot/trading-engine/internal/payments"
	"gorm.io/gorm"
)

type spyNotifier struct {
	mu   sync.Mutex
	gaps []PaymentActivationGap
}

func (n *spyNotifier) NotifyGap(gap PaymentActivationGap) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gaps = append(n.gaps, gap)
}

func (n *spyNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.gaps)
}

func seedCompletedPayment(t *testing.T, db *gorm.DB, providerTxID, userID, planID string, completedAt time.Time) {
	t.Helper()
	err := db.Create(&payments.PaymentTransaction{
		TransactionID: "PAY_" + uuid.New().String(),
		ProviderTxID:  providerTxID,
		PaymentMethod: "stripe",
		UserID:        userID,
		PlanID:        planID,
		Amount:        49,
		Currency:      "USD",
		Status:        payments.TxCompleted,
		CompletedAt:   &completedAt,
		CreatedAt:     completedAt,
		UpdatedAt:     completedAt,
	}).Error
	if err != nil {
		t.Fatalf("seed payment: %v", err)
	}
}

func TestScanDetectsActivationGap(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, "u1")
	seedCompletedPayment(t, db, "tx-gap", "u1", "pro", time.Now().Add(-time.Hour))

	notifier := &spyNotifier{}
	processor := NewProcessor(NewDatabase(db), notifier, time.Minute, 10*time.Minute)

	gaps, err := processor.Scan()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(gaps) != 1 {
		t.Fatalf("gaps=%d, expected 1", len(gaps))
	}
	if gaps[0].ProviderTxID != "tx-gap" || gaps[0].UserID != "u1" {
		t.Fatalf("unexpected gap: %+v", gaps[0])
	}
	if notifier.count() != 1 {
		t.Fatalf("alerts=%d, expected 1", notifier.count())
	}
}

func TestScanAlertsOnlyOncePerGap(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, "u1")
	seedCompletedPayment(t, db, "tx-gap", "u1", "pro", time.Now().Add(-time.Hour))

	notifier := &spyNotifier{}
	processor := NewProcessor(NewDatabase(db), notifier, time.Minute, 10*time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := processor.Scan(); err != nil {
			t.Fatalf("scan %d: %v", i, err)
		}
	}
	if notifier.count() != 1 {
		t.Fatalf("alerts=%d, expected 1 despite repeated scans", notifier.count())
	}
}

func TestScanHonorsGraceWindow(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, "u1")
	// Completed just now: reconciliation may still be in flight.
	seedCompletedPayment(t, db, "tx-fresh", "u1", "pro", time.Now())

	processor := NewProcessor(NewDatabase(db), &spyNotifier{}, time.Minute, 10*time.Minute)
	gaps, err := processor.Scan()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(gaps) != 0 {
		t.Fatalf("gaps=%d, fresh payment must be inside the grace window", len(gaps))
	}
}

func TestScanIgnoresActivatedPayments(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, "u1")
	seedCompletedPayment(t, db, "tx-ok", "u1", "pro", time.Now().Add(-time.Hour))
	if err := NewDatabase(db).ManualActivate("u1", "pro", "test setup"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	processor := NewProcessor(NewDatabase(db), &spyNotifier{}, time.Minute, 10*time.Minute)
	gaps, err := processor.Scan()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(gaps) != 0 {
		t.Fatalf("gaps=%d, activated payment still flagged", len(gaps))
	}
}

func TestScanFlagsWrongTier(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, "u1")
	seedCompletedPayment(t, db, "tx-tier", "u1", "premium", time.Now().Add(-time.Hour))
	// Activated, but on a different plan than the one paid for.
	if err := NewDatabase(db).ManualActivate("u1", "basic", "test setup"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	processor := NewProcessor(NewDatabase(db), &spyNotifier{}, time.Minute, 10*time.Minute)
	gaps, err := processor.Scan()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(gaps) != 1 {
		t.Fatalf("gaps=%d, tier mismatch must surface as a gap", len(gaps))
	}
}

func TestScanRealertsWhenGapReopens(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, "u1")
	seedCompletedPayment(t, db, "tx-gap", "u1", "pro", time.Now().Add(-time.Hour))

	subsDB := NewDatabase(db)
	notifier := &spyNotifier{}
	processor := NewProcessor(subsDB, notifier, time.Minute, 10*time.Minute)

	if _, err := processor.Scan(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if notifier.count() != 1 {
		t.Fatalf("alerts=%d, expected 1", notifier.count())
	}

	// The gap is resolved, and a clean scan forgets it.
	if err := subsDB.ManualActivate("u1", "pro", "recovered"); err != nil {
		t.Fatalf("manual activate: %v", err)
	}
	if _, err := processor.Scan(); err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if notifier.count() != 1 {
		t.Fatalf("alerts=%d after resolution, expected 1", notifier.count())
	}

	// A later downgrade re-opens the same transaction's gap; it must alert
	// again rather than stay muted forever.
	err := db.Model(&User{}).Where("user_id = ?", "u1").Update("subscription_tier", "basic").Error
	if err != nil {
		t.Fatalf("downgrade user: %v", err)
	}
	gaps, err := processor.Scan()
	if err != nil {
		t.Fatalf("scan after downgrade: %v", err)
	}
	if len(gaps) != 1 {
		t.Fatalf("gaps=%d after downgrade, expected 1", len(gaps))
	}
	if notifier.count() != 2 {
		t.Fatalf("alerts=%d, expected a fresh alert for the reopened gap", notifier.count())
	}
}

func TestManualActivateClosesGap(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, "u1")
	seedCompletedPayment(t, db, "tx-gap", "u1", "pro", time.Now().Add(-time.Hour))

	subsDB := NewDatabase(db)
	processor := NewProcessor(subsDB, &spyNotifier{}, time.Minute, 10*time.Minute)

	gaps, err := processor.Scan()
	if err != nil || len(gaps) != 1 {
		t.Fatalf("initial scan gaps=%d err=%v, expected 1", len(gaps), err)
	}

	if err := subsDB.ManualActivate("u1", "pro", "webhook lost, verified in provider dashboard"); err != nil {
		t.Fatalf("manual activate: %v", err)
	}

	gaps, err = processor.Scan()
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if len(gaps) != 0 {
		t.Fatalf("gaps=%d after manual activation, expected 0", len(gaps))
	}

	// The recovery is audited as a manual event with its reason.
	var events []SubscriptionEvent
	if err := db.Where("source = ?", SourceManual).Find(&events).Error; err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("manual events=%d, expected 1", len(events))
	}
	if events[0].Reason == "" {
		t.Fatal("manual activation recorded without a reason")
	}
}
