package subscriptions

import (
	"errors"
	"testing"
)

func TestStartTrialOnlyOnce(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, "u1")
	subsDB := NewDatabase(db)

	if err := subsDB.StartTrial("u1"); err != nil {
		t.Fatalf("first trial: %v", err)
	}

	user, err := subsDB.GetUser("u1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !user.TrialUsed || user.SubscriptionStatus != StatusTrial {
		t.Fatalf("trial state not set: %+v", user)
	}
	if user.TrialStartDate == nil {
		t.Fatal("TrialStartDate not set")
	}

	if err := subsDB.StartTrial("u1"); !errors.Is(err, ErrTrialUsed) {
		t.Fatalf("err=%v, expected ErrTrialUsed", err)
	}
}

func TestStartTrialUnknownUser(t *testing.T) {
	db := openTestDB(t)
	if err := NewDatabase(db).StartTrial("nobody"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("err=%v, expected ErrUserNotFound", err)
	}
}

func TestDashboardAccessLimitedDuringFreeTrial(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, "u1")
	subsDB := NewDatabase(db)

	if err := subsDB.StartTrial("u1"); err != nil {
		t.Fatalf("trial: %v", err)
	}

	if err := subsDB.RecordDashboardAccess("u1"); err != nil {
		t.Fatalf("first access: %v", err)
	}
	if err := subsDB.RecordDashboardAccess("u1"); !errors.Is(err, ErrTrialAccessExhausted) {
		t.Fatalf("err=%v, expected ErrTrialAccessExhausted", err)
	}
}

func TestDashboardAccessUnlimitedWhenActive(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, "u1")
	subsDB := NewDatabase(db)

	if err := subsDB.ManualActivate("u1", "pro", "test setup"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := subsDB.RecordDashboardAccess("u1"); err != nil {
			t.Fatalf("access %d: %v", i, err)
		}
	}
}

func TestManualActivateUnknownUser(t *testing.T) {
	db := openTestDB(t)
	err := NewDatabase(db).ManualActivate("nobody", "pro", "reason")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("err=%v, expected ErrUserNotFound", err)
	}
}

func TestCreateUserDefaults(t *testing.T) {
	db := openTestDB(t)
	subsDB := NewDatabase(db)

	if err := subsDB.CreateUser(&User{UserID: "u1", Email: "u1@example.com"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	user, err := subsDB.GetUser("u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if user.SubscriptionTier != TierFree {
		t.Fatalf("SubscriptionTier=%q, expected free", user.SubscriptionTier)
	}
	if user.SubscriptionStatus != StatusInactive {
		t.Fatalf("SubscriptionStatus=%q, expected inactive", user.SubscriptionStatus)
	}
}
