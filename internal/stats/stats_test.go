package stats

import (
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	// A pool would hand each connection its own in-memory database.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&AccountDailyStat{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewDatabase(db)
}

func TestRecordFillUpsertsCounters(t *testing.T) {
	db := openTestDB(t)
	agg := NewAggregator(db)
	now := time.Now()

	if err := agg.RecordFill("acct-1", now, 0, true, 10000, 0.05); err != nil {
		t.Fatalf("first fill: %v", err)
	}
	if err := agg.RecordFill("acct-1", now, 0, true, 10000, 0.05); err != nil {
		t.Fatalf("second fill: %v", err)
	}
	if err := agg.RecordFill("acct-1", now, 0, false, 10000, 0.05); err != nil {
		t.Fatalf("failed fill: %v", err)
	}

	stat, err := db.Get("acct-1", DateKey(now))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stat == nil {
		t.Fatal("no stat row created")
	}
	if stat.TotalTrades != 3 {
		t.Fatalf("TotalTrades=%d, expected 3", stat.TotalTrades)
	}
	if stat.SuccessfulTrades != 2 {
		t.Fatalf("SuccessfulTrades=%d, expected 2", stat.SuccessfulTrades)
	}
	if stat.FailedTrades != 1 {
		t.Fatalf("FailedTrades=%d, expected 1", stat.FailedTrades)
	}
	if stat.StartingBalance != 10000 {
		t.Fatalf("StartingBalance=%v, expected 10000", stat.StartingBalance)
	}
}

func TestRecordPnlSkipsCounters(t *testing.T) {
	db := openTestDB(t)
	agg := NewAggregator(db)
	now := time.Now()

	if err := agg.RecordFill("acct-1", now, 0, true, 10000, 0.05); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if err := agg.RecordPnl("acct-1", now, -120, 0.05); err != nil {
		t.Fatalf("pnl: %v", err)
	}

	stat, err := db.Get("acct-1", DateKey(now))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stat.TotalTrades != 1 {
		t.Fatalf("TotalTrades=%d, expected 1 after PnL fold", stat.TotalTrades)
	}
	if stat.DailyPnl != -120 {
		t.Fatalf("DailyPnl=%v, expected -120", stat.DailyPnl)
	}
}

func TestLossLatchTriggersAndSticks(t *testing.T) {
	db := openTestDB(t)
	agg := NewAggregator(db)
	now := time.Now()

	// Budget is 0.05 * 10000 = 500. A 400 loss stays under it.
	if err := agg.RecordFill("acct-1", now, -400, true, 10000, 0.05); err != nil {
		t.Fatalf("fill: %v", err)
	}
	stat, _ := db.Get("acct-1", DateKey(now))
	if stat.StopTradingTriggered {
		t.Fatal("latch triggered below the loss limit")
	}

	// Another 200 loss breaches the budget.
	if err := agg.RecordPnl("acct-1", now, -200, 0.05); err != nil {
		t.Fatalf("pnl: %v", err)
	}
	stat, _ = db.Get("acct-1", DateKey(now))
	if !stat.StopTradingTriggered {
		t.Fatal("latch did not trigger at the loss limit")
	}
	if !stat.DailyLossLimitHit {
		t.Fatal("daily_loss_limit_hit not recorded")
	}

	// A later win pulls PnL back above the threshold; the latch must hold.
	if err := agg.RecordPnl("acct-1", now, 1000, 0.05); err != nil {
		t.Fatalf("winning pnl: %v", err)
	}
	stat, _ = db.Get("acct-1", DateKey(now))
	if !stat.StopTradingTriggered {
		t.Fatal("latch cleared by a winning trade")
	}
	if stat.DailyPnl != 400 {
		t.Fatalf("DailyPnl=%v, expected 400", stat.DailyPnl)
	}
}

type spyNotifier struct {
	calls []float64
}

func (s *spyNotifier) NotifyStopTrading(apiKeyID string, dailyPnl float64) {
	s.calls = append(s.calls, dailyPnl)
}

func TestLatchNotifiesOperatorOnce(t *testing.T) {
	db := openTestDB(t)
	agg := NewAggregator(db)
	spy := &spyNotifier{}
	agg.SetNotifier(spy)
	now := time.Now()

	if err := agg.RecordFill("acct-1", now, -600, false, 10000, 0.05); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if len(spy.calls) != 1 {
		t.Fatalf("notifier called %d times, expected 1", len(spy.calls))
	}
	if spy.calls[0] != -600 {
		t.Fatalf("notified pnl=%v, expected -600", spy.calls[0])
	}

	// Further losses on an already latched day stay quiet.
	if err := agg.RecordPnl("acct-1", now, -100, 0.05); err != nil {
		t.Fatalf("pnl: %v", err)
	}
	if len(spy.calls) != 1 {
		t.Fatalf("notifier re-fired on a latched day: %d calls", len(spy.calls))
	}
}

func TestLatchResetsOnNewDate(t *testing.T) {
	db := openTestDB(t)
	agg := NewAggregator(db)

	yesterday := time.Now().Add(-24 * time.Hour)
	if err := agg.RecordFill("acct-1", yesterday, -600, true, 10000, 0.05); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if err := agg.RecordFill("acct-1", time.Now(), 0, true, 10000, 0.05); err != nil {
		t.Fatalf("today fill: %v", err)
	}

	today, err := db.GetToday("acct-1")
	if err != nil {
		t.Fatalf("get today: %v", err)
	}
	if today.StopTradingTriggered {
		t.Fatal("yesterday's latch leaked into today")
	}
}

func TestGetTodayZeroedWhenMissing(t *testing.T) {
	db := openTestDB(t)

	stat, err := db.GetToday("acct-unknown")
	if err != nil {
		t.Fatalf("get today: %v", err)
	}
	if stat == nil {
		t.Fatal("expected zeroed stat, got nil")
	}
	if stat.TotalTrades != 0 || stat.StopTradingTriggered {
		t.Fatalf("zeroed stat carries state: %+v", stat)
	}
}
