package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "webhook-secret"

func openTestIngestor(t *testing.T) *Ingestor {
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
	if err := db.AutoMigrate(&WebhookLog{}, &PaymentTransaction{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewIngestor(db, map[string]string{"stripe": testSecret})
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestIngestValidSignature(t *testing.T) {
	ingestor := openTestIngestor(t)
	body := []byte(`{"event":"payment_confirmed","user_id":"u1","provider_tx_id":"tx1","plan_id":"pro"}`)

	headers := http.Header{}
	headers.Set(SignatureHeader, sign(body, testSecret))

	webhookLog, err := ingestor.Ingest(body, headers, "stripe")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if webhookLog.SignatureValid == nil || !*webhookLog.SignatureValid {
		t.Fatalf("SignatureValid=%v, expected true", webhookLog.SignatureValid)
	}
	if webhookLog.WebhookType != "payment_confirmed" {
		t.Fatalf("WebhookType=%q", webhookLog.WebhookType)
	}
}

func TestIngestPersistsInvalidSignature(t *testing.T) {
	ingestor := openTestIngestor(t)
	body := []byte(`{"event":"payment_confirmed","user_id":"u1","provider_tx_id":"tx1"}`)

	headers := http.Header{}
	headers.Set(SignatureHeader, "deadbeef")

	webhookLog, err := ingestor.Ingest(body, headers, "stripe")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if webhookLog.SignatureValid == nil || *webhookLog.SignatureValid {
		t.Fatalf("SignatureValid=%v, expected false", webhookLog.SignatureValid)
	}

	// The raw payload must survive for forensic review even though the
	// signature failed.
	stored, err := ingestor.Database().GetLog(webhookLog.WebhookID)
	if err != nil {
		t.Fatalf("get log: %v", err)
	}
	if stored == nil {
		t.Fatal("invalid-signature webhook was not persisted")
	}
	if stored.Payload != string(body) {
		t.Fatalf("stored payload=%q", stored.Payload)
	}
}

func TestIngestMissingSignatureIsInvalid(t *testing.T) {
	ingestor := openTestIngestor(t)
	body := []byte(`{"event":"payment_confirmed"}`)

	webhookLog, err := ingestor.Ingest(body, http.Header{}, "stripe")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if webhookLog.SignatureValid == nil || *webhookLog.SignatureValid {
		t.Fatalf("SignatureValid=%v, expected false for missing header", webhookLog.SignatureValid)
	}
}

func TestIngestUnconfiguredMethodSkipsVerification(t *testing.T) {
	ingestor := openTestIngestor(t)
	body := []byte(`{"event":"payment_confirmed"}`)

	webhookLog, err := ingestor.Ingest(body, http.Header{}, "paypal")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if webhookLog.SignatureValid != nil {
		t.Fatalf("SignatureValid=%v, expected nil for method without a secret", *webhookLog.SignatureValid)
	}
}

func TestIngestMalformedPayloadStillPersisted(t *testing.T) {
	ingestor := openTestIngestor(t)
	body := []byte(`this is not json`)

	webhookLog, err := ingestor.Ingest(body, http.Header{}, "stripe")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if webhookLog.WebhookType != "" {
		t.Fatalf("WebhookType=%q, expected empty for unparseable payload", webhookLog.WebhookType)
	}

	stored, err := ingestor.Database().GetLog(webhookLog.WebhookID)
	if err != nil {
		t.Fatalf("get log: %v", err)
	}
	if stored == nil || stored.Payload != string(body) {
		t.Fatal("malformed payload was not persisted verbatim")
	}
}
