package vault

import (
	"errors"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testMasterKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func openTestVault(t *testing.T) (*Vault, *gorm.DB) {
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
	if err := db.AutoMigrate(&EncryptedCredential{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	v, err := New(db, testMasterKey)
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	return v, db
}

func TestNewRejectsBadMasterKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"not hex", "zz"},
		{"too short", "00010203"},
		{"too long", testMasterKey + "ff"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(nil, tt.key); err == nil {
				t.Fatal("expected error for bad master key")
			}
		})
	}
}

func TestStoreAndGetRoundtrip(t *testing.T) {
	v, _ := openTestVault(t)

	if err := v.Store("acct-1", "the-api-key", "the-api-secret"); err != nil {
		t.Fatalf("store: %v", err)
	}

	creds, err := v.Get("acct-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if creds.APIKey != "the-api-key" || creds.APISecret != "the-api-secret" {
		t.Fatalf("roundtrip mismatch: %+v", creds)
	}
}

func TestStoreUpsertsExisting(t *testing.T) {
	v, _ := openTestVault(t)

	if err := v.Store("acct-1", "old-key", "old-secret"); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := v.Store("acct-1", "new-key", "new-secret"); err != nil {
		t.Fatalf("re-store: %v", err)
	}

	creds, err := v.Get("acct-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if creds.APIKey != "new-key" {
		t.Fatalf("APIKey=%q, expected rotated key", creds.APIKey)
	}
}

func TestGetUnknownAccount(t *testing.T) {
	v, _ := openTestVault(t)

	if _, err := v.Get("acct-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, expected ErrNotFound", err)
	}
}

func TestGetTamperedCiphertext(t *testing.T) {
	v, db := openTestVault(t)

	if err := v.Store("acct-1", "the-api-key", "the-api-secret"); err != nil {
		t.Fatalf("store: %v", err)
	}

	var record EncryptedCredential
	if err := db.Where("api_key_id = ?", "acct-1").First(&record).Error; err != nil {
		t.Fatalf("load record: %v", err)
	}
	tampered := strings.Repeat("00", len(record.KeyCiphertext)/2)
	if err := db.Model(&EncryptedCredential{}).
		Where("api_key_id = ?", "acct-1").
		Update("key_ciphertext", tampered).Error; err != nil {
		t.Fatalf("tamper: %v", err)
	}

	if _, err := v.Get("acct-1"); !errors.Is(err, ErrDecryption) {
		t.Fatalf("err=%v, expected ErrDecryption", err)
	}
}

func TestGetWrongMasterKey(t *testing.T) {
	v, db := openTestVault(t)
	if err := v.Store("acct-1", "the-api-key", "the-api-secret"); err != nil {
		t.Fatalf("store: %v", err)
	}

	otherKey := "ffeeddccbbaa99887766554433221100ffeeddccbbaa99887766554433221100"
	other, err := New(db, otherKey)
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	if _, err := other.Get("acct-1"); !errors.Is(err, ErrDecryption) {
		t.Fatalf("err=%v, expected ErrDecryption", err)
	}
}
