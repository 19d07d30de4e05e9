package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/winubot/trading-engine/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound   = errors.New("vault: credentials not found")
	ErrDecryption = errors.New("vault: decryption failed")
)

// EncryptedCredential stores one account's exchange API key pair at rest.
// Ciphertext only; the vault never persists or caches plaintext material.
type EncryptedCredential struct {
	gorm.Model       `json:"-"`
	APIKeyID         string    `gorm:"uniqueIndex" json:"api_key_id"`
	KeyCiphertext    string    `json:"-"`
	SecretCiphertext string    `json:"-"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (EncryptedCredential) TableName() string {
	return "user_api_key_secrets"
}

// Vault encrypts and decrypts exchange API credentials with AES-256-GCM.
// Callers must treat decrypted credentials as single-use: decrypt, make the
// exchange call, discard.
type Vault struct {
	db   *gorm.DB
	aead cipher.AEAD
}

// New creates a vault from a hex-encoded 32-byte master key.
func New(db *gorm.DB, masterKeyHex string) (*Vault, error) {
	key, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("vault: decode master key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("vault: master key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: init GCM: %w", err)
	}

	return &Vault{db: db, aead: aead}, nil
}

// Store encrypts and upserts the key pair for apiKeyID.
func (v *Vault) Store(apiKeyID, apiKey, apiSecret string) error {
	keyCt, err := v.seal([]byte(apiKey))
	if err != nil {
		return err
	}
	secretCt, err := v.seal([]byte(apiSecret))
	if err != nil {
		return err
	}

	record := EncryptedCredential{
		APIKeyID:         apiKeyID,
		KeyCiphertext:    keyCt,
		SecretCiphertext: secretCt,
		UpdatedAt:        time.Now(),
	}
	return v.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "api_key_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"key_ciphertext", "secret_ciphertext", "updated_at"}),
	}).Create(&record).Error
}

// Get decrypts and returns the key pair for apiKeyID.
func (v *Vault) Get(apiKeyID string) (types.Credentials, error) {
	var record EncryptedCredential
	if err := v.db.Where("api_key_id = ?", apiKeyID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Credentials{}, ErrNotFound
		}
		return types.Credentials{}, err
	}

	apiKey, err := v.open(record.KeyCiphertext)
	if err != nil {
		return types.Credentials{}, err
	}
	apiSecret, err := v.open(record.SecretCiphertext)
	if err != nil {
		return types.Credentials{}, err
	}

	return types.Credentials{APIKey: string(apiKey), APISecret: string(apiSecret)}, nil
}

// seal encrypts plaintext and returns hex(nonce || ciphertext).
func (v *Vault) seal(plaintext []byte) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, plaintext, nil)
	return hex.EncodeToString(sealed), nil
}

func (v *Vault) open(encoded string) ([]byte, error) {
	sealed, err := hex.DecodeString(encoded)
	if err != nil || len(sealed) < v.aead.NonceSize() {
		return nil, ErrDecryption
	}
	nonce, ciphertext := sealed[:v.aead.NonceSize()], sealed[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}
