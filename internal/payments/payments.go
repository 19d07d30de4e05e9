package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/winubot/trading-engine/pkg/response"
	"gorm.io/gorm"
)

// SignatureHeader carries the provider's HMAC over the raw body.
const SignatureHeader = "X-Webhook-Signature"

// Reconciler applies the business effect of a persisted webhook. Ingestion
// never applies subscription changes itself; the split is what makes safe
// reprocessing possible.
type Reconciler interface {
	Reconcile(webhookLog *WebhookLog) error
}

// Ingestor persists payment-provider callbacks durability-first: the raw
// payload is written before any signature check, so a webhook is never lost
// because validation threw.
type Ingestor struct {
	db      *Database
	secrets map[string]string // payment method -> HMAC secret
}

func NewIngestor(gormDB *gorm.DB, secrets map[string]string) *Ingestor {
	return &Ingestor{
		db:      NewDatabase(gormDB),
		secrets: secrets,
	}
}

// Database exposes the payment stores for collaborating services.
func (i *Ingestor) Database() *Database {
	return i.db
}

// Ingest persists the webhook, then verifies its signature and stores the
// tri-state verdict. It returns the persisted log row; duplicates are logged
// like any other delivery, never silently dropped.
func (i *Ingestor) Ingest(rawBody []byte, headers http.Header, paymentMethod string) (*WebhookLog, error) {
	logger := log.With().
		Str("payment_method", paymentMethod).
		Str("service", "webhook_ingestor").
		Logger()

	headerJSON, err := json.Marshal(headers)
	if err != nil {
		headerJSON = []byte("{}")
	}

	webhookLog := &WebhookLog{
		WebhookID:        "WHK_" + uuid.New().String(),
		PaymentMethod:    paymentMethod,
		WebhookType:      peekEventKind(rawBody),
		Payload:          string(rawBody),
		Headers:          string(headerJSON),
		ProcessingStatus: StatusReceived,
	}

	if err := i.db.CreateLog(webhookLog); err != nil {
		logger.Error().Err(err).Msg("failed to persist webhook")
		return nil, fmt.Errorf("persist webhook: %w", err)
	}

	webhookLog.SignatureValid = i.verifySignature(rawBody, headers.Get(SignatureHeader), paymentMethod)
	if err := i.db.db.Model(&WebhookLog{}).
		Where("webhook_id = ?", webhookLog.WebhookID).
		Updates(map[string]interface{}{"signature_valid": webhookLog.SignatureValid, "updated_at": time.Now()}).Error; err != nil {
		logger.Error().Err(err).Msg("failed to store signature verdict")
	}

	logger.Info().
		Str("webhook_id", webhookLog.WebhookID).
		Interface("signature_valid", webhookLog.SignatureValid).
		Msg("webhook persisted")

	return webhookLog, nil
}

// verifySignature returns true/false for methods with a configured secret
// and nil for methods without a signature scheme.
func (i *Ingestor) verifySignature(rawBody []byte, signature, paymentMethod string) *bool {
	secret, ok := i.secrets[paymentMethod]
	if !ok || secret == "" {
		return nil
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	valid := signature != "" && hmac.Equal([]byte(expected), []byte(signature))
	return &valid
}

// peekEventKind extracts the event kind from the payload for the log row
// without committing to a full parse; unknown shapes are fine here.
func peekEventKind(rawBody []byte) string {
	var probe struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(rawBody, &probe); err != nil {
		return ""
	}
	return probe.Event
}

// GinHandlers contains HTTP handlers for the webhook endpoint.
type GinHandlers struct {
	ingestor   *Ingestor
	reconciler Reconciler
}

func NewGinHandlers(ingestor *Ingestor, reconciler Reconciler) *GinHandlers {
	return &GinHandlers{ingestor: ingestor, reconciler: reconciler}
}

// WebhookHandler handles POST /webhooks/:payment_method. It returns 200
// whenever the payload was persisted, even if reconciliation fails, so
// providers do not retry-storm a webhook whose business effect errored.
// 4xx is reserved for requests with no readable body.
func (h *GinHandlers) WebhookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		paymentMethod := c.Param("payment_method")

		rawBody, err := c.GetRawData()
		if err != nil || len(rawBody) == 0 {
			response.BadRequest(c, "Request body is required")
			return
		}

		webhookLog, err := h.ingestor.Ingest(rawBody, c.Request.Header, paymentMethod)
		if err != nil {
			// Persistence itself failed; the provider should retry.
			response.InternalError(c, "Failed to persist webhook")
			return
		}

		if err := h.reconciler.Reconcile(webhookLog); err != nil {
			// Contained: the log row carries the failure for reprocessing.
			log.Warn().
				Err(err).
				Str("webhook_id", webhookLog.WebhookID).
				Msg("webhook reconciliation failed")
		}

		response.Acknowledged(c, gin.H{"webhook_id": webhookLog.WebhookID})
	}
}
