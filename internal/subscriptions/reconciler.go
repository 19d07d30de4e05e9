package subscriptions

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/winubot/trading-engine/internal/payments"
	"gorm.io/gorm"
)

// Reconcile actions reported per webhook.
const (
	ActionActivated     = "activated"
	ActionDuplicate     = "duplicate"
	ActionRecorded      = "recorded"
	ActionPaymentFailed = "payment_failed"
	ActionRejected      = "rejected"
)

// ReconcileOutcome summarises what one webhook did to subscription state.
type ReconcileOutcome struct {
	WebhookID string `json:"webhook_id"`
	Action    string `json:"action"`
	UserID    string `json:"user_id,omitempty"`
	PaymentID string `json:"payment_id,omitempty"`
}

// Reconciler applies idempotent subscription transitions from persisted
// webhook logs. One bad webhook never crashes processing for subsequent
// ones: malformed or signature-invalid payloads are contained as failed log
// rows.
type Reconciler struct {
	db       *Database
	payments *payments.Database
}

func NewReconciler(gormDB *gorm.DB) *Reconciler {
	return &Reconciler{
		db:       NewDatabase(gormDB),
		payments: payments.NewDatabase(gormDB),
	}
}

// Database exposes the subscription store for collaborating services.
func (r *Reconciler) Database() *Database {
	return r.db
}

// Reconcile consumes one persisted webhook log. Implements the
// payments.Reconciler interface.
func (r *Reconciler) Reconcile(webhookLog *payments.WebhookLog) error {
	_, err := r.ReconcileWithOutcome(webhookLog)
	return err
}

// ReconcileWithOutcome is Reconcile with the detailed outcome for callers
// that report it.
func (r *Reconciler) ReconcileWithOutcome(webhookLog *payments.WebhookLog) (*ReconcileOutcome, error) {
	logger := log.With().
		Str("webhook_id", webhookLog.WebhookID).
		Str("payment_method", webhookLog.PaymentMethod).
		Str("service", "reconciler").
		Logger()

	if err := r.payments.UpdateLogStatus(webhookLog.WebhookID, payments.StatusProcessing, ""); err != nil {
		return nil, err
	}

	if webhookLog.SignatureValid != nil && !*webhookLog.SignatureValid {
		// Possible attack or misconfiguration; surface via the failed-log
		// monitoring view, never apply to subscription state.
		logger.Warn().Msg("webhook signature invalid")
		return r.fail(webhookLog, "invalid signature")
	}

	event, err := parseEvent([]byte(webhookLog.Payload))
	if err != nil {
		logger.Warn().Err(err).Msg("webhook payload rejected")
		return r.fail(webhookLog, err.Error())
	}

	var outcome *ReconcileOutcome
	switch event.Kind {
	case payments.EventCreated:
		if err := r.db.RecordPendingPayment(*event, webhookLog.PaymentMethod); err != nil {
			return r.infraFailure(webhookLog, err)
		}
		outcome = &ReconcileOutcome{Action: ActionRecorded}

	case payments.EventConfirmed:
		paymentID, err := r.db.ActivateFromPayment(*event, webhookLog.PaymentMethod)
		if errors.Is(err, ErrDuplicatePayment) {
			logger.Info().Str("provider_tx_id", event.ProviderTxID).Msg("duplicate payment delivery, no-op")
			outcome = &ReconcileOutcome{Action: ActionDuplicate}
		} else if err != nil {
			return r.infraFailure(webhookLog, err)
		} else {
			logger.Info().
				Str("user_id", event.UserID).
				Str("plan_id", event.PlanID).
				Msg("subscription activated from payment")
			outcome = &ReconcileOutcome{Action: ActionActivated, PaymentID: paymentID}
		}

	case payments.EventFailed:
		if err := r.db.MarkPaymentFailed(*event, webhookLog.PaymentMethod); err != nil {
			return r.infraFailure(webhookLog, err)
		}
		outcome = &ReconcileOutcome{Action: ActionPaymentFailed}
	}

	if err := r.payments.ResolveLog(webhookLog.WebhookID, event.UserID, event.ProviderTxID, event.PlanID); err != nil {
		logger.Error().Err(err).Msg("failed to resolve webhook log identifiers")
	}
	if err := r.payments.UpdateLogStatus(webhookLog.WebhookID, payments.StatusCompleted, ""); err != nil {
		return nil, err
	}

	outcome.WebhookID = webhookLog.WebhookID
	outcome.UserID = event.UserID
	return outcome, nil
}

// fail marks the log failed and contains the error at the webhook boundary.
func (r *Reconciler) fail(webhookLog *payments.WebhookLog, reason string) (*ReconcileOutcome, error) {
	if err := r.payments.UpdateLogStatus(webhookLog.WebhookID, payments.StatusFailed, reason); err != nil {
		return nil, err
	}
	return &ReconcileOutcome{WebhookID: webhookLog.WebhookID, Action: ActionRejected}, nil
}

// infraFailure marks the log failed and propagates the storage error so the
// caller can log it; the webhook stays reprocessable.
func (r *Reconciler) infraFailure(webhookLog *payments.WebhookLog, err error) (*ReconcileOutcome, error) {
	if updateErr := r.payments.UpdateLogStatus(webhookLog.WebhookID, payments.StatusFailed, err.Error()); updateErr != nil {
		return nil, updateErr
	}
	return nil, err
}

// parseEvent validates the payload into a normalized PaymentEvent. Unknown
// shapes are rejected explicitly rather than probed field by field.
func parseEvent(payload []byte) (*payments.PaymentEvent, error) {
	var event payments.PaymentEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("malformed payload: %w", err)
	}

	switch event.Kind {
	case payments.EventCreated, payments.EventConfirmed, payments.EventFailed:
	default:
		return nil, fmt.Errorf("unknown event kind %q", event.Kind)
	}

	if event.UserID == "" {
		return nil, errors.New("payload missing user_id")
	}
	if event.ProviderTxID == "" {
		return nil, errors.New("payload missing provider_tx_id")
	}
	if event.Kind == payments.EventConfirmed && event.PlanID == "" {
		return nil, errors.New("confirmed payment missing plan_id")
	}

	return &event, nil
}
