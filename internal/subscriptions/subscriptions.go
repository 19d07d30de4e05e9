package subscriptions

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/winubot/trading-engine/internal/payments"
	"github.com/winubot/trading-engine/pkg/response"
	"gorm.io/gorm"
)

// Service bundles user-facing subscription operations.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{db: NewDatabase(gormDB)}
}

func (s *Service) Database() *Database {
	return s.db
}

func (s *Service) GetUser(userID string) (*User, error) {
	return s.db.GetUser(userID)
}

func (s *Service) StartTrial(userID string) error {
	return s.db.StartTrial(userID)
}

func (s *Service) RecordDashboardAccess(userID string) error {
	return s.db.RecordDashboardAccess(userID)
}

// ManualActivate is the operator compensating action for reconciliation
// failures. The reason is mandatory; it lands on the audit event.
func (s *Service) ManualActivate(userID, planID, reason string) error {
	if reason == "" {
		return errors.New("a reason is required for manual activation")
	}

	log.Info().
		Str("user_id", userID).
		Str("plan_id", planID).
		Str("reason", reason).
		Msg("manual subscription activation")

	return s.db.ManualActivate(userID, planID, reason)
}

// GinHandlers contains HTTP handlers for subscription and admin endpoints.
type GinHandlers struct {
	service   *Service
	processor *Processor
	payments  *payments.Database
}

func NewGinHandlers(service *Service, processor *Processor, paymentsDB *payments.Database) *GinHandlers {
	return &GinHandlers{service: service, processor: processor, payments: paymentsDB}
}

// ManualActivateHandler handles POST /admin/subscriptions/activate-manual.
func (h *GinHandlers) ManualActivateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			UserID string `json:"user_id" binding:"required"`
			PlanID string `json:"plan_id" binding:"required"`
			Reason string `json:"reason" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		err := h.service.ManualActivate(request.UserID, request.PlanID, request.Reason)
		if errors.Is(err, ErrUserNotFound) {
			response.NotFound(c, "User not found")
			return
		}
		response.Handle(c, gin.H{"message": "subscription activated"}, err)
	}
}

// AdminDataHandler handles GET /admin/payments/data: the monitoring
// dashboard's read-only view of gaps, recent payments and webhook logs.
func (h *GinHandlers) AdminDataHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		gaps, err := h.processor.Scan()
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		recentPayments, err := h.payments.GetRecentTransactions(50)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		recentWebhooks, err := h.payments.GetRecentLogs(50)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, gin.H{
			"gaps":            gaps,
			"recent_payments": recentPayments,
			"recent_webhooks": recentWebhooks,
		})
	}
}

// StartTrialHandler handles POST /subscriptions/trial/start.
func (h *GinHandlers) StartTrialHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			UserID string `json:"user_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		err := h.service.StartTrial(request.UserID)
		switch {
		case errors.Is(err, ErrUserNotFound):
			response.NotFound(c, "User not found")
		case errors.Is(err, ErrTrialUsed):
			response.Conflict(c, "Trial already used")
		default:
			response.Handle(c, gin.H{"message": "trial started"}, err)
		}
	}
}

// DashboardAccessHandler handles POST /subscriptions/dashboard-access,
// counting one dashboard access against the trial allowance.
func (h *GinHandlers) DashboardAccessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			UserID string `json:"user_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		err := h.service.RecordDashboardAccess(request.UserID)
		switch {
		case errors.Is(err, ErrUserNotFound):
			response.NotFound(c, "User not found")
		case errors.Is(err, ErrTrialAccessExhausted):
			response.Forbidden(c, "Free trial allows a single dashboard access")
		default:
			response.Handle(c, gin.H{"message": "access recorded"}, err)
		}
	}
}
