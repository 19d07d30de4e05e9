package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Response is the standard API envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error carries a machine-readable code alongside the message.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeDuplicateResource = "DUPLICATE_RESOURCE"
)

// Handle maps an error to the appropriate response, or sends data on success.
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "Resource not found")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		Conflict(c, "Resource already exists")
	default:
		InternalError(c, err.Error())
	}
}

// Success sends a successful response. POSTs get 201.
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == http.MethodPost {
		status = http.StatusCreated
	}
	c.JSON(status, Response{Success: true, Data: data})
}

// Acknowledged sends an unconditional 200. Webhook endpoints use this so
// payment providers stop retrying once the payload is durably persisted,
// regardless of whether downstream processing succeeded.
func Acknowledged(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func NotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, Response{Success: false, Error: &Error{Code: ErrCodeNotFound, Message: message}})
}

func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: &Error{Code: ErrCodeBadRequest, Message: message}})
}

func Unauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, Response{Success: false, Error: &Error{Code: ErrCodeUnauthorized, Message: message}})
}

func Forbidden(c *gin.Context, message string) {
	c.JSON(http.StatusForbidden, Response{Success: false, Error: &Error{Code: ErrCodeForbidden, Message: message}})
}

func InternalError(c *gin.Context, message string) {
	c.JSON(http.StatusInternalServerError, Response{Success: false, Error: &Error{Code: ErrCodeInternalError, Message: message}})
}

func Conflict(c *gin.Context, message string) {
	c.JSON(http.StatusConflict, Response{Success: false, Error: &Error{Code: ErrCodeDuplicateResource, Message: message}})
}
