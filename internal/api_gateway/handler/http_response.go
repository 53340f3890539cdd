package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vcs-invoice-reconciler/internal/api_gateway/middleware"
)

// Error codes returned in ErrorInfo.Code
const (
	CodeBadRequest      = "BAD_REQUEST"
	CodeRecordNotFound  = "RECORD_NOT_FOUND"
	CodeNotRequeueable  = "NOT_REQUEUEABLE"
	CodeInternalError   = "INTERNAL_SERVER_ERROR"
	internalErrorDetail = "An internal server error occurred"
)

// Response is the envelope of every API response
type Response struct {
	Data          interface{} `json:"data,omitempty"`
	Error         *ErrorInfo  `json:"error,omitempty"`
	CorrelationID string      `json:"correlation_id,omitempty"`
}

// ErrorInfo represents error information in a response
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RespondWithData sends a JSON response with data
func RespondWithData(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, &Response{
		Data:          data,
		CorrelationID: middleware.GetCorrelationID(c),
	})
}

// RespondWithError sends a JSON response with an error and records it on the
// context so the request logger reports it
func RespondWithError(c *gin.Context, statusCode int, code, message string) {
	_ = c.Error(&ErrorInfo{Code: code, Message: message}).SetType(gin.ErrorTypePublic)
	c.JSON(statusCode, &Response{
		Error:         &ErrorInfo{Code: code, Message: message},
		CorrelationID: middleware.GetCorrelationID(c),
	})
}

func (e *ErrorInfo) Error() string {
	return e.Code + ": " + e.Message
}

// RespondOK sends a 200 OK response with data
func RespondOK(c *gin.Context, data interface{}) {
	RespondWithData(c, http.StatusOK, data)
}

// RespondAccepted sends a 202 Accepted response; the work happens asynchronously
func RespondAccepted(c *gin.Context, data interface{}) {
	RespondWithData(c, http.StatusAccepted, data)
}

func RespondBadRequest(c *gin.Context, message string) {
	RespondWithError(c, http.StatusBadRequest, CodeBadRequest, message)
}

func RespondNotFound(c *gin.Context, message string) {
	if message == "" {
		message = "Record not found"
	}
	RespondWithError(c, http.StatusNotFound, CodeRecordNotFound, message)
}

// RespondConflict reports a record whose status does not allow the operation
func RespondConflict(c *gin.Context, message string) {
	RespondWithError(c, http.StatusConflict, CodeNotRequeueable, message)
}

// RespondInternalError hides the cause; it is logged by the caller
func RespondInternalError(c *gin.Context) {
	RespondWithError(c, http.StatusInternalServerError, CodeInternalError, internalErrorDetail)
}
