package apperrors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error is an application error carrying the HTTP status to answer with.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(code int, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func BadRequest(message string, err error) *Error {
	return New(http.StatusBadRequest, message, err)
}

func NotFound(message string, err error) *Error {
	return New(http.StatusNotFound, message, err)
}

func Conflict(message string, err error) *Error {
	return New(http.StatusConflict, message, err)
}

func Internal(message string, err error) *Error {
	return New(http.StatusInternalServerError, message, err)
}

// Respond writes err as {"error": message, "details": ...}. Errors that are
// not *Error become 500s without leaking their text.
func Respond(c *gin.Context, err error) {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = Internal("Internal server error", err)
	}
	body := gin.H{"error": appErr.Message}
	if appErr.Err != nil && appErr.Code < http.StatusInternalServerError {
		body["details"] = appErr.Err.Error()
	}
	c.AbortWithStatusJSON(appErr.Code, body)
}
