package xerr

import (
	"errors"

	"github.com/gin-gonic/gin"
)

// CodeError carries a business code alongside the wrapped error so the
// service layer can hand transport-agnostic failures to the handlers.
// It implements the error interface.
type CodeError struct {
	Code int   // business error code
	Err  error // wrapped error
}

// Error implements the error interface.
func (e *CodeError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the wrapped error, supporting errors.Unwrap.
func (e *CodeError) Unwrap() error {
	return e.Err
}

// NewCodeError creates a CodeError instance.
func NewCodeError(code int, err error) *CodeError {
	return &CodeError{Code: code, Err: err}
}

// Is reports whether err matches target, unwrapping CodeError as needed.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Response is the generic JSON response envelope.
type Response struct {
	Code    int    `json:"code"`    // business code
	Message string `json:"message"` // human-readable message
	Data    any    `json:"data"`    // payload
}

// JSONResponse sends a standard JSON response.
func JSONResponse(c *gin.Context, httpStatus int, code int, message string, data any) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// Success sends a success response.
func Success(c *gin.Context, httpStatus int, message string, data any) {
	JSONResponse(c, httpStatus, SuccessCode, message, data)
}

// Error sends an error response.
func Error(c *gin.Context, httpStatus int, code int, message string) {
	JSONResponse(c, httpStatus, code, message, nil)
}

// AbortWithError terminates the request and sends an error response.
func AbortWithError(c *gin.Context, httpStatus int, code int, message string) {
	Error(c, httpStatus, code, message)
	c.Abort()
}
