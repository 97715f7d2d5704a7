package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	platformerrors "cosyvoice-gateway/internal/platform/errors"
)

// apiError is the OpenAI-style error envelope every failure response uses.
type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

// statusClientClosedRequest is the nginx convention for a caller that
// disconnected before the response was ready; it never reaches the client
// but keeps access logs honest.
const statusClientClosedRequest = 499

// statusOf maps a platform error kind to its HTTP status.
func statusOf(err error) int {
	switch platformerrors.KindOf(err) {
	case platformerrors.KindValidation, platformerrors.KindFormat, platformerrors.KindSample:
		return http.StatusBadRequest
	case platformerrors.KindNotFound:
		return http.StatusNotFound
	case platformerrors.KindConflict:
		return http.StatusConflict
	case platformerrors.KindCapacity:
		return http.StatusTooManyRequests
	case platformerrors.KindTimeout:
		return http.StatusGatewayTimeout
	case platformerrors.KindCanceled:
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func typeOf(status int) string {
	if status >= http.StatusInternalServerError {
		return "server_error"
	}
	return "invalid_request_error"
}

// RespondError writes the error envelope for err. The envelope message comes
// from the typed error; wrapped causes stay server-side.
func RespondError(c *gin.Context, err error) {
	status := statusOf(err)

	message := "internal server error"
	code := ""
	var typed *platformerrors.Error
	if errors.As(err, &typed) {
		message = typed.Message
		code = string(typed.Kind)
	}

	_ = c.Error(err)
	c.JSON(status, errorEnvelope{Error: apiError{
		Message: message,
		Type:    typeOf(status),
		Code:    code,
	}})
}

// RespondMessage writes an ad-hoc error without a typed cause.
func RespondMessage(c *gin.Context, status int, message string) {
	c.JSON(status, errorEnvelope{Error: apiError{
		Message: message,
		Type:    typeOf(status),
	}})
}
